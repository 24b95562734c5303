package polymarket

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rickgao/marketsync/internal/model"
)

func parseLevels(levels []apiLevel) ([]model.PriceLevel, error) {
	out := make([]model.PriceLevel, 0, len(levels))
	for _, l := range levels {
		price, err := decimal.NewFromString(l.Price)
		if err != nil {
			return nil, fmt.Errorf("parse price %q: %w", l.Price, err)
		}
		size, err := decimal.NewFromString(l.Size)
		if err != nil {
			return nil, fmt.Errorf("parse size %q: %w", l.Size, err)
		}
		if size.IsPositive() {
			out = append(out, model.PriceLevel{Price: price, Size: size})
		}
	}
	return out, nil
}

// sortBook orders bids descending and asks ascending. The venue does not
// guarantee either order.
func sortBook(bids, asks []model.PriceLevel) {
	sort.Slice(bids, func(i, j int) bool { return bids[i].Price.GreaterThan(bids[j].Price) })
	sort.Slice(asks, func(i, j int) bool { return asks[i].Price.LessThan(asks[j].Price) })
}

func bookSide(side string) (model.Side, error) {
	switch strings.ToUpper(side) {
	case "BUY":
		return model.SideBid, nil
	case "SELL":
		return model.SideAsk, nil
	}
	return 0, fmt.Errorf("unknown side %q", side)
}

// parseMillis reads the venue's millisecond timestamp strings.
func parseMillis(s string, fallback time.Time) time.Time {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil || ms <= 0 {
		return fallback
	}
	return time.UnixMilli(ms).UTC()
}

func (m *apiMarket) toModel() model.Market {
	out := model.Market{
		Venue:      model.VenuePolymarket,
		ExternalID: m.ConditionID,
		Title:      m.Question,
		Status:     model.MarketActive,
	}
	for _, t := range m.Tokens {
		out.Outcomes = append(out.Outcomes, t.Outcome)
	}
	switch {
	case m.Archived:
		out.Status = model.MarketSettled
	case m.Closed || !m.Active:
		out.Status = model.MarketClosed
	}
	if t, err := time.Parse(time.RFC3339, m.EndDateISO); err == nil {
		t = t.UTC()
		out.CloseTime = &t
	}
	return out
}

// placementStatus maps the POST /order status field.
func placementStatus(s string) model.OrderStatus {
	switch strings.ToLower(s) {
	case "live":
		return model.OrderConfirmed
	case "matched":
		return model.OrderFilled
	default:
		return model.OrderPending
	}
}

func (o *apiOrder) toModel() model.OrderResponse {
	matched, _ := decimal.NewFromString(o.SizeMatched)
	original, _ := decimal.NewFromString(o.OriginalSize)
	price, _ := decimal.NewFromString(o.Price)

	resp := model.OrderResponse{
		Venue:      model.VenuePolymarket,
		OrderID:    o.ID,
		Market:     o.Market,
		FilledSize: matched,
		UpdatedAt:  time.Now().UTC(),
	}
	if matched.IsPositive() {
		resp.AvgPrice = price
	}

	switch strings.ToLower(o.Status) {
	case "live":
		resp.Status = model.OrderConfirmed
		if matched.IsPositive() {
			resp.Status = model.OrderPartiallyFilled
		}
	case "matched":
		resp.Status = model.OrderFilled
		if original.IsPositive() && matched.LessThan(original) {
			resp.Status = model.OrderPartiallyFilled
		}
	case "canceled", "cancelled":
		resp.Status = model.OrderCanceled
	default:
		resp.Status = model.OrderPending
	}
	return resp
}
