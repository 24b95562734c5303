package kalshi

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rickgao/marketsync/internal/model"
)

const (
	OutcomeYes = "yes"
	OutcomeNo  = "no"
)

var (
	one     = decimal.NewFromInt(1)
	hundred = decimal.NewFromInt(100)
)

// centsToDollars converts an integer cent price to dollars.
func centsToDollars(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}

// parsePrice prefers the dollar string and falls back to cents.
func parsePrice(dollars string, cents int) (decimal.Decimal, error) {
	if dollars != "" {
		d, err := decimal.NewFromString(strings.TrimSpace(dollars))
		if err != nil {
			return decimal.Zero, fmt.Errorf("parse price %q: %w", dollars, err)
		}
		return d, nil
	}
	return centsToDollars(int64(cents)), nil
}

// parseLevels reads either ["0.52", qty] dollar levels or [52, qty] cent
// levels. Dollar levels win when both are present.
func parseLevels(dollars [][]any, cents [][]int) ([]model.PriceLevel, error) {
	if len(dollars) > 0 {
		out := make([]model.PriceLevel, 0, len(dollars))
		for _, l := range dollars {
			if len(l) < 2 {
				continue
			}
			price, err := anyDecimal(l[0])
			if err != nil {
				return nil, err
			}
			size, err := anyDecimal(l[1])
			if err != nil {
				return nil, err
			}
			out = append(out, model.PriceLevel{Price: price, Size: size})
		}
		return out, nil
	}

	out := make([]model.PriceLevel, 0, len(cents))
	for _, l := range cents {
		if len(l) < 2 {
			continue
		}
		out = append(out, model.PriceLevel{
			Price: centsToDollars(int64(l[0])),
			Size:  decimal.NewFromInt(int64(l[1])),
		})
	}
	return out, nil
}

func anyDecimal(v any) (decimal.Decimal, error) {
	switch t := v.(type) {
	case string:
		return decimal.NewFromString(t)
	case float64:
		return decimal.NewFromFloat(t), nil
	case int64:
		return decimal.NewFromInt(t), nil
	case int:
		return decimal.NewFromInt(int64(t)), nil
	default:
		return decimal.Zero, fmt.Errorf("unexpected level value %T", v)
	}
}

// outcomeBooks maps Kalshi's two bid ladders onto one book per outcome. A
// yes bid at p is a no ask at 1-p and the reverse.
func outcomeBooks(yes, no []model.PriceLevel) (yesBids, yesAsks, noBids, noAsks []model.PriceLevel) {
	return bidSide(yes), askSide(no), bidSide(no), askSide(yes)
}

func bidSide(levels []model.PriceLevel) []model.PriceLevel {
	out := make([]model.PriceLevel, 0, len(levels))
	for _, l := range levels {
		if l.Size.IsPositive() {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Price.GreaterThan(out[j].Price) })
	return out
}

func askSide(opposite []model.PriceLevel) []model.PriceLevel {
	out := make([]model.PriceLevel, 0, len(opposite))
	for _, l := range opposite {
		if l.Size.IsPositive() {
			out = append(out, model.PriceLevel{Price: one.Sub(l.Price), Size: l.Size})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Price.LessThan(out[j].Price) })
	return out
}

// deltaChanges turns one delta on a Kalshi side into the change for each
// outcome book.
func deltaChanges(side string, price, delta decimal.Decimal) (yes, no model.LevelChange, err error) {
	switch side {
	case OutcomeYes:
		yes = model.LevelChange{Side: model.SideBid, Price: price, Size: delta, Relative: true}
		no = model.LevelChange{Side: model.SideAsk, Price: one.Sub(price), Size: delta, Relative: true}
	case OutcomeNo:
		no = model.LevelChange{Side: model.SideBid, Price: price, Size: delta, Relative: true}
		yes = model.LevelChange{Side: model.SideAsk, Price: one.Sub(price), Size: delta, Relative: true}
	default:
		err = fmt.Errorf("unknown book side %q", side)
	}
	return yes, no, err
}

func marketStatus(s string) model.MarketStatus {
	switch s {
	case "closed", "inactive":
		return model.MarketClosed
	case "settled", "determined", "finalized":
		return model.MarketSettled
	default:
		return model.MarketActive
	}
}

func (m *apiMarket) toModel() model.Market {
	title := m.Title
	if m.Subtitle != "" {
		title += " " + m.Subtitle
	}
	out := model.Market{
		Venue:      model.VenueKalshi,
		ExternalID: m.Ticker,
		Title:      title,
		Outcomes:   []string{OutcomeYes, OutcomeNo},
		Status:     marketStatus(m.Status),
	}
	if t, err := time.Parse(time.RFC3339, m.CloseTime); err == nil {
		t = t.UTC()
		out.CloseTime = &t
	}
	return out
}

// orderStatus maps a Kalshi order onto the local lifecycle.
func orderStatus(o *apiOrder) model.OrderStatus {
	switch o.Status {
	case "resting":
		if o.FillCount > 0 {
			return model.OrderPartiallyFilled
		}
		return model.OrderConfirmed
	case "executed":
		return model.OrderFilled
	case "canceled":
		return model.OrderCanceled
	default:
		return model.OrderPending
	}
}

func (o *apiOrder) toModel() model.OrderResponse {
	resp := model.OrderResponse{
		Venue:         model.VenueKalshi,
		OrderID:       o.OrderID,
		ClientOrderID: o.ClientOrderID,
		Market:        o.Ticker,
		Status:        orderStatus(o),
		FilledSize:    decimal.NewFromInt(o.FillCount),
		UpdatedAt:     time.Now().UTC(),
	}
	if o.FillCount > 0 {
		cost := decimal.NewFromInt(o.TakerFillCost + o.MakerFillCost)
		resp.AvgPrice = cost.Div(hundred).Div(decimal.NewFromInt(o.FillCount))
	}
	if t, err := time.Parse(time.RFC3339, o.LastUpdateTime); err == nil {
		resp.UpdatedAt = t.UTC()
	}
	return resp
}
