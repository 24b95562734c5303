package reconcile

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rickgao/marketsync/internal/model"
)

var testKey = model.BookKey{Venue: model.VenueKalshi, Market: "KXTEST-25", Outcome: "yes"}

func lvl(price, size string) model.PriceLevel {
	return model.PriceLevel{Price: decimal.RequireFromString(price), Size: decimal.RequireFromString(size)}
}

func bid(price, size string) model.LevelChange {
	return model.LevelChange{Side: model.SideBid, Price: decimal.RequireFromString(price), Size: decimal.RequireFromString(size), Relative: true}
}

func ask(price, size string) model.LevelChange {
	return model.LevelChange{Side: model.SideAsk, Price: decimal.RequireFromString(price), Size: decimal.RequireFromString(size), Relative: true}
}

func delta(seq int64, changes ...model.LevelChange) model.DeltaEvent {
	return model.DeltaEvent{Kind: model.EventDelta, Key: testKey, Sequence: seq, Changes: changes, ReceivedAt: time.Now()}
}

// levels renders a side as "size@price" strings for comparison.
func levels(side []model.PriceLevel) []string {
	out := make([]string, 0, len(side))
	for _, l := range side {
		out = append(out, fmt.Sprintf("%s@%s", l.Size.String(), l.Price.StringFixed(2)))
	}
	return out
}
