package reconcile

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rickgao/marketsync/internal/model"
)

var (
	// ErrGapDetected means a delta skipped one or more sequence numbers.
	ErrGapDetected = errors.New("sequence gap detected")

	// ErrBookCorruption means applying an update would leave a negative
	// size or a crossed book.
	ErrBookCorruption = errors.New("book corruption")
)

// BuildBook validates a full snapshot and returns it as a book. Zero-size
// levels are dropped and both sides sorted.
func BuildBook(key model.BookKey, bids, asks []model.PriceLevel, seq int64, at time.Time) (*model.OrderBook, error) {
	b := &model.OrderBook{
		Key:        key,
		Sequence:   seq,
		LastUpdate: at,
	}

	var err error
	if b.Bids, err = normalizeSide(bids, model.SideBid); err != nil {
		return nil, err
	}
	if b.Asks, err = normalizeSide(asks, model.SideAsk); err != nil {
		return nil, err
	}
	if b.Crossed() {
		return nil, crossedError(b)
	}
	return b, nil
}

// ApplyDelta returns a new book with the changes applied at seq. The input
// book is not modified. On error the returned book is nil.
func ApplyDelta(book *model.OrderBook, changes []model.LevelChange, seq int64, at time.Time) (*model.OrderBook, error) {
	out := *book
	out.Sequence = seq
	out.LastUpdate = at
	out.Stale = false

	bidsCopied, asksCopied := false, false
	for _, c := range changes {
		switch c.Side {
		case model.SideBid:
			if !bidsCopied {
				out.Bids = append([]model.PriceLevel(nil), book.Bids...)
				bidsCopied = true
			}
			levels, err := upsert(out.Bids, c, descending)
			if err != nil {
				return nil, err
			}
			out.Bids = levels
		case model.SideAsk:
			if !asksCopied {
				out.Asks = append([]model.PriceLevel(nil), book.Asks...)
				asksCopied = true
			}
			levels, err := upsert(out.Asks, c, ascending)
			if err != nil {
				return nil, err
			}
			out.Asks = levels
		default:
			return nil, fmt.Errorf("%w: unknown side %d", ErrBookCorruption, c.Side)
		}
	}

	if out.Crossed() {
		return nil, crossedError(&out)
	}
	return &out, nil
}

type order func(a, b decimal.Decimal) bool

func descending(a, b decimal.Decimal) bool { return a.GreaterThan(b) }
func ascending(a, b decimal.Decimal) bool  { return a.LessThan(b) }

// upsert applies one change to a sorted side in place. Size zero removes
// the level.
func upsert(levels []model.PriceLevel, c model.LevelChange, before order) ([]model.PriceLevel, error) {
	i := sort.Search(len(levels), func(i int) bool { return !before(levels[i].Price, c.Price) })
	found := i < len(levels) && levels[i].Price.Equal(c.Price)

	size := c.Size
	if c.Relative && found {
		size = levels[i].Size.Add(c.Size)
	}
	if size.IsNegative() {
		return nil, fmt.Errorf("%w: negative size %s at %s", ErrBookCorruption, size, c.Price)
	}

	switch {
	case size.IsZero() && found:
		return append(levels[:i], levels[i+1:]...), nil
	case size.IsZero():
		return levels, nil
	case found:
		levels[i].Size = size
		return levels, nil
	default:
		levels = append(levels, model.PriceLevel{})
		copy(levels[i+1:], levels[i:])
		levels[i] = model.PriceLevel{Price: c.Price, Size: size}
		return levels, nil
	}
}

func normalizeSide(levels []model.PriceLevel, side model.Side) ([]model.PriceLevel, error) {
	out := make([]model.PriceLevel, 0, len(levels))
	for _, l := range levels {
		if l.Size.IsNegative() {
			return nil, fmt.Errorf("%w: negative %s size %s at %s", ErrBookCorruption, side, l.Size, l.Price)
		}
		if l.Size.IsPositive() {
			out = append(out, l)
		}
	}

	before := ascending
	if side == model.SideBid {
		before = descending
	}
	sort.SliceStable(out, func(i, j int) bool { return before(out[i].Price, out[j].Price) })

	for i := 1; i < len(out); i++ {
		if out[i].Price.Equal(out[i-1].Price) {
			return nil, fmt.Errorf("%w: duplicate %s level at %s", ErrBookCorruption, side, out[i].Price)
		}
	}
	return out, nil
}

func crossedError(b *model.OrderBook) error {
	bid, _ := b.BestBid()
	ask, _ := b.BestAsk()
	return fmt.Errorf("%w: crossed book bid %s >= ask %s", ErrBookCorruption, bid.Price, ask.Price)
}
