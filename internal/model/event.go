package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// EventKind discriminates DeltaEvent payloads.
type EventKind int

const (
	// EventDelta carries level changes for one book at one sequence number.
	EventDelta EventKind = iota
	// EventSnapshot carries a full book. Snapshots decoded from the stream
	// always replace the book.
	EventSnapshot
	// EventReset invalidates every book of a venue (new stream subscription).
	EventReset
	// EventTrade carries an executed trade.
	EventTrade
	// EventOrder carries an authoritative order update or fill from the stream.
	EventOrder
)

func (k EventKind) String() string {
	switch k {
	case EventDelta:
		return "delta"
	case EventSnapshot:
		return "snapshot"
	case EventReset:
		return "reset"
	case EventTrade:
		return "trade"
	case EventOrder:
		return "order"
	}
	return "unknown"
}

// SnapshotSource says where a snapshot came from.
type SnapshotSource int

const (
	SourceStream SnapshotSource = iota
	SourceREST
)

// LevelChange modifies one price level. With Relative set, Size is added to
// the resting size; otherwise it replaces it. A resulting size of zero
// removes the level.
type LevelChange struct {
	Side     Side
	Price    decimal.Decimal
	Size     decimal.Decimal
	Relative bool
}

// DeltaEvent is the decoded, venue-neutral form of one stream message part.
type DeltaEvent struct {
	Kind     EventKind
	Key      BookKey // Venue only for EventReset
	Sequence int64

	Changes []LevelChange // EventDelta
	Bids    []PriceLevel  // EventSnapshot
	Asks    []PriceLevel  // EventSnapshot
	Source  SnapshotSource
	Gen     uint64 // resync generation for REST snapshots

	Trade *Trade         // EventTrade
	Order *OrderResponse // EventOrder status update
	Fill  *Fill          // EventOrder execution

	ReceivedAt time.Time
}
