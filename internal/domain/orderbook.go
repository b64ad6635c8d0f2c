package domain

import "time"

// Side identifies the direction of a hypothetical order.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Valid reports whether the side is one of the two known values.
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// PriceLevel is a single price+quantity entry in an orderbook. A quantity of
// zero (or below) in a diff means the level is removed.
type PriceLevel struct {
	Price    float64
	Quantity float64
}

// UpdateType distinguishes full snapshots from incremental diffs on the
// book-update stream.
type UpdateType string

const (
	UpdateSnapshot UpdateType = "snapshot"
	UpdateDiff     UpdateType = "diff"
)

// BookUpdate is one parsed feed message: either a full-depth snapshot or an
// incremental diff, carrying the exchange sequence number.
type BookUpdate struct {
	Type      UpdateType
	Bids      []PriceLevel
	Asks      []PriceLevel
	Sequence  uint64
	Timestamp time.Time

	// Received is when the ingestor read the message off the wire, used for
	// the receive-to-enqueue latency metric.
	Received time.Time
}

// BookMetrics is an immutable snapshot of derived top-of-book state. When
// Valid is false the book was empty or crossed and the numeric fields must be
// treated as undefined; downstream estimators fall back to heuristics.
type BookMetrics struct {
	BestBid    float64
	BestAsk    float64
	BestBidQty float64
	BestAskQty float64
	MidPrice   float64
	SpreadBps  float64

	// Imbalance is (bidVol-askVol)/(bidVol+askVol) over the top N levels,
	// signed toward the heavier side, in [-1, 1].
	Imbalance float64
	BidVolume float64
	AskVolume float64

	Sequence  uint64
	Timestamp time.Time
	Valid     bool
}

// VWAPResult is the outcome of walking one side of the book for a requested
// quantity. FilledRatio < 1 means the side lacked depth for the full size.
type VWAPResult struct {
	AveragePrice   float64
	FilledQuantity float64
	FilledRatio    float64
}
