// Package book implements the canonical orderbook replica and its derived
// market metrics. The Store is the single logical owner of the book: the feed
// consumer mutates it through ApplySnapshot/ApplyDiff and the simulation path
// reads consistent snapshots through Metrics and VWAPForQuantity.
package book

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/costsim/internal/domain"
)

// Config controls book depth limits.
type Config struct {
	// MaxDepth is the maximum number of levels retained per side. Levels
	// beyond it are dropped after every mutation; only the tail is dropped so
	// best bid/ask are never affected.
	MaxDepth int

	// MetricsDepth is the default number of levels the imbalance and volume
	// aggregates are computed over.
	MetricsDepth int
}

// Store is the mutable orderbook replica. One writer (the feed consumer loop)
// mutates it; readers take the read lock and copy out immutable values, so
// metrics never observe a half-applied update.
type Store struct {
	mu sync.RWMutex

	bids []domain.PriceLevel // descending by price
	asks []domain.PriceLevel // ascending by price

	sequence   uint64
	lastUpdate time.Time

	maxDepth     int
	metricsDepth int
	logger       *slog.Logger
}

// NewStore creates an empty book store.
func NewStore(cfg Config, logger *slog.Logger) *Store {
	maxDepth := cfg.MaxDepth
	if maxDepth <= 0 {
		maxDepth = 50
	}
	metricsDepth := cfg.MetricsDepth
	if metricsDepth <= 0 || metricsDepth > maxDepth {
		metricsDepth = maxDepth
	}
	return &Store{
		maxDepth:     maxDepth,
		metricsDepth: metricsDepth,
		logger:       logger.With(slog.String("component", "book")),
	}
}

// Apply dispatches a book update to ApplySnapshot or ApplyDiff.
func (s *Store) Apply(u domain.BookUpdate) error {
	switch u.Type {
	case domain.UpdateSnapshot:
		s.ApplySnapshot(u.Bids, u.Asks, u.Sequence, u.Timestamp)
		return nil
	case domain.UpdateDiff:
		return s.ApplyDiff(u)
	default:
		return fmt.Errorf("book: unknown update type %q", u.Type)
	}
}

// ApplySnapshot atomically replaces both sides and the sequence number.
// Levels with non-positive quantity are ignored. Sides are re-sorted so the
// caller does not need to guarantee ordering.
func (s *Store) ApplySnapshot(bids, asks []domain.PriceLevel, seq uint64, ts time.Time) {
	newBids := make([]domain.PriceLevel, 0, len(bids))
	for _, l := range bids {
		if l.Quantity > 0 {
			newBids = append(newBids, l)
		}
	}
	newAsks := make([]domain.PriceLevel, 0, len(asks))
	for _, l := range asks {
		if l.Quantity > 0 {
			newAsks = append(newAsks, l)
		}
	}
	sort.Slice(newBids, func(i, j int) bool { return newBids[i].Price > newBids[j].Price })
	sort.Slice(newAsks, func(i, j int) bool { return newAsks[i].Price < newAsks[j].Price })
	if len(newBids) > s.maxDepth {
		newBids = newBids[:s.maxDepth]
	}
	if len(newAsks) > s.maxDepth {
		newAsks = newAsks[:s.maxDepth]
	}

	s.mu.Lock()
	s.bids = newBids
	s.asks = newAsks
	s.sequence = seq
	s.lastUpdate = ts
	s.mu.Unlock()
}

// ApplyDiff upserts or deletes price levels from a single incremental update.
// It enforces strict sequence contiguity: updates whose sequence is not
// exactly current+1 are rejected with ErrSequenceGap or ErrSequenceRegression
// and leave the book untouched, signalling the caller to resynchronize.
// A crossed book after applying is reported as ErrCrossedBook; the book is
// then considered corrupt and must be replaced by a fresh snapshot.
func (s *Store) ApplyDiff(u domain.BookUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if u.Sequence <= s.sequence {
		return fmt.Errorf("book: diff seq %d, applied %d: %w",
			u.Sequence, s.sequence, domain.ErrSequenceRegression)
	}
	if u.Sequence != s.sequence+1 {
		return fmt.Errorf("book: diff seq %d, expected %d: %w",
			u.Sequence, s.sequence+1, domain.ErrSequenceGap)
	}

	for _, l := range u.Bids {
		s.bids = upsertLevel(s.bids, l, descending)
	}
	for _, l := range u.Asks {
		s.asks = upsertLevel(s.asks, l, ascending)
	}
	if len(s.bids) > s.maxDepth {
		s.bids = s.bids[:s.maxDepth]
	}
	if len(s.asks) > s.maxDepth {
		s.asks = s.asks[:s.maxDepth]
	}

	s.sequence = u.Sequence
	s.lastUpdate = u.Timestamp

	if len(s.bids) > 0 && len(s.asks) > 0 && s.bids[0].Price >= s.asks[0].Price {
		return fmt.Errorf("book: best bid %.8f >= best ask %.8f at seq %d: %w",
			s.bids[0].Price, s.asks[0].Price, s.sequence, domain.ErrCrossedBook)
	}
	return nil
}

type order int

const (
	ascending order = iota
	descending
)

// upsertLevel inserts, replaces, or deletes (quantity <= 0) a level in a
// side kept sorted in the given priority order. Deleting an unknown price is
// a no-op.
func upsertLevel(side []domain.PriceLevel, l domain.PriceLevel, ord order) []domain.PriceLevel {
	i := sort.Search(len(side), func(i int) bool {
		if ord == ascending {
			return side[i].Price >= l.Price
		}
		return side[i].Price <= l.Price
	})

	found := i < len(side) && side[i].Price == l.Price
	switch {
	case l.Quantity <= 0 && found:
		return append(side[:i], side[i+1:]...)
	case l.Quantity <= 0:
		return side
	case found:
		side[i].Quantity = l.Quantity
		return side
	default:
		side = append(side, domain.PriceLevel{})
		copy(side[i+1:], side[i:])
		side[i] = l
		return side
	}
}

// Sequence returns the last applied sequence number.
func (s *Store) Sequence() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sequence
}

// LastUpdate returns the exchange timestamp of the last applied update.
func (s *Store) LastUpdate() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastUpdate
}

// Depth returns the current number of levels per side.
func (s *Store) Depth() (bids, asks int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.bids), len(s.asks)
}

// Levels returns copies of the top n levels of each side, bids first.
func (s *Store) Levels(n int) (bids, asks []domain.PriceLevel) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n <= 0 || n > len(s.bids) {
		bids = append(bids, s.bids...)
	} else {
		bids = append(bids, s.bids[:n]...)
	}
	if n <= 0 || n > len(s.asks) {
		asks = append(asks, s.asks...)
	} else {
		asks = append(asks, s.asks[:n]...)
	}
	return bids, asks
}

// Metrics computes derived top-of-book metrics over the top depth levels.
// depth <= 0 uses the configured default. If either side is empty or the book
// is crossed the returned metrics carry Valid=false and callers must treat
// the numeric fields as undefined.
func (s *Store) Metrics(depth int) domain.BookMetrics {
	if depth <= 0 {
		depth = s.metricsDepth
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	m := domain.BookMetrics{
		Sequence:  s.sequence,
		Timestamp: s.lastUpdate,
	}
	if len(s.bids) == 0 || len(s.asks) == 0 {
		return m
	}

	bestBid, bestAsk := s.bids[0], s.asks[0]
	if bestBid.Price >= bestAsk.Price {
		// Crossed state; do not report nonsensical spread or imbalance.
		return m
	}

	mid := (bestBid.Price + bestAsk.Price) / 2
	m.BestBid = bestBid.Price
	m.BestAsk = bestAsk.Price
	m.BestBidQty = bestBid.Quantity
	m.BestAskQty = bestAsk.Quantity
	m.MidPrice = mid
	m.SpreadBps = (bestAsk.Price - bestBid.Price) / mid * 10000

	for i := 0; i < len(s.bids) && i < depth; i++ {
		m.BidVolume += s.bids[i].Quantity
	}
	for i := 0; i < len(s.asks) && i < depth; i++ {
		m.AskVolume += s.asks[i].Quantity
	}
	if total := m.BidVolume + m.AskVolume; total > 0 {
		m.Imbalance = (m.BidVolume - m.AskVolume) / total
	}
	m.Valid = true
	return m
}

// VWAPForQuantity walks one side of the book in priority order, consuming
// levels until the requested base-asset quantity is filled or the side is
// exhausted. Buys consume asks, sells consume bids.
func (s *Store) VWAPForQuantity(quantity float64, side domain.Side) domain.VWAPResult {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var levels []domain.PriceLevel
	if side == domain.SideBuy {
		levels = s.asks
	} else {
		levels = s.bids
	}

	var res domain.VWAPResult
	if quantity <= 0 || len(levels) == 0 {
		return res
	}

	var value, filled float64
	remaining := quantity
	for _, l := range levels {
		fill := l.Quantity
		if fill > remaining {
			fill = remaining
		}
		value += fill * l.Price
		filled += fill
		remaining -= fill
		if remaining <= 0 {
			break
		}
	}

	if filled > 0 {
		res.AveragePrice = value / filled
	}
	res.FilledQuantity = filled
	res.FilledRatio = filled / quantity
	return res
}
