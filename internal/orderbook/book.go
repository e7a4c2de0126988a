// Package orderbook maintains the locally-replicated limit order book
// for a single symbol: two sorted sides keyed by price, a cached view
// of the best bid/ask, and the derived analytics (spread, mid,
// imbalance) published alongside it.
package orderbook

import (
	"sort"
	"time"

	"feedengine/internal/domain"
	"feedengine/pkg/fixed"
)

// side holds one half of the book. prices is kept sorted according to
// less (descending for bids, ascending for asks) so the best level is
// always at index 0 once the cache is valid. levels is the backing map;
// prices is the order index over its keys.
type side struct {
	levels map[fixed.Price]float64
	prices []fixed.Price
	less   func(a, b fixed.Price) bool

	bestValid bool
	bestPrice fixed.Price
	bestQty   float64
}

func newSide(less func(a, b fixed.Price) bool) *side {
	return &side{
		levels: make(map[fixed.Price]float64),
		less:   less,
	}
}

func (s *side) clear() {
	s.levels = make(map[fixed.Price]float64)
	s.prices = s.prices[:0]
	s.invalidate()
}

func (s *side) invalidate() {
	s.bestValid = false
	s.bestPrice = fixed.Zero
	s.bestQty = 0
}

// set inserts or replaces the quantity at price, erasing the level
// instead when qty <= 0. Always invalidates the best-of-side cache;
// the spec calls this out as a deliberately conservative choice over
// tracking whether the mutated level was actually the best one.
func (s *side) set(price fixed.Price, qty float64) {
	if qty > 0 {
		if _, exists := s.levels[price]; !exists {
			s.insertSorted(price)
		}
		s.levels[price] = qty
	} else {
		if _, exists := s.levels[price]; exists {
			delete(s.levels, price)
			s.removeSorted(price)
		}
	}
	s.invalidate()
}

func (s *side) insertSorted(price fixed.Price) {
	i := sort.Search(len(s.prices), func(i int) bool {
		return s.less(price, s.prices[i])
	})
	s.prices = append(s.prices, fixed.Zero)
	copy(s.prices[i+1:], s.prices[i:])
	s.prices[i] = price
}

func (s *side) removeSorted(price fixed.Price) {
	i := sort.Search(len(s.prices), func(i int) bool {
		return !s.less(s.prices[i], price)
	})
	if i < len(s.prices) && s.prices[i].Equal(price) {
		s.prices = append(s.prices[:i], s.prices[i+1:]...)
	}
}

// refreshBest lazily repopulates the best-of-side cache. A no-op when
// the cache is already valid, so repeated snapshot() calls between
// mutations cost O(1).
func (s *side) refreshBest() {
	if s.bestValid {
		return
	}
	if len(s.prices) == 0 {
		s.bestValid = true
		return
	}
	s.bestPrice = s.prices[0]
	s.bestQty = s.levels[s.bestPrice]
	s.bestValid = true
}

// topSum sums quantity over the first n levels (n <= 0 sums all).
func (s *side) topSum(n int) float64 {
	limit := len(s.prices)
	if n > 0 && n < limit {
		limit = n
	}
	var total float64
	for i := 0; i < limit; i++ {
		total += s.levels[s.prices[i]]
	}
	return total
}

// Book is the replica for one symbol. Not safe for concurrent use —
// the compute core (C9) is its sole caller, by design: see the package
// doc on EngineEvent for why the engine has a single consumer.
type Book struct {
	Symbol          string
	bids            *side
	asks            *side
	lastUpdateID    uint64
	imbalanceLevels int
}

// New constructs an empty book for symbol, computing imbalance over
// the top imbalanceLevels of each side (0 or negative means "all
// levels").
func New(symbol string, imbalanceLevels int) *Book {
	return &Book{
		Symbol:          symbol,
		bids:            newSide(func(a, b fixed.Price) bool { return b.Less(a) }), // descending
		asks:            newSide(func(a, b fixed.Price) bool { return a.Less(b) }), // ascending
		imbalanceLevels: imbalanceLevels,
	}
}

// ApplySnapshot replaces the entire book with the REST snapshot s,
// discarding every previously held level.
func (b *Book) ApplySnapshot(s *domain.DepthSnapshot) {
	b.bids.clear()
	b.asks.clear()
	for _, lvl := range s.Bids {
		if lvl.Qty > 0 {
			b.bids.set(lvl.Price, lvl.Qty)
		}
	}
	for _, lvl := range s.Asks {
		if lvl.Qty > 0 {
			b.asks.set(lvl.Price, lvl.Qty)
		}
	}
	b.lastUpdateID = s.LastUpdateID
}

// HasSequenceGap reports whether applying an update whose PrevFinalUpdateID
// is pu would break the venue's chained-sequence contract. U is accepted
// for symmetry with the wire contract; it carries no information this
// replica currently needs.
func (b *Book) HasSequenceGap(u, pu uint64) bool {
	_ = u
	return pu != b.lastUpdateID
}

// ApplyUpdate applies one incremental diff. Callers are expected to
// have already checked HasSequenceGap; ApplyUpdate does not check it
// itself so that resync handling stays entirely in the compute core's
// dispatch table.
func (b *Book) ApplyUpdate(u *domain.DepthUpdate) {
	for _, lvl := range u.Bids {
		b.bids.set(lvl.Price, lvl.Qty)
	}
	for _, lvl := range u.Asks {
		b.asks.set(lvl.Price, lvl.Qty)
	}
	b.lastUpdateID = u.FinalUpdateID
}

// Clear empties both sides and resets the sequence cursor, in
// preparation for a fresh REST snapshot.
func (b *Book) Clear() {
	b.bids.clear()
	b.asks.clear()
	b.lastUpdateID = 0
}

// LastUpdateID returns the sequence ID of the most recently applied
// snapshot or update.
func (b *Book) LastUpdateID() uint64 { return b.lastUpdateID }

// Snapshot computes the current BookSnapshot view. O(1) when both
// best-of-side caches are valid, O(1) amortized otherwise (refresh
// touches only the head of an already-sorted slice).
func (b *Book) Snapshot() domain.BookSnapshot {
	b.bids.refreshBest()
	b.asks.refreshBest()

	snap := domain.BookSnapshot{
		LastUpdateID: b.lastUpdateID,
		Timestamp:    time.Now(),
	}

	if len(b.bids.prices) == 0 || len(b.asks.prices) == 0 {
		return snap
	}

	snap.BestBid = b.bids.bestPrice
	snap.BestBidQty = b.bids.bestQty
	snap.BestAsk = b.asks.bestPrice
	snap.BestAskQty = b.asks.bestQty

	if !snap.IsValid() {
		return snap
	}

	snap.Spread = snap.BestAsk.Sub(snap.BestBid)
	snap.Mid = (snap.BestBid.Float64() + snap.BestAsk.Float64()) / 2
	if snap.Mid != 0 {
		snap.SpreadBps = (snap.Spread.Float64() / snap.Mid) * 10000
	}
	snap.Imbalance = b.imbalance()

	return snap
}

// imbalance computes (Σ top-L bid qty − Σ top-L ask qty) / total,
// clamped to 0 when both sides are empty or the total is non-positive.
func (b *Book) imbalance() float64 {
	bidSum := b.bids.topSum(b.imbalanceLevels)
	askSum := b.asks.topSum(b.imbalanceLevels)
	total := bidSum + askSum
	if total <= 0 {
		return 0
	}
	return (bidSum - askSum) / total
}

// BidLevels returns the current bid side, best price first. Intended
// for diagnostics and tests; the hot path uses Snapshot.
func (b *Book) BidLevels() []domain.PriceLevel { return levelsOf(b.bids) }

// AskLevels returns the current ask side, best price first.
func (b *Book) AskLevels() []domain.PriceLevel { return levelsOf(b.asks) }

func levelsOf(s *side) []domain.PriceLevel {
	out := make([]domain.PriceLevel, len(s.prices))
	for i, p := range s.prices {
		out[i] = domain.PriceLevel{Price: p, Qty: s.levels[p]}
	}
	return out
}
