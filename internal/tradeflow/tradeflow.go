// Package tradeflow maintains the rolling VWAP and online trade-size
// statistics over the most recent W trades (C7), and flags trades whose
// size deviates from the rolling mean by more than a configured number
// of standard deviations (C8).
package tradeflow

import (
	"math"
	"time"

	"feedengine/internal/domain"
	"feedengine/pkg/fixed"
)

type tradeRecord struct {
	price fixed.Price
	qty   float64
}

// Aggregator is the C7/C8 state: a fixed-capacity ring buffer of the
// most recent trades plus running VWAP sums and Welford statistics
// over trade size. Not safe for concurrent use; the compute core is
// its sole caller.
type Aggregator struct {
	window         []tradeRecord
	head           int
	count          int
	windowSize     int
	alertThreshold float64

	sumPV float64
	sumV  float64

	statCount int
	mean      float64
	m2        float64

	// Cumulative since the aggregator was last cleared — unlike the
	// VWAP sums and Welford stats, these are lifetime totals, not
	// windowed over the most recent W trades.
	totalBuyVolume  float64
	totalSellVolume float64
	tradeCount      int
}

// New constructs an Aggregator holding at most windowSize trades and
// alerting when a trade's size deviates from the rolling mean by more
// than alertThreshold standard deviations.
func New(windowSize int, alertThreshold float64) *Aggregator {
	if windowSize <= 0 {
		windowSize = 1
	}
	return &Aggregator{
		window:         make([]tradeRecord, windowSize),
		windowSize:     windowSize,
		alertThreshold: alertThreshold,
	}
}

// AddTrade folds one trade into the rolling window, evicting the
// oldest trade if the window was already full, and returns the
// updated TradeFlowMetrics view. If the trade is large enough relative
// to the rolling mean/std-dev, Metrics.LastAlert is populated.
func (a *Aggregator) AddTrade(t *domain.AggTrade) domain.TradeFlowMetrics {
	rec := tradeRecord{price: t.Price, qty: t.Qty}

	// The ring buffer is preallocated to windowSize slots. When the
	// window is already full, a.head holds the oldest live entry, and
	// is about to be overwritten — capture it before overwriting so
	// its contribution can be subtracted from the running sums.
	var evicted tradeRecord
	wasFull := a.count == a.windowSize
	if wasFull {
		evicted = a.window[a.head]
	}

	a.window[a.head] = rec
	a.head = (a.head + 1) % a.windowSize
	if a.count < a.windowSize {
		a.count++
	}

	a.sumPV += rec.price.Float64() * rec.qty
	a.sumV += rec.qty
	a.welfordAdd(rec.qty)

	if wasFull {
		a.sumPV -= evicted.price.Float64() * evicted.qty
		a.sumV -= evicted.qty
		a.welfordRemove(evicted.qty)
	}

	a.tradeCount++
	if t.IsAggressiveBuy() {
		a.totalBuyVolume += t.Qty
	} else {
		a.totalSellVolume += t.Qty
	}

	metrics := domain.TradeFlowMetrics{
		VWAP:            a.vwap(),
		TotalBuyVolume:  a.totalBuyVolume,
		TotalSellVolume: a.totalSellVolume,
		TradeCount:      a.tradeCount,
	}

	// The alert check uses the rolling stats with this trade already
	// folded in, so a lone outlier after a run of equal sizes still
	// sees a positive std-dev.
	if alert := detectAlert(t, a.mean, a.stdDev(), a.alertThreshold); alert != nil {
		metrics.LastAlert = alert
	}

	return metrics
}

// Current returns the current TradeFlowMetrics view without folding
// in a new trade — used by the compute core's periodic metrics
// emission, which runs independently of trade arrival.
func (a *Aggregator) Current() domain.TradeFlowMetrics {
	return domain.TradeFlowMetrics{
		VWAP:            a.vwap(),
		TotalBuyVolume:  a.totalBuyVolume,
		TotalSellVolume: a.totalSellVolume,
		TradeCount:      a.tradeCount,
	}
}

// welfordAdd folds qty into the running mean/M2 using Welford's online
// algorithm.
func (a *Aggregator) welfordAdd(qty float64) {
	a.statCount++
	delta := qty - a.mean
	a.mean += delta / float64(a.statCount)
	delta2 := qty - a.mean
	a.m2 += delta * delta2
}

// welfordRemove reverses the Welford update for a trade size leaving
// the window, using the spec's reverse formula: mean' = (mean*(n+1) -
// q)/n, then M2 -= (q - mean_old)*(q - mean'), clamped to zero against
// float drift.
func (a *Aggregator) welfordRemove(qty float64) {
	oldMean := a.mean
	a.statCount--
	if a.statCount <= 0 {
		a.mean = 0
		a.m2 = 0
		a.statCount = 0
		return
	}
	a.mean = (oldMean*(float64(a.statCount)+1) - qty) / float64(a.statCount)
	a.m2 -= (qty - oldMean) * (qty - a.mean)
	if a.m2 < 0 {
		a.m2 = 0
	}
}

// vwap returns Σpq/Σq over the current window, or 0 when the window is
// empty.
func (a *Aggregator) vwap() float64 {
	if a.sumV <= 0 {
		return 0
	}
	return a.sumPV / a.sumV
}

// stdDev returns the population standard deviation of trade sizes in
// the current window; 0 when fewer than two trades have been seen.
func (a *Aggregator) stdDev() float64 {
	if a.statCount < 2 {
		return 0
	}
	return math.Sqrt(a.m2 / float64(a.statCount))
}

// Clear resets the aggregator to its empty state.
func (a *Aggregator) Clear() {
	for i := range a.window {
		a.window[i] = tradeRecord{}
	}
	a.head = 0
	a.count = 0
	a.sumPV = 0
	a.sumV = 0
	a.statCount = 0
	a.mean = 0
	a.m2 = 0
	a.totalBuyVolume = 0
	a.totalSellVolume = 0
	a.tradeCount = 0
}

// detectAlert implements C8: given the rolling (mean, stdDev) after
// trade t has been folded into the window, emit a TradeAlert only when
// sigma strictly exceeds threshold. A non-positive stdDev never
// alerts, and negative deviations never alert.
func detectAlert(t *domain.AggTrade, mean, stdDev, threshold float64) *domain.TradeAlert {
	if stdDev <= 0 {
		return nil
	}
	sigma := (t.Qty - mean) / stdDev
	if sigma <= threshold {
		return nil
	}
	return &domain.TradeAlert{
		Price:     t.Price,
		Qty:       t.Qty,
		IsBuy:     t.IsAggressiveBuy(),
		Sigma:     sigma,
		Timestamp: time.UnixMilli(t.TradeTimeMs),
	}
}
