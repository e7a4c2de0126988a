// Package domain holds the data model shared by every component of the
// engine: wire-adjacent venue records, the book's derived analytics view,
// trade-flow metrics, and the tagged event union that flows through the
// SPSC handoff.
package domain

import (
	"time"

	"feedengine/pkg/fixed"
)

// PriceLevel is one (price, quantity) pair from a depth snapshot or
// update. A zero Qty means "remove this price" when applied to the book.
type PriceLevel struct {
	Price fixed.Price
	Qty   float64
}

// DepthSnapshot is the venue's point-in-time REST view of the book: the
// state as of the instant LastUpdateID was the final applied update.
type DepthSnapshot struct {
	LastUpdateID uint64
	Symbol       string
	Bids         []PriceLevel
	Asks         []PriceLevel
}

// DepthUpdate is one incremental diff from the live depth stream. The
// venue's sequence contract requires that for two successive updates A
// then B on the same stream, B.PrevFinalUpdateID == A.FinalUpdateID.
type DepthUpdate struct {
	FirstUpdateID     uint64 // U
	FinalUpdateID     uint64 // u
	PrevFinalUpdateID uint64 // pu
	Bids              []PriceLevel
	Asks              []PriceLevel
}

// ContainsBridgePoint reports whether target lies within [U, u],
// inclusive — the condition that makes this update the bridging update
// for a snapshot whose LastUpdateID+1 == target.
func (d DepthUpdate) ContainsBridgePoint(target uint64) bool {
	return d.FirstUpdateID <= target && target <= d.FinalUpdateID
}

// AggTrade is one aggregated trade print from the venue's trade stream.
// IsBuyerMaker == false means the taker was the buyer (an aggressive
// buy); true means the taker was the seller.
type AggTrade struct {
	ID            uint64
	Price         fixed.Price
	Qty           float64
	TradeTimeMs   int64
	IsBuyerMaker  bool
}

// IsAggressiveBuy reports whether the taker side of the trade was a buy.
func (t AggTrade) IsAggressiveBuy() bool { return !t.IsBuyerMaker }

// BookSnapshot is an immutable, on-demand view of the replica's current
// best-of-book and derived analytics. A BookSnapshot of a one-sided or
// empty book carries zero values everywhere except LastUpdateID and
// Timestamp; one of a crossed book also carries the best prices and
// quantities, with the derived fields left zero.
type BookSnapshot struct {
	BestBid      fixed.Price
	BestBidQty   float64
	BestAsk      fixed.Price
	BestAskQty   float64
	Spread       fixed.Price
	SpreadBps    float64
	Mid          float64
	Imbalance    float64
	LastUpdateID uint64
	Timestamp    time.Time
}

// IsValid reports whether both sides of the book were populated and
// uncrossed when this snapshot was taken: it holds exactly when
// BestAsk > BestBid > 0, so a populated but crossed book is invalid.
func (b BookSnapshot) IsValid() bool {
	return b.BestBid.IsPositive() && b.BestAsk.IsPositive() && b.BestBid.Less(b.BestAsk)
}

// TradeFlowMetrics is the rolling trade-flow summary produced by the
// VWAP/online-stats aggregator (C7) after each trade.
type TradeFlowMetrics struct {
	VWAP            float64
	TotalBuyVolume  float64
	TotalSellVolume float64
	TradeCount      int
	LastAlert       *TradeAlert
}

// NetFlow returns TotalBuyVolume - TotalSellVolume.
func (m TradeFlowMetrics) NetFlow() float64 {
	return m.TotalBuyVolume - m.TotalSellVolume
}

// TradeAlert flags a trade whose size deviated from the rolling mean by
// more than the configured number of standard deviations.
type TradeAlert struct {
	Price     fixed.Price
	Qty       float64
	IsBuy     bool
	Sigma     float64
	Timestamp time.Time
}

// FeedState is the feed synchronization state machine's current state.
type FeedState int

const (
	StateDisconnected FeedState = iota
	StateConnecting
	StateWaitingSnapshot
	StateSyncing
	StateLive
	StateReconnecting
)

func (s FeedState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateWaitingSnapshot:
		return "waiting_snapshot"
	case StateSyncing:
		return "syncing"
	case StateLive:
		return "live"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}
