// Package broadcast implements the subscriber fan-out (C10) and the
// pure analytics-to-payload formatter (C11).
package broadcast

import (
	"encoding/json"
	"time"

	"feedengine/internal/domain"
)

const isoMilliLayout = "2006-01-02T15:04:05.000Z"

func isoTimestamp(t time.Time) string {
	return t.UTC().Format(isoMilliLayout)
}

type bookPayload struct {
	BestBid      float64 `json:"bestBid"`
	BestBidQty   float64 `json:"bestBidQty"`
	BestAsk      float64 `json:"bestAsk"`
	BestAskQty   float64 `json:"bestAskQty"`
	Spread       float64 `json:"spread"`
	SpreadBps    float64 `json:"spreadBps"`
	MidPrice     float64 `json:"midPrice"`
	Imbalance    float64 `json:"imbalance"`
	LastUpdateID uint64  `json:"lastUpdateId"`
}

type tradePayload struct {
	VWAP       float64 `json:"vwap"`
	BuyVolume  float64 `json:"buyVolume"`
	SellVolume float64 `json:"sellVolume"`
	NetFlow    float64 `json:"netFlow"`
	TradeCount int     `json:"tradeCount"`
}

type metricsPayload struct {
	Type      string       `json:"type"`
	Timestamp string       `json:"timestamp"`
	Book      bookPayload  `json:"book"`
	Trade     tradePayload `json:"trade"`
}

type alertPayload struct {
	Type      string  `json:"type"`
	Timestamp string  `json:"timestamp"`
	Side      string  `json:"side"`
	Price     float64 `json:"price"`
	Quantity  float64 `json:"quantity"`
	Sigma     float64 `json:"sigma"`
}

type statusPayload struct {
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
	Connected bool   `json:"connected"`
	State     string `json:"state"`
}

// FormatMetrics renders a periodic metrics payload from the current
// book and trade-flow views.
func FormatMetrics(book domain.BookSnapshot, trade domain.TradeFlowMetrics) ([]byte, error) {
	payload := metricsPayload{
		Type:      "metrics",
		Timestamp: isoTimestamp(time.Now()),
		Book: bookPayload{
			BestBid:      book.BestBid.Float64(),
			BestBidQty:   book.BestBidQty,
			BestAsk:      book.BestAsk.Float64(),
			BestAskQty:   book.BestAskQty,
			Spread:       book.Spread.Float64(),
			SpreadBps:    book.SpreadBps,
			MidPrice:     book.Mid,
			Imbalance:    book.Imbalance,
			LastUpdateID: book.LastUpdateID,
		},
		Trade: tradePayload{
			VWAP:       trade.VWAP,
			BuyVolume:  trade.TotalBuyVolume,
			SellVolume: trade.TotalSellVolume,
			NetFlow:    trade.NetFlow(),
			TradeCount: trade.TradeCount,
		},
	}
	return json.Marshal(payload)
}

// FormatAlert renders a large-trade alert payload.
func FormatAlert(alert domain.TradeAlert) ([]byte, error) {
	side := "SELL"
	if alert.IsBuy {
		side = "BUY"
	}
	payload := alertPayload{
		Type:      "alert",
		Timestamp: isoTimestamp(alert.Timestamp),
		Side:      side,
		Price:     alert.Price.Float64(),
		Quantity:  alert.Qty,
		Sigma:     alert.Sigma,
	}
	return json.Marshal(payload)
}

// FormatStatus renders a connection-transition status payload.
func FormatStatus(connected bool) ([]byte, error) {
	state := "disconnected"
	if connected {
		state = "connected"
	}
	payload := statusPayload{
		Type:      "status",
		Timestamp: isoTimestamp(time.Now()),
		Connected: connected,
		State:     state,
	}
	return json.Marshal(payload)
}
