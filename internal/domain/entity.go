package domain

import "time"

// MetricsRecord is a single point-in-time row of the operational metrics
// journal. It is the persisted counterpart to infra.MetricsSnapshot —
// written periodically by the storage layer, never read by the hot path.
// This is diagnostics persistence, not the order-book/trade persistence
// the spec's Non-goals exclude.
type MetricsRecord struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	Timestamp         time.Time `gorm:"index" json:"timestamp"`
	DepthUpdatesTotal  uint64    `json:"depth_updates_total"`
	TradesTotal        uint64    `json:"trades_total"`
	ParseErrorsTotal   uint64    `json:"parse_errors_total"`
	SequenceGapsTotal  uint64    `json:"sequence_gaps_total"`
	ResyncsTotal       uint64    `json:"resyncs_total"`
	SPSCDropsTotal     uint64    `json:"spsc_drops_total"`
	BroadcastEvictions uint64    `json:"broadcast_evictions_total"`
	ActiveSubscribers  int32     `json:"active_subscribers"`
}
