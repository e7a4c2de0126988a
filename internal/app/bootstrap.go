package app

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"time"

	"feedengine/internal/broadcast"
	"feedengine/internal/compute"
	"feedengine/internal/domain"
	"feedengine/internal/feed"
	"feedengine/internal/infra"
	"feedengine/internal/infra/storage"
	"feedengine/internal/orderbook"
	"feedengine/internal/tradeflow"
	"feedengine/pkg/ringbuf"
)

const configPath = "configs/config.yaml"

// ringSink adapts a ringbuf.Ring to feed.EventSink: a full ring drops
// the event and counts the drop rather than blocking the network
// context, per the engine's back-pressure policy.
type ringSink struct {
	ring    *ringbuf.Ring[*domain.EngineEvent]
	metrics *infra.Metrics
	logger  *slog.Logger
}

func (s *ringSink) Push(ev *domain.EngineEvent) {
	if !s.ring.TryPush(ev) {
		s.metrics.IncSPSCDrops()
		s.logger.Warn("dropping event, queue full", slog.String("kind", ev.Kind.String()))
		domain.ReleaseEvent(ev)
	}
}

// Bootstrap orchestrates the engine's startup sequence: load
// configuration, stand up logging and the diagnostics journal, then
// wire the network context (C2-C5), the compute core (C9), and the
// broadcast fan-out (C10) together through the SPSC ring.
type Bootstrap struct {
	Config  *infra.Config
	Logger  *slog.Logger
	Storage *storage.Storage
	Metrics *infra.Metrics

	Client *feed.Client
	Core   *compute.Core
	Hub    *broadcast.Hub
}

// NewBootstrap creates a new Bootstrap instance.
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize performs config/logger/storage setup and wires every
// engine component. It does not start anything — that is the caller's
// job via Client.Connect, Core.Run, and Hub.Serve.
func (b *Bootstrap) Initialize(args []string) error {
	cfg, err := infra.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("bootstrap: load config: %w", err)
	}
	infra.ApplyEnvOverrides(cfg)
	if err := infra.ApplyFlagOverrides(cfg, flag.NewFlagSet("engine", flag.ContinueOnError), args); err != nil {
		return fmt.Errorf("bootstrap: parse flags: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("bootstrap: invalid config: %w", err)
	}
	b.Config = cfg

	logger := infra.NewLogger(cfg)
	slog.SetDefault(logger)
	b.Logger = logger

	store, err := storage.NewStorage()
	if err != nil {
		return fmt.Errorf("bootstrap: open storage: %w", err)
	}
	b.Storage = store
	logger.Info("diagnostics journal ready")

	b.Metrics = infra.GlobalMetrics

	ring := ringbuf.New[*domain.EngineEvent](cfg.Engine.QueueCapacity)
	sink := &ringSink{ring: ring, metrics: b.Metrics, logger: logger}

	book := orderbook.New(cfg.Network.Symbol, cfg.Output.ImbalanceLevels)
	flow := tradeflow.New(cfg.Engine.VWAPWindow, cfg.Engine.LargeTradeStdDevs)

	hub := broadcast.NewHub(logger)
	hub.SetMetrics(b.Metrics)
	b.Hub = hub

	backoff := feed.NewBackoff(
		secondsToDuration(cfg.Network.ReconnectDelayInitial),
		secondsToDuration(cfg.Network.ReconnectDelayMax),
		cfg.Network.ReconnectMultiplier,
		cfg.Network.ReconnectJitterFactor,
	)

	feedClientCfg := feed.Config{
		Symbol:     cfg.Network.Symbol,
		WSHost:     cfg.Network.WSHost,
		WSPort:     cfg.Network.WSPort,
		RESTHost:   cfg.Network.RESTHost,
		RESTPort:   cfg.Network.RESTPort,
		DepthLimit: cfg.Engine.DepthLimit,
	}

	machine := feed.NewMachine(backoff, sink, nil)
	client := feed.NewClient(feedClientCfg, machine, logger)
	machine.SetSnapshotRequester(client)
	b.Client = client

	metricsInterval := time.Duration(cfg.Output.MetricsIntervalMS) * time.Millisecond
	core := compute.New(ring, book, flow, machine, hub, b.Metrics, logger, metricsInterval)
	b.Core = core

	logger.Info("engine wired",
		slog.String("symbol", cfg.Network.Symbol),
		slog.Int("queue_capacity", cfg.Engine.QueueCapacity),
		slog.Int("ws_server_port", cfg.Output.WSServerPort),
	)
	return nil
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// RecordMetricsSnapshot persists the current counters to the
// diagnostics journal. Intended to be called periodically by main.
func (b *Bootstrap) RecordMetricsSnapshot(ctx context.Context) {
	snap := b.Metrics.Snapshot()
	record := &domain.MetricsRecord{
		Timestamp:          snap.Timestamp,
		DepthUpdatesTotal:  snap.DepthUpdatesProcessed,
		TradesTotal:        snap.TradesProcessed,
		ParseErrorsTotal:   snap.ParseErrors,
		SequenceGapsTotal:  snap.SequenceGaps,
		ResyncsTotal:       snap.ResyncsTriggered,
		SPSCDropsTotal:     snap.SPSCDrops,
		BroadcastEvictions: snap.BroadcastEvictions,
		ActiveSubscribers:  snap.ActiveSubscribers,
	}
	if err := b.Storage.RecordMetrics(record); err != nil {
		b.Logger.Warn("failed to persist metrics snapshot", slog.Any("error", err))
	}
}
