package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"feedengine/internal/app"

	_ "net/http/pprof" // profiling, localhost only
)

// shutdownDrainTimeout bounds how long main waits for the Shutdown
// event pushed by Disconnect to surface through Core.Run before
// falling back to context cancellation.
const shutdownDrainTimeout = 5 * time.Second

func main() {
	go func() {
		slog.Info("pprof server listening on localhost:6060")
		if err := http.ListenAndServe("localhost:6060", nil); err != nil {
			slog.Error("pprof server failed", slog.Any("error", err))
		}
	}()

	bootstrap := app.NewBootstrap()
	if err := bootstrap.Initialize(os.Args[1:]); err != nil {
		slog.Error("bootstrap failed", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	netCtx, cancelNet := context.WithCancel(ctx)
	computeCtx, cancelCompute := context.WithCancel(ctx)
	broadcastCtx, cancelBroadcast := context.WithCancel(ctx)

	// Startup order: network context first (so it can begin filling the
	// queue), then the compute core, then the broadcast listener.
	if err := bootstrap.Client.Connect(netCtx); err != nil {
		slog.Error("failed to start network context", slog.Any("error", err))
		cancelNet()
		cancelCompute()
		cancelBroadcast()
		os.Exit(1)
	}
	slog.Info("network context started")

	computeDone := make(chan struct{})
	go func() {
		defer close(computeDone)
		bootstrap.Core.Run(computeCtx)
	}()
	slog.Info("compute core started")

	broadcastDone := make(chan struct{})
	go func() {
		defer close(broadcastDone)
		addr := fmt.Sprintf(":%d", bootstrap.Config.Output.WSServerPort)
		if err := bootstrap.Hub.Serve(broadcastCtx, addr); err != nil {
			slog.Error("broadcast listener exited", slog.Any("error", err))
		}
	}()
	slog.Info("broadcast fan-out listening", slog.Int("port", bootstrap.Config.Output.WSServerPort))

	journalTicker := time.NewTicker(10 * time.Second)
	defer journalTicker.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-journalTicker.C:
				bootstrap.RecordMetricsSnapshot(ctx)
			}
		}
	}()

	slog.Info("engine fully operational, press ctrl+c to exit")
	<-ctx.Done()
	slog.Info("shutting down")

	// Shutdown order: network context stops first — Disconnect closes
	// the websocket, waits for the connection loop to exit, and then
	// pushes Shutdown onto the ring as its final act, so the compute
	// core observes termination as an in-band event after draining
	// whatever was already queued ahead of it, rather than racing
	// context cancellation against TryPop. cancelCompute is only a
	// backstop for a core that is stuck and never reaches that event.
	// The broadcast fan-out is stopped last, after the compute core
	// has exited; no status message is broadcast on shutdown.
	bootstrap.Client.Disconnect()
	cancelNet()

	select {
	case <-computeDone:
	case <-time.After(shutdownDrainTimeout):
		slog.Warn("compute core did not observe Shutdown event in time, cancelling")
		cancelCompute()
		<-computeDone
	}

	cancelBroadcast()
	<-broadcastDone

	slog.Info("shutdown complete")
}
