package domain

import "context"

// FeedWorker is the interface the network context drives: dial, tear
// down, and report link state. The concrete implementation, feed.Client,
// talks the venue's combined-stream websocket protocol and owns the
// feed state machine (C5) that it drives.
type FeedWorker interface {
	Connect(ctx context.Context) error
	Disconnect()
	IsConnected() bool
}
