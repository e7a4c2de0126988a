package broadcast

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"feedengine/internal/domain"
)

// subscriberBufferSize bounds each subscriber's outbound queue. A
// subscriber that cannot keep up with this many unsent frames is
// evicted rather than allowed to slow down the broadcast of every
// other subscriber.
const subscriberBufferSize = 256

const writeTimeout = 5 * time.Second

type subscriber struct {
	conn   *websocket.Conn
	outbox chan []byte
}

// Metrics is the subset of infra.Metrics the Hub updates. Defined
// locally so this package does not import infra. Nil-safe: a Hub
// built without SetMetrics simply skips the gauge updates.
type Metrics interface {
	SetActiveSubscribers(n int32)
	IncBroadcastEvictions()
}

// Hub is the C10 subscriber fan-out: a set of live websocket
// subscribers, each drained by its own writer goroutine from its own
// bounded channel. Broadcast never blocks on a slow subscriber — a
// full outbox or a write failure evicts that subscriber immediately,
// without affecting delivery to anyone else.
type Hub struct {
	mu          sync.Mutex
	subscribers map[*subscriber]struct{}
	upgrader    websocket.Upgrader
	logger      *slog.Logger
	evictions   atomic.Uint64
	metrics     Metrics
}

// NewHub constructs an empty Hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		subscribers: make(map[*subscriber]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

// SetMetrics wires the operational-counter sink. Optional: a Hub with
// no metrics sink just skips the gauge updates.
func (h *Hub) SetMetrics(m Metrics) {
	h.metrics = m
}

func (h *Hub) reportActiveSubscribers() {
	if h.metrics == nil {
		return
	}
	h.metrics.SetActiveSubscribers(int32(h.SubscriberCount()))
}

// HandleUpgrade is an http.HandlerFunc that accepts a new subscriber
// connection and starts its read-discard and write-pump goroutines.
// The server never expects inbound frames from subscribers; reads
// exist only to detect a closed connection.
func (h *Hub) HandleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("subscriber upgrade failed", slog.Any("error", err))
		return
	}

	sub := &subscriber{conn: conn, outbox: make(chan []byte, subscriberBufferSize)}
	h.mu.Lock()
	h.subscribers[sub] = struct{}{}
	h.mu.Unlock()
	h.reportActiveSubscribers()

	go h.readDiscard(sub)
	go h.writePump(sub)
}

func (h *Hub) readDiscard(sub *subscriber) {
	defer h.remove(sub)
	for {
		if _, _, err := sub.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(sub *subscriber) {
	for msg := range sub.outbox {
		sub.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := sub.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			h.remove(sub)
			return
		}
	}
}

// remove closes and drops a subscriber, tolerating being called more
// than once (e.g. from both a failed write and a failed read).
func (h *Hub) remove(sub *subscriber) {
	h.mu.Lock()
	_, ok := h.subscribers[sub]
	if ok {
		delete(h.subscribers, sub)
	}
	h.mu.Unlock()
	if ok {
		close(sub.outbox)
		sub.conn.Close()
		h.reportActiveSubscribers()
	}
}

// Broadcast pushes payload onto every subscriber's outbox without
// blocking. A subscriber whose outbox is already full is evicted —
// its backlog is discarded rather than grown further. The sends run
// while h.mu is held, but each is a non-blocking select, so one full
// outbox never delays delivery to the rest; closing evicted outboxes
// and connections happens after h.mu is released.
func (h *Hub) Broadcast(payload []byte) {
	h.mu.Lock()
	toEvict := make([]*subscriber, 0)
	for sub := range h.subscribers {
		select {
		case sub.outbox <- payload:
		default:
			toEvict = append(toEvict, sub)
			delete(h.subscribers, sub)
		}
	}
	h.mu.Unlock()

	if len(toEvict) > 0 {
		h.evictions.Add(uint64(len(toEvict)))
		if h.metrics != nil {
			for range toEvict {
				h.metrics.IncBroadcastEvictions()
			}
		}
	}
	for _, sub := range toEvict {
		close(sub.outbox)
		sub.conn.Close()
	}
	if len(toEvict) > 0 {
		h.reportActiveSubscribers()
	}
}

// BroadcastMetrics formats and broadcasts a periodic metrics payload.
func (h *Hub) BroadcastMetrics(book domain.BookSnapshot, trade domain.TradeFlowMetrics) {
	payload, err := FormatMetrics(book, trade)
	if err != nil {
		h.logger.Error("metrics payload encode failed", slog.Any("error", err))
		return
	}
	h.Broadcast(payload)
}

// BroadcastAlert formats and broadcasts a large-trade alert payload.
func (h *Hub) BroadcastAlert(alert domain.TradeAlert) {
	payload, err := FormatAlert(alert)
	if err != nil {
		h.logger.Error("alert payload encode failed", slog.Any("error", err))
		return
	}
	h.Broadcast(payload)
}

// BroadcastStatus formats and broadcasts a connection status payload.
func (h *Hub) BroadcastStatus(connected bool) {
	payload, err := FormatStatus(connected)
	if err != nil {
		h.logger.Error("status payload encode failed", slog.Any("error", err))
		return
	}
	h.Broadcast(payload)
}

// Evictions reports the total number of subscribers dropped for
// falling behind, for metrics reporting.
func (h *Hub) Evictions() uint64 {
	return h.evictions.Load()
}

// SubscriberCount reports the number of currently live subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

// Serve starts an HTTP server exposing /stream for subscriber
// upgrades, and blocks until ctx is canceled.
func (h *Hub) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/stream", h.HandleUpgrade)
	server := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
		h.Stop()
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// Stop closes every live subscriber connection.
func (h *Hub) Stop() {
	h.mu.Lock()
	subs := make([]*subscriber, 0, len(h.subscribers))
	for sub := range h.subscribers {
		subs = append(subs, sub)
	}
	h.subscribers = make(map[*subscriber]struct{})
	h.mu.Unlock()

	for _, sub := range subs {
		close(sub.outbox)
		sub.conn.Close()
	}
}
