package feed

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"feedengine/internal/domain"
	"feedengine/internal/infra"
)

const (
	handshakeTimeout = 10 * time.Second
	readTimeout      = 60 * time.Second
	pingInterval     = 20 * time.Second
	restTimeout      = 5 * time.Second
	snapshotRetryGap = 500 * time.Millisecond
)

// Config holds the network context's connection parameters — the
// values recognized under the "network" and "engine.depth_limit" keys
// in the engine configuration (see infra.Config).
type Config struct {
	Symbol     string
	WSHost     string
	WSPort     int
	RESTHost   string
	RESTPort   int
	DepthLimit int
}

func (c Config) wsURL() string {
	return fmt.Sprintf("wss://%s:%d/stream?streams=%s@depth@100ms/%s@aggTrade", c.WSHost, c.WSPort, c.Symbol, c.Symbol)
}

func (c Config) restURL() string {
	return fmt.Sprintf("https://%s:%d/depth?symbol=%s&limit=%d", c.RESTHost, c.RESTPort, upper(c.Symbol), c.DepthLimit)
}

func upper(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			b[i] = c - 'a' + 'A'
		}
	}
	return string(b)
}

// Client is the network context: it drives the combined-stream
// websocket connection and the out-of-band REST snapshot fetch,
// feeding both into a Machine. It implements domain.FeedWorker.
type Client struct {
	cfg     Config
	machine *Machine
	logger  *slog.Logger

	httpClient *http.Client

	mu      sync.RWMutex
	conn    *websocket.Conn
	writeMu sync.Mutex

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewClient constructs a Client. machine must already be wired to an
// EventSink (typically one backed by the SPSC ring).
func NewClient(cfg Config, machine *Machine, logger *slog.Logger) *Client {
	return &Client{
		cfg:     cfg,
		machine: machine,
		logger:  logger,
		httpClient: &http.Client{
			Timeout: restTimeout,
			Transport: &http.Transport{
				MaxIdleConns:    4,
				IdleConnTimeout: 30 * time.Second,
			},
		},
	}
}

// Connect starts the network context's connection loop in the
// background and returns immediately; the loop owns its own
// reconnect/backoff cycle until ctx is canceled or Disconnect is
// called.
func (c *Client) Connect(ctx context.Context) error {
	ctx, c.cancel = context.WithCancel(ctx)
	c.machine.Start()
	c.wg.Add(1)
	go c.connectionLoop(ctx)
	return nil
}

// Disconnect tears down the connection and waits for the network loop
// to exit, then stops the machine — Stop pushes Shutdown as the
// network context's final act, once connectionLoop can no longer race
// it with a ConnectionLost/ConnectionRestored push of its own.
func (c *Client) Disconnect() {
	if c.cancel != nil {
		c.cancel()
	}
	c.closeConnection()
	c.wg.Wait()
	c.machine.Stop()
}

// IsConnected reports whether a websocket connection is currently
// held open.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil
}

func (c *Client) connectionLoop(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := c.dial(ctx); err != nil {
			c.logger.Warn("feed connect failed", slog.Any("error", err))
			if !c.waitAndReconnect(ctx) {
				return
			}
			continue
		}

		c.machine.OnConnected()
		go c.pingLoop(ctx)
		c.readLoop(ctx)
		c.closeConnection()

		select {
		case <-ctx.Done():
			return
		default:
		}

		if !c.waitAndReconnect(ctx) {
			return
		}
	}
}

// waitAndReconnect emits ConnectionLost, sleeps for the backoff-chosen
// delay, and fires the reconnect timer transition. Returns false if
// the context was canceled or Stop() made the timer fire a no-op.
func (c *Client) waitAndReconnect(ctx context.Context) bool {
	c.machine.OnDisconnected()
	delay := c.machine.Backoff().NextDelay()
	select {
	case <-ctx.Done():
		return false
	case <-time.After(delay):
	}
	return c.machine.OnReconnectTimerFired()
}

func (c *Client) dial(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, c.cfg.wsURL(), nil)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	return nil
}

func (c *Client) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) write(msgType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return fmt.Errorf("feed: no active connection")
	}
	return conn.WriteMessage(msgType, data)
}

func (c *Client) readLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()
		if conn == nil {
			return
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))

		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		c.handleFrame(msg)
	}
}

func (c *Client) handleFrame(raw []byte) {
	streamName, data, err := ParseEnvelope(raw)
	if err != nil {
		c.logger.Debug("dropping malformed frame", slog.Any("error", err))
		infra.GlobalMetrics.IncParseErrors()
		return
	}

	switch ClassifyStream(streamName) {
	case StreamDepth:
		u, err := ParseDepthUpdate(data)
		if err != nil {
			c.logger.Debug("dropping malformed depth update", slog.Any("error", err))
			infra.GlobalMetrics.IncParseErrors()
			return
		}
		c.machine.OnDepthUpdate(u)
	case StreamAggTrade:
		t, err := ParseAggTrade(data)
		if err != nil {
			c.logger.Debug("dropping malformed agg trade", slog.Any("error", err))
			infra.GlobalMetrics.IncParseErrors()
			return
		}
		c.machine.OnAggTrade(t)
	default:
		c.logger.Debug("unrecognized stream", slog.String("stream", streamName))
	}
}

func (c *Client) closeConnection() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

// RequestSnapshot implements SnapshotRequester: it fetches the REST
// depth snapshot out-of-band and delivers it back to the Machine. A
// failed fetch is retried after a short fixed delay — distinct from
// the websocket's exponential backoff, since this path does not
// indicate a dead link, only a single bad response.
func (c *Client) RequestSnapshot() {
	go c.fetchSnapshot()
}

func (c *Client) fetchSnapshot() {
	req, err := http.NewRequest(http.MethodGet, c.cfg.restURL(), nil)
	if err != nil {
		c.logger.Error("failed to build snapshot request", slog.Any("error", err))
		c.retrySnapshot()
		return
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("snapshot fetch failed", slog.Any("error", err))
		c.retrySnapshot()
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("snapshot fetch returned non-200", slog.Int("status", resp.StatusCode))
		c.retrySnapshot()
		return
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.logger.Warn("snapshot body read failed", slog.Any("error", err))
		c.retrySnapshot()
		return
	}

	snap, err := ParseDepthSnapshot(c.cfg.Symbol, body)
	if err != nil {
		c.logger.Warn("snapshot parse failed", slog.Any("error", err))
		c.retrySnapshot()
		return
	}

	c.machine.OnSnapshot(snap)
}

func (c *Client) retrySnapshot() {
	c.machine.OnSnapshotFailed()
	time.AfterFunc(snapshotRetryGap, c.machine.RequestSnapshot)
}

var _ domain.FeedWorker = (*Client)(nil)
