package feed

import (
	"sync"
	"sync/atomic"

	"feedengine/internal/domain"
)

// EventSink is the destination for EngineEvents produced by the
// network context — in production, a thin wrapper over the SPSC
// ring's TryPush that drops (and counts) on a full queue.
type EventSink interface {
	Push(ev *domain.EngineEvent)
}

// SnapshotRequester issues the out-of-band REST depth-snapshot
// request. Machine calls it whenever it needs a fresh snapshot;
// the result is delivered back asynchronously via Machine.OnSnapshot.
type SnapshotRequester interface {
	RequestSnapshot()
}

// Machine is the feed synchronization state machine (C5): pure
// transition logic over FeedState, decoupled from the actual
// websocket/REST transport so it can be driven by tests without a
// network. The network client (Client) owns one Machine and feeds it
// parsed messages and connection events.
type Machine struct {
	state atomic.Int32

	mu               sync.Mutex
	buffer           []*domain.DepthUpdate
	snapshotInFlight bool

	backoff *Backoff
	sink    EventSink
	snap    SnapshotRequester
}

// NewMachine constructs a Machine in the Disconnected state. snap may
// be nil at construction time to break the Client/Machine
// initialization cycle — set it before Start via SetSnapshotRequester.
func NewMachine(backoff *Backoff, sink EventSink, snap SnapshotRequester) *Machine {
	return &Machine{backoff: backoff, sink: sink, snap: snap}
}

// SetSnapshotRequester wires the snapshot requester after
// construction. Used when the requester (the network Client) itself
// requires a reference to this Machine to be built.
func (m *Machine) SetSnapshotRequester(snap SnapshotRequester) {
	m.snap = snap
}

// State returns the machine's current FeedState.
func (m *Machine) State() domain.FeedState {
	return domain.FeedState(m.state.Load())
}

func (m *Machine) setState(s domain.FeedState) {
	m.state.Store(int32(s))
}

// Start transitions Disconnected → Connecting. The caller (Client)
// follows this with an actual dial attempt.
func (m *Machine) Start() {
	m.setState(domain.StateConnecting)
}

// OnConnected transitions Connecting → WaitingSnapshot: emits
// ConnectionRestored, clears the buffer, resets the backoff policy,
// and issues a snapshot request.
func (m *Machine) OnConnected() {
	m.setState(domain.StateWaitingSnapshot)
	m.sink.Push(domain.NewSimpleEvent(domain.EventConnectionRestored))
	m.mu.Lock()
	m.buffer = m.buffer[:0]
	m.mu.Unlock()
	m.backoff.Reset()
	m.RequestSnapshot()
}

// OnDisconnected transitions any state → Reconnecting: emits
// ConnectionLost. The caller is responsible for scheduling the actual
// reconnect attempt after m.Backoff().NextDelay().
func (m *Machine) OnDisconnected() {
	m.setState(domain.StateReconnecting)
	m.sink.Push(domain.NewSimpleEvent(domain.EventConnectionLost))
}

// OnReconnectTimerFired transitions Reconnecting → Connecting,
// provided Stop has not been called in the meantime.
func (m *Machine) OnReconnectTimerFired() bool {
	if m.State() == domain.StateDisconnected {
		return false
	}
	m.setState(domain.StateConnecting)
	return true
}

// Stop transitions any state → Disconnected and pushes Shutdown as the
// network context's final event, so the compute core observes
// termination in-band rather than racing its own context cancellation.
func (m *Machine) Stop() {
	m.setState(domain.StateDisconnected)
	m.sink.Push(domain.NewSimpleEvent(domain.EventShutdown))
}

// Backoff returns the machine's reconnect policy, so the network
// client can compute the next reconnect delay.
func (m *Machine) Backoff() *Backoff { return m.backoff }

// RequestSnapshot issues a REST snapshot request unless one is
// already in flight, in which case it is a no-op (idempotence per the
// spec).
func (m *Machine) RequestSnapshot() {
	m.mu.Lock()
	if m.snapshotInFlight {
		m.mu.Unlock()
		return
	}
	m.snapshotInFlight = true
	m.mu.Unlock()
	m.snap.RequestSnapshot()
}

// OnDepthUpdate routes an incoming depth diff according to the
// current state: buffered while WaitingSnapshot/Syncing, forwarded
// immediately while Live, dropped otherwise.
func (m *Machine) OnDepthUpdate(u *domain.DepthUpdate) {
	switch m.State() {
	case domain.StateWaitingSnapshot, domain.StateSyncing:
		m.mu.Lock()
		m.buffer = append(m.buffer, u)
		m.mu.Unlock()
	case domain.StateLive:
		m.sink.Push(domain.NewDepthUpdateEvent(u))
	default:
		// Connecting/Disconnected/Reconnecting: frames should not
		// normally arrive here, but if they do, drop them.
	}
}

// OnAggTrade forwards an incoming trade immediately, regardless of
// sync state, except while the link itself is down.
func (m *Machine) OnAggTrade(t *domain.AggTrade) {
	switch m.State() {
	case domain.StateDisconnected, domain.StateConnecting, domain.StateReconnecting:
		return
	default:
		m.sink.Push(domain.NewAggTradeEvent(t))
	}
}

// OnSequenceGapSignal is called by the compute core when it detects a
// per-update sequence gap against the order book: re-enter
// WaitingSnapshot, clear the buffer, and re-request a snapshot.
func (m *Machine) OnSequenceGapSignal() {
	m.setState(domain.StateWaitingSnapshot)
	m.mu.Lock()
	m.buffer = m.buffer[:0]
	m.mu.Unlock()
	m.RequestSnapshot()
}

// OnSnapshotFailed releases the in-flight flag after a failed REST
// fetch, so a subsequent RequestSnapshot (typically retried by the
// network client after a short delay) is not treated as a no-op.
func (m *Machine) OnSnapshotFailed() {
	m.mu.Lock()
	m.snapshotInFlight = false
	m.mu.Unlock()
}

// OnSnapshot delivers a REST snapshot that was requested via
// RequestSnapshot. It emits the Snapshot event, then walks the
// buffered diffs once to find the bridging update — the first
// buffered update not already covered by the snapshot. If the oldest
// surviving update starts strictly after snapshot.LastUpdateID+1,
// there is a gap between the snapshot and the stream and a fresh
// snapshot is requested instead of going live.
func (m *Machine) OnSnapshot(s *domain.DepthSnapshot) {
	m.mu.Lock()
	m.snapshotInFlight = false
	buffered := m.buffer
	m.buffer = nil
	m.mu.Unlock()

	m.setState(domain.StateSyncing)
	m.sink.Push(domain.NewSnapshotEvent(s))

	target := s.LastUpdateID + 1
	for i, u := range buffered {
		if u.FinalUpdateID <= s.LastUpdateID {
			continue // entirely in the past, drop
		}
		// u.FinalUpdateID > s.LastUpdateID, so target <= u.FinalUpdateID
		// holds automatically; the only way this isn't the bridge is a
		// gap between the snapshot and the oldest surviving update.
		if u.FirstUpdateID > target {
			m.setState(domain.StateWaitingSnapshot)
			m.RequestSnapshot()
			return
		}
		for _, bridged := range buffered[i:] {
			m.sink.Push(domain.NewDepthUpdateEvent(bridged))
		}
		m.setState(domain.StateLive)
		return
	}

	// Every buffered update was already covered by the snapshot (or
	// the buffer was empty): nothing to bridge, go live directly.
	m.setState(domain.StateLive)
}
