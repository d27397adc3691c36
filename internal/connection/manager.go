package connection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/sportzy/internal/dispatch"
	"github.com/rickgao/sportzy/internal/queue"
	"github.com/rickgao/sportzy/internal/subscription"
)

// Emitter receives decoded events and connection lifecycle events.
type Emitter interface {
	Emit(ev dispatch.Event) int
}

// Metrics receives connection measurements. Implementations must be safe for
// concurrent use.
type Metrics interface {
	StateChanged(state string)
	ReconnectScheduled(attempt int)
	FrameReceived(kind string)
	FrameDropped(reason string)
	QueueDepth(n int)
}

// Timer is a scheduled callback that can be cancelled.
type Timer interface {
	Stop() bool
}

// Clock schedules reconnect timers.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// Dialer opens a transport. The returned Client must already be connected.
type Dialer func(ctx context.Context, cfg ClientConfig, logger *slog.Logger) (Client, error)

// DialWebSocket is the default Dialer.
func DialWebSocket(ctx context.Context, cfg ClientConfig, logger *slog.Logger) (Client, error) {
	c := NewClient(cfg, logger)
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock replaces the clock used for reconnect timers.
func WithClock(clock Clock) Option {
	return func(m *Manager) { m.clock = clock }
}

// WithDialer replaces the transport dialer.
func WithDialer(dial Dialer) Option {
	return func(m *Manager) { m.dial = dial }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(metrics Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// Manager owns the realtime connection. It reconnects with exponential
// backoff after unexpected closes, replays subscriptions on every open and
// queues frames sent while offline.
//
// Lock order is sendMu before mu.
type Manager struct {
	cfg      ManagerConfig
	registry *subscription.Registry
	events   Emitter
	logger   *slog.Logger
	metrics  Metrics
	clock    Clock
	dial     Dialer

	// sendMu serializes writes so replay and flush happen before any new
	// frame.
	sendMu  sync.Mutex
	pending *queue.GrowableBuffer[[]byte]

	mu          sync.Mutex
	state       State
	attempts    int
	intentional bool
	gen         uint64
	client      Client
	timer       Timer
	cancelDial  context.CancelFunc
	waiters     []chan struct{}
}

// NewManager creates a Manager in the Disconnected state.
func NewManager(cfg ManagerConfig, registry *subscription.Registry, events Emitter, logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if registry == nil {
		registry = subscription.NewRegistry()
	}
	defaults := DefaultManagerConfig()
	if cfg.ReconnectBaseDelay <= 0 {
		cfg.ReconnectBaseDelay = defaults.ReconnectBaseDelay
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = defaults.MaxReconnectAttempts
	}

	m := &Manager{
		cfg:      cfg,
		registry: registry,
		events:   events,
		logger:   logger.With("component", "connection"),
		clock:    realClock{},
		dial:     DialWebSocket,
		pending:  queue.NewGrowableBuffer[[]byte](64),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Connect opens the connection. It returns once the transport is open and
// pending frames are flushed, or once reconnect attempts are exhausted.
// Transport failures are not returned; they surface as events and through
// State. Only ctx.Err() is returned, when ctx ends first.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.state == StateConnected {
		m.mu.Unlock()
		return nil
	}

	done := make(chan struct{})
	m.waiters = append(m.waiters, done)

	if m.state == StateDisconnected {
		m.attempts = 0
		m.intentional = false
		gen := m.transition(StateConnecting)
		m.mu.Unlock()
		go m.open(gen)
	} else {
		// Join the attempt already in flight.
		m.mu.Unlock()
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Disconnect closes the connection on purpose. No reconnect follows, and the
// subscription registry and outbound queue are cleared.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	prev := m.state
	m.intentional = true
	m.attempts = 0
	m.gen++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	if m.cancelDial != nil {
		m.cancelDial()
		m.cancelDial = nil
	}
	client := m.client
	m.client = nil
	m.setState(StateDisconnected)
	waiters := m.takeWaiters()
	m.mu.Unlock()

	m.registry.Clear()
	m.pending.Clear()
	m.recordQueueDepth()

	if client != nil {
		if err := client.Close(); err != nil {
			m.logger.Debug("close transport", "error", err)
		}
	}
	release(waiters)

	if prev != StateDisconnected {
		m.logger.Info("disconnected")
		m.emit(dispatch.Disconnected{Intentional: true})
	}
}

// Send writes v as JSON now when connected and queues it otherwise. A frame
// whose write fails is queued for the next open. Only encoding errors are
// returned.
func (m *Manager) Send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}

	m.sendMu.Lock()
	defer m.sendMu.Unlock()

	client := m.connectedClient()
	if client == nil {
		m.pending.Send(data)
		m.recordQueueDepth()
		return nil
	}
	if err := client.Send(data); err != nil {
		m.logger.Warn("send failed, queued for reconnect", "error", err)
		m.pending.Send(data)
		m.recordQueueDepth()
	}
	return nil
}

// Subscribe records interest in a match and tells the server when connected.
// Subscribe frames are never queued: the registry is replayed on every open.
// Subscribing to a match already registered sends nothing.
func (m *Manager) Subscribe(matchID int64) {
	if !m.registry.Add(matchID) {
		return
	}
	m.sendControl(SubscribeFrame(matchID))
}

// Unsubscribe drops interest in a match and tells the server when connected.
// Unsubscribing from a match that is not registered sends nothing.
func (m *Manager) Unsubscribe(matchID int64) {
	if !m.registry.Remove(matchID) {
		return
	}
	m.sendControl(UnsubscribeFrame(matchID))
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsConnected reports whether the transport is open.
func (m *Manager) IsConnected() bool {
	return m.State() == StateConnected
}

// Subscriptions returns the subscribed match ids in subscription order.
func (m *Manager) Subscriptions() []int64 {
	return m.registry.IDs()
}

// Stats returns current statistics.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	state, attempts := m.state, m.attempts
	m.mu.Unlock()

	return Stats{
		State:         state,
		Attempts:      attempts,
		Queued:        m.pending.Len(),
		Subscriptions: m.registry.Len(),
	}
}

// open dials a transport for generation gen.
func (m *Manager) open(gen uint64) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.cancelDial = cancel
	m.mu.Unlock()

	client, err := m.dial(ctx, m.cfg.Client, m.logger)

	m.mu.Lock()
	m.cancelDial = nil
	current := gen == m.gen
	if err == nil && current {
		m.client = client
	}
	m.mu.Unlock()

	if err != nil {
		m.logger.Warn("dial failed", "url", m.cfg.Client.URL, "error", err)
		m.handleClose(gen, err)
		return
	}
	if !current {
		client.Close()
		return
	}

	if !m.handleOpen(gen, client) {
		return
	}
	go m.pump(gen, client)
}

// handleOpen replays subscriptions and flushes queued frames. It reports
// false when gen went stale before the open could be applied.
func (m *Manager) handleOpen(gen uint64, client Client) bool {
	if !m.replayAndFlush(gen, client) {
		return false
	}

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return false
	}
	waiters := m.takeWaiters()
	m.mu.Unlock()

	release(waiters)

	sessionID := uuid.NewString()
	m.logger.Info("connected", "url", m.cfg.Client.URL, "session_id", sessionID)
	m.emit(dispatch.Connected{SessionID: sessionID})
	return true
}

func (m *Manager) replayAndFlush(gen uint64, client Client) bool {
	m.sendMu.Lock()
	defer m.sendMu.Unlock()

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return false
	}
	m.attempts = 0
	m.setState(StateConnected)
	m.mu.Unlock()

	for _, id := range m.registry.IDs() {
		if err := m.write(client, SubscribeFrame(id)); err != nil {
			m.logger.Warn("replay subscribe failed", "match_id", id, "error", err)
			return true
		}
	}

	flushed := 0
	for {
		data, ok := m.pending.Peek()
		if !ok {
			break
		}
		if err := client.Send(data); err != nil {
			m.logger.Warn("flush failed, frames stay queued", "queued", m.pending.Len(), "error", err)
			break
		}
		m.pending.TryReceive()
		flushed++
	}
	if flushed > 0 {
		m.logger.Debug("flushed queued frames", "count", flushed)
	}
	m.recordQueueDepth()
	return true
}

// pump decodes frames from one transport and emits them in arrival order.
func (m *Manager) pump(gen uint64, client Client) {
	for msg := range client.Messages() {
		if !m.isCurrent(gen) {
			continue
		}
		m.handleFrame(msg.Data)
	}
	m.handleClose(gen, client.Err())
}

func (m *Manager) handleFrame(data []byte) {
	ev, err := DecodeFrame(data)
	if err != nil {
		reason := "malformed"
		if errors.Is(err, ErrUnknownFrame) {
			reason = "unknown_type"
		}
		m.logger.Warn("dropping frame", "reason", reason, "error", err)
		if m.metrics != nil {
			m.metrics.FrameDropped(reason)
		}
		return
	}

	if m.metrics != nil {
		m.metrics.FrameReceived(string(ev.Topic().Kind))
	}
	if e, ok := ev.(dispatch.ErrorEvent); ok {
		m.logger.Warn("server error", "message", e.Message)
	}
	m.emit(ev)
}

// handleClose runs when the transport for gen ends or fails to open.
func (m *Manager) handleClose(gen uint64, err error) {
	if !m.isCurrent(gen) {
		return
	}
	if err != nil {
		m.emit(dispatch.ErrorEvent{Message: err.Error(), Err: err})
	}

	m.mu.Lock()
	if gen != m.gen || m.intentional {
		m.mu.Unlock()
		return
	}
	m.client = nil
	m.setState(StateDisconnected)

	if m.attempts >= m.cfg.MaxReconnectAttempts {
		attempts := m.attempts
		waiters := m.takeWaiters()
		m.mu.Unlock()

		m.logger.Error("max reconnect attempts reached", "attempts", attempts)
		m.emit(dispatch.Disconnected{Err: err})
		m.emit(dispatch.ReconnectExhausted{Attempts: attempts})
		release(waiters)
		return
	}

	m.attempts++
	attempt := m.attempts
	delay := m.cfg.ReconnectBaseDelay * time.Duration(1<<(attempt-1))
	m.setState(StateReconnecting)
	m.mu.Unlock()

	m.logger.Info("reconnecting",
		"attempt", attempt,
		"max_attempts", m.cfg.MaxReconnectAttempts,
		"delay", delay,
	)
	if m.metrics != nil {
		m.metrics.ReconnectScheduled(attempt)
	}
	m.emit(dispatch.Disconnected{Err: err})
	m.emit(dispatch.Reconnecting{Attempt: attempt, Delay: delay})

	// The timer is armed only after listeners have seen Reconnecting.
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen || m.state != StateReconnecting {
		return
	}
	m.timer = m.clock.AfterFunc(delay, func() { m.redial(gen) })
}

// redial fires from the reconnect timer scheduled by generation gen.
func (m *Manager) redial(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || m.state != StateReconnecting {
		m.mu.Unlock()
		return
	}
	m.timer = nil
	next := m.transition(StateConnecting)
	m.mu.Unlock()

	m.open(next)
}

func (m *Manager) sendControl(f Frame) {
	m.sendMu.Lock()
	defer m.sendMu.Unlock()

	client := m.connectedClient()
	if client == nil {
		return
	}
	if err := m.write(client, f); err != nil {
		m.logger.Warn("send control frame failed", "type", f.Type, "match_id", f.MatchID, "error", err)
	}
}

func (m *Manager) write(client Client, f Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	return client.Send(data)
}

func (m *Manager) connectedClient() Client {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateConnected {
		return nil
	}
	return m.client
}

func (m *Manager) isCurrent(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return gen == m.gen
}

// transition starts a new transport generation. Must hold mu.
func (m *Manager) transition(s State) uint64 {
	m.gen++
	m.setState(s)
	return m.gen
}

// setState must hold mu.
func (m *Manager) setState(s State) {
	if m.state == s {
		return
	}
	m.state = s
	if m.metrics != nil {
		m.metrics.StateChanged(s.String())
	}
}

// takeWaiters must hold mu.
func (m *Manager) takeWaiters() []chan struct{} {
	w := m.waiters
	m.waiters = nil
	return w
}

func release(waiters []chan struct{}) {
	for _, w := range waiters {
		close(w)
	}
}

func (m *Manager) recordQueueDepth() {
	if m.metrics != nil {
		m.metrics.QueueDepth(m.pending.Len())
	}
}

func (m *Manager) emit(ev dispatch.Event) {
	if m.events != nil {
		m.events.Emit(ev)
	}
}
