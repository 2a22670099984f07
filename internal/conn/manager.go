// Package conn owns the persistent socket to the chat server: dialing,
// per-user room membership, heartbeats, reconnect with backoff, and dispatch
// of inbound events to registered handlers.
package conn

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/status"
	"github.com/matheus3301/chatsync/internal/wire"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// ErrNotConnected is returned by SendEvent while no connection is open.
var ErrNotConnected = errors.New("not connected")

const readLimit = 1 << 20

// Config controls dialing and liveness.
type Config struct {
	URL                  string
	Token                string
	HeartbeatInterval    time.Duration
	ReconnectDelay       time.Duration
	ReconnectMaxDelay    time.Duration
	MaxReconnectAttempts int
	DialTimeout          time.Duration
}

func (c *Config) defaults() {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = time.Second
	}
	if c.ReconnectMaxDelay <= 0 {
		c.ReconnectMaxDelay = 30 * time.Second
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 10 * time.Second
	}
}

// Handler receives the raw data of an event.
type Handler func(data []byte)

type handlerEntry struct {
	id int
	fn Handler
}

// Manager is the connection manager. Handlers run on the read goroutine in
// delivery order and must not call Disconnect.
type Manager struct {
	cfg     Config
	machine *status.Machine
	logger  *zap.Logger

	mu          sync.Mutex
	conn        *websocket.Conn
	userID      string
	handlers    map[string][]handlerEntry
	nextID      int
	cancel      context.CancelFunc
	done        chan struct{}
	intentional bool
	connects    int

	subs  bus.Disposers
	recon *reconnector
}

// New creates a manager. machine may be shared with other components that
// watch connection status.
func New(cfg Config, machine *status.Machine, logger *zap.Logger) *Manager {
	cfg.defaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	if machine == nil {
		machine = status.NewMachine(nil)
	}
	return &Manager{
		cfg:      cfg,
		machine:  machine,
		logger:   logger,
		handlers: make(map[string][]handlerEntry),
		recon:    newReconnector(cfg.ReconnectDelay, cfg.ReconnectMaxDelay, cfg.MaxReconnectAttempts),
	}
}

// Connect starts the connection loop for userID and waits for the first
// attempt. A failed first attempt is returned but keeps being retried in the
// background until Disconnect. The loop outlives ctx's cancellation.
func (m *Manager) Connect(ctx context.Context, userID string) error {
	m.mu.Lock()
	if m.cancel != nil {
		current := m.userID
		m.mu.Unlock()
		if current == userID {
			return nil
		}
		return fmt.Errorf("already connected as %s", current)
	}
	m.userID = userID
	m.intentional = false
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	m.cancel = cancel
	m.done = make(chan struct{})
	done := m.done
	m.mu.Unlock()

	first := make(chan error, 1)
	go m.run(runCtx, done, first)

	select {
	case err := <-first:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Disconnect closes the connection, stops the heartbeat and the reconnect
// loop, and releases every handler registered through OnEvent.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	cancel, done, c := m.cancel, m.done, m.conn
	m.cancel = nil
	m.intentional = true
	m.mu.Unlock()

	if cancel != nil {
		if c != nil {
			_ = c.Close(websocket.StatusNormalClosure, "client disconnect")
		}
		cancel()
		<-done
		m.recon.reset()
		if err := m.machine.Transition(status.Disconnected); err != nil {
			m.logger.Warn("status transition", zap.Error(err))
		}
		m.emit(wire.EventDisconnect, wire.Meta{Reason: "client disconnect"})
	}
	m.subs.Dispose()
}

// SendEvent writes one event to the server.
func (m *Manager) SendEvent(ctx context.Context, name string, payload any) error {
	m.mu.Lock()
	c := m.conn
	m.mu.Unlock()
	if c == nil {
		return ErrNotConnected
	}
	frame, err := wire.Encode(name, payload)
	if err != nil {
		return err
	}
	if err := c.Write(ctx, websocket.MessageText, frame); err != nil {
		return fmt.Errorf("send %s: %w", name, err)
	}
	return nil
}

// OnEvent registers a handler for an inbound or meta event. The returned
// disposer removes it; Disconnect disposes all handlers at once.
func (m *Manager) OnEvent(name string, h Handler) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.handlers[name] = append(m.handlers[name], handlerEntry{id: id, fn: h})
	m.mu.Unlock()

	var once sync.Once
	dispose := func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			hs := slices.DeleteFunc(slices.Clone(m.handlers[name]), func(e handlerEntry) bool { return e.id == id })
			if len(hs) == 0 {
				delete(m.handlers, name)
			} else {
				m.handlers[name] = hs
			}
		})
	}
	m.subs.Add(dispose)
	return dispose
}

// Status returns "connected" or "disconnected".
func (m *Manager) Status() string {
	return m.machine.Current().Public()
}

// State returns the detailed connection state.
func (m *Manager) State() status.State {
	return m.machine.Current()
}

// UserID returns the user the manager connects as.
func (m *Manager) UserID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.userID
}

func (m *Manager) handlerCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, hs := range m.handlers {
		n += len(hs)
	}
	return n
}

func (m *Manager) run(ctx context.Context, done chan struct{}, first chan error) {
	defer close(done)
	notify := func(err error) {
		if first != nil {
			first <- err
			first = nil
		}
	}

	for {
		m.transition(status.Connecting)
		attempt := m.recon.attempt
		c, err := m.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				notify(ctx.Err())
				return
			}
			m.logger.Warn("connect failed", zap.Int("attempt", attempt), zap.Error(err))
			m.emit(wire.EventConnectError, wire.Meta{Error: err.Error(), Attempt: attempt})
			notify(fmt.Errorf("connect: %w", err))
		} else {
			notify(nil)
			m.serve(ctx, c, attempt)
			if ctx.Err() != nil {
				return
			}
		}

		if !m.recon.shouldReconnect() {
			m.logger.Error("giving up reconnecting", zap.Int("attempts", m.recon.attempt))
			m.transition(status.Disconnected)
			m.mu.Lock()
			if m.cancel != nil {
				m.cancel()
				m.cancel = nil
			}
			m.mu.Unlock()
			return
		}
		delay := m.recon.nextDelay(time.Now())
		m.transition(status.Reconnecting)
		m.logger.Info("reconnecting", zap.Duration("delay", delay), zap.Int("attempt", m.recon.attempt))
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
	}
}

func (m *Manager) dial(ctx context.Context) (*websocket.Conn, error) {
	u, err := url.Parse(m.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse socket url: %w", err)
	}
	q := u.Query()
	if m.cfg.Token != "" {
		q.Set("token", m.cfg.Token)
	}
	q.Set("userId", m.UserID())
	u.RawQuery = q.Encode()

	dctx, cancel := context.WithTimeout(ctx, m.cfg.DialTimeout)
	defer cancel()
	c, _, err := websocket.Dial(dctx, u.String(), nil)
	if err != nil {
		return nil, err
	}
	c.SetReadLimit(readLimit)
	return c, nil
}

// serve runs one connection until it drops or ctx is cancelled.
func (m *Manager) serve(ctx context.Context, c *websocket.Conn, attempt int) {
	m.mu.Lock()
	m.conn = c
	m.connects++
	reconnect := m.connects > 1
	userID := m.userID
	m.mu.Unlock()

	m.recon.markConnected(time.Now())
	m.transition(status.Connected)

	connCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup

	// Room membership does not survive a reconnect; join on every connection.
	if err := m.SendEvent(connCtx, wire.EventJoinUserRoom, wire.UserRef{UserID: userID}); err != nil {
		m.logger.Warn("join user room", zap.Error(err))
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		m.heartbeatLoop(connCtx, userID)
	}()

	m.logger.Info("connected", zap.String("user_id", userID), zap.Bool("reconnect", reconnect))
	m.emit(wire.EventConnect, wire.Meta{UserID: userID})
	if reconnect {
		m.emit(wire.EventReconnect, wire.Meta{UserID: userID, Attempt: attempt})
	}

	err := m.readLoop(connCtx, c)
	cancel()
	wg.Wait()

	m.mu.Lock()
	m.conn = nil
	intentional := m.intentional
	m.mu.Unlock()
	_ = c.Close(websocket.StatusNormalClosure, "")

	if !intentional {
		m.logger.Warn("connection lost", zap.Error(err))
		// Status must not read connected while disconnect handlers run.
		m.transition(status.Reconnecting)
		m.emit(wire.EventDisconnect, wire.Meta{Reason: errString(err)})
	}
}

func (m *Manager) readLoop(ctx context.Context, c *websocket.Conn) error {
	for {
		_, data, err := c.Read(ctx)
		if err != nil {
			return err
		}
		env, err := wire.Decode(data)
		if err != nil {
			m.logger.Debug("dropping malformed frame", zap.Error(err))
			continue
		}
		m.dispatch(env.Event, env.Data)
	}
}

func (m *Manager) heartbeatLoop(ctx context.Context, userID string) {
	ticker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.SendEvent(ctx, wire.EventHeartbeat, wire.UserRef{UserID: userID}); err != nil {
				m.logger.Debug("heartbeat", zap.Error(err))
			}
		}
	}
}

func (m *Manager) dispatch(event string, data []byte) {
	m.mu.Lock()
	hs := slices.Clone(m.handlers[event])
	m.mu.Unlock()
	for _, h := range hs {
		h.fn(data)
	}
}

func (m *Manager) emit(event string, meta wire.Meta) {
	data, err := json.Marshal(meta)
	if err != nil {
		return
	}
	m.dispatch(event, data)
}

func (m *Manager) transition(to status.State) {
	if m.machine.Current() == to {
		return
	}
	if err := m.machine.Transition(to); err != nil {
		m.logger.Debug("status transition", zap.Error(err))
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
