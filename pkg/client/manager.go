// Package client maintains the browser-side chat channel: one WebSocket at a
// time, bounded linear reconnection, an offline fallback reply and ordered
// fan-out of inbound envelopes.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/HealthMateDemo/HealthMateV1/pkg/bus"
	"github.com/HealthMateDemo/HealthMateV1/pkg/config"
	"github.com/HealthMateDemo/HealthMateV1/pkg/logger"
)

var ErrClosed = errors.New("connection manager closed")

const (
	ExhaustedMessage      = "Unable to establish connection after multiple attempts"
	TransportErrorMessage = "Connection error occurred"
	fallbackFormat        = `I received your message: "%s". This is a simulated response while WebSocket is not connected.`
)

// Dialer opens a WebSocket. *websocket.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

type Options struct {
	URL                  string
	MaxReconnectAttempts int
	ReconnectDelay       time.Duration
	FallbackDelay        time.Duration
	HandshakeTimeout     time.Duration
	Header               http.Header
	Dialer               Dialer
}

func OptionsFromConfig(c config.ClientConfig) Options {
	return Options{
		URL:                  c.URL,
		MaxReconnectAttempts: c.MaxReconnectAttempts,
		ReconnectDelay:       c.ReconnectDelay(),
		FallbackDelay:        c.FallbackDelay(),
		HandshakeTimeout:     c.HandshakeTimeout(),
	}
}

type connState int

const (
	stateIdle connState = iota
	stateConnecting
	stateOpen
)

// afterFunc schedules f and returns its stop function.
type afterFunc func(d time.Duration, f func()) func() bool

func timeAfterFunc(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}

type Manager struct {
	opts      Options
	dialer    Dialer
	afterFunc afterFunc
	now       func() time.Time
	subs      *bus.Registry

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	state     connState
	conn      *websocket.Conn
	gen       uint64
	attempts  int
	exhausted bool
	retryStop func() bool
	nextTimer uint64
	pending   map[uint64]func() bool
	closed    bool

	writeMu   sync.Mutex
	deliverMu sync.Mutex
}

func New(opts Options) *Manager {
	if opts.MaxReconnectAttempts <= 0 {
		opts.MaxReconnectAttempts = 5
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = time.Second
	}
	if opts.FallbackDelay < 0 {
		opts.FallbackDelay = 0
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: opts.HandshakeTimeout,
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		opts:      opts,
		dialer:    dialer,
		afterFunc: timeAfterFunc,
		now:       time.Now,
		subs:      bus.NewRegistry(),
		ctx:       ctx,
		cancel:    cancel,
		pending:   make(map[uint64]func() bool),
	}
}

// Connect opens the channel unless one is open or opening. It returns
// immediately; the outcome is reported to subscribers. A manual Connect after
// the retry budget ran out starts a fresh budget.
func (m *Manager) Connect() {
	m.connect(true)
}

func (m *Manager) connect(manual bool) {
	m.mu.Lock()
	if m.closed || m.state != stateIdle {
		m.mu.Unlock()
		return
	}
	if manual {
		m.stopRetryLocked()
		if m.exhausted {
			m.exhausted = false
			m.attempts = 0
		}
	}
	m.state = stateConnecting
	m.gen++
	gen := m.gen
	m.mu.Unlock()

	go m.dial(gen)
}

func (m *Manager) dial(gen uint64) {
	ctx := m.ctx
	if m.opts.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.opts.HandshakeTimeout)
		defer cancel()
	}

	conn, _, err := m.dialer.DialContext(ctx, m.opts.URL, m.opts.Header)

	m.mu.Lock()
	if m.closed || gen != m.gen {
		m.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	if err != nil {
		m.state = stateIdle
		exhausted := m.scheduleReconnectLocked(gen)
		m.mu.Unlock()

		logger.WarnCF("client", "Dial failed", map[string]interface{}{
			"url":   m.opts.URL,
			"error": err.Error(),
		})
		if exhausted {
			m.deliver(bus.NewError(ExhaustedMessage, "", m.now()))
		}
		return
	}

	m.conn = conn
	m.state = stateOpen
	m.attempts = 0
	m.mu.Unlock()

	logger.InfoCF("client", "Connected", map[string]interface{}{"url": m.opts.URL})
	m.deliver(bus.Envelope{Kind: bus.KindConnected, Timestamp: m.now()})
	go m.readLoop(gen, conn)
}

// scheduleReconnectLocked arms the next retry, waiting attempt × base delay.
// It reports true once the budget is spent.
func (m *Manager) scheduleReconnectLocked(gen uint64) bool {
	if m.attempts >= m.opts.MaxReconnectAttempts {
		m.exhausted = true
		logger.ErrorCF("client", "Max reconnection attempts reached", map[string]interface{}{
			"attempts": m.attempts,
		})
		return true
	}
	m.attempts++
	delay := m.opts.ReconnectDelay * time.Duration(m.attempts)
	logger.InfoCF("client", "Scheduling reconnect", map[string]interface{}{
		"attempt": m.attempts,
		"max":     m.opts.MaxReconnectAttempts,
		"delay":   delay.String(),
	})
	m.retryStop = m.afterFunc(delay, func() {
		m.mu.Lock()
		stale := m.closed || gen != m.gen
		m.retryStop = nil
		m.mu.Unlock()
		if !stale {
			m.connect(false)
		}
	})
	return false
}

func (m *Manager) stopRetryLocked() {
	if m.retryStop != nil {
		m.retryStop()
		m.retryStop = nil
	}
}

func (m *Manager) readLoop(gen uint64, conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			m.handleReadError(gen, conn, err)
			return
		}
		env, err := bus.Decode(data)
		if err != nil {
			logger.WarnCF("client", "Error parsing inbound envelope", map[string]interface{}{
				"error": err.Error(),
			})
			continue
		}
		m.deliver(env)
	}
}

func (m *Manager) handleReadError(gen uint64, conn *websocket.Conn, err error) {
	m.mu.Lock()
	if gen != m.gen || m.conn != conn {
		// Disconnect already tore this channel down.
		m.mu.Unlock()
		return
	}
	m.conn = nil
	m.state = stateIdle
	exhausted := m.scheduleReconnectLocked(gen)
	m.mu.Unlock()

	_ = conn.Close()

	if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		logger.ErrorCF("client", "Connection error occurred", map[string]interface{}{
			"error": err.Error(),
		})
		m.deliver(bus.NewError(TransportErrorMessage, "", m.now()))
	} else {
		logger.InfoC("client", "Disconnected")
	}
	if exhausted {
		m.deliver(bus.NewError(ExhaustedMessage, "", m.now()))
	}
}

// Send stamps env and writes it when the channel is open. Otherwise a
// message envelope is answered locally, after the fallback delay, by a
// simulated ai reply echoing its text. Nothing is queued.
func (m *Manager) Send(env bus.Envelope) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	conn := m.conn
	open := m.state == stateOpen && conn != nil
	m.mu.Unlock()

	if !open {
		if env.Kind != bus.KindMessage {
			logger.DebugCF("client", "Dropping envelope while disconnected", map[string]interface{}{
				"type": string(env.Kind),
			})
			return nil
		}
		logger.WarnC("client", "WebSocket not connected, message not sent")
		m.scheduleFallback(env)
		return nil
	}

	data, err := bus.Encode(env.WithTimestamp(m.now()))
	if err != nil {
		return err
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("send envelope: %w", err)
	}
	return nil
}

func (m *Manager) scheduleFallback(env bus.Envelope) {
	content := fmt.Sprintf(fallbackFormat, env.Content)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextTimer++
	id := m.nextTimer
	m.pending[id] = m.afterFunc(m.opts.FallbackDelay, func() {
		m.mu.Lock()
		_, live := m.pending[id]
		delete(m.pending, id)
		closed := m.closed
		m.mu.Unlock()
		if !live || closed {
			return
		}
		m.deliver(bus.NewMessage(bus.SenderAI, content, env.ConversationID, env.Template, m.now()))
	})
}

// OnMessage subscribes h to every inbound and locally synthesized envelope.
// The returned function removes exactly this subscription.
func (m *Manager) OnMessage(h bus.Handler) func() {
	return m.subs.Subscribe(h)
}

func (m *Manager) deliver(env bus.Envelope) {
	m.deliverMu.Lock()
	defer m.deliverMu.Unlock()
	m.subs.Publish(env)
}

// Disconnect closes the channel if there is one and cancels any pending
// reconnect. It is safe to call at any time.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.gen++
	m.stopRetryLocked()
	conn := m.conn
	m.conn = nil
	m.state = stateIdle
	m.attempts = 0
	m.exhausted = false
	m.mu.Unlock()

	if conn == nil {
		return
	}
	m.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	m.writeMu.Unlock()
	_ = conn.Close()
	logger.InfoC("client", "Disconnected by caller")
}

// Close disconnects, cancels pending fallback replies and drops every
// subscriber. The Manager cannot be reused.
func (m *Manager) Close() {
	m.Disconnect()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	for id, stop := range m.pending {
		stop()
		delete(m.pending, id)
	}
	m.mu.Unlock()

	m.cancel()
	m.subs.Clear()
}

func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == stateOpen
}
