package gateway

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/HealthMateDemo/HealthMateV1/pkg/bus"
	"github.com/HealthMateDemo/HealthMateV1/pkg/session"
)

var ErrSessionClosed = errors.New("session closed")

// Session is one accepted channel. Writes are serialized; reply timers are
// tracked so closing the session can cancel them.
type Session struct {
	info session.Info
	conn *websocket.Conn
	life session.Lifecycle

	ctx    context.Context
	cancel context.CancelFunc

	writeMu      sync.Mutex
	writeTimeout time.Duration

	timersMu  sync.Mutex
	timers    map[uint64]func() bool
	nextTimer uint64
	done      bool
	afterFunc func(time.Duration, func()) func() bool
}

func newSession(info session.Info, conn *websocket.Conn, writeTimeout time.Duration, afterFunc func(time.Duration, func()) func() bool) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		info:         info,
		conn:         conn,
		ctx:          ctx,
		cancel:       cancel,
		writeTimeout: writeTimeout,
		timers:       make(map[uint64]func() bool),
		afterFunc:    afterFunc,
	}
}

func (s *Session) ID() string { return s.info.ID }

func (s *Session) State() session.State { return s.life.State() }

// send writes env as one text frame. It is a no-op returning
// ErrSessionClosed once the session is closed.
func (s *Session) send(env bus.Envelope) error {
	data, err := bus.Encode(env)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.life.State() == session.Closed {
		return ErrSessionClosed
	}
	if s.writeTimeout > 0 {
		_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	}
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// schedule runs f after d unless the session is closed first. It reports
// false when the session no longer accepts timers.
func (s *Session) schedule(d time.Duration, f func()) bool {
	s.timersMu.Lock()
	defer s.timersMu.Unlock()
	if s.done {
		return false
	}
	s.nextTimer++
	id := s.nextTimer
	s.timers[id] = s.afterFunc(d, func() {
		s.timersMu.Lock()
		_, live := s.timers[id]
		delete(s.timers, id)
		s.timersMu.Unlock()
		if live {
			f()
		}
	})
	return true
}

func (s *Session) pendingTimers() int {
	s.timersMu.Lock()
	defer s.timersMu.Unlock()
	return len(s.timers)
}

// shutdown stops accepting timers and, when cancelPending is set, stops the
// ones already armed and cancels in-flight generation.
func (s *Session) shutdown(cancelPending bool) {
	s.timersMu.Lock()
	s.done = true
	if cancelPending {
		for id, stop := range s.timers {
			stop()
			delete(s.timers, id)
		}
	}
	s.timersMu.Unlock()
	if cancelPending {
		s.cancel()
	}
}

// closeWith sends a close frame with code and drops the connection.
func (s *Session) closeWith(code int, reason string) {
	s.writeMu.Lock()
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(time.Second))
	s.writeMu.Unlock()
	_ = s.conn.Close()
}
