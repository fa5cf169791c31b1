// Package gateway is the server side of the chat channel. It accepts
// WebSocket connections, greets each session and answers every chat message
// with a typing indicator followed by a generated reply.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/HealthMateDemo/HealthMateV1/pkg/bus"
	"github.com/HealthMateDemo/HealthMateV1/pkg/config"
	"github.com/HealthMateDemo/HealthMateV1/pkg/logger"
	"github.com/HealthMateDemo/HealthMateV1/pkg/reply"
	"github.com/HealthMateDemo/HealthMateV1/pkg/session"
	"github.com/HealthMateDemo/HealthMateV1/pkg/usage"
)

const maxFrameSize = 64 << 10

// Deps are the collaborators the dispatcher calls out to. Registry and Usage
// are optional.
type Deps struct {
	Producer reply.Producer
	Registry session.Registry
	Usage    *usage.Store
}

type Server struct {
	cfg      config.ServerConfig
	producer reply.Producer
	registry session.Registry
	usage    *usage.Store
	origins  map[string]bool
	upgrader websocket.Upgrader

	afterFunc func(time.Duration, func()) func() bool
	now       func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
	server   *http.Server
	listener net.Listener
	stopped  bool
}

func NewServer(cfg config.ServerConfig, deps Deps) *Server {
	if deps.Producer == nil {
		deps.Producer = reply.NewCanned()
	}
	if deps.Registry == nil {
		deps.Registry = session.NewMemoryRegistry()
	}

	s := &Server{
		cfg:      cfg,
		producer: deps.Producer,
		registry: deps.Registry,
		usage:    deps.Usage,
		origins:  make(map[string]bool),
		afterFunc: func(d time.Duration, f func()) func() bool {
			return time.AfterFunc(d, f).Stop
		},
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
	for _, o := range cfg.AllowedOrigins {
		s.origins[o] = true
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// checkOrigin allows everything when no allowlist is configured, and always
// allows requests without an Origin header (non-browser clients).
func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.origins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return s.origins[origin]
}

// Handler serves the WebSocket endpoint plus /health and /stats.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /stats", s.handleStats)
	path := s.cfg.Path
	if path == "" {
		path = "/"
	}
	mux.HandleFunc(path, s.handleWebSocket)
	return mux
}

func (s *Server) Start(ctx context.Context) error {
	addr := s.cfg.ListenAddr()
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.mu.Lock()
	s.server = srv
	s.listener = ln
	s.stopped = false
	s.mu.Unlock()

	logger.InfoCF("gateway", "WebSocket server started", map[string]interface{}{
		"addr": ln.Addr().String(),
		"path": s.cfg.Path,
	})

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.ErrorCF("gateway", "WebSocket server error", map[string]interface{}{"error": err.Error()})
		}
	}()
	return nil
}

// Addr is the bound listen address, useful when the port was 0.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop closes the listener, then every open session. Hijacked WebSocket
// connections are not tracked by http.Server, so they are closed here.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	srv := s.server
	s.mu.Unlock()

	logger.InfoC("gateway", "Shutting down WebSocket server...")

	var err error
	if srv != nil {
		err = srv.Shutdown(ctx)
	}

	// Upgrades that were in flight during Shutdown are registered by now.
	s.mu.Lock()
	open := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		open = append(open, sess)
	}
	s.mu.Unlock()
	for _, sess := range open {
		s.closeSession(sess, websocket.CloseGoingAway)
	}

	logger.InfoCF("gateway", "WebSocket server closed", map[string]interface{}{
		"sessions_closed": len(open),
	})
	return err
}

func (s *Server) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]interface{}{
		"status":   "ok",
		"sessions": s.SessionCount(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	var sum usage.Summary
	if s.usage != nil {
		sum = s.usage.Summary()
	}
	writeJSON(w, sum)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.WarnCF("gateway", "Failed to write JSON response", map[string]interface{}{"error": err.Error()})
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	stopped := s.stopped
	s.mu.Unlock()
	if stopped {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WarnCF("gateway", "WebSocket upgrade failed", map[string]interface{}{
			"remote": r.RemoteAddr,
			"error":  err.Error(),
		})
		return
	}
	conn.SetReadLimit(maxFrameSize)

	info := session.Info{
		ID:          uuid.NewString(),
		RemoteAddr:  r.RemoteAddr,
		Origin:      r.Header.Get("Origin"),
		ConnectedAt: s.now(),
	}
	sess := newSession(info, conn, s.cfg.WriteTimeout(), s.afterFunc)
	_ = sess.life.Transition(session.Open)
	info.State = session.Open
	sess.info = info

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		s.closeSession(sess, websocket.CloseGoingAway)
		return
	}
	s.sessions[info.ID] = sess
	s.mu.Unlock()
	if err := s.registry.Add(sess.ctx, info); err != nil {
		logger.WarnCF("gateway", "Session registry add failed", map[string]interface{}{
			"session_id": info.ID,
			"error":      err.Error(),
		})
	}

	logger.InfoCF("gateway", "New client connected", map[string]interface{}{
		"session_id": info.ID,
		"remote":     info.RemoteAddr,
	})

	if err := sess.send(bus.NewConnected(s.cfg.Greeting, s.now())); err != nil {
		logger.WarnCF("gateway", "Failed to send greeting", map[string]interface{}{
			"session_id": info.ID,
			"error":      err.Error(),
		})
		s.closeSession(sess, 0)
		return
	}

	s.readLoop(sess)
}

func (s *Server) readLoop(sess *Session) {
	defer s.closeSession(sess, 0)

	for {
		_, data, err := sess.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				logger.InfoCF("gateway", "Client disconnected", map[string]interface{}{"session_id": sess.ID()})
			} else if sess.State() != session.Closed {
				if sess.life.Transition(session.Errored) == nil {
					_ = s.registry.SetState(context.Background(), sess.ID(), session.Errored)
				}
				logger.ErrorCF("gateway", "WebSocket error", map[string]interface{}{
					"session_id": sess.ID(),
					"error":      err.Error(),
				})
			}
			return
		}
		s.handleFrame(sess, data)
	}
}

// closeSession removes sess from the tracked set, sending a close frame
// first when code is non-zero. It runs at most once per session.
func (s *Server) closeSession(sess *Session, code int) {
	if !sess.life.Close() {
		return
	}
	sess.shutdown(s.cfg.CancelOnClose)
	if code != 0 {
		sess.closeWith(code, "server shutting down")
	} else {
		_ = sess.conn.Close()
	}

	s.mu.Lock()
	delete(s.sessions, sess.ID())
	s.mu.Unlock()

	if err := s.registry.Remove(context.Background(), sess.ID()); err != nil {
		logger.WarnCF("gateway", "Session registry remove failed", map[string]interface{}{
			"session_id": sess.ID(),
			"error":      err.Error(),
		})
	}
	logger.DebugCF("gateway", "Session closed", map[string]interface{}{
		"session_id": sess.ID(),
		"duration":   s.now().Sub(sess.info.ConnectedAt).String(),
	})
}
