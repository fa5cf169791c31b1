package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/HealthMateDemo/HealthMateV1/pkg/bus"
	"github.com/HealthMateDemo/HealthMateV1/pkg/client"
	"github.com/HealthMateDemo/HealthMateV1/pkg/config"
	"github.com/HealthMateDemo/HealthMateV1/pkg/reply"
	"github.com/HealthMateDemo/HealthMateV1/pkg/session"
	"github.com/HealthMateDemo/HealthMateV1/pkg/usage"
)

func testConfig() config.ServerConfig {
	cfg := config.DefaultConfig().Server
	cfg.TypingDelayMS = 5
	cfg.ReplyDelayMS = 5
	return cfg
}

func firstPhrasing() reply.Producer {
	return reply.NewCannedWithPicker(func(int) int { return 0 })
}

func startTestServer(t *testing.T, cfg config.ServerConfig, deps Deps) (*Server, string) {
	t.Helper()
	srv := NewServer(cfg, deps)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		_ = srv.Stop(context.Background())
		ts.Close()
	})
	return srv, "ws" + strings.TrimPrefix(ts.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) bus.Envelope {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	env, err := bus.Decode(data)
	if err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return env
}

func writeEnvelope(t *testing.T, conn *websocket.Conn, env bus.Envelope) {
	t.Helper()
	data, err := bus.Encode(env)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func expectGreeting(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	env := readEnvelope(t, conn)
	if env.Kind != bus.KindConnected || env.Content != "Connected to ZenHealth AI Chat Server" {
		t.Fatalf("greeting = %+v", env)
	}
	if env.Timestamp.IsZero() {
		t.Fatal("greeting has no timestamp")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestTwoPhaseReply(t *testing.T) {
	_, url := startTestServer(t, testConfig(), Deps{Producer: firstPhrasing()})
	conn := dial(t, url)
	expectGreeting(t, conn)

	writeEnvelope(t, conn, bus.NewMessage(bus.SenderUser, "I can't sleep", "c1", bus.TemplateHealth, time.Now()))

	typing := readEnvelope(t, conn)
	if typing.Kind != bus.KindTyping || typing.ConversationID != "c1" {
		t.Fatalf("first envelope = %+v, want typing for c1", typing)
	}
	if typing.Sender != "" || typing.Content != "" {
		t.Fatalf("typing envelope carries payload: %+v", typing)
	}

	msg := readEnvelope(t, conn)
	if msg.Kind != bus.KindMessage || msg.Sender != bus.SenderAI {
		t.Fatalf("second envelope = %+v, want ai message", msg)
	}
	if msg.ConversationID != "c1" || msg.Template != bus.TemplateHealth {
		t.Fatalf("correlation not echoed: %+v", msg)
	}
	if !strings.Contains(msg.Content, reply.SleepAdvice) {
		t.Fatalf("reply lacks sleep advice: %q", msg.Content)
	}
	if !strings.Contains(msg.Content, "I can't sleep") {
		t.Fatalf("reply does not quote the user: %q", msg.Content)
	}
}

func TestTriggerReplyOverWire(t *testing.T) {
	_, url := startTestServer(t, testConfig(), Deps{Producer: firstPhrasing()})
	conn := dial(t, url)
	expectGreeting(t, conn)

	writeEnvelope(t, conn, bus.NewMessage(bus.SenderUser, "Can you MAKE A LIST for me?", "c2", bus.TemplateMindfull, time.Now()))
	readEnvelope(t, conn)
	msg := readEnvelope(t, conn)

	want, _ := reply.CommandReply("make a list", bus.TemplateMindfull)
	if msg.Content != want {
		t.Fatalf("trigger reply = %q", msg.Content)
	}
}

func TestMalformedFrameKeepsSessionOpen(t *testing.T) {
	srv, url := startTestServer(t, testConfig(), Deps{Producer: firstPhrasing()})
	conn := dial(t, url)
	expectGreeting(t, conn)

	if err := conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	env := readEnvelope(t, conn)
	if env.Kind != bus.KindError || env.Content != ProcessingErrorMessage {
		t.Fatalf("malformed frame answer = %+v", env)
	}
	if env.Sender != "" {
		t.Fatalf("error envelope has a sender: %+v", env)
	}

	writeEnvelope(t, conn, bus.NewMessage(bus.SenderUser, "hello", "c3", bus.TemplateGlobal, time.Now()))
	if env := readEnvelope(t, conn); env.Kind != bus.KindTyping {
		t.Fatalf("session stopped answering after malformed frame: %+v", env)
	}
	readEnvelope(t, conn)
	if srv.SessionCount() != 1 {
		t.Fatalf("sessions = %d, want 1", srv.SessionCount())
	}
}

func TestNonObjectFramesAnsweredWithError(t *testing.T) {
	_, url := startTestServer(t, testConfig(), Deps{Producer: firstPhrasing()})
	conn := dial(t, url)
	expectGreeting(t, conn)

	for _, frame := range []string{"null", `"hello"`, "7"} {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
			t.Fatalf("write: %v", err)
		}
		env := readEnvelope(t, conn)
		if env.Kind != bus.KindError || env.Content != ProcessingErrorMessage {
			t.Fatalf("answer to %s = %+v", frame, env)
		}
	}
}

func TestUnknownKindIgnored(t *testing.T) {
	var calls atomic.Int32
	producer := reply.Func(func(ctx context.Context, text string, tmpl bus.Template) (string, error) {
		calls.Add(1)
		return "ok", nil
	})
	_, url := startTestServer(t, testConfig(), Deps{Producer: producer})
	conn := dial(t, url)
	expectGreeting(t, conn)

	for _, frame := range []string{`{"type":"presence","content":"x"}`, `{"type":"typing"}`, `{}`} {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	writeEnvelope(t, conn, bus.NewMessage(bus.SenderUser, "ping", "c4", "", time.Now()))

	if env := readEnvelope(t, conn); env.Kind != bus.KindTyping || env.ConversationID != "c4" {
		t.Fatalf("expected typing for c4 first, got %+v", env)
	}
	if env := readEnvelope(t, conn); env.Content != "ok" {
		t.Fatalf("reply = %+v", env)
	}
	if n := calls.Load(); n != 1 {
		t.Fatalf("producer called %d times, want 1", n)
	}
}

func TestSessionIsolation(t *testing.T) {
	srv, url := startTestServer(t, testConfig(), Deps{Producer: firstPhrasing()})
	a := dial(t, url)
	b := dial(t, url)
	expectGreeting(t, a)
	expectGreeting(t, b)
	waitFor(t, func() bool { return srv.SessionCount() == 2 })

	writeEnvelope(t, a, bus.NewMessage(bus.SenderUser, "stress", "conv-a", bus.TemplateMindfull, time.Now()))
	writeEnvelope(t, b, bus.NewMessage(bus.SenderUser, "diet", "conv-b", bus.TemplateHealth, time.Now()))

	for _, tc := range []struct {
		conn *websocket.Conn
		conv string
	}{{a, "conv-a"}, {b, "conv-b"}} {
		for i := 0; i < 2; i++ {
			env := readEnvelope(t, tc.conn)
			if env.ConversationID != tc.conv {
				t.Fatalf("session for %s received %+v", tc.conv, env)
			}
		}
	}
}

func TestCancelOnClose(t *testing.T) {
	var calls atomic.Int32
	producer := reply.Func(func(ctx context.Context, text string, tmpl bus.Template) (string, error) {
		calls.Add(1)
		return "late", nil
	})
	cfg := testConfig()
	cfg.TypingDelayMS = 150
	cfg.CancelOnClose = true
	srv, url := startTestServer(t, cfg, Deps{Producer: producer})

	conn := dial(t, url)
	expectGreeting(t, conn)
	writeEnvelope(t, conn, bus.NewMessage(bus.SenderUser, "hi", "c5", "", time.Now()))
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	_ = conn.Close()

	waitFor(t, func() bool { return srv.SessionCount() == 0 })
	time.Sleep(300 * time.Millisecond)
	if n := calls.Load(); n != 0 {
		t.Fatalf("producer ran %d times after the session closed", n)
	}
}

func TestSessionRefusesTimersAfterShutdown(t *testing.T) {
	sess := newSession(session.Info{ID: "s1"}, nil, 0, func(d time.Duration, f func()) func() bool {
		return time.AfterFunc(d, f).Stop
	})
	if !sess.schedule(time.Hour, func() {}) {
		t.Fatal("open session should accept timers")
	}
	if sess.pendingTimers() != 1 {
		t.Fatalf("pending = %d", sess.pendingTimers())
	}

	sess.shutdown(true)
	if sess.pendingTimers() != 0 {
		t.Fatalf("pending after cancel = %d", sess.pendingTimers())
	}
	if sess.ctx.Err() == nil {
		t.Fatal("generation context should be cancelled")
	}
	if sess.schedule(time.Millisecond, func() {}) {
		t.Fatal("closed session accepted a timer")
	}
}

func TestProducerFailureAnswersWithError(t *testing.T) {
	producer := reply.Func(func(ctx context.Context, text string, tmpl bus.Template) (string, error) {
		return "", errors.New("upstream down")
	})
	store := usage.NewStore("")
	_, url := startTestServer(t, testConfig(), Deps{Producer: producer, Usage: store})
	conn := dial(t, url)
	expectGreeting(t, conn)

	writeEnvelope(t, conn, bus.NewMessage(bus.SenderUser, "hi", "c6", "", time.Now()))
	readEnvelope(t, conn)
	env := readEnvelope(t, conn)
	if env.Kind != bus.KindError || env.Content != ReplyFailedMessage || env.ConversationID != "c6" {
		t.Fatalf("failure envelope = %+v", env)
	}

	waitFor(t, func() bool { return store.Summary().AllTime.Failures == 1 })
}

func TestProducerPanicRecovered(t *testing.T) {
	producer := reply.Func(func(ctx context.Context, text string, tmpl bus.Template) (string, error) {
		panic("boom")
	})
	srv, url := startTestServer(t, testConfig(), Deps{Producer: producer})
	conn := dial(t, url)
	expectGreeting(t, conn)

	writeEnvelope(t, conn, bus.NewMessage(bus.SenderUser, "hi", "c7", "", time.Now()))
	readEnvelope(t, conn)
	env := readEnvelope(t, conn)
	if env.Kind != bus.KindError || env.Content != ProcessingErrorMessage || env.ConversationID != "c7" {
		t.Fatalf("panic envelope = %+v", env)
	}
	if srv.SessionCount() != 1 {
		t.Fatal("session dropped after a recovered panic")
	}
}

func TestHealthAndStatsEndpoints(t *testing.T) {
	store := usage.NewStore("")
	srv := NewServer(testConfig(), Deps{Producer: firstPhrasing(), Usage: store})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()
	defer srv.Stop(context.Background())

	conn := dial(t, "ws"+strings.TrimPrefix(ts.URL, "http"))
	expectGreeting(t, conn)
	writeEnvelope(t, conn, bus.NewMessage(bus.SenderUser, "exercise", "c8", bus.TemplateHealth, time.Now()))
	readEnvelope(t, conn)
	readEnvelope(t, conn)

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	var health struct {
		Status   string `json:"status"`
		Sessions int    `json:"sessions"`
	}
	err = json.NewDecoder(resp.Body).Decode(&health)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if health.Status != "ok" || health.Sessions != 1 {
		t.Fatalf("health = %+v", health)
	}

	waitFor(t, func() bool { return store.Summary().AllTime.Replies == 1 })
	resp, err = http.Get(ts.URL + "/stats")
	if err != nil {
		t.Fatalf("GET /stats: %v", err)
	}
	var sum usage.Summary
	err = json.NewDecoder(resp.Body).Decode(&sum)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if sum.AllTime.Replies != 1 || sum.ByTemplate["health"].Replies != 1 {
		t.Fatalf("stats = %+v", sum)
	}
	if sum.ByProducer["canned"].Replies != 1 {
		t.Fatalf("producer breakdown = %+v", sum.ByProducer)
	}
}

func TestOriginAllowlist(t *testing.T) {
	cfg := testConfig()
	cfg.AllowedOrigins = config.FlexibleStringSlice{"http://localhost:5173"}
	_, url := startTestServer(t, cfg, Deps{})

	h := http.Header{}
	h.Set("Origin", "http://evil.example")
	_, resp, err := websocket.DefaultDialer.Dial(url, h)
	if err == nil {
		t.Fatal("disallowed origin was upgraded")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("response = %+v, want 403", resp)
	}

	h.Set("Origin", "http://localhost:5173")
	conn, _, err := websocket.DefaultDialer.Dial(url, h)
	if err != nil {
		t.Fatalf("allowed origin: %v", err)
	}
	conn.Close()

	conn = dial(t, url)
	expectGreeting(t, conn)
}

func TestStartStop(t *testing.T) {
	cfg := testConfig()
	cfg.Host = "127.0.0.1"
	cfg.Port = 0
	srv := NewServer(cfg, Deps{})
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	conn := dial(t, "ws://"+srv.Addr()+"/")
	expectGreeting(t, conn)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Fatalf("read after Stop = %v, want going-away close", err)
	}
	if srv.SessionCount() != 0 {
		t.Fatalf("sessions after Stop = %d", srv.SessionCount())
	}
	if _, _, err := websocket.DefaultDialer.Dial("ws://"+srv.Addr()+"/", nil); err == nil {
		t.Fatal("listener still accepting after Stop")
	}
	if err := srv.Stop(ctx); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}

func TestUpgradeRefusedAfterStop(t *testing.T) {
	srv, url := startTestServer(t, testConfig(), Deps{})
	if err := srv.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("upgrade succeeded after Stop")
	}
	if resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("response after Stop = %v, want 503", resp)
	}
	if srv.SessionCount() != 0 {
		t.Fatalf("sessions after Stop = %d", srv.SessionCount())
	}
}

func TestRegistryFollowsSessionLifecycle(t *testing.T) {
	reg := session.NewMemoryRegistry()
	srv, url := startTestServer(t, testConfig(), Deps{Registry: reg})

	conn := dial(t, url)
	expectGreeting(t, conn)
	waitFor(t, func() bool { return srv.SessionCount() == 1 })

	var id string
	srv.mu.Lock()
	for k := range srv.sessions {
		id = k
	}
	srv.mu.Unlock()

	info, ok := reg.Get(id)
	if !ok {
		t.Fatalf("session %s missing from registry", id)
	}
	if info.State != session.Open || info.RemoteAddr == "" {
		t.Fatalf("registry entry = %+v", info)
	}

	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	waitFor(t, func() bool {
		_, ok := reg.Get(id)
		return !ok
	})
}

func TestClientManagerRoundTrip(t *testing.T) {
	_, url := startTestServer(t, testConfig(), Deps{Producer: firstPhrasing()})

	m := client.New(client.Options{URL: url, ReconnectDelay: 20 * time.Millisecond})
	defer m.Close()

	got := make(chan bus.Envelope, 16)
	m.OnMessage(func(e bus.Envelope) { got <- e })
	m.Connect()

	next := func() bus.Envelope {
		select {
		case e := <-got:
			return e
		case <-time.After(3 * time.Second):
			t.Fatal("timed out waiting for envelope")
			return bus.Envelope{}
		}
	}

	// Local connected signal, then the server greeting.
	for i := 0; i < 2; i++ {
		if e := next(); e.Kind != bus.KindConnected {
			t.Fatalf("envelope %d = %+v, want connected", i, e)
		}
	}

	if err := m.Send(bus.NewMessage(bus.SenderUser, "anxiety is high", "c9", bus.TemplateMindfull, time.Time{})); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if e := next(); e.Kind != bus.KindTyping || e.ConversationID != "c9" {
		t.Fatalf("typing = %+v", e)
	}
	e := next()
	if e.Sender != bus.SenderAI || e.ConversationID != "c9" || !strings.Contains(e.Content, reply.StressAdvice) {
		t.Fatalf("reply = %+v", e)
	}
}
