package failover

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/HealthMateDemo/HealthMateV1/pkg/bus"
	"github.com/HealthMateDemo/HealthMateV1/pkg/providers"
)

type stubProducer struct {
	name  string
	err   error
	out   string
	calls int
}

func (s *stubProducer) Name() string { return s.name }

func (s *stubProducer) Generate(ctx context.Context, text string, tmpl bus.Template) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return s.out + ":" + text, nil
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }

func newTestManager(t *testing.T, primary, fallback *stubProducer) (*Manager, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	m := NewManager(primary, 5*time.Minute, fallback)
	m.SetClock(clock.Now)
	return m, clock
}

func TestPrimaryServesWhenHealthy(t *testing.T) {
	primary := &stubProducer{name: "openai:gpt", out: "llm"}
	fallback := &stubProducer{name: "canned", out: "canned"}
	m, _ := newTestManager(t, primary, fallback)

	got, err := m.Generate(context.Background(), "hi", bus.TemplateGlobal)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got != "llm:hi" {
		t.Fatalf("got %q", got)
	}
	if fallback.calls != 0 {
		t.Fatalf("fallback should not be called")
	}
	if !m.IsUsingPrimary() {
		t.Fatalf("expected primary route")
	}
}

func TestFailureSwitchesToFallbackAndHolds(t *testing.T) {
	primary := &stubProducer{name: "openai:gpt", err: errors.New("503")}
	fallback := &stubProducer{name: "canned", out: "canned"}
	m, clock := newTestManager(t, primary, fallback)

	got, err := m.Generate(context.Background(), "hi", bus.TemplateGlobal)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got != "canned:hi" {
		t.Fatalf("got %q", got)
	}
	snap := m.Snapshot()
	if snap.Mode != modeDegraded || snap.ActiveProducer != "canned" {
		t.Fatalf("unexpected state %+v", snap)
	}
	if !snap.HoldUntil.Equal(clock.t.Add(5 * time.Minute)) {
		t.Fatalf("hold until = %v", snap.HoldUntil)
	}

	clock.t = clock.t.Add(time.Minute)
	_, _ = m.Generate(context.Background(), "again", bus.TemplateGlobal)
	if primary.calls != 1 {
		t.Fatalf("primary must be skipped during hold, calls = %d", primary.calls)
	}
	if !strings.Contains(m.Name(), "canned") {
		t.Fatalf("name = %q", m.Name())
	}
}

func TestPrimaryRetriedAfterHold(t *testing.T) {
	primary := &stubProducer{name: "openai:gpt", err: errors.New("503")}
	fallback := &stubProducer{name: "canned", out: "canned"}
	m, clock := newTestManager(t, primary, fallback)

	_, _ = m.Generate(context.Background(), "hi", bus.TemplateGlobal)
	primary.err = nil
	primary.out = "llm"
	clock.t = clock.t.Add(6 * time.Minute)

	got, err := m.Generate(context.Background(), "back", bus.TemplateGlobal)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got != "llm:back" {
		t.Fatalf("got %q", got)
	}
	snap := m.Snapshot()
	if snap.Mode != modeNormal || snap.LastSwitchReason != "primary_recovered" {
		t.Fatalf("unexpected state %+v", snap)
	}
}

func TestRateLimitHintExtendsHold(t *testing.T) {
	primary := &stubProducer{name: "openai:gpt", err: &providers.RateLimitError{Provider: "openai", StatusCode: 429, RetryAfter: "3600"}}
	fallback := &stubProducer{name: "canned", out: "canned"}
	m, clock := newTestManager(t, primary, fallback)

	_, _ = m.Generate(context.Background(), "hi", bus.TemplateGlobal)
	snap := m.Snapshot()
	if snap.LastSwitchReason != "rate_limited" {
		t.Fatalf("reason = %q", snap.LastSwitchReason)
	}
	if !snap.HoldUntil.Equal(clock.t.Add(time.Hour)) {
		t.Fatalf("hold until = %v, want retry-after hint", snap.HoldUntil)
	}
}

func TestAllProducersFail(t *testing.T) {
	primary := &stubProducer{name: "a", err: errors.New("down")}
	fallback := &stubProducer{name: "b", err: errors.New("also down")}
	m, _ := newTestManager(t, primary, fallback)

	_, err := m.Generate(context.Background(), "hi", bus.TemplateGlobal)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "a: down") || !strings.Contains(err.Error(), "b: also down") {
		t.Fatalf("joined error missing parts: %v", err)
	}
	if m.Snapshot().LastSwitchReason != "fallback_exhausted" {
		t.Fatalf("reason = %q", m.Snapshot().LastSwitchReason)
	}
}

func TestCancelledContextStopsChain(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	primary := &stubProducer{name: "a", err: context.Canceled}
	fallback := &stubProducer{name: "b", out: "b"}
	m, _ := newTestManager(t, primary, fallback)

	if _, err := m.Generate(ctx, "hi", bus.TemplateGlobal); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if fallback.calls != 0 {
		t.Fatal("fallback should not run after cancellation")
	}
}

func TestNextProbeFromRateLimitHints(t *testing.T) {
	now := time.Unix(1735680000, 0)
	rl := &providers.RateLimitError{RetryAfter: "120", RateLimitRequestsReset: "1735689600"}
	got := nextProbeFromRateLimitHints(now, rl)
	if !got.Equal(time.Unix(1735689600, 0)) {
		t.Fatalf("expected latest hint, got %v", got)
	}
	if !nextProbeFromRateLimitHints(now, nil).IsZero() {
		t.Fatal("nil error should produce zero time")
	}
}
