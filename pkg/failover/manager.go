package failover

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/HealthMateDemo/HealthMateV1/pkg/bus"
	"github.com/HealthMateDemo/HealthMateV1/pkg/logger"
	"github.com/HealthMateDemo/HealthMateV1/pkg/providers"
	"github.com/HealthMateDemo/HealthMateV1/pkg/reply"
)

const (
	modeNormal   = "normal"
	modeDegraded = "degraded"
)

// State is a snapshot of the chain's routing decision.
type State struct {
	Mode             string
	ActiveProducer   string
	ActiveIndex      int
	DegradedAt       time.Time
	HoldUntil        time.Time
	LastSwitchReason string
	LastError        string
	SwitchEpoch      int64
}

type SwitchEvent struct {
	From     string
	To       string
	Reason   string
	Switched bool
}

// Manager routes Generate calls to the primary producer and falls through the
// fallbacks when it fails. After a failure the failing producer is skipped
// until the hold window passes, then it is tried again.
type Manager struct {
	mu        sync.Mutex
	producers []reply.Producer
	hold      time.Duration
	now       func() time.Time
	st        State
}

func NewManager(primary reply.Producer, hold time.Duration, fallbacks ...reply.Producer) *Manager {
	chain := []reply.Producer{primary}
	for _, f := range fallbacks {
		if f != nil {
			chain = append(chain, f)
		}
	}
	if hold <= 0 {
		hold = time.Minute
	}
	return &Manager{
		producers: chain,
		hold:      hold,
		now:       time.Now,
		st: State{
			Mode:           modeNormal,
			ActiveProducer: primary.Name(),
		},
	}
}

// SetClock replaces the time source.
func (m *Manager) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *Manager) Name() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return "failover(" + m.st.ActiveProducer + ")"
}

func (m *Manager) Generate(ctx context.Context, text string, tmpl bus.Template) (string, error) {
	start := m.startIndex()

	var errs []error
	for i := start; i < len(m.producers); i++ {
		p := m.producers[i]
		out, err := p.Generate(ctx, text, tmpl)
		if err == nil {
			m.onSuccess(i)
			return out, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		evt := m.onFailure(i, err)
		if evt.Switched {
			logger.WarnCF("failover", "Reply producer switched", map[string]interface{}{
				"from":   evt.From,
				"to":     evt.To,
				"reason": evt.Reason,
				"error":  err.Error(),
			})
		}
	}
	return "", errors.Join(errs...)
}

// startIndex returns the active producer, or the primary once the hold
// window has elapsed.
func (m *Manager) startIndex() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.st.Mode == modeDegraded && !m.now().Before(m.st.HoldUntil) {
		return 0
	}
	return m.st.ActiveIndex
}

func (m *Manager) onSuccess(i int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if i == m.st.ActiveIndex {
		if i == 0 && m.st.Mode != modeNormal {
			m.st.Mode = modeNormal
		}
		return
	}
	if i == 0 {
		logger.InfoCF("failover", "Primary reply producer recovered", map[string]interface{}{
			"from": m.st.ActiveProducer,
		})
		m.st.Mode = modeNormal
		m.st.LastSwitchReason = "primary_recovered"
		m.st.LastError = ""
	}
	m.st.ActiveIndex = i
	m.st.ActiveProducer = m.producers[i].Name()
	m.st.SwitchEpoch++
}

func (m *Manager) onFailure(i int, err error) SwitchEvent {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.st.LastError = err.Error()
	from := m.producers[i].Name()
	if i+1 >= len(m.producers) {
		m.st.LastSwitchReason = "fallback_exhausted"
		return SwitchEvent{From: from, To: from, Reason: "fallback_exhausted"}
	}

	now := m.now()
	holdUntil := now.Add(m.hold)
	reason := "producer_failed"
	var rl *providers.RateLimitError
	if errors.As(err, &rl) {
		reason = "rate_limited"
		if hinted := nextProbeFromRateLimitHints(now, rl); hinted.After(holdUntil) {
			holdUntil = hinted
		}
	}

	if m.st.Mode != modeDegraded {
		m.st.DegradedAt = now
	}
	m.st.Mode = modeDegraded
	m.st.ActiveIndex = i + 1
	m.st.ActiveProducer = m.producers[i+1].Name()
	m.st.HoldUntil = holdUntil
	m.st.LastSwitchReason = reason
	m.st.SwitchEpoch++

	return SwitchEvent{From: from, To: m.st.ActiveProducer, Reason: reason, Switched: true}
}

func nextProbeFromRateLimitHints(now time.Time, rl *providers.RateLimitError) time.Time {
	candidates := []time.Time{}
	if rl == nil {
		return time.Time{}
	}
	for _, raw := range []string{rl.RetryAfter, rl.RateLimitRequestsReset, rl.RateLimitTokensReset} {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if secs, err := strconv.Atoi(raw); err == nil {
			if raw == strings.TrimSpace(rl.RetryAfter) {
				candidates = append(candidates, now.Add(time.Duration(secs)*time.Second))
			} else {
				candidates = append(candidates, time.Unix(int64(secs), 0))
			}
			continue
		}
		if t, err := httpDateOrRFC3339(raw); err == nil {
			candidates = append(candidates, t)
		}
	}
	if len(candidates) == 0 {
		return time.Time{}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Before(candidates[j]) })
	return candidates[len(candidates)-1]
}

func httpDateOrRFC3339(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC1123, v); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, v)
}

func (m *Manager) IsUsingPrimary() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.ActiveIndex == 0
}

func (m *Manager) Snapshot() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st
}

func (m *Manager) PrimaryName() string {
	return m.producers[0].Name()
}
