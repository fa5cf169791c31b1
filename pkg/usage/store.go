package usage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/HealthMateDemo/HealthMateV1/pkg/logger"
)

const defaultRetention = 30 * 24 * time.Hour

// Record describes one reply the dispatcher produced.
type Record struct {
	Timestamp      time.Time `json:"timestamp"`
	DayKey         string    `json:"day_key"`
	SessionID      string    `json:"session_id"`
	ConversationID string    `json:"conversation_id,omitempty"`
	Template       string    `json:"template"`
	Producer       string    `json:"producer"`
	LatencyMS      int64     `json:"latency_ms"`
	ReplyChars     int       `json:"reply_chars"`
	Failed         bool      `json:"failed"`
	Reason         string    `json:"reason,omitempty"`
}

type Filter struct {
	SessionID string
	DayKey    string
	Producer  string
	Template  string
	Limit     int
}

type Aggregate struct {
	Replies      int   `json:"replies"`
	Failures     int   `json:"failures"`
	ReplyChars   int   `json:"reply_chars"`
	TotalLatency int64 `json:"total_latency_ms"`
	MaxLatency   int64 `json:"max_latency_ms"`
}

// AvgLatencyMS averages over every reply, failed or not.
func (a Aggregate) AvgLatencyMS() int64 {
	if a.Replies == 0 {
		return 0
	}
	return a.TotalLatency / int64(a.Replies)
}

// Store keeps reply records in memory and, when a path is set, mirrors them
// to a JSON file. Records older than the retention window are dropped on
// append.
type Store struct {
	mu        sync.RWMutex
	saveMu    sync.Mutex
	records   []Record
	path      string
	retention time.Duration
	now       func() time.Time
}

func NewStore(path string) *Store {
	s := &Store{
		records:   make([]Record, 0, 256),
		retention: defaultRetention,
		now:       time.Now,
	}
	if path == "" {
		return s
	}
	s.path = path
	s.load()
	return s
}

func (s *Store) DayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

func (s *Store) TodayKey() string {
	return s.DayKey(s.now())
}

func (s *Store) Append(r Record) error {
	if r.Timestamp.IsZero() {
		r.Timestamp = s.now().UTC()
	}
	if r.DayKey == "" {
		r.DayKey = s.DayKey(r.Timestamp)
	}

	cutoff := s.now().Add(-s.retention)

	s.mu.Lock()
	kept := s.records[:0]
	for _, old := range s.records {
		if old.Timestamp.After(cutoff) {
			kept = append(kept, old)
		}
	}
	s.records = kept
	if r.Timestamp.After(cutoff) {
		s.records = append(s.records, r)
	}
	s.mu.Unlock()

	return s.save()
}

func (s *Store) LastBySession(sessionID string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := len(s.records) - 1; i >= 0; i-- {
		if s.records[i].SessionID == sessionID {
			return s.records[i], true
		}
	}
	return Record{}, false
}

func (s *Store) Query(f Filter) []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Record, 0, len(s.records))
	for _, r := range s.records {
		if f.SessionID != "" && r.SessionID != f.SessionID {
			continue
		}
		if f.DayKey != "" && r.DayKey != f.DayKey {
			continue
		}
		if f.Producer != "" && !strings.EqualFold(r.Producer, f.Producer) {
			continue
		}
		if f.Template != "" && !strings.EqualFold(r.Template, f.Template) {
			continue
		}
		out = append(out, r)
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[len(out)-f.Limit:]
	}
	return out
}

func AggregateRecords(records []Record) Aggregate {
	var agg Aggregate
	for _, r := range records {
		agg.add(r)
	}
	return agg
}

func (a *Aggregate) add(r Record) {
	a.Replies++
	if r.Failed {
		a.Failures++
	}
	a.ReplyChars += r.ReplyChars
	a.TotalLatency += r.LatencyMS
	if r.LatencyMS > a.MaxLatency {
		a.MaxLatency = r.LatencyMS
	}
}

func ProducerBreakdown(records []Record) map[string]Aggregate {
	return breakdown(records, func(r Record) string { return r.Producer })
}

func TemplateBreakdown(records []Record) map[string]Aggregate {
	return breakdown(records, func(r Record) string { return r.Template })
}

func breakdown(records []Record, key func(Record) string) map[string]Aggregate {
	out := map[string]Aggregate{}
	for _, r := range records {
		k := strings.TrimSpace(key(r))
		if k == "" {
			k = "unknown"
		}
		agg := out[k]
		agg.add(r)
		out[k] = agg
	}
	return out
}

// Summary is the payload served on /stats.
type Summary struct {
	Today      Aggregate            `json:"today"`
	AllTime    Aggregate            `json:"all_time"`
	ByProducer map[string]Aggregate `json:"by_producer"`
	ByTemplate map[string]Aggregate `json:"by_template"`
}

func (s *Store) Summary() Summary {
	all := s.Query(Filter{})
	today := s.Query(Filter{DayKey: s.TodayKey()})
	return Summary{
		Today:      AggregateRecords(today),
		AllTime:    AggregateRecords(all),
		ByProducer: ProducerBreakdown(all),
		ByTemplate: TemplateBreakdown(all),
	}
}

func (s *Store) load() {
	if s.path == "" {
		return
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.WarnCF("usage", "Failed to read usage records", map[string]interface{}{
				"path":  s.path,
				"error": err.Error(),
			})
		}
		return
	}
	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		logger.WarnCF("usage", "Discarding unreadable usage records", map[string]interface{}{
			"path":  s.path,
			"error": err.Error(),
		})
		return
	}
	s.records = records
}

// save writes the current records through a temp file and a rename, so
// concurrent appends never leave a truncated or stale file behind.
func (s *Store) save() error {
	if s.path == "" {
		return nil
	}
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	s.mu.RLock()
	snapshot := make([]Record, len(s.records))
	copy(snapshot, s.records)
	s.mu.RUnlock()

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal usage records: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create usage dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp usage file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write usage records: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close usage file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace usage file: %w", err)
	}
	return nil
}
