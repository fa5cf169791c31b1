package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func captureConsole(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	prev := GetLevel()
	t.Cleanup(func() {
		SetOutput(os.Stderr)
		SetLevel(prev)
	})
	return &buf
}

func TestInfoCFIncludesComponentAndFields(t *testing.T) {
	buf := captureConsole(t)
	SetLevel(INFO)

	InfoCF("gateway", "Session opened", map[string]interface{}{
		"session_id": "s-1",
		"remote":     "127.0.0.1",
	})

	out := buf.String()
	for _, want := range []string{"Session opened", "component=gateway", "session_id=s-1", "remote=127.0.0.1"} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in %q", want, out)
		}
	}
}

func TestLevelFiltering(t *testing.T) {
	buf := captureConsole(t)
	SetLevel(WARN)

	DebugC("client", "hidden debug")
	InfoC("client", "hidden info")
	WarnC("client", "shown warn")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("records below WARN leaked: %q", out)
	}
	if !strings.Contains(out, "shown warn") {
		t.Fatalf("warn record missing: %q", out)
	}
}

func TestFatalExits(t *testing.T) {
	buf := captureConsole(t)
	code := -1
	exit = func(c int) { code = c }
	t.Cleanup(func() { exit = os.Exit })

	FatalCF("main", "cannot start", map[string]interface{}{"error": "boom"})

	if code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	if !strings.Contains(buf.String(), "level=FATAL") {
		t.Fatalf("fatal level name missing: %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]LogLevel{
		"debug":   DEBUG,
		"INFO":    INFO,
		"":        INFO,
		"warning": WARN,
		"error":   ERROR,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		if err != nil {
			t.Fatalf("ParseLevel(%q): %v", in, err)
		}
		if got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}

func TestFileLoggingWritesJSON(t *testing.T) {
	captureConsole(t)
	SetLevel(INFO)
	path := filepath.Join(t.TempDir(), "logs", "server.log")

	if err := EnableFileLogging(path); err != nil {
		t.Fatalf("enable file logging: %v", err)
	}
	ErrorCF("session", "Session errored", map[string]interface{}{"session_id": "abc"})
	DisableFileLogging()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	var entry map[string]interface{}
	if err := json.Unmarshal(bytes.TrimSpace(data), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v (%q)", err, data)
	}
	if entry["msg"] != "Session errored" || entry["component"] != "session" || entry["session_id"] != "abc" {
		t.Fatalf("unexpected entry: %v", entry)
	}
}

func TestFileLoggingRotatesBySize(t *testing.T) {
	captureConsole(t)
	SetLevel(INFO)
	dir := t.TempDir()
	path := filepath.Join(dir, "server.log")

	if err := EnableFileLoggingWithRotation(path, true, 1, 0); err != nil {
		t.Fatalf("enable file logging: %v", err)
	}
	t.Cleanup(DisableFileLogging)

	mu.RLock()
	rf := file
	mu.RUnlock()
	rf.mu.Lock()
	rf.size = rf.maxSize
	rf.mu.Unlock()
	InfoCF("gateway", "after rotation", nil)
	DisableFileLogging()

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	var rotated int
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "server.log.") {
			rotated++
		}
	}
	if rotated != 1 {
		t.Fatalf("rotated files = %d, want 1 (%v)", rotated, entries)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "after rotation") {
		t.Fatalf("new file missing record: %q", data)
	}
}

func TestRotationPrunesOldFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "server.log")
	stale := path + ".20200101-000000.000"
	if err := os.WriteFile(stale, []byte("old\n"), 0644); err != nil {
		t.Fatalf("write stale file: %v", err)
	}
	old := time.Now().AddDate(0, 0, -30)
	if err := os.Chtimes(stale, old, old); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	rf, err := openRotatingFile(path, true, 0, 7)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer rf.Close()
	rf.lastRotation = time.Now().AddDate(0, 0, -1)

	if _, err := rf.Write([]byte("{}\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Fatalf("stale rotated file still present: %v", err)
	}
}
