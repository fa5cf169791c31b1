package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// rotatingFile is the JSON handler's sink. When rotation is on it moves the
// file aside once it passes maxSize or the day changes, and prunes rotated
// files older than maxAgeDays.
type rotatingFile struct {
	mu           sync.Mutex
	path         string
	f            *os.File
	size         int64
	rotate       bool
	maxSize      int64
	maxAgeDays   int
	lastRotation time.Time
	now          func() time.Time
}

func openRotatingFile(path string, rotate bool, maxSizeMB, maxAgeDays int) (*rotatingFile, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	var size int64
	if st, err := f.Stat(); err == nil {
		size = st.Size()
	}
	return &rotatingFile{
		path:         path,
		f:            f,
		size:         size,
		rotate:       rotate,
		maxSize:      int64(maxSizeMB) * 1024 * 1024,
		maxAgeDays:   maxAgeDays,
		lastRotation: time.Now(),
		now:          time.Now,
	}, nil
}

func (r *rotatingFile) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.f == nil {
		return 0, os.ErrClosed
	}
	if r.shouldRotate() {
		if err := r.rotateLocked(); err != nil {
			fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		}
	}
	n, err := r.f.Write(p)
	r.size += int64(n)
	return n, err
}

func (r *rotatingFile) shouldRotate() bool {
	if !r.rotate {
		return false
	}
	if r.maxSize > 0 && r.size >= r.maxSize {
		return true
	}
	if r.maxAgeDays > 0 {
		now := r.now()
		if now.YearDay() != r.lastRotation.YearDay() || now.Year() != r.lastRotation.Year() {
			return true
		}
	}
	return false
}

func (r *rotatingFile) rotateLocked() error {
	r.f.Close()

	rotated := fmt.Sprintf("%s.%s", r.path, r.now().Format("20060102-150405.000"))
	if err := os.Rename(r.path, rotated); err != nil {
		if f, openErr := os.OpenFile(r.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644); openErr == nil {
			r.f = f
		}
		return fmt.Errorf("failed to rotate log file: %w", err)
	}

	f, err := os.OpenFile(r.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		r.f = nil
		return fmt.Errorf("failed to create new log file: %w", err)
	}
	r.f = f
	r.size = 0
	r.lastRotation = r.now()
	r.cleanOldLocked()
	return nil
}

func (r *rotatingFile) cleanOldLocked() {
	if r.maxAgeDays <= 0 {
		return
	}
	dir := filepath.Dir(r.path)
	base := filepath.Base(r.path)
	cutoff := r.now().AddDate(0, 0, -r.maxAgeDays)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), base+".") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			os.Remove(filepath.Join(dir, e.Name()))
		}
	}
}

func (r *rotatingFile) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.f == nil {
		return nil
	}
	err := r.f.Close()
	r.f = nil
	return err
}
