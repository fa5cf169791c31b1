// Package session tracks the server side of each open chat channel.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

type State int

const (
	Connecting State = iota
	Open
	Errored
	Closed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Errored:
		return "errored"
	case Closed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

var ErrInvalidTransition = errors.New("invalid session state transition")

var transitions = map[State][]State{
	Connecting: {Open, Errored, Closed},
	Open:       {Errored, Closed},
	Errored:    {Closed},
}

// CanTransition reports whether a session may move from one state to another.
// Closed is terminal and there is no way back to Open.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Info is the bookkeeping record for one channel.
type Info struct {
	ID          string    `json:"id"`
	RemoteAddr  string    `json:"remote_addr"`
	Origin      string    `json:"origin,omitempty"`
	ConnectedAt time.Time `json:"connected_at"`
	State       State     `json:"state"`
}

// Lifecycle guards a session's state machine.
type Lifecycle struct {
	mu    sync.Mutex
	state State
}

func (l *Lifecycle) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *Lifecycle) Transition(to State) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !CanTransition(l.state, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, l.state, to)
	}
	l.state = to
	return nil
}

// Close moves to Closed from any state and reports whether this call did it.
func (l *Lifecycle) Close() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == Closed {
		return false
	}
	l.state = Closed
	return true
}

// Registry records which sessions are currently live.
type Registry interface {
	Add(ctx context.Context, info Info) error
	SetState(ctx context.Context, id string, st State) error
	Remove(ctx context.Context, id string) error
	Count(ctx context.Context) (int, error)
}

type MemoryRegistry struct {
	mu       sync.RWMutex
	sessions map[string]Info
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{sessions: make(map[string]Info)}
}

func (r *MemoryRegistry) Add(_ context.Context, info Info) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[info.ID]; exists {
		return fmt.Errorf("session %s already registered", info.ID)
	}
	r.sessions[info.ID] = info
	return nil
}

func (r *MemoryRegistry) SetState(_ context.Context, id string, st State) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	info, ok := r.sessions[id]
	if !ok {
		return fmt.Errorf("session %s not found", id)
	}
	info.State = st
	r.sessions[id] = info
	return nil
}

func (r *MemoryRegistry) Remove(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
	return nil
}

func (r *MemoryRegistry) Count(_ context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions), nil
}

func (r *MemoryRegistry) Get(id string) (Info, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.sessions[id]
	return info, ok
}
