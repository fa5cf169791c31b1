package bus

import "sync"

type subscription struct {
	id      uint64
	handler Handler
}

// Registry is an ordered set of handlers. Publish calls every handler in
// subscribe order; removing one handler leaves the others untouched.
type Registry struct {
	mu     sync.RWMutex
	nextID uint64
	subs   []subscription
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Subscribe adds h and returns a function that removes exactly this
// subscription. The returned function may be called more than once.
func (r *Registry) Subscribe(h Handler) func() {
	r.mu.Lock()
	r.nextID++
	id := r.nextID
	r.subs = append(r.subs, subscription{id: id, handler: h})
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { r.remove(id) })
	}
}

func (r *Registry) remove(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, s := range r.subs {
		if s.id == id {
			r.subs = append(r.subs[:i:i], r.subs[i+1:]...)
			return
		}
	}
}

// Publish delivers e to a snapshot of the current handlers. Handlers run
// outside the lock so they may subscribe or unsubscribe.
func (r *Registry) Publish(e Envelope) {
	r.mu.RLock()
	snapshot := make([]Handler, len(r.subs))
	for i, s := range r.subs {
		snapshot[i] = s.handler
	}
	r.mu.RUnlock()

	for _, h := range snapshot {
		h(e)
	}
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

// Clear drops every handler.
func (r *Registry) Clear() {
	r.mu.Lock()
	r.subs = nil
	r.mu.Unlock()
}
