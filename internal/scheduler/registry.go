package scheduler

import (
	"sort"
	"sync"

	"github.com/roach88/bouncer/internal/bouncer"
)

// Registry maps job topics to their handlers.
// Thread-safety: Registry is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]bouncer.JobFunc
	fallback bouncer.JobFunc
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]bouncer.JobFunc)}
}

// Register sets the handler for topic, replacing any previous one.
func (r *Registry) Register(topic string, fn bouncer.JobFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[topic] = fn
}

// Fallback sets the handler used for topics with no registered handler.
func (r *Registry) Fallback(fn bouncer.JobFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = fn
}

// Lookup returns the handler for topic, falling back when one is set.
func (r *Registry) Lookup(topic string) (bouncer.JobFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if fn, ok := r.handlers[topic]; ok {
		return fn, true
	}
	if r.fallback != nil {
		return r.fallback, true
	}
	return nil, false
}

// Topics returns the registered topics in sorted order.
func (r *Registry) Topics() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	topics := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		topics = append(topics, t)
	}
	sort.Strings(topics)
	return topics
}
