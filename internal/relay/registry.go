package relay

import (
	"sync"

	"github.com/fcefyn/hilrelay/internal/logging"
)

// Registry maps a device path to its exclusively owned link. One link per
// path ever exists inside a process; reuse avoids paying the auto-reset on
// every command.
type Registry struct {
	mu    sync.Mutex
	links map[string]*Link
}

func NewRegistry() *Registry {
	return &Registry{links: make(map[string]*Link)}
}

// Acquire returns the cached open link for the path, opening a fresh one
// (with handshake) when none exists.
func (r *Registry) Acquire(opts Options) (*Link, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if l, ok := r.links[opts.Path]; ok && l.IsOpen() {
		return l, nil
	}
	l, err := Open(opts)
	if err != nil {
		return nil, err
	}
	r.links[opts.Path] = l
	return l, nil
}

// Discard closes and forgets the link for a path, forcing a clean re-open
// on the next Acquire.
func (r *Registry) Discard(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if l, ok := r.links[path]; ok {
		if err := l.Close(); err != nil {
			logging.Warn("link close", "port", path, "error", err)
		}
		delete(r.links, path)
	}
}

func (r *Registry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for path, l := range r.links {
		if err := l.Close(); err != nil {
			logging.Warn("link close", "port", path, "error", err)
		}
		delete(r.links, path)
	}
}
