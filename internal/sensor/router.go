package sensor

import (
	"strings"
	"sync"
)

// Router dispatches handles of the form "scheme:rest" to the IO registered
// for that scheme. Anything else goes to the fallback.
type Router struct {
	fallback IO

	mu      sync.RWMutex
	schemes map[string]IO
}

func NewRouter(fallback IO) *Router {
	return &Router{
		fallback: fallback,
		schemes:  make(map[string]IO),
	}
}

// Handle registers io for handles starting with "scheme:".
func (r *Router) Handle(scheme string, io IO) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.schemes[scheme] = io
}

func (r *Router) route(handle string) IO {
	scheme, _, ok := strings.Cut(handle, ":")
	if !ok {
		return r.fallback
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if io, found := r.schemes[scheme]; found {
		return io
	}

	return r.fallback
}

func (r *Router) Read(handle string) (Temperature, error) {
	return r.route(handle).Read(handle)
}

func (r *Router) Exists(path string) bool {
	return r.route(path).Exists(path)
}

func (r *Router) Write(path string, value int) error {
	return r.route(path).Write(path, value)
}
