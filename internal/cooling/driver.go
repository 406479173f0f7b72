package cooling

import (
	"sync"

	"codeberg.org/mutker/thermalctl/internal/errors"
	"codeberg.org/mutker/thermalctl/internal/sensor"
)

// Driver applies throttle levels to hardware.
type Driver interface {
	// Throttle applies a non-critical level.
	Throttle(level int) error
	// Critical applies the reserved CRITICAL value.
	Critical() error
}

// Factory builds a driver for a device. Returning an error deactivates the
// device.
type Factory func(cfg Config) (Driver, error)

const (
	KindLinear  = "linear"
	KindHandler = "handler"
)

// Registry resolves configured driver kinds to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	handlers  map[string]Handler
}

// NewRegistry returns a registry with the built-in linear and handler kinds.
// The linear driver writes through io.
func NewRegistry(io sensor.IO) *Registry {
	r := &Registry{
		factories: make(map[string]Factory),
		handlers:  make(map[string]Handler),
	}

	r.Register(KindLinear, func(cfg Config) (Driver, error) {
		return NewLinear(io, cfg)
	})
	r.Register(KindHandler, func(cfg Config) (Driver, error) {
		h, ok := r.handler(cfg.Handler)
		if !ok {
			return nil, errors.New().WithData(ErrMissingHandler, cfg.Handler)
		}
		return NewHandlerDriver(h, len(cfg.ThrottleValues)), nil
	})

	return r
}

// Register adds or replaces a driver kind.
func (r *Registry) Register(kind string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[kind] = f
}

// RegisterHandler makes h available to devices configured with
// driver = "handler" and handler = name.
func (r *Registry) RegisterHandler(name string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = h
}

func (r *Registry) handler(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok && h != nil
}

// Build creates the driver for cfg. An empty kind means linear.
func (r *Registry) Build(cfg Config) (Driver, error) {
	kind := cfg.Driver
	if kind == "" {
		kind = KindLinear
	}

	r.mu.RLock()
	f, ok := r.factories[kind]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.New().WithData(ErrUnknownDriver, kind)
	}

	return f(cfg)
}

// NewDeviceFromConfig builds the driver and device in one step.
func (r *Registry) NewDeviceFromConfig(cfg Config) (*Device, error) {
	if len(cfg.ThrottleValues) == 0 {
		return nil, errors.New().WithData(ErrNoThrottleValues, cfg.Name)
	}

	drv, err := r.Build(cfg)
	if err != nil {
		return nil, err
	}

	return NewDevice(cfg, drv)
}
