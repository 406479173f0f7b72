package cooling

// Handler is a caller-supplied throttling implementation.
type Handler interface {
	SetLevel(level int) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(level int) error

func (f HandlerFunc) SetLevel(level int) error {
	return f(level)
}

type handlerDriver struct {
	h        Handler
	critical int
}

// NewHandlerDriver delegates every level to h. numValues is the configured
// value count, which is also the CRITICAL level index.
func NewHandlerDriver(h Handler, numValues int) Driver {
	return &handlerDriver{h: h, critical: numValues}
}

func (d *handlerDriver) Throttle(level int) error {
	return d.h.SetLevel(level)
}

func (d *handlerDriver) Critical() error {
	return d.h.SetLevel(d.critical)
}
