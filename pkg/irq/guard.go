// Package irq abstracts interrupt masking around short critical sections.
package irq

import "sync"

// Guard masks and unmasks interrupts. Disable/Enable pairs must not nest.
type Guard interface {
	Disable()
	Enable()
}

// GuardFuncs adapts a pair of funcs (e.g. a port's mask/unmask) to Guard.
type GuardFuncs struct {
	DisableFunc func()
	EnableFunc  func()
}

// Disable implements Guard.
func (g GuardFuncs) Disable() {
	if g.DisableFunc != nil {
		g.DisableFunc()
	}
}

// Enable implements Guard.
func (g GuardFuncs) Enable() {
	if g.EnableFunc != nil {
		g.EnableFunc()
	}
}

// mutexGuard stands in for interrupt masking when interrupt sources
// are goroutines.
type mutexGuard struct {
	mu sync.Mutex
}

func (g *mutexGuard) Disable() { g.mu.Lock() }
func (g *mutexGuard) Enable()  { g.mu.Unlock() }

// NewGuard creates a mutex backed Guard.
func NewGuard() Guard {
	return &mutexGuard{}
}

type nopGuard struct{}

func (nopGuard) Disable() {}
func (nopGuard) Enable()  {}

// Nop is a Guard which does nothing. Only use it when every caller
// runs on the same execution context.
var Nop Guard = nopGuard{}

// Do runs fn with interrupts masked by g.
func Do(g Guard, fn func()) {
	g.Disable()
	defer g.Enable()
	fn()
}
