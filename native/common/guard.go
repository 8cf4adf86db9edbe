package common

import "errors"

var (
	// ErrModulePaused is returned when a module's mutations are halted.
	ErrModulePaused = errors.New("module paused")
	// ErrReentrantCall is returned when an operation re-enters a facade that
	// is still mid-mutation.
	ErrReentrantCall = errors.New("reentrant call")
)

// PauseView exposes the pause switches that can be flipped per module.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard rejects the operation when the named module is paused.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

// ReentrancyGuard protects a facade operation against re-entry from an
// adversarial callee. Execution is single-threaded per operation, so a plain
// flag suffices; the guard is the facade's responsibility and the accounting
// core holds no locks of its own.
type ReentrancyGuard struct {
	entered bool
}

// Enter marks the guarded section, failing if it is already active.
func (g *ReentrancyGuard) Enter() error {
	if g == nil {
		return nil
	}
	if g.entered {
		return ErrReentrantCall
	}
	g.entered = true
	return nil
}

// Exit leaves the guarded section.
func (g *ReentrancyGuard) Exit() {
	if g == nil {
		return
	}
	g.entered = false
}
