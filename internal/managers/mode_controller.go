package managers

import (
	"context"
	"sync"

	"fwdctl/internal/backends"
	"fwdctl/internal/forward"
	"fwdctl/pkg/logging"
)

// ModeController owns the host-wide forward mode. At most one backend is
// active at a time and every mutation runs under the controller's lock.
type ModeController struct {
	mu       sync.Mutex
	mode     forward.Mode
	store    ModeStore
	backends backends.Set
}

// NewModeController reads the persisted mode once. A mode that cannot be read
// starts the controller disabled.
func NewModeController(store ModeStore, set backends.Set) *ModeController {
	mode, err := store.LoadMode()
	if err != nil {
		logging.Warn("ModeController", "could not load forward mode, starting disabled: %v", err)
		mode = forward.Disabled
	}
	if mode != forward.Disabled && set.For(mode) == nil {
		logging.Warn("ModeController", "no backend for persisted mode %s, starting disabled", mode)
		mode = forward.Disabled
	}
	return &ModeController{mode: mode, store: store, backends: set}
}

// Mode returns the current mode.
func (c *ModeController) Mode() forward.Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// Exec runs fn with the current mode and its backend while holding the lock.
// The backend is nil when forwarding is disabled.
func (c *ModeController) Exec(fn func(mode forward.Mode, backend backends.Backend)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(c.mode, c.backends.For(c.mode))
}

// SetMode tears down the current backend, persists target and switches to
// it. Starting rules under the new mode is left to the caller.
func (c *ModeController) SetMode(ctx context.Context, target forward.Mode) forward.Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.setModeLocked(ctx, target)
}

func (c *ModeController) setModeLocked(ctx context.Context, target forward.Mode) forward.Result {
	if target == c.mode {
		return forward.OK("forward mode is already %s", target)
	}
	if target != forward.Disabled && c.backends.For(target) == nil {
		return forward.Fail(forward.InvalidRule, "no backend available for mode %s", target)
	}

	if current := c.backends.For(c.mode); current != nil {
		logging.Info("ModeController", "stopping %s forwards before switching to %s", c.mode, target)
		if r := current.StopAll(ctx); !r.Success {
			return forward.Fail(r.Kind, "stopping %s forwards failed, mode unchanged: %s", c.mode, r.Message)
		}
	}

	if err := c.store.SaveMode(target); err != nil {
		return forward.Fail(forward.StatePersistFailed, "saving forward mode %s failed, mode unchanged: %v", target, err)
	}

	previous := c.mode
	c.mode = target
	logging.Info("ModeController", "forward mode changed from %s to %s", previous, target)
	return forward.OK("forward mode changed from %s to %s", previous, target)
}
