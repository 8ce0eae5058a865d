// Package syncslot implements the per-slot sync discipline shared by the
// breakpoint and watchpoint registries: a slot may be read by any number of
// concurrent hit handlers while it is live, but removal must wait for every
// admitted handler to finish before the slot becomes reusable.
package syncslot

import (
	"sync"
	"time"
)

// Guard arbitrates between a slot's hit handlers and its removal.
//
// Protocol:
//  1. A hit handler calls Admit before touching slot state. Admit always
//     increments the handler count first, then reports whether the slot is
//     being removed — mirroring the order the hit handler itself must
//     follow, so a handler that ignored Admit's return value and checked
//     Removing() directly would see the same answer.
//  2. If Admit reports true, the handler proceeds and calls Release when
//     done.
//  3. If Admit reports false, the handler must return immediately without
//     mutating the slot. Admit has already undone its own count bump, so
//     the handler does not call Release.
//  4. Removal calls BeginRemoval, which blocks until every admitted
//     handler has released or the timeout elapses. On timeout the handler
//     count is force-reset and BeginRemoval reports false
//     (HandlerDrainTimeout) so the caller can log a warning.
//  5. Removal finishes by calling EndRemoval once the slot is reusable.
type Guard struct {
	mu       sync.Mutex
	cond     *sync.Cond
	removing bool
	active   int
}

// New returns a ready-to-use Guard.
func New() *Guard {
	g := &Guard{}
	g.cond = sync.NewCond(&g.mu)
	return g
}

// Admit registers one hit handler and reports whether it may proceed.
func (g *Guard) Admit() bool {
	g.mu.Lock()
	g.active++
	removing := g.removing
	g.mu.Unlock()
	if removing {
		g.Release()
		return false
	}
	return true
}

// Release ends one hit handler's granted admission. Admit calls it itself
// when it refuses a handler.
func (g *Guard) Release() {
	g.mu.Lock()
	g.active--
	if g.active == 0 {
		g.cond.Broadcast()
	}
	g.mu.Unlock()
}

// BeginRemoval marks the slot as being removed and waits for admitted
// handlers to drain, bounded by timeout. It reports true on a clean drain,
// false if the timeout fired (the handler count was force-reset and the
// slot is usable again regardless).
func (g *Guard) BeginRemoval(timeout time.Duration) bool {
	g.mu.Lock()
	g.removing = true
	g.mu.Unlock()

	done := make(chan struct{})
	go func() {
		g.mu.Lock()
		for g.active != 0 {
			g.cond.Wait()
		}
		g.mu.Unlock()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		g.mu.Lock()
		g.active = 0
		g.cond.Broadcast()
		g.mu.Unlock()
		return false
	}
}

// EndRemoval clears the removing flag, making the slot reusable.
func (g *Guard) EndRemoval() {
	g.mu.Lock()
	g.removing = false
	g.mu.Unlock()
}

// Removing reports whether the slot is currently being removed.
func (g *Guard) Removing() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.removing
}

// ActiveHandlers reports the current admitted-handler count. Exposed for
// tests and diagnostics only.
func (g *Guard) ActiveHandlers() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active
}
