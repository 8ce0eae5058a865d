// Package breakpoint implements C4: the hardware (≤16 slots) and
// software (≤ configured ceiling) breakpoint registries, each built on
// the shared per-slot admission/removal discipline in internal/syncslot
// (spec §3, §4.4).
//
// Grounded on the teacher's map-plus-mutex breakpoint bookkeeping
// (debug_cpu_ie64.go's breakpoints map and bpMu), generalized from a
// bare bool set to a full per-slot record with hit counting, trace
// configuration, and deletion-safe sync blocks.
package breakpoint

import (
	"errors"
	"sync"
	"time"

	"github.com/doranekosystems/dynadbg-core/internal/syncslot"
)

// MaxHardwareSlots is the hardware breakpoint register count (spec §3:
// slot index 0..15).
const MaxHardwareSlots = 16

// OnHitAction selects what the dispatcher does once a breakpoint fires.
type OnHitAction int

const (
	Notify OnHitAction = iota
	SilentContinue
	TraceAndContinue
)

// TraceConfig is the optional trace session a TraceAndContinue
// breakpoint drives (spec §3's "trace_config (optional)").
type TraceConfig struct {
	EndAddress *uint64
	MaxCount   int
	OutputPath string
}

// Breakpoint is one hardware or software breakpoint slot.
type Breakpoint struct {
	SlotIndex     int
	Address       uint64
	Enabled       bool
	HitCount      int
	HitLimit      int // 0 = unlimited
	OnHitAction   OnHitAction
	TraceConfig   *TraceConfig
	Software      bool
	OriginalBytes [4]byte // valid only when Software

	guard *syncslot.Guard
}

// Admit takes the slot's sync admission, reporting whether the caller
// may proceed to read/mutate slot state (false means a removal is
// in-flight and the caller must back off without touching the slot).
func (b *Breakpoint) Admit() bool { return b.guard.Admit() }

// Release ends one granted Admit. A refused Admit has already undone its
// own count and needs no Release.
func (b *Breakpoint) Release() { b.guard.Release() }

var (
	// ErrNotFound is returned when addr has no matching breakpoint.
	ErrNotFound = errors.New("breakpoint: not found")
	// ErrOutOfSlots is returned when the hardware or software slot
	// ceiling is reached.
	ErrOutOfSlots = errors.New("breakpoint: out of slots")
	// ErrAlreadySet is returned by Set* when addr already has a
	// breakpoint of the same kind.
	ErrAlreadySet = errors.New("breakpoint: already set")
)

// Registry owns every hardware and software breakpoint slot.
type Registry struct {
	drainTimeout time.Duration
	maxSoftware  int

	mu       sync.Mutex // guards the fields below
	hw       [MaxHardwareSlots]*Breakpoint
	sw       map[uint64]*Breakpoint
	bySlotSW int // monotonically increasing slot index for software bps
}

// New returns an empty Registry. drainTimeout bounds how long Remove
// waits for in-flight hit handlers before force-resetting (spec §5);
// maxSoftware bounds the software breakpoint map's size.
func New(drainTimeout time.Duration, maxSoftware int) *Registry {
	return &Registry{
		drainTimeout: drainTimeout,
		maxSoftware:  maxSoftware,
		sw:           make(map[uint64]*Breakpoint),
	}
}

// SetHardware installs a hardware breakpoint at addr in the first free
// slot 0..15.
func (r *Registry) SetHardware(addr uint64, hitLimit int, action OnHitAction) (*Breakpoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, bp := range r.hw {
		if bp != nil && bp.Address == addr {
			return nil, ErrAlreadySet
		}
	}
	for i, bp := range r.hw {
		if bp == nil {
			nb := &Breakpoint{
				SlotIndex:   i,
				Address:     addr,
				Enabled:     true,
				HitLimit:    hitLimit,
				OnHitAction: action,
				guard:       syncslot.New(),
			}
			r.hw[i] = nb
			return nb, nil
		}
	}
	return nil, ErrOutOfSlots
}

// SetSoftware installs a software breakpoint at addr, recording the
// original bytes the caller already read from the target so Remove can
// restore them.
func (r *Registry) SetSoftware(addr uint64, original [4]byte, hitLimit int, action OnHitAction) (*Breakpoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sw[addr]; ok {
		return nil, ErrAlreadySet
	}
	if len(r.sw) >= r.maxSoftware {
		return nil, ErrOutOfSlots
	}

	nb := &Breakpoint{
		SlotIndex:     r.bySlotSW,
		Address:       addr,
		Enabled:       true,
		HitLimit:      hitLimit,
		OnHitAction:   action,
		Software:      true,
		OriginalBytes: original,
		guard:         syncslot.New(),
	}
	r.bySlotSW++
	r.sw[addr] = nb
	return nb, nil
}

// LookupHardwareSlot returns the hardware breakpoint occupying slot, if
// any. Used by the dispatcher when only the slot index survives (e.g.
// checking whether a breakpoint is still used after a single step).
func (r *Registry) LookupHardwareSlot(slot int) (*Breakpoint, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if slot < 0 || slot >= MaxHardwareSlots || r.hw[slot] == nil {
		return nil, false
	}
	return r.hw[slot], true
}

// LookupSoftwareSlot returns the software breakpoint whose SlotIndex
// equals slot, if any. Mirrors LookupHardwareSlot for the software map,
// which is keyed by address rather than slot; used by the dispatcher
// when only the slot index survives a single-step transition.
func (r *Registry) LookupSoftwareSlot(slot int) (*Breakpoint, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, bp := range r.sw {
		if bp.SlotIndex == slot {
			return bp, true
		}
	}
	return nil, false
}

// Lookup returns the breakpoint at addr, hardware or software, without
// taking sync admission.
func (r *Registry) Lookup(addr uint64) (*Breakpoint, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lookupLocked(addr)
}

func (r *Registry) lookupLocked(addr uint64) (*Breakpoint, bool) {
	for _, bp := range r.hw {
		if bp != nil && bp.Address == addr {
			return bp, true
		}
	}
	if bp, ok := r.sw[addr]; ok {
		return bp, true
	}
	return nil, false
}

// Remove deletes the breakpoint at addr, hardware or software. It marks
// the slot as removing, waits (bounded by the registry's drain timeout)
// for in-flight hit handlers to finish, then frees the slot. Returns
// ErrNotFound if addr has no breakpoint; otherwise reports whether the
// drain completed cleanly (false means the timeout fired and the handler
// count was force-reset, per spec §7 HandlerDrainTimeout).
func (r *Registry) Remove(addr uint64) (drainedCleanly bool, err error) {
	r.mu.Lock()
	bp, ok := r.lookupLocked(addr)
	r.mu.Unlock()
	if !ok {
		return false, ErrNotFound
	}

	clean := bp.guard.BeginRemoval(r.drainTimeout)

	r.mu.Lock()
	if bp.Software {
		delete(r.sw, addr)
	} else {
		r.hw[bp.SlotIndex] = nil
	}
	r.mu.Unlock()

	bp.guard.EndRemoval()
	return clean, nil
}

// RecordHit increments hit_count and reports whether the slot has now
// reached its hit_limit (HitLimit==0 means unlimited and never trips).
func (r *Registry) RecordHit(bp *Breakpoint) (limitReached bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	bp.HitCount++
	return bp.HitLimit != 0 && bp.HitCount >= bp.HitLimit
}

// List returns a snapshot of every breakpoint currently installed.
func (r *Registry) List() []Breakpoint {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Breakpoint, 0, len(r.sw)+MaxHardwareSlots)
	for _, bp := range r.hw {
		if bp != nil {
			out = append(out, *bp)
		}
	}
	for _, bp := range r.sw {
		out = append(out, *bp)
	}
	return out
}

// ClearAll removes every breakpoint, draining each slot's handlers the
// same way Remove does.
func (r *Registry) ClearAll() {
	for _, bp := range r.List() {
		_, _ = r.Remove(bp.Address)
	}
}
