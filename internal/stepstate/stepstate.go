// Package stepstate implements C6: the single-step orchestrator and the
// ThreadDebugState table it owns (spec §4.6). It is the only component
// permitted to manipulate a thread's single-step flag; every watchpoint
// or breakpoint hit routes through here before the thread resumes.
//
// Grounded on the teacher's debug_monitor.go trap/resume loop (freeze
// the worker, inspect state, decide the next mode, resume) generalized
// from a single boolean "stopped" flag to the full mode table spec §4.6
// defines.
package stepstate

import (
	"fmt"
	"sync"

	"github.com/doranekosystems/dynadbg-core/internal/armdecode"
	"github.com/doranekosystems/dynadbg-core/internal/nativeexc"
	"github.com/doranekosystems/dynadbg-core/internal/tracefile"
)

// Mode is a per-thread single-step mode (spec §3, §4.6).
type Mode int

const (
	None Mode = iota
	Watchpoint
	BreakpointTrace
	HardwareBreakpointContinue
	SoftwareBreakpoint
	SoftwareBreakpointContinue
)

func (m Mode) String() string {
	switch m {
	case Watchpoint:
		return "Watchpoint"
	case BreakpointTrace:
		return "BreakpointTrace"
	case HardwareBreakpointContinue:
		return "HardwareBreakpointContinue"
	case SoftwareBreakpoint:
		return "SoftwareBreakpoint"
	case SoftwareBreakpointContinue:
		return "SoftwareBreakpointContinue"
	default:
		return "None"
	}
}

// ThreadDebugState is one target thread's saved single-step context
// (spec §3).
type ThreadDebugState struct {
	Mode                           Mode
	StepCount                      int
	CurrentBreakpointIndex         int
	CurrentWatchpointIndex         int
	CurrentSoftwareBreakpointIndex int

	SavedRegisters nativeexc.RegisterSnapshot
}

// Controller is the narrow slice of TargetController the orchestrator
// needs: register and memory access, plus the single-step flag it alone
// is allowed to toggle.
type Controller interface {
	ReadRegisters(threadID int) (nativeexc.RegisterSnapshot, error)
	ReadMemory(threadID int, addr uint64, size int) ([]byte, error)
	SetSingleStep(threadID int, enabled bool) error
}

// Table owns every live thread's ThreadDebugState, keyed by thread id.
// Held only across short state reads/writes, never across calls that
// may themselves stop a thread (spec §5).
type Table struct {
	mu     sync.Mutex
	states map[int]*ThreadDebugState
}

// NewTable returns an empty Table.
func NewTable() *Table {
	return &Table{states: make(map[int]*ThreadDebugState)}
}

// Get returns the current state for threadID, or a zero ThreadDebugState
// and false if the thread is not mid-transition (mode None and never
// recorded).
func (t *Table) Get(threadID int) (ThreadDebugState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.states[threadID]
	if !ok {
		return ThreadDebugState{}, false
	}
	return *s, true
}

func (t *Table) set(threadID int, s ThreadDebugState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.states[threadID] = &s
}

func (t *Table) clear(threadID int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.states, threadID)
}

// EnterWatchpoint records the Watchpoint transition and enables single
// step (spec §4.6: None --watchpoint hit--> Watchpoint).
func (t *Table) EnterWatchpoint(ctrl Controller, threadID, slot int) error {
	regs, err := ctrl.ReadRegisters(threadID)
	if err != nil {
		return fmt.Errorf("stepstate: read registers for thread %d: %w", threadID, err)
	}
	if err := ctrl.SetSingleStep(threadID, true); err != nil {
		return fmt.Errorf("stepstate: enable single-step for thread %d: %w", threadID, err)
	}
	t.set(threadID, ThreadDebugState{
		Mode:                   Watchpoint,
		CurrentWatchpointIndex: slot,
		SavedRegisters:         regs,
	})
	return nil
}

// EnterHardwareBreakpoint records the HardwareBreakpointContinue
// transition, or BreakpointTrace when trace is requested for this hit.
func (t *Table) EnterHardwareBreakpoint(ctrl Controller, threadID, slot int, trace bool) error {
	regs, err := ctrl.ReadRegisters(threadID)
	if err != nil {
		return fmt.Errorf("stepstate: read registers for thread %d: %w", threadID, err)
	}
	if err := ctrl.SetSingleStep(threadID, true); err != nil {
		return fmt.Errorf("stepstate: enable single-step for thread %d: %w", threadID, err)
	}
	mode := HardwareBreakpointContinue
	if trace {
		mode = BreakpointTrace
	}
	t.set(threadID, ThreadDebugState{
		Mode:                    mode,
		CurrentBreakpointIndex:  slot,
		SavedRegisters:          regs,
	})
	return nil
}

// EnterSoftwareBreakpoint records the SoftwareBreakpoint(Continue)
// transition after the caller has already restored the original bytes
// at the trap address.
func (t *Table) EnterSoftwareBreakpoint(ctrl Controller, threadID, slot int, continueAfter bool) error {
	regs, err := ctrl.ReadRegisters(threadID)
	if err != nil {
		return fmt.Errorf("stepstate: read registers for thread %d: %w", threadID, err)
	}
	if err := ctrl.SetSingleStep(threadID, true); err != nil {
		return fmt.Errorf("stepstate: enable single-step for thread %d: %w", threadID, err)
	}
	mode := SoftwareBreakpoint
	if continueAfter {
		mode = SoftwareBreakpointContinue
	}
	t.set(threadID, ThreadDebugState{
		Mode:                           mode,
		CurrentSoftwareBreakpointIndex: slot,
		SavedRegisters:                 regs,
	})
	return nil
}

// ExitTransitionResult reports what the caller must do once the
// orchestrator has finished processing a single-step completion.
type ExitTransitionResult struct {
	PreviousMode Mode

	// RearmWatchpoint is set when the thread was in Watchpoint mode and
	// the slot is still in use (the caller must re-enable it).
	RearmWatchpointSlot int
	RearmWatchpoint     bool

	// RearmHardwareBreakpoint mirrors RearmWatchpoint for
	// HardwareBreakpointContinue.
	RearmHardwareBreakpointSlot int
	RearmHardwareBreakpoint     bool

	// RewriteTrap is set when the thread was in
	// SoftwareBreakpointContinue and the trap must be rewritten at the
	// saved address.
	RewriteTrapSlot int
	RewriteTrap     bool

	// ContinueTracing is set when the thread remains in BreakpointTrace
	// (i.e. single-step completion should emit a row and single-step
	// again, rather than ending the transition).
	ContinueTracing bool
}

// ExitSingleStep runs the exit transition for threadID's current mode
// (spec §4.6's "SS complete" column). It clears MDSCR.SS for every mode
// except BreakpointTrace, which keeps single-step on until EndTrace. stillUsed
// reports whether the watchpoint/breakpoint slot the thread was
// tracking is still installed (false if it was removed mid-step).
func (t *Table) ExitSingleStep(ctrl Controller, threadID int, stillUsed bool) (ExitTransitionResult, error) {
	t.mu.Lock()
	s, ok := t.states[threadID]
	t.mu.Unlock()
	if !ok {
		return ExitTransitionResult{}, fmt.Errorf("stepstate: thread %d has no in-flight transition", threadID)
	}

	result := ExitTransitionResult{PreviousMode: s.Mode}

	switch s.Mode {
	case Watchpoint:
		if err := ctrl.SetSingleStep(threadID, false); err != nil {
			return result, fmt.Errorf("stepstate: disable single-step for thread %d: %w", threadID, err)
		}
		if stillUsed {
			result.RearmWatchpoint = true
			result.RearmWatchpointSlot = s.CurrentWatchpointIndex
		}
		t.clear(threadID)

	case HardwareBreakpointContinue:
		if err := ctrl.SetSingleStep(threadID, false); err != nil {
			return result, fmt.Errorf("stepstate: disable single-step for thread %d: %w", threadID, err)
		}
		if stillUsed {
			result.RearmHardwareBreakpoint = true
			result.RearmHardwareBreakpointSlot = s.CurrentBreakpointIndex
		}
		t.clear(threadID)

	case BreakpointTrace:
		result.ContinueTracing = true
		// The caller decides (via stop-trace flag or trace session
		// bookkeeping) whether to emit another row and keep stepping,
		// or fall through to rearm-or-delete; either way the mode
		// table entry for this thread stays BreakpointTrace until the
		// caller explicitly calls EndTrace.

	case SoftwareBreakpointContinue:
		if err := ctrl.SetSingleStep(threadID, false); err != nil {
			return result, fmt.Errorf("stepstate: disable single-step for thread %d: %w", threadID, err)
		}
		result.RewriteTrap = true
		result.RewriteTrapSlot = s.CurrentSoftwareBreakpointIndex
		t.clear(threadID)

	default:
		t.clear(threadID)
	}

	return result, nil
}

// EndTrace ends a thread's BreakpointTrace mode, disabling single-step
// and clearing its state. Called once the trace session finishes or is
// stopped (spec §4.6: "on stop → Rearm-or-Delete").
func (t *Table) EndTrace(ctrl Controller, threadID int) error {
	if err := ctrl.SetSingleStep(threadID, false); err != nil {
		return fmt.Errorf("stepstate: disable single-step for thread %d: %w", threadID, err)
	}
	t.clear(threadID)
	return nil
}

// EmitTraceRow performs the trace-row emission sequence (spec §4.6): read
// registers, disassemble the current instruction, snapshot x0..x5's
// memory, and append the row via the trace writer. It writes no DYNALOG
// access record for the previous instruction.
func EmitTraceRow(ctrl Controller, writer *tracefile.TraceWriter, threadID int, timestamp uint64) error {
	regs, err := ctrl.ReadRegisters(threadID)
	if err != nil {
		return fmt.Errorf("stepstate: read registers for thread %d: %w", threadID, err)
	}
	arm := regs.ARM64

	var entry tracefile.TraceEntry
	entry.Timestamp = timestamp
	entry.PC = arm.PC
	copy(entry.X[:30], arm.X[:])
	entry.X[30] = arm.LR
	entry.LR = arm.LR
	entry.SP = arm.SP
	entry.CPSR = arm.CPSR

	instrBytes, err := ctrl.ReadMemory(threadID, arm.PC, 4)
	var gpr [31]uint64
	copy(gpr[:30], arm.X[:])
	gpr[30] = arm.LR
	if err == nil && len(instrBytes) == 4 {
		instr := uint32(instrBytes[0]) | uint32(instrBytes[1])<<8 | uint32(instrBytes[2])<<16 | uint32(instrBytes[3])<<24
		entry.InstructionLength = 4
		entry.SetInstruction(armdecode.Disassemble(instr, gpr, arm.SP, arm.PC))
	} else {
		entry.SetInstruction(".word 0x00000000")
	}

	for slot := 0; slot < tracefile.MemorySlots(); slot++ {
		addr := gpr[slot]
		data, err := ctrl.ReadMemory(threadID, addr, tracefile.MemorySlotSize())
		if err != nil || len(data) != tracefile.MemorySlotSize() {
			continue // leave the zero-filled slot as-is
		}
		entry.SetMemorySlot(slot, data)
	}

	return writer.WriteEntry(&entry)
}
