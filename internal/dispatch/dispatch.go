// Package dispatch implements C7: the exception dispatcher, the single
// entry point the OS-level exception port calls into for every debug
// event on any target thread (spec §4.7). It fans out to the signal
// policy table (C3), the breakpoint and watchpoint registries (C4/C5),
// and the single-step orchestrator (C6), then reports a disposition.
//
// Grounded on the teacher's debug_monitor.go event loop (classify the
// trap, consult the relevant table, decide resume-vs-notify) and its
// zap-free fmt logging replaced here with structured zap logging, per
// the engine-wide ambient logging choice.
package dispatch

import (
	"time"

	"go.uber.org/zap"

	"github.com/doranekosystems/dynadbg-core/internal/breakpoint"
	"github.com/doranekosystems/dynadbg-core/internal/nativeexc"
	"github.com/doranekosystems/dynadbg-core/internal/signalpolicy"
	"github.com/doranekosystems/dynadbg-core/internal/stepstate"
	"github.com/doranekosystems/dynadbg-core/internal/tracefile"
	"github.com/doranekosystems/dynadbg-core/internal/watchpoint"
)

// Cause classifies what the OS reported for a debug event (spec §4.7
// step 1).
type Cause int

const (
	CauseUnknown Cause = iota
	CauseWatchpoint
	CauseHardwareBreakpoint
	CauseSoftwareBreakpoint
	CauseSingleStepComplete
	CauseSignal
)

// Event is what the OS-level exception handler reports to Dispatcher.
// Only the fields relevant to Cause are meaningful.
type Event struct {
	ThreadID      int
	Cause         Cause
	Slot         int    // hardware breakpoint or watchpoint slot index
	FaultAddress uint64 // breakpoint/trap/watchpoint address, or fault address for signals
	SignalNumber int
	Architecture tracefile.Architecture
}

// Disposition is the dispatcher's verdict for one event (spec §4.7 step
// 5 / §7): whether the thread should stop and await the user, and
// whether a signal should still be delivered to the target.
type Disposition struct {
	Stop          bool
	DeliverSignal bool
	Info          nativeexc.NativeExceptionInfo
}

// ExceptionSink is the UI/RPC notification surface (spec §6). Its
// return value decides whether the thread stops and waits, or resumes
// silently.
type ExceptionSink interface {
	SendExceptionInfo(info nativeexc.NativeExceptionInfo) (stop bool)
}

// Controller is the slice of TargetController the dispatcher needs
// directly, beyond what it hands to stepstate.Table. The rearm methods
// (SetWatchpoint, SetHardwareBreakpoint, InstallSoftwareBreakpointTrap,
// LiveThreadIDs) let the dispatcher carry out C6's exit transition
// (spec §4.6): re-enabling a watchpoint or hardware breakpoint, or
// rewriting a software trap, once a single step completes.
type Controller interface {
	stepstate.Controller
	RestoreSoftwareBreakpointBytes(threadID int, addr uint64, original [4]byte) error
	InstallSoftwareBreakpointTrap(threadID int, addr uint64) error
	SetWatchpoint(threadID int, slot int, addr uint64, size int, typ watchpoint.Type) error
	SetHardwareBreakpoint(threadID int, slot int, addr uint64) error
	LiveThreadIDs() []int
}

// TraceSessions resolves and drives the trace session owning a
// BreakpointTrace breakpoint, keeping the dispatcher decoupled from the
// engine's session bookkeeping.
type TraceSessions interface {
	// WriterFor returns the open trace writer for the session anchored
	// at breakpointAddr, or nil if no session is active there.
	WriterFor(breakpointAddr uint64) *tracefile.TraceWriter
	// RecordRow advances the session's row count after a row has been
	// emitted at pc, and reports whether the session has now reached
	// its stop condition (max_count or end_address, spec §4.6).
	RecordRow(breakpointAddr uint64, pc uint64) (shouldStop bool)
	// NextTimestamp returns the next monotonically increasing trace
	// timestamp.
	NextTimestamp() uint64
}

// Dispatcher wires C3/C4/C5/C6 together behind the single OnDebugEvent
// entry point.
type Dispatcher struct {
	Signals     *signalpolicy.Table
	Breakpoints *breakpoint.Registry
	Watchpoints *watchpoint.Registry
	Steps       *stepstate.Table
	Controller  Controller
	Sink        ExceptionSink
	Logger      *zap.Logger
	Trace       TraceSessions
}

// OnDebugEvent is the dispatcher's single entry point (spec §4.7).
func (d *Dispatcher) OnDebugEvent(ev Event) Disposition {
	switch ev.Cause {
	case CauseSignal:
		return d.handleSignal(ev)
	case CauseWatchpoint:
		return d.handleWatchpoint(ev)
	case CauseHardwareBreakpoint:
		return d.handleHardwareBreakpoint(ev)
	case CauseSoftwareBreakpoint:
		return d.handleSoftwareBreakpoint(ev)
	case CauseSingleStepComplete:
		return d.handleSingleStepComplete(ev)
	default:
		return d.notify(ev, nativeexc.Unknown, false)
	}
}

// handleSignal applies C3's policy (spec §4.7 step 2): signals the
// table doesn't catch are resumed silently, delivering the signal iff
// pass=true; everything else proceeds to a UI notification.
func (d *Dispatcher) handleSignal(ev Event) Disposition {
	cfg := d.Signals.Get(ev.SignalNumber)
	if !cfg.Catch {
		return Disposition{Stop: false, DeliverSignal: cfg.Pass}
	}
	return d.notify(ev, nativeexc.SignalDelivered, false)
}

// handleWatchpoint admits the slot, hands off to C6, and notifies.
func (d *Dispatcher) handleWatchpoint(ev Event) Disposition {
	wp, ok := d.Watchpoints.LookupSlot(ev.Slot)
	if !ok {
		return d.notify(ev, nativeexc.Unknown, false)
	}
	if !wp.Admit() {
		// A removal is in flight; let the removal's own drain handle
		// quiescence and resume this thread silently.
		return Disposition{Stop: false}
	}
	defer wp.Release()

	if err := d.Steps.EnterWatchpoint(d.Controller, ev.ThreadID, ev.Slot); err != nil {
		d.logOSFailure(ev.ThreadID, err)
		return d.notify(ev, nativeexc.Unknown, false)
	}
	return d.notify(ev, nativeexc.WatchpointHit, false)
}

// handleHardwareBreakpoint admits the slot, consults whether a trace
// session owns this breakpoint, hands off to C6, and notifies.
func (d *Dispatcher) handleHardwareBreakpoint(ev Event) Disposition {
	bp, ok := d.Breakpoints.Lookup(ev.FaultAddress)
	if !ok || bp.Software {
		return d.notify(ev, nativeexc.Unknown, false)
	}
	if !bp.Admit() {
		return Disposition{Stop: false}
	}
	defer bp.Release()

	trace := bp.OnHitAction == breakpoint.TraceAndContinue
	if err := d.Steps.EnterHardwareBreakpoint(d.Controller, ev.ThreadID, bp.SlotIndex, trace); err != nil {
		d.logOSFailure(ev.ThreadID, err)
		return d.notify(ev, nativeexc.Unknown, false)
	}
	limitReached := d.Breakpoints.RecordHit(bp)
	if trace && d.Trace != nil {
		// The trap fires before the instruction at the breakpoint
		// address executes, so the first trace row — capturing that
		// address — is emitted here rather than waiting for the first
		// single-step completion (spec §8 scenario 3).
		d.emitTraceRowAndMaybeEnd(ev.ThreadID, bp.Address)
		return Disposition{Stop: false}
	}
	if bp.OnHitAction == breakpoint.SilentContinue && !limitReached {
		return Disposition{Stop: false}
	}
	return d.notify(ev, nativeexc.BreakpointHit, trace)
}

// handleSoftwareBreakpoint mirrors handleHardwareBreakpoint for traps
// (spec §4.4 step 3, §4.6's SW BP row): restore the original bytes
// before handing off, since the thread must execute the real
// instruction during its single step.
func (d *Dispatcher) handleSoftwareBreakpoint(ev Event) Disposition {
	bp, ok := d.Breakpoints.Lookup(ev.FaultAddress)
	if !ok || !bp.Software {
		return d.notify(ev, nativeexc.Unknown, false)
	}
	if !bp.Admit() {
		return Disposition{Stop: false}
	}
	defer bp.Release()

	if err := d.Controller.RestoreSoftwareBreakpointBytes(ev.ThreadID, bp.Address, bp.OriginalBytes); err != nil {
		d.logOSFailure(ev.ThreadID, err)
		return d.notify(ev, nativeexc.Unknown, false)
	}
	if err := d.Steps.EnterSoftwareBreakpoint(d.Controller, ev.ThreadID, bp.SlotIndex, true); err != nil {
		d.logOSFailure(ev.ThreadID, err)
		return d.notify(ev, nativeexc.Unknown, false)
	}

	limitReached := d.Breakpoints.RecordHit(bp)
	if bp.OnHitAction == breakpoint.SilentContinue && !limitReached {
		return Disposition{Stop: false}
	}
	return d.notify(ev, nativeexc.BreakpointHit, false)
}

// handleSingleStepComplete runs C6's exit transition and applies its
// side effects (spec §4.7 step 4, §4.6): re-enabling a watchpoint or
// hardware breakpoint on every live thread, or rewriting a software trap
// once, before reporting completion.
func (d *Dispatcher) handleSingleStepComplete(ev Event) Disposition {
	prev, hasState := d.Steps.Get(ev.ThreadID)
	stillUsed := true
	var rearmWP *watchpoint.Watchpoint
	var rearmBP *breakpoint.Breakpoint
	switch prev.Mode {
	case stepstate.Watchpoint:
		rearmWP, stillUsed = d.Watchpoints.LookupSlot(prev.CurrentWatchpointIndex)
	case stepstate.HardwareBreakpointContinue:
		rearmBP, stillUsed = d.Breakpoints.LookupHardwareSlot(prev.CurrentBreakpointIndex)
	case stepstate.SoftwareBreakpointContinue:
		rearmBP, _ = d.Breakpoints.LookupSoftwareSlot(prev.CurrentSoftwareBreakpointIndex)
	}

	result, err := d.Steps.ExitSingleStep(d.Controller, ev.ThreadID, stillUsed)
	if err != nil {
		d.logOSFailure(ev.ThreadID, err)
		return d.notify(ev, nativeexc.Unknown, false)
	}

	if result.RearmWatchpoint && rearmWP != nil {
		d.rearmWatchpoint(rearmWP)
	}
	if result.RearmHardwareBreakpoint && rearmBP != nil {
		d.rearmHardwareBreakpoint(rearmBP)
	}
	if result.RewriteTrap && rearmBP != nil {
		d.rewriteSoftwareTrap(rearmBP)
	}

	if result.ContinueTracing && hasState && d.Trace != nil {
		d.emitTraceRowAndMaybeEnd(ev.ThreadID, prev.SavedRegisters.ARM64.PC)
		return Disposition{Stop: false}
	}

	return d.notify(ev, nativeexc.SingleStepComplete, false)
}

// rearmWatchpoint re-programs wp on every live thread (spec §4.6:
// Watchpoint exit -> "re-enable WP[w]").
func (d *Dispatcher) rearmWatchpoint(wp *watchpoint.Watchpoint) {
	for _, tid := range d.Controller.LiveThreadIDs() {
		if err := d.Controller.SetWatchpoint(tid, wp.SlotIndex, wp.Address, wp.Size, wp.Type); err != nil {
			d.logOSFailure(tid, err)
		}
	}
}

// rearmHardwareBreakpoint re-programs bp on every live thread (spec
// §4.6: HardwareBreakpointContinue exit -> "re-enable BP[b]").
func (d *Dispatcher) rearmHardwareBreakpoint(bp *breakpoint.Breakpoint) {
	for _, tid := range d.Controller.LiveThreadIDs() {
		if err := d.Controller.SetHardwareBreakpoint(tid, bp.SlotIndex, bp.Address); err != nil {
			d.logOSFailure(tid, err)
		}
	}
}

// rewriteSoftwareTrap re-installs bp's trap instruction (spec §4.6:
// SoftwareBreakpointContinue exit -> "rewrite the trap at address"). A
// software trap patches the shared instruction stream once, so a single
// live thread's handle suffices.
func (d *Dispatcher) rewriteSoftwareTrap(bp *breakpoint.Breakpoint) {
	threads := d.Controller.LiveThreadIDs()
	if len(threads) == 0 {
		return
	}
	if err := d.Controller.InstallSoftwareBreakpointTrap(threads[0], bp.Address); err != nil {
		d.logOSFailure(threads[0], err)
	}
}

// emitTraceRowAndMaybeEnd appends one trace row for threadID to the
// session anchored at anchor (the breakpoint address that started the
// trace), and ends the trace if the session reports its stop condition
// has been reached (spec §4.6: "on stop → Rearm-or-Delete").
func (d *Dispatcher) emitTraceRowAndMaybeEnd(threadID int, anchor uint64) {
	writer := d.Trace.WriterFor(anchor)
	if writer == nil {
		return
	}
	regs, err := d.Controller.ReadRegisters(threadID)
	if err != nil {
		d.logOSFailure(threadID, err)
		return
	}
	ts := d.Trace.NextTimestamp()
	if err := stepstate.EmitTraceRow(d.Controller, writer, threadID, ts); err != nil {
		d.Logger.Warn("trace row emission failed", zap.Int("thread_id", threadID), zap.Error(err))
	}
	if d.Trace.RecordRow(anchor, regs.ARM64.PC) {
		if err := d.Steps.EndTrace(d.Controller, threadID); err != nil {
			d.logOSFailure(threadID, err)
		}
	}
}

// notify builds a NativeExceptionInfo and asks the sink whether to stop
// (spec §4.7 step 5).
func (d *Dispatcher) notify(ev Event, typ nativeexc.ExceptionType, isTrace bool) Disposition {
	regs, _ := d.Controller.ReadRegisters(ev.ThreadID)
	info := nativeexc.NativeExceptionInfo{
		Architecture:   ev.Architecture,
		Registers:      regs,
		ExceptionType:  typ,
		ThreadID:       ev.ThreadID,
		MemoryAddress:  ev.FaultAddress,
		SingleStepMode: typ == nativeexc.SingleStepComplete,
		IsTrace:        isTrace,
	}
	stop := false
	if d.Sink != nil {
		stop = d.Sink.SendExceptionInfo(info)
	}
	return Disposition{Stop: stop, Info: info}
}

func (d *Dispatcher) logOSFailure(threadID int, err error) {
	if d.Logger != nil {
		d.Logger.Warn("OS call failed during debug transition",
			zap.Int("thread_id", threadID), zap.Error(err), zap.Duration("since_start", 0*time.Second))
	}
}
