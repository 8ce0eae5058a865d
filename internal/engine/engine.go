// Package engine assembles C1-C7 behind one façade (spec §6): the
// registries, the signal policy table, the single-step orchestrator and
// the dispatcher, wired against a caller-supplied TargetController.
//
// Grounded on the teacher's top-level Engine/System struct (cpu.go,
// system.go) that owns every subsystem and exposes a narrow public API
// to main.go; the wiring style (construct once, pass adapters down) is
// the same shape used there for its CPU/bus/device graph.
package engine

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/doranekosystems/dynadbg-core/internal/breakpoint"
	"github.com/doranekosystems/dynadbg-core/internal/config"
	"github.com/doranekosystems/dynadbg-core/internal/dispatch"
	"github.com/doranekosystems/dynadbg-core/internal/nativeexc"
	"github.com/doranekosystems/dynadbg-core/internal/signalpolicy"
	"github.com/doranekosystems/dynadbg-core/internal/stepstate"
	"github.com/doranekosystems/dynadbg-core/internal/tracefile"
	"github.com/doranekosystems/dynadbg-core/internal/watchpoint"
)

// Engine is the debugger core (spec §1): one instance attaches to one
// target process and owns its breakpoints, watchpoints, signal policy
// and active traces.
type Engine struct {
	cfg    config.EngineConfig
	ctrl   TargetController
	logger *zap.Logger

	Breakpoints *breakpoint.Registry
	Watchpoints *watchpoint.Registry
	Signals     *signalpolicy.Table
	Steps       *stepstate.Table
	Traces      *TraceManager
	dispatcher  *dispatch.Dispatcher

	pid     int
	attached bool
}

// New constructs an Engine around ctrl and sink, using cfg for slot
// limits, drain timeouts and trace file placement (spec §6, §9).
func New(ctrl TargetController, sink ExceptionSink, cfg config.EngineConfig, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	adapter := controllerAdapter{ctrl}

	e := &Engine{
		cfg:         cfg,
		ctrl:        ctrl,
		logger:      logger,
		Breakpoints: breakpoint.New(cfg.HandlerDrainTimeout, cfg.MaxSoftwareBreakpoints),
		Watchpoints: watchpoint.New(cfg.HandlerDrainTimeout, adapter),
		Signals:     signalpolicy.New(),
		Steps:       stepstate.NewTable(),
		Traces:      NewTraceManager(cfg.OutputDir),
	}
	e.dispatcher = &dispatch.Dispatcher{
		Signals:     e.Signals,
		Breakpoints: e.Breakpoints,
		Watchpoints: e.Watchpoints,
		Steps:       e.Steps,
		Controller:  adapter,
		Sink:        sink,
		Logger:      logger,
		Trace:       e.Traces,
	}
	return e
}

// NewFromEnv constructs an Engine using config.Load for its settings
// (spec §9's ambient configuration surface).
func NewFromEnv(ctrl TargetController, sink ExceptionSink, logger *zap.Logger) *Engine {
	return New(ctrl, sink, config.Load(), logger)
}

// OnDebugEvent is the single entry point the OS-level exception port
// calls into for every debug event (spec §4.7).
func (e *Engine) OnDebugEvent(ev dispatch.Event) dispatch.Disposition {
	return e.dispatcher.OnDebugEvent(ev)
}

// Attach marks the engine as bound to pid. Process attachment itself
// (ptrace(PTRACE_ATTACH) or the platform equivalent) is the out-of-scope
// collaborator concern named by TargetController's construction; Attach
// only records bookkeeping and mirrors any already-armed watchpoints
// onto the threads the controller now reports live.
func (e *Engine) Attach(pid int) error {
	e.pid = pid
	e.attached = true
	for _, tid := range e.ctrl.LiveThreadIDs() {
		if err := e.Watchpoints.ProgramNewThread(tid); err != nil {
			return wrap(KindOSFailure, "Attach", err)
		}
	}
	return nil
}

// Detach clears every breakpoint and watchpoint and forgets the target.
func (e *Engine) Detach() error {
	if !e.attached {
		return nil
	}
	e.ClearAllBreakpoints()
	for _, wp := range e.Watchpoints.List() {
		e.Watchpoints.Remove(wp.Address)
	}
	e.attached = false
	e.pid = 0
	return nil
}

// Spawn is a thin placeholder: launching and stopping a fresh process at
// its entry point is owned by the out-of-scope process layer that
// implements TargetController. Spawn only validates arguments and
// records that the engine expects a subsequent Attach.
func (e *Engine) Spawn(path string, argv []string) error {
	if path == "" {
		return wrap(KindInvalidArgument, "Spawn", fmt.Errorf("empty path"))
	}
	e.logger.Info("spawn requested", zap.String("path", path), zap.Strings("argv", argv))
	return nil
}

func (e *Engine) onLiveThreads() []int { return e.ctrl.LiveThreadIDs() }

// SetHardwareBreakpoint arms a hardware breakpoint at addr on every live
// thread, rolling back on partial programming failure (spec §4.3).
func (e *Engine) SetHardwareBreakpoint(addr uint64, hitLimit int, action breakpoint.OnHitAction) (*breakpoint.Breakpoint, error) {
	bp, err := e.Breakpoints.SetHardware(addr, hitLimit, action)
	if err != nil {
		return nil, translateBreakpointErr("SetHardwareBreakpoint", err)
	}
	var programmed []int
	for _, tid := range e.onLiveThreads() {
		if err := e.ctrl.SetHardwareBreakpoint(tid, bp.SlotIndex, addr); err != nil {
			for _, done := range programmed {
				if cerr := e.ctrl.ClearHardwareBreakpoint(done, bp.SlotIndex); cerr != nil {
					e.logger.Warn("rollback failed to clear hardware breakpoint",
						zap.Int("thread_id", done), zap.Error(cerr))
				}
			}
			e.Breakpoints.Remove(addr)
			return nil, wrap(KindOSFailure, "SetHardwareBreakpoint", err)
		}
		programmed = append(programmed, tid)
	}
	return bp, nil
}

// SetSoftwareBreakpoint patches a trap instruction at addr, saving the
// original bytes for later restoration (spec §4.4).
func (e *Engine) SetSoftwareBreakpoint(addr uint64, hitLimit int, action breakpoint.OnHitAction) (*breakpoint.Breakpoint, error) {
	threads := e.onLiveThreads()
	if len(threads) == 0 {
		return nil, wrap(KindOSFailure, "SetSoftwareBreakpoint", fmt.Errorf("no live threads"))
	}
	original, err := e.ctrl.ReadMemory(threads[0], addr, 4)
	if err != nil {
		return nil, wrap(KindOSFailure, "SetSoftwareBreakpoint", err)
	}
	var orig [4]byte
	copy(orig[:], original)

	bp, err := e.Breakpoints.SetSoftware(addr, orig, hitLimit, action)
	if err != nil {
		return nil, translateBreakpointErr("SetSoftwareBreakpoint", err)
	}
	if err := e.ctrl.InstallSoftwareBreakpointTrap(threads[0], addr); err != nil {
		e.Breakpoints.Remove(addr)
		return nil, wrap(KindOSFailure, "SetSoftwareBreakpoint", err)
	}
	return bp, nil
}

// RemoveBreakpoint clears addr's trap (hardware register or patched
// bytes, on every live thread) and drains any in-flight handler before
// freeing the slot (spec §4.3/§4.4, §9).
func (e *Engine) RemoveBreakpoint(addr uint64) error {
	bp, ok := e.Breakpoints.Lookup(addr)
	if !ok {
		return wrap(KindNotFound, "RemoveBreakpoint", breakpoint.ErrNotFound)
	}
	if bp.Software {
		if threads := e.onLiveThreads(); len(threads) > 0 {
			if err := e.ctrl.RestoreSoftwareBreakpointBytes(threads[0], addr, bp.OriginalBytes); err != nil {
				e.logger.Warn("failed to restore original bytes", zap.Uint64("address", addr), zap.Error(err))
			}
		}
	} else {
		for _, tid := range e.onLiveThreads() {
			if err := e.ctrl.ClearHardwareBreakpoint(tid, bp.SlotIndex); err != nil {
				e.logger.Warn("failed to clear hardware breakpoint", zap.Int("thread_id", tid), zap.Error(err))
			}
		}
	}
	drainedCleanly, err := e.Breakpoints.Remove(addr)
	if err != nil {
		return translateBreakpointErr("RemoveBreakpoint", err)
	}
	if !drainedCleanly {
		e.logger.Warn("breakpoint handler drain timed out; handler count force-reset", zap.Uint64("address", addr))
		return wrap(KindHandlerDrainTimeout, "RemoveBreakpoint", ErrHandlerDrainTimeout)
	}
	return nil
}

// ListBreakpoints returns a snapshot of every armed breakpoint.
func (e *Engine) ListBreakpoints() []breakpoint.Breakpoint { return e.Breakpoints.List() }

// ClearAllBreakpoints removes every armed breakpoint.
func (e *Engine) ClearAllBreakpoints() error {
	var firstErr error
	for _, bp := range e.Breakpoints.List() {
		if err := e.RemoveBreakpoint(bp.Address); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// SetWatchpoint arms a hardware watchpoint mirrored across every live
// thread (spec §4.5).
func (e *Engine) SetWatchpoint(addr uint64, size int, typ watchpoint.Type) (*watchpoint.Watchpoint, error) {
	wp, err := e.Watchpoints.Set(addr, size, typ)
	if err != nil {
		return nil, translateWatchpointErr("SetWatchpoint", err)
	}
	return wp, nil
}

// RemoveWatchpoint clears addr's watchpoint across every live thread.
func (e *Engine) RemoveWatchpoint(addr uint64) error {
	drainedCleanly, err := e.Watchpoints.Remove(addr)
	if err != nil {
		return translateWatchpointErr("RemoveWatchpoint", err)
	}
	if !drainedCleanly {
		e.logger.Warn("watchpoint handler drain timed out; handler count force-reset", zap.Uint64("address", addr))
	}
	return nil
}

// ListWatchpoints returns a snapshot of every armed watchpoint.
func (e *Engine) ListWatchpoints() []watchpoint.Watchpoint { return e.Watchpoints.List() }

// StartTrace begins an instruction trace anchored at addr, arming a
// hardware breakpoint with TraceAndContinue if one is not already set
// there (spec §4.6).
func (e *Engine) StartTrace(addr uint64, endAddress *uint64, maxCount int, arch tracefile.Architecture) (TraceStatus, error) {
	if _, ok := e.Breakpoints.Lookup(addr); !ok {
		if _, err := e.SetHardwareBreakpoint(addr, 0, breakpoint.TraceAndContinue); err != nil {
			return TraceStatus{}, err
		}
	}
	if maxCount <= 0 {
		maxCount = defaultMaxTraceEntries
	}
	session, err := e.Traces.Start(addr, endAddress, maxCount, arch)
	if err != nil {
		return TraceStatus{}, wrap(KindIOFailure, "StartTrace", err)
	}
	return session.status(), nil
}

// StopTrace ends the trace session anchored at addr, closing its file.
func (e *Engine) StopTrace(addr uint64) error {
	if err := e.Traces.Stop(addr); err != nil {
		return wrap(KindNotFound, "StopTrace", err)
	}
	return nil
}

// GetTraceStatus reports the session anchored at addr.
func (e *Engine) GetTraceStatus(addr uint64) (TraceStatus, error) {
	status, ok := e.Traces.Status(addr)
	if !ok {
		return TraceStatus{}, wrap(KindNotFound, "GetTraceStatus", ErrNotFound)
	}
	return status, nil
}

// DownloadTraceFile returns the on-disk path of the trace file anchored
// at addr, for the caller to stream back to the client.
func (e *Engine) DownloadTraceFile(addr uint64) (string, error) {
	path, ok := e.Traces.FilePath(addr)
	if !ok {
		return "", wrap(KindNotFound, "DownloadTraceFile", ErrNotFound)
	}
	return path, nil
}

// GetSignalConfig reports the policy for one signal number.
func (e *Engine) GetSignalConfig(sig int) signalpolicy.Config { return e.Signals.Get(sig) }

// SetSignalConfig updates the policy for one signal number.
func (e *Engine) SetSignalConfig(sig int, cfg signalpolicy.Config) { e.Signals.Set(sig, cfg) }

// SetAllSignalConfigs atomically replaces the whole signal policy table.
func (e *Engine) SetAllSignalConfigs(cfgs map[int]signalpolicy.Config) { e.Signals.SetAll(cfgs) }

// ReadRegisters reads the register snapshot for threadID.
func (e *Engine) ReadRegisters(threadID int) (nativeexc.RegisterSnapshot, error) {
	regs, err := e.ctrl.ReadRegisters(threadID)
	if err != nil {
		return nativeexc.RegisterSnapshot{}, wrap(KindOSFailure, "ReadRegisters", err)
	}
	return regs, nil
}

// WriteRegisters writes a full register snapshot for threadID.
func (e *Engine) WriteRegisters(threadID int, regs nativeexc.RegisterSnapshot) error {
	if err := e.ctrl.WriteRegisters(threadID, regs); err != nil {
		return wrap(KindOSFailure, "WriteRegisters", err)
	}
	return nil
}

// SingleStep requests one instruction step on threadID. Actually
// resuming the thread after the single-step flag is armed is the
// process layer's job; this only toggles the hardware single-step bit.
func (e *Engine) SingleStep(threadID int) error {
	if err := e.ctrl.SetSingleStep(threadID, true); err != nil {
		return wrap(KindOSFailure, "SingleStep", err)
	}
	return nil
}

// defaultMaxTraceEntries bounds a trace started without an explicit
// max_count, mirroring the engine-wide software breakpoint ceiling
// default (spec §9).
const defaultMaxTraceEntries = 1_000_000

func translateBreakpointErr(op string, err error) error {
	switch err {
	case breakpoint.ErrNotFound:
		return wrap(KindNotFound, op, err)
	case breakpoint.ErrOutOfSlots:
		return wrap(KindOutOfSlots, op, err)
	case breakpoint.ErrAlreadySet:
		return wrap(KindInvalidArgument, op, err)
	default:
		return wrap(KindOSFailure, op, err)
	}
}

func translateWatchpointErr(op string, err error) error {
	switch err {
	case watchpoint.ErrNotFound:
		return wrap(KindNotFound, op, err)
	case watchpoint.ErrOutOfSlots:
		return wrap(KindOutOfSlots, op, err)
	case watchpoint.ErrAlreadySet, watchpoint.ErrInvalidSize:
		return wrap(KindInvalidArgument, op, err)
	default:
		return wrap(KindOSFailure, op, err)
	}
}

