package engine

import (
	"github.com/doranekosystems/dynadbg-core/internal/nativeexc"
	"github.com/doranekosystems/dynadbg-core/internal/watchpoint"
)

// TargetController is the external process-control surface
// (ptrace-equivalent), spec §6. Implemented by the out-of-scope
// process/thread layer; the engine's only way of touching the target.
type TargetController interface {
	ReadMemory(threadID int, addr uint64, size int) ([]byte, error)
	WriteMemory(threadID int, addr uint64, data []byte) error
	ReadRegisters(threadID int) (nativeexc.RegisterSnapshot, error)
	WriteRegisters(threadID int, regs nativeexc.RegisterSnapshot) error
	SetHardwareBreakpoint(threadID int, slot int, addr uint64) error
	ClearHardwareBreakpoint(threadID int, slot int) error
	SetWatchpoint(threadID int, slot int, addr uint64, size int, typ watchpoint.Type) error
	ClearWatchpoint(threadID int, slot int) error
	SetSingleStep(threadID int, enabled bool) error
	InstallSoftwareBreakpointTrap(threadID int, addr uint64) error
	RestoreSoftwareBreakpointBytes(threadID int, addr uint64, original [4]byte) error
	LiveThreadIDs() []int
}

// ExceptionSink is the UI/RPC notification surface (spec §4.7 step 5,
// §6).
type ExceptionSink interface {
	SendExceptionInfo(info nativeexc.NativeExceptionInfo) (stop bool)
}

// controllerAdapter narrows TargetController down to the interfaces
// the breakpoint/watchpoint/stepstate/dispatch packages each declare
// for themselves, so those packages stay decoupled from the full
// engine-level surface.
type controllerAdapter struct {
	TargetController
}

func (a controllerAdapter) ProgramWatchpoint(threadID, slot int, addr uint64, size int, typ watchpoint.Type) error {
	return a.SetWatchpoint(threadID, slot, addr, size, typ)
}
