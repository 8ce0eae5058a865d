// Package nativeexc holds the architecture-tagged types shared across
// the register-reading and exception-reporting boundary (spec §6): the
// register snapshot the orchestrator saves and restores, and the
// exception payload handed to the UI/RPC layer.
package nativeexc

import "github.com/doranekosystems/dynadbg-core/internal/tracefile"

// ExceptionType classifies what triggered a NativeExceptionInfo.
type ExceptionType int

const (
	Unknown ExceptionType = iota
	BreakpointHit
	WatchpointHit
	SingleStepComplete
	SignalDelivered
)

func (t ExceptionType) String() string {
	switch t {
	case BreakpointHit:
		return "BreakpointHit"
	case WatchpointHit:
		return "WatchpointHit"
	case SingleStepComplete:
		return "SingleStepComplete"
	case SignalDelivered:
		return "SignalDelivered"
	default:
		return "Unknown"
	}
}

// ARM64Registers is the ARM64 branch of RegisterSnapshot (spec §6).
type ARM64Registers struct {
	X    [30]uint64 // x0..x29
	LR   uint64
	SP   uint64
	PC   uint64
	CPSR uint64
	FP   uint64
}

// X86_64Registers is the x86_64 branch of RegisterSnapshot (spec §6).
// Carried for architecture-tag completeness; this engine's decoder and
// trace format only interpret the ARM64 branch.
type X86_64Registers struct {
	RAX, RBX, RCX, RDX       uint64
	RSI, RDI, RBP, RSP       uint64
	R8, R9, R10, R11         uint64
	R12, R13, R14, R15       uint64
	RIP, RFlags              uint64
	CS, SS, DS, ES, FS, GS   uint64
	FSBase, GSBase           uint64
}

// RegisterSnapshot is a tagged union over the two supported
// architectures' general-purpose register sets, captured at one point
// in time for one thread.
type RegisterSnapshot struct {
	Architecture tracefile.Architecture
	ARM64        ARM64Registers
	X86_64       X86_64Registers
}

// NativeExceptionInfo is the payload built by the dispatcher (§4.7 step
// 5) and handed to the UI via ExceptionSink.
type NativeExceptionInfo struct {
	Architecture   tracefile.Architecture
	Registers      RegisterSnapshot
	ExceptionType  ExceptionType
	ThreadID       int
	MemoryAddress  uint64 // fault address or watchpoint target
	SingleStepMode bool
	IsTrace        bool
}
