// Command dynadbg-sim is a headless harness that wires an Engine
// against an in-process simulated target, arming one hardware breakpoint
// and delivering one debug event for it without a real ptrace-equivalent
// backend.
package main

import (
	"flag"
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/doranekosystems/dynadbg-core/internal/breakpoint"
	"github.com/doranekosystems/dynadbg-core/internal/config"
	"github.com/doranekosystems/dynadbg-core/internal/dispatch"
	"github.com/doranekosystems/dynadbg-core/internal/engine"
	"github.com/doranekosystems/dynadbg-core/internal/nativeexc"
	"github.com/doranekosystems/dynadbg-core/internal/watchpoint"
)

// simTarget is a minimal in-process stand-in for the platform-specific
// process-control layer (spec §6's TargetController), just enough to
// drive an Engine through its lifecycle for inspection.
type simTarget struct {
	mu   sync.Mutex
	mem  map[uint64][]byte
	regs map[int]nativeexc.RegisterSnapshot
}

func newSimTarget() *simTarget {
	return &simTarget{mem: make(map[uint64][]byte), regs: make(map[int]nativeexc.RegisterSnapshot)}
}

func (s *simTarget) LiveThreadIDs() []int { return []int{1} }

func (s *simTarget) ReadMemory(threadID int, addr uint64, size int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.mem[addr]; ok {
		return b, nil
	}
	return make([]byte, size), nil
}

func (s *simTarget) WriteMemory(threadID int, addr uint64, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mem[addr] = append([]byte(nil), data...)
	return nil
}

func (s *simTarget) ReadRegisters(threadID int) (nativeexc.RegisterSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.regs[threadID], nil
}

func (s *simTarget) WriteRegisters(threadID int, regs nativeexc.RegisterSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.regs[threadID] = regs
	return nil
}

func (s *simTarget) SetHardwareBreakpoint(threadID, slot int, addr uint64) error { return nil }
func (s *simTarget) ClearHardwareBreakpoint(threadID, slot int) error           { return nil }
func (s *simTarget) SetWatchpoint(threadID, slot int, addr uint64, size int, typ watchpoint.Type) error {
	return nil
}
func (s *simTarget) ClearWatchpoint(threadID, slot int) error          { return nil }
func (s *simTarget) SetSingleStep(threadID int, enabled bool) error    { return nil }
func (s *simTarget) InstallSoftwareBreakpointTrap(threadID int, addr uint64) error { return nil }
func (s *simTarget) RestoreSoftwareBreakpointBytes(threadID int, addr uint64, original [4]byte) error {
	return nil
}

type logSink struct{ logger *zap.Logger }

func (l logSink) SendExceptionInfo(info nativeexc.NativeExceptionInfo) bool {
	l.logger.Info("exception",
		zap.String("type", info.ExceptionType.String()),
		zap.Int("thread_id", info.ThreadID),
		zap.Uint64("address", info.MemoryAddress))
	return true
}

func main() {
	addr := flag.Uint64("address", 0x400000, "address to set a hardware breakpoint at")
	flag.Parse()

	logger, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init failed:", err)
		os.Exit(1)
	}
	defer logger.Sync()

	target := newSimTarget()
	eng := engine.New(target, logSink{logger}, config.Load(), logger)

	if err := eng.Attach(os.Getpid()); err != nil {
		logger.Fatal("attach failed", zap.Error(err))
	}
	defer eng.Detach()

	bp, err := eng.SetHardwareBreakpoint(*addr, 0, breakpoint.Notify)
	if err != nil {
		logger.Fatal("set breakpoint failed", zap.Error(err))
	}
	logger.Info("breakpoint armed", zap.Uint64("address", bp.Address), zap.Int("slot", bp.SlotIndex))

	eng.OnDebugEvent(dispatch.Event{ThreadID: 1, Cause: dispatch.CauseHardwareBreakpoint, FaultAddress: *addr})
}
