package engine

import (
	"sync"

	"github.com/doranekosystems/dynadbg-core/internal/nativeexc"
	"github.com/doranekosystems/dynadbg-core/internal/watchpoint"
)

// fakeTarget is an in-memory TargetController standing in for the
// out-of-scope ptrace-equivalent process layer, for engine-level tests.
type fakeTarget struct {
	mu      sync.Mutex
	threads []int
	mem     map[uint64][]byte
	regs    map[int]nativeexc.RegisterSnapshot
	hwSlots map[int]map[int]uint64 // threadID -> slot -> addr
	wpSlots map[int]map[int]uint64
	ss      map[int]bool

	failHW  bool // make SetHardwareBreakpoint fail on the last thread to exercise rollback
}

func newFakeTarget(threads ...int) *fakeTarget {
	return &fakeTarget{
		threads: threads,
		mem:     make(map[uint64][]byte),
		regs:    make(map[int]nativeexc.RegisterSnapshot),
		hwSlots: make(map[int]map[int]uint64),
		wpSlots: make(map[int]map[int]uint64),
		ss:      make(map[int]bool),
	}
}

func (f *fakeTarget) LiveThreadIDs() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]int, len(f.threads))
	copy(out, f.threads)
	return out
}

func (f *fakeTarget) ReadMemory(threadID int, addr uint64, size int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.mem[addr]
	if !ok {
		return make([]byte, size), nil
	}
	out := make([]byte, size)
	copy(out, b)
	return out, nil
}

func (f *fakeTarget) WriteMemory(threadID int, addr uint64, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	f.mem[addr] = cp
	return nil
}

func (f *fakeTarget) ReadRegisters(threadID int) (nativeexc.RegisterSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.regs[threadID], nil
}

func (f *fakeTarget) WriteRegisters(threadID int, regs nativeexc.RegisterSnapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.regs[threadID] = regs
	return nil
}

func (f *fakeTarget) SetHardwareBreakpoint(threadID, slot int, addr uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failHW && threadID == f.threads[len(f.threads)-1] {
		return errFakeOSFailure
	}
	if f.hwSlots[threadID] == nil {
		f.hwSlots[threadID] = make(map[int]uint64)
	}
	f.hwSlots[threadID][slot] = addr
	return nil
}

func (f *fakeTarget) ClearHardwareBreakpoint(threadID, slot int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.hwSlots[threadID], slot)
	return nil
}

func (f *fakeTarget) SetWatchpoint(threadID, slot int, addr uint64, size int, typ watchpoint.Type) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.wpSlots[threadID] == nil {
		f.wpSlots[threadID] = make(map[int]uint64)
	}
	f.wpSlots[threadID][slot] = addr
	return nil
}

func (f *fakeTarget) ClearWatchpoint(threadID, slot int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.wpSlots[threadID], slot)
	return nil
}

func (f *fakeTarget) SetSingleStep(threadID int, enabled bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ss[threadID] = enabled
	return nil
}

func (f *fakeTarget) InstallSoftwareBreakpointTrap(threadID int, addr uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mem[addr] = []byte{0, 0, 0, 0}
	return nil
}

func (f *fakeTarget) RestoreSoftwareBreakpointBytes(threadID int, addr uint64, original [4]byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mem[addr] = original[:]
	return nil
}

type fakeErr string

func (e fakeErr) Error() string { return string(e) }

const errFakeOSFailure = fakeErr("fake: OS call failed")

type fakeSink struct {
	mu    sync.Mutex
	stop  bool
	calls int
}

func (f *fakeSink) SendExceptionInfo(info nativeexc.NativeExceptionInfo) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.stop
}
