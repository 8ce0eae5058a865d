package watchpoint

import (
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeProgrammer struct {
	mu      sync.Mutex
	threads []int
	// programmed[threadID][slot] = true once programmed
	programmed map[int]map[int]bool
	failThread int // ProgramWatchpoint fails for this thread id if >= 0
}

func newFakeProgrammer(threads ...int) *fakeProgrammer {
	return &fakeProgrammer{threads: threads, programmed: make(map[int]map[int]bool), failThread: -1}
}

func (f *fakeProgrammer) LiveThreadIDs() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]int, len(f.threads))
	copy(out, f.threads)
	return out
}

func (f *fakeProgrammer) ProgramWatchpoint(threadID, slot int, addr uint64, size int, typ Type) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if threadID == f.failThread {
		return errors.New("injected failure")
	}
	if f.programmed[threadID] == nil {
		f.programmed[threadID] = make(map[int]bool)
	}
	f.programmed[threadID][slot] = true
	return nil
}

func (f *fakeProgrammer) ClearWatchpoint(threadID, slot int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.programmed[threadID] != nil {
		delete(f.programmed[threadID], slot)
	}
	return nil
}

func (f *fakeProgrammer) isProgrammed(threadID, slot int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.programmed[threadID] != nil && f.programmed[threadID][slot]
}

func TestRegistry_SetProgramsEveryLiveThread(t *testing.T) {
	prog := newFakeProgrammer(1, 2, 3)
	r := New(time.Second, prog)

	wp, err := r.Set(0x2000, 4, Write)
	if err != nil {
		t.Fatalf("Set: %v", err)
	}
	for _, tid := range []int{1, 2, 3} {
		if !prog.isProgrammed(tid, wp.SlotIndex) {
			t.Fatalf("thread %d not programmed for slot %d", tid, wp.SlotIndex)
		}
	}
}

func TestRegistry_SetRollsBackOnPartialFailure(t *testing.T) {
	prog := newFakeProgrammer(1, 2, 3)
	prog.failThread = 3
	r := New(time.Second, prog)

	if _, err := r.Set(0x2000, 4, Write); err == nil {
		t.Fatal("expected an error from the injected failure")
	}
	for _, tid := range []int{1, 2, 3} {
		if prog.isProgrammed(tid, 0) {
			t.Fatalf("thread %d still programmed after rollback", tid)
		}
	}
	// The slot must be free again after rollback. Stop injecting failures
	// so this Set can only fail if the slot leaked.
	prog.failThread = -1
	if _, err := r.Set(0x3000, 4, Write); err != nil {
		t.Fatalf("slot not freed after rollback: %v", err)
	}
}

func TestRegistry_RejectsInvalidSize(t *testing.T) {
	prog := newFakeProgrammer(1)
	r := New(time.Second, prog)
	if _, err := r.Set(0x1000, 3, Read); err != ErrInvalidSize {
		t.Fatalf("err = %v, want ErrInvalidSize", err)
	}
}

func TestRegistry_OutOfSlots(t *testing.T) {
	prog := newFakeProgrammer(1)
	r := New(time.Second, prog)
	for i := 0; i < MaxSlots; i++ {
		if _, err := r.Set(uint64(i+1)*0x1000, 4, Read); err != nil {
			t.Fatalf("Set(%d): %v", i, err)
		}
	}
	if _, err := r.Set(0xFFFF, 4, Read); err != ErrOutOfSlots {
		t.Fatalf("err = %v, want ErrOutOfSlots", err)
	}
}

func TestRegistry_RemoveClearsEveryThread(t *testing.T) {
	prog := newFakeProgrammer(1, 2)
	r := New(time.Second, prog)
	wp, _ := r.Set(0x4000, 8, ReadWrite)

	clean, err := r.Remove(0x4000)
	if err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if !clean {
		t.Fatal("expected a clean drain")
	}
	for _, tid := range []int{1, 2} {
		if prog.isProgrammed(tid, wp.SlotIndex) {
			t.Fatalf("thread %d still programmed after Remove", tid)
		}
	}
	if _, ok := r.Lookup(0x4000); ok {
		t.Fatal("watchpoint still present after Remove")
	}
}

func TestRegistry_ProgramNewThreadMirrorsExistingSlots(t *testing.T) {
	prog := newFakeProgrammer(1)
	r := New(time.Second, prog)
	wp, _ := r.Set(0x5000, 2, Read)

	prog.mu.Lock()
	prog.threads = append(prog.threads, 2)
	prog.mu.Unlock()

	if err := r.ProgramNewThread(2); err != nil {
		t.Fatalf("ProgramNewThread: %v", err)
	}
	if !prog.isProgrammed(2, wp.SlotIndex) {
		t.Fatal("new thread did not get the existing watchpoint mirrored")
	}
}

func TestRegistry_LookupSlotByIndex(t *testing.T) {
	prog := newFakeProgrammer(1)
	r := New(time.Second, prog)
	wp, _ := r.Set(0x6000, 4, Write)

	got, ok := r.LookupSlot(wp.SlotIndex)
	if !ok || got.Address != 0x6000 {
		t.Fatalf("LookupSlot = %+v, %v", got, ok)
	}
	if _, ok := r.LookupSlot(MaxSlots); ok {
		t.Fatal("LookupSlot accepted an out-of-range index")
	}
}
