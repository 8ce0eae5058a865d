package breakpoint

import (
	"sync"
	"testing"
	"time"
)

func TestRegistry_SetAndLookupHardware(t *testing.T) {
	r := New(time.Second, 16)
	bp, err := r.SetHardware(0x1000, 0, Notify)
	if err != nil {
		t.Fatalf("SetHardware: %v", err)
	}
	if bp.SlotIndex != 0 || bp.Address != 0x1000 {
		t.Fatalf("got %+v", bp)
	}

	got, ok := r.Lookup(0x1000)
	if !ok || got.Address != 0x1000 {
		t.Fatalf("Lookup = %+v, %v", got, ok)
	}
}

func TestRegistry_SetHardwareRejectsDuplicate(t *testing.T) {
	r := New(time.Second, 16)
	if _, err := r.SetHardware(0x1000, 0, Notify); err != nil {
		t.Fatalf("SetHardware: %v", err)
	}
	if _, err := r.SetHardware(0x1000, 0, Notify); err != ErrAlreadySet {
		t.Fatalf("err = %v, want ErrAlreadySet", err)
	}
}

func TestRegistry_HardwareSlotsExhausted(t *testing.T) {
	r := New(time.Second, 16)
	for i := 0; i < MaxHardwareSlots; i++ {
		if _, err := r.SetHardware(uint64(i+1)*0x100, 0, Notify); err != nil {
			t.Fatalf("SetHardware(%d): %v", i, err)
		}
	}
	if _, err := r.SetHardware(0xFFFF, 0, Notify); err != ErrOutOfSlots {
		t.Fatalf("err = %v, want ErrOutOfSlots", err)
	}
}

func TestRegistry_SoftwareCeilingEnforced(t *testing.T) {
	r := New(time.Second, 2)
	if _, err := r.SetSoftware(0x1, [4]byte{}, 0, Notify); err != nil {
		t.Fatalf("SetSoftware: %v", err)
	}
	if _, err := r.SetSoftware(0x2, [4]byte{}, 0, Notify); err != nil {
		t.Fatalf("SetSoftware: %v", err)
	}
	if _, err := r.SetSoftware(0x3, [4]byte{}, 0, Notify); err != ErrOutOfSlots {
		t.Fatalf("err = %v, want ErrOutOfSlots", err)
	}
}

func TestRegistry_RemoveThenLookupFails(t *testing.T) {
	r := New(time.Second, 16)
	if _, err := r.SetHardware(0x2000, 0, Notify); err != nil {
		t.Fatalf("SetHardware: %v", err)
	}
	clean, err := r.Remove(0x2000)
	if err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if !clean {
		t.Fatal("expected a clean drain with no concurrent handlers")
	}
	if _, ok := r.Lookup(0x2000); ok {
		t.Fatal("breakpoint still present after Remove")
	}
	if _, err := r.Remove(0x2000); err != ErrNotFound {
		t.Fatalf("second Remove err = %v, want ErrNotFound", err)
	}
}

func TestRegistry_RemoveUnknownAddressFails(t *testing.T) {
	r := New(time.Second, 16)
	if _, err := r.Remove(0xDEAD); err != ErrNotFound {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestRegistry_RecordHitReportsLimitReached(t *testing.T) {
	r := New(time.Second, 16)
	bp, _ := r.SetHardware(0x3000, 2, Notify)

	if r.RecordHit(bp) {
		t.Fatal("limit reached after first hit, want false")
	}
	if !r.RecordHit(bp) {
		t.Fatal("limit not reached after second hit, want true")
	}
}

func TestRegistry_RecordHitNeverTripsWhenUnlimited(t *testing.T) {
	r := New(time.Second, 16)
	bp, _ := r.SetHardware(0x3000, 0, Notify)
	for i := 0; i < 100; i++ {
		if r.RecordHit(bp) {
			t.Fatalf("hit %d reported limit reached with HitLimit=0", i)
		}
	}
}

func TestRegistry_ClearAllRemovesEverything(t *testing.T) {
	r := New(time.Second, 16)
	r.SetHardware(0x1000, 0, Notify)
	r.SetSoftware(0x2000, [4]byte{}, 0, Notify)
	r.ClearAll()
	if len(r.List()) != 0 {
		t.Fatalf("List() = %v, want empty", r.List())
	}
}

func TestRegistry_RemoveWaitsForConcurrentHandlers(t *testing.T) {
	r := New(time.Second, 16)
	bp, _ := r.SetHardware(0x4000, 0, Notify)

	if !bp.Admit() {
		t.Fatal("Admit refused before any removal")
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		time.Sleep(20 * time.Millisecond)
		bp.Release()
	}()

	clean, err := r.Remove(0x4000)
	if err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if !clean {
		t.Fatal("expected a clean drain within the timeout")
	}
	wg.Wait()
}

func TestRegistry_AdmitRejectedDuringRemoval(t *testing.T) {
	r := New(100*time.Millisecond, 16)
	bp, _ := r.SetHardware(0x5000, 0, Notify)

	if !bp.Admit() {
		t.Fatal("Admit refused before any removal")
	}

	removalDone := make(chan bool, 1)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := r.Remove(0x5000)
		removalDone <- (err == nil)
	}()

	// Give Remove a moment to flip the slot into "removing" before the
	// first handler releases, so this Admit races against it honestly.
	time.Sleep(5 * time.Millisecond)
	if bp.Admit() {
		t.Fatal("Admit succeeded while removal was in flight")
	}

	bp.Release()
	if !<-removalDone {
		t.Fatal("Remove returned an error")
	}
	wg.Wait()
}
