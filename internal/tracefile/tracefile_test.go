package tracefile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestTraceFile_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.dynatrc")

	w, err := CreateTraceFile(path, ArchARM64)
	if err != nil {
		t.Fatalf("CreateTraceFile: %v", err)
	}

	var want []TraceEntry
	for i := 0; i < 3; i++ {
		var e TraceEntry
		e.Timestamp = uint64(1000 + i)
		e.PC = 0x400000 + uint64(i*4)
		e.X[0] = uint64(i)
		e.SP = 0x7FFFF000
		e.SetInstruction("ldp x4, x2, [sp]")
		if err := w.WriteEntry(&e); err != nil {
			t.Fatalf("WriteEntry(%d): %v", i, err)
		}
		want = append(want, e)
	}
	if w.EntryCount() != 3 {
		t.Fatalf("EntryCount = %d, want 3", w.EntryCount())
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	wantSize := int64(headerSize + 3*traceEntrySize)
	if info.Size() != wantSize {
		t.Fatalf("file size = %d, want %d", info.Size(), wantSize)
	}

	r, err := OpenTraceFile(path)
	if err != nil {
		t.Fatalf("OpenTraceFile: %v", err)
	}
	defer r.Close()

	if r.EntryCount() != 3 {
		t.Fatalf("reader EntryCount = %d, want 3", r.EntryCount())
	}
	if r.Architecture() != ArchARM64 {
		t.Fatalf("Architecture = %v, want ArchARM64", r.Architecture())
	}

	for i := 0; i < 3; i++ {
		got, err := r.ReadEntry(i)
		if err != nil {
			t.Fatalf("ReadEntry(%d): %v", i, err)
		}
		if diff := cmp.Diff(want[i], got); diff != "" {
			t.Fatalf("entry %d mismatch (-want +got):\n%s", i, diff)
		}
		if got.InstructionText() != "ldp x4, x2, [sp]" {
			t.Fatalf("InstructionText = %q", got.InstructionText())
		}
	}

	if _, err := r.ReadEntry(3); err != ErrIndexOutOfRange {
		t.Fatalf("ReadEntry(3) err = %v, want ErrIndexOutOfRange", err)
	}
}

func TestTraceFile_EmptyHasZeroCountBeforeClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.dynatrc")
	w, err := CreateTraceFile(path, ArchARM64)
	if err != nil {
		t.Fatalf("CreateTraceFile: %v", err)
	}
	if w.EntryCount() != 0 {
		t.Fatalf("EntryCount = %d, want 0", w.EntryCount())
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r, err := OpenTraceFile(path)
	if err != nil {
		t.Fatalf("OpenTraceFile: %v", err)
	}
	defer r.Close()
	if r.EntryCount() != 0 {
		t.Fatalf("EntryCount = %d, want 0", r.EntryCount())
	}
}

func TestTraceFile_RejectsBadMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notatrace.bin")
	if err := os.WriteFile(path, make([]byte, headerSize), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := OpenTraceFile(path); err != ErrBadMagic {
		t.Fatalf("OpenTraceFile err = %v, want ErrBadMagic", err)
	}
}

func TestTraceFile_CrashBeforeCloseLeavesZeroCountHeader(t *testing.T) {
	// §9: if the process dies before Close, the header still reads back as
	// zero entries even though records were appended, since the count is
	// only ever patched in at Close.
	path := filepath.Join(t.TempDir(), "crashed.dynatrc")
	w, err := CreateTraceFile(path, ArchARM64)
	if err != nil {
		t.Fatalf("CreateTraceFile: %v", err)
	}
	var e TraceEntry
	if err := w.WriteEntry(&e); err != nil {
		t.Fatalf("WriteEntry: %v", err)
	}
	// Simulate a crash: close the raw file handle without going through
	// TraceWriter.Close, so the header never gets patched.
	if err := w.pf.f.Close(); err != nil {
		t.Fatalf("raw close: %v", err)
	}

	r, err := OpenTraceFile(path)
	if err != nil {
		t.Fatalf("OpenTraceFile: %v", err)
	}
	defer r.Close()
	if r.EntryCount() != 0 {
		t.Fatalf("EntryCount = %d, want 0 (header never patched)", r.EntryCount())
	}
}

func TestMemDumpFile_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snap.dynamem")

	w, err := CreateMemDumpFile(path)
	if err != nil {
		t.Fatalf("CreateMemDumpFile: %v", err)
	}

	regions := []struct {
		region MemRegion
		data   []byte
	}{
		{MemRegion{Address: 0x1000, Size: 4, Protection: 0x5}, []byte{1, 2, 3, 4}},
		{MemRegion{Address: 0x2000, Size: 2, Protection: 0x3}, []byte{9, 8}},
	}
	for _, r := range regions {
		if err := w.WriteRegion(r.region, r.data); err != nil {
			t.Fatalf("WriteRegion: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r, err := OpenMemDumpFile(path)
	if err != nil {
		t.Fatalf("OpenMemDumpFile: %v", err)
	}
	defer r.Close()

	if r.RegionCount() != 2 {
		t.Fatalf("RegionCount = %d, want 2", r.RegionCount())
	}
	if r.TotalSize() != 6 {
		t.Fatalf("TotalSize = %d, want 6", r.TotalSize())
	}

	for i, want := range regions {
		gotRegion, gotData, err := r.ReadRegion()
		if err != nil {
			t.Fatalf("ReadRegion(%d): %v", i, err)
		}
		if diff := cmp.Diff(want.region, gotRegion); diff != "" {
			t.Fatalf("region %d mismatch (-want +got):\n%s", i, diff)
		}
		if diff := cmp.Diff(want.data, gotData); diff != "" {
			t.Fatalf("region %d payload mismatch (-want +got):\n%s", i, diff)
		}
	}
}

func TestAccessLogFile_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.dynalog")

	w, err := CreateAccessLogFile(path)
	if err != nil {
		t.Fatalf("CreateAccessLogFile: %v", err)
	}

	rec := AccessRecord{EntryIndex: 7, Address: 0x8000, Size: 8, IsWrite: true}
	payload := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	if err := w.WriteAccess(rec, payload); err != nil {
		t.Fatalf("WriteAccess: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r, err := OpenAccessLogFile(path)
	if err != nil {
		t.Fatalf("OpenAccessLogFile: %v", err)
	}
	defer r.Close()
	if r.AccessCount() != 1 {
		t.Fatalf("AccessCount = %d, want 1", r.AccessCount())
	}

	gotRec, gotData, err := r.ReadAccess()
	if err != nil {
		t.Fatalf("ReadAccess: %v", err)
	}
	if diff := cmp.Diff(rec, gotRec); diff != "" {
		t.Fatalf("record mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(payload, gotData); diff != "" {
		t.Fatalf("payload mismatch (-want +got):\n%s", diff)
	}
}

func TestAccessLogFile_SizeMismatchRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.dynalog")
	w, err := CreateAccessLogFile(path)
	if err != nil {
		t.Fatalf("CreateAccessLogFile: %v", err)
	}
	defer w.Close()

	rec := AccessRecord{EntryIndex: 0, Address: 0, Size: 4}
	if err := w.WriteAccess(rec, []byte{1, 2}); err == nil {
		t.Fatal("expected an error for mismatched payload length")
	}
}
