package tracefile

import (
	"bytes"
	"encoding/binary"
	"os"
)

// TraceWriter appends DYNATRC records to an open file, per spec §4.2:
// Open truncates and writes a zero-count header; WriteEntry appends one
// fixed-size record under a mutex without ever seeking; Close rewrites
// the header with the final count.
type TraceWriter struct {
	pf   *patchableFile
	arch Architecture
}

// CreateTraceFile truncates (or creates) path and writes the initial
// header with entry_count=0.
func CreateTraceFile(path string, arch Architecture) (*TraceWriter, error) {
	pf, err := createPatchable(path)
	if err != nil {
		return nil, err
	}
	w := &TraceWriter{pf: pf, arch: arch}
	if err := pf.writeInitialHeader(w.encodeHeader(0)); err != nil {
		pf.f.Close()
		return nil, err
	}
	return w, nil
}

func (w *TraceWriter) encodeHeader(count uint32) []byte {
	hdr := make([]byte, headerSize)
	putHeaderCommon(hdr, TraceMagic, traceVersion)
	binary.LittleEndian.PutUint32(hdr[12:16], count)
	binary.LittleEndian.PutUint32(hdr[16:20], uint32(w.arch))
	return hdr
}

// WriteEntry appends e as the next record. It never seeks.
func (w *TraceWriter) WriteEntry(e *TraceEntry) error {
	var buf bytes.Buffer
	buf.Grow(traceEntrySize)
	if err := binary.Write(&buf, binary.LittleEndian, e); err != nil {
		return err
	}
	return w.pf.append(buf.Bytes())
}

// EntryCount reports the number of records written so far.
func (w *TraceWriter) EntryCount() uint64 {
	return w.pf.recordCount()
}

// Close seeks to offset 0, rewrites the header with the final entry
// count, and closes the file.
func (w *TraceWriter) Close() error {
	return w.pf.close(func(f *os.File, count uint64) error {
		_, err := f.Write(w.encodeHeader(uint32(count)))
		return err
	})
}
