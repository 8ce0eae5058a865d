package tracefile

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// TraceReader provides random-access reads over a closed (fully written)
// DYNATRC file, per spec §4.2.
type TraceReader struct {
	f            *os.File
	version      uint32
	entryCount   uint32
	architecture Architecture
}

// OpenTraceFile opens path read-only, validating the magic and version.
func OpenTraceFile(path string) (*TraceReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("tracefile: open %s: %w", path, err)
	}

	hdr := make([]byte, headerSize)
	if _, err := io.ReadFull(f, hdr); err != nil {
		f.Close()
		return nil, fmt.Errorf("tracefile: read header: %w", err)
	}
	if !bytes.Equal(hdr[0:8], TraceMagic[:]) {
		f.Close()
		return nil, ErrBadMagic
	}
	version := binary.LittleEndian.Uint32(hdr[8:12])
	if version > traceVersion {
		f.Close()
		return nil, ErrUnsupportedVersion
	}

	return &TraceReader{
		f:            f,
		version:      version,
		entryCount:   binary.LittleEndian.Uint32(hdr[12:16]),
		architecture: Architecture(binary.LittleEndian.Uint32(hdr[16:20])),
	}, nil
}

// EntryCount reports the number of records recorded in the header.
func (r *TraceReader) EntryCount() uint64 { return uint64(r.entryCount) }

// Architecture reports the architecture tag recorded in the header.
func (r *TraceReader) Architecture() Architecture { return r.architecture }

// ReadEntry reads the i-th record, seeking to its offset first.
func (r *TraceReader) ReadEntry(i int) (TraceEntry, error) {
	if i < 0 || uint32(i) >= r.entryCount {
		return TraceEntry{}, ErrIndexOutOfRange
	}
	off := int64(headerSize) + int64(i)*int64(traceEntrySize)
	if _, err := r.f.Seek(off, io.SeekStart); err != nil {
		return TraceEntry{}, fmt.Errorf("tracefile: seek entry %d: %w", i, err)
	}

	buf := make([]byte, traceEntrySize)
	if _, err := io.ReadFull(r.f, buf); err != nil {
		return TraceEntry{}, fmt.Errorf("tracefile: read entry %d: %w", i, err)
	}

	var e TraceEntry
	if err := binary.Read(bytes.NewReader(buf), binary.LittleEndian, &e); err != nil {
		return TraceEntry{}, fmt.Errorf("tracefile: decode entry %d: %w", i, err)
	}
	return e, nil
}

// Close closes the underlying file.
func (r *TraceReader) Close() error { return r.f.Close() }
