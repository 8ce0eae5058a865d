package tracefile

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// AccessLogWriter appends DYNALOG records: a 20-byte access header
// followed by Size raw bytes, emitted by the single-step orchestrator's
// full-memory-cache mode (spec §4.6 step 4).
type AccessLogWriter struct {
	pf *patchableFile
}

// CreateAccessLogFile truncates (or creates) path and writes the initial
// header with access_count=0.
func CreateAccessLogFile(path string) (*AccessLogWriter, error) {
	pf, err := createPatchable(path)
	if err != nil {
		return nil, err
	}
	w := &AccessLogWriter{pf: pf}
	if err := pf.writeInitialHeader(w.encodeHeader(0)); err != nil {
		pf.f.Close()
		return nil, err
	}
	return w, nil
}

func (w *AccessLogWriter) encodeHeader(count uint32) []byte {
	hdr := make([]byte, headerSize)
	putHeaderCommon(hdr, AccessLogMagic, accessLogVersion)
	binary.LittleEndian.PutUint32(hdr[12:16], count)
	return hdr
}

// WriteAccess appends one access record followed by data. record.Size
// must equal len(data).
func (w *AccessLogWriter) WriteAccess(record AccessRecord, data []byte) error {
	if uint32(len(data)) != record.Size {
		return fmt.Errorf("tracefile: access size %d does not match payload length %d", record.Size, len(data))
	}

	var buf bytes.Buffer
	buf.Grow(accessHeaderSize + len(data))
	ah := struct {
		EntryIndex uint32
		Address    uint64
		Size       uint32
		IsWrite    uint8
		Reserved   [3]byte
	}{record.EntryIndex, record.Address, record.Size, boolToByte(record.IsWrite), record.Reserved}
	if err := binary.Write(&buf, binary.LittleEndian, ah); err != nil {
		return err
	}
	buf.Write(data)

	return w.pf.append(buf.Bytes())
}

// AccessCount reports the number of access records written so far.
func (w *AccessLogWriter) AccessCount() uint64 { return w.pf.recordCount() }

// Close seeks to offset 0, rewrites the header with the final access
// count, and closes the file.
func (w *AccessLogWriter) Close() error {
	return w.pf.close(func(f *os.File, count uint64) error {
		_, err := f.Write(w.encodeHeader(uint32(count)))
		return err
	})
}

// AccessLogReader provides sequential access over a closed DYNALOG file.
type AccessLogReader struct {
	f           *os.File
	accessCount uint32
}

// OpenAccessLogFile opens path read-only, validating the magic and
// version.
func OpenAccessLogFile(path string) (*AccessLogReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("tracefile: open %s: %w", path, err)
	}
	hdr := make([]byte, headerSize)
	if _, err := io.ReadFull(f, hdr); err != nil {
		f.Close()
		return nil, fmt.Errorf("tracefile: read header: %w", err)
	}
	if !bytes.Equal(hdr[0:8], AccessLogMagic[:]) {
		f.Close()
		return nil, ErrBadMagic
	}
	version := binary.LittleEndian.Uint32(hdr[8:12])
	if version > accessLogVersion {
		f.Close()
		return nil, ErrUnsupportedVersion
	}
	return &AccessLogReader{
		f:           f,
		accessCount: binary.LittleEndian.Uint32(hdr[12:16]),
	}, nil
}

// AccessCount reports the number of records recorded in the header.
func (r *AccessLogReader) AccessCount() uint64 { return uint64(r.accessCount) }

// ReadAccess reads the next access record header and its payload, in
// file order.
func (r *AccessLogReader) ReadAccess() (AccessRecord, []byte, error) {
	hdr := make([]byte, accessHeaderSize)
	if _, err := io.ReadFull(r.f, hdr); err != nil {
		return AccessRecord{}, nil, fmt.Errorf("tracefile: read access header: %w", err)
	}
	rec := AccessRecord{
		EntryIndex: binary.LittleEndian.Uint32(hdr[0:4]),
		Address:    binary.LittleEndian.Uint64(hdr[4:12]),
		Size:       binary.LittleEndian.Uint32(hdr[12:16]),
		IsWrite:    hdr[16] != 0,
	}
	copy(rec.Reserved[:], hdr[17:20])

	data := make([]byte, rec.Size)
	if _, err := io.ReadFull(r.f, data); err != nil {
		return AccessRecord{}, nil, fmt.Errorf("tracefile: read access payload: %w", err)
	}
	return rec, data, nil
}

// Close closes the underlying file.
func (r *AccessLogReader) Close() error { return r.f.Close() }

func boolToByte(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
