package tracefile

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync/atomic"
)

// MemDumpWriter appends DYNAMEM regions: a 24-byte region header followed
// immediately by that region's raw bytes, per spec §4.2/§6.
type MemDumpWriter struct {
	pf        *patchableFile
	totalSize atomic.Uint64
}

// CreateMemDumpFile truncates (or creates) path and writes the initial
// header with region_count=0 and total_size=0.
func CreateMemDumpFile(path string) (*MemDumpWriter, error) {
	pf, err := createPatchable(path)
	if err != nil {
		return nil, err
	}
	w := &MemDumpWriter{pf: pf}
	if err := pf.writeInitialHeader(w.encodeHeader(0, 0)); err != nil {
		pf.f.Close()
		return nil, err
	}
	return w, nil
}

func (w *MemDumpWriter) encodeHeader(regionCount uint32, totalSize uint64) []byte {
	hdr := make([]byte, headerSize)
	putHeaderCommon(hdr, MemDumpMagic, memDumpVersion)
	binary.LittleEndian.PutUint32(hdr[12:16], regionCount)
	binary.LittleEndian.PutUint64(hdr[16:24], totalSize)
	return hdr
}

// WriteRegion appends one region header followed by data. region.Size must
// equal len(data).
func (w *MemDumpWriter) WriteRegion(region MemRegion, data []byte) error {
	if uint64(len(data)) != region.Size {
		return fmt.Errorf("tracefile: region size %d does not match payload length %d", region.Size, len(data))
	}

	var buf bytes.Buffer
	buf.Grow(memRegionHeaderSize + len(data))
	rh := struct {
		Address    uint64
		Size       uint64
		Protection uint32
		Reserved   uint32
	}{region.Address, region.Size, region.Protection, region.Reserved}
	if err := binary.Write(&buf, binary.LittleEndian, rh); err != nil {
		return err
	}
	buf.Write(data)

	if err := w.pf.append(buf.Bytes()); err != nil {
		return err
	}
	w.totalSize.Add(region.Size)
	return nil
}

// RegionCount reports the number of regions written so far.
func (w *MemDumpWriter) RegionCount() uint64 { return w.pf.recordCount() }

// Close seeks to offset 0, rewrites the header with the final region
// count and total payload size, and closes the file.
func (w *MemDumpWriter) Close() error {
	return w.pf.close(func(f *os.File, count uint64) error {
		_, err := f.Write(w.encodeHeader(uint32(count), w.totalSize.Load()))
		return err
	})
}

// MemDumpReader provides sequential access over a closed DYNAMEM file.
type MemDumpReader struct {
	f           *os.File
	regionCount uint32
	totalSize   uint64
}

// OpenMemDumpFile opens path read-only, validating the magic and version.
func OpenMemDumpFile(path string) (*MemDumpReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("tracefile: open %s: %w", path, err)
	}
	hdr := make([]byte, headerSize)
	if _, err := io.ReadFull(f, hdr); err != nil {
		f.Close()
		return nil, fmt.Errorf("tracefile: read header: %w", err)
	}
	if !bytes.Equal(hdr[0:8], MemDumpMagic[:]) {
		f.Close()
		return nil, ErrBadMagic
	}
	version := binary.LittleEndian.Uint32(hdr[8:12])
	if version > memDumpVersion {
		f.Close()
		return nil, ErrUnsupportedVersion
	}
	return &MemDumpReader{
		f:           f,
		regionCount: binary.LittleEndian.Uint32(hdr[12:16]),
		totalSize:   binary.LittleEndian.Uint64(hdr[16:24]),
	}, nil
}

// RegionCount reports the number of regions recorded in the header.
func (r *MemDumpReader) RegionCount() uint64 { return uint64(r.regionCount) }

// TotalSize reports the total payload byte count recorded in the header.
func (r *MemDumpReader) TotalSize() uint64 { return r.totalSize }

// ReadRegion reads the next region header and its payload, in file order.
// Regions have no fixed size, so this package only supports sequential
// consumption, not random access by index.
func (r *MemDumpReader) ReadRegion() (MemRegion, []byte, error) {
	hdr := make([]byte, memRegionHeaderSize)
	if _, err := io.ReadFull(r.f, hdr); err != nil {
		return MemRegion{}, nil, fmt.Errorf("tracefile: read region header: %w", err)
	}
	region := MemRegion{
		Address:    binary.LittleEndian.Uint64(hdr[0:8]),
		Size:       binary.LittleEndian.Uint64(hdr[8:16]),
		Protection: binary.LittleEndian.Uint32(hdr[16:20]),
		Reserved:   binary.LittleEndian.Uint32(hdr[20:24]),
	}

	data := make([]byte, region.Size)
	if _, err := io.ReadFull(r.f, data); err != nil {
		return MemRegion{}, nil, fmt.Errorf("tracefile: read region payload: %w", err)
	}
	return region, data, nil
}

// Close closes the underlying file.
func (r *MemDumpReader) Close() error { return r.f.Close() }
