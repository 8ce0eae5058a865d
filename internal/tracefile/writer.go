package tracefile

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"
)

// patchableFile is the shared append-then-patch primitive behind all three
// writers (§9 design note): writes never seek, and the header carries the
// final record count only once, at Close.
type patchableFile struct {
	mu    sync.Mutex
	f     *os.File
	count uint64
}

func createPatchable(path string) (*patchableFile, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("tracefile: create %s: %w", path, err)
	}
	return &patchableFile{f: f}, nil
}

// writeInitialHeader writes hdr at the current (zero) offset without
// touching the record counter. Called once, right after create.
func (p *patchableFile) writeInitialHeader(hdr []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := p.f.Write(hdr); err != nil {
		return fmt.Errorf("tracefile: write header: %w", err)
	}
	return nil
}

// append writes one already-serialized record under the file mutex. It
// never seeks, per the writer contract.
func (p *patchableFile) append(b []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := p.f.Write(b); err != nil {
		return fmt.Errorf("tracefile: append record: %w", err)
	}
	p.count++
	return nil
}

func (p *patchableFile) recordCount() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.count
}

// close seeks to offset 0, rewrites the header with the final count via
// writeHeader, and closes the underlying file.
func (p *patchableFile) close(writeHeader func(f *os.File, count uint64) error) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := p.f.Seek(0, io.SeekStart); err != nil {
		p.f.Close()
		return fmt.Errorf("tracefile: seek header: %w", err)
	}
	if err := writeHeader(p.f, p.count); err != nil {
		p.f.Close()
		return fmt.Errorf("tracefile: rewrite header: %w", err)
	}
	return p.f.Close()
}

func putHeaderCommon(hdr []byte, magic [8]byte, version uint32) {
	copy(hdr[0:8], magic[:])
	binary.LittleEndian.PutUint32(hdr[8:12], version)
}
