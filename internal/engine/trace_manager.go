package engine

import (
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/doranekosystems/dynadbg-core/internal/tracefile"
)

// TraceManager owns every TraceSession for one Engine, keyed by the
// hardware breakpoint address that anchors the trace (spec §3: at most
// one trace file open per anchor at a time). It also satisfies
// dispatch.TraceSessions, so Dispatcher never needs to know how trace
// files are named or where they live on disk.
type TraceManager struct {
	mu        sync.Mutex
	sessions  map[uint64]*TraceSession
	outputDir string
	clock     atomic.Uint64
}

// NewTraceManager returns a manager that writes trace files under dir.
func NewTraceManager(dir string) *TraceManager {
	return &TraceManager{sessions: make(map[uint64]*TraceSession), outputDir: dir}
}

// Start opens a new trace file anchored at addr and begins a session.
// It returns an error if a session is already active at that anchor.
func (m *TraceManager) Start(addr uint64, endAddress *uint64, maxCount int, arch tracefile.Architecture) (*TraceSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[addr]; ok && s.Active {
		return nil, fmt.Errorf("trace already active at %#x", addr)
	}
	path := filepath.Join(m.outputDir, fmt.Sprintf("trace_%016x.dynatrc", addr))
	w, err := tracefile.CreateTraceFile(path, arch)
	if err != nil {
		return nil, err
	}
	s := &TraceSession{
		StartAddress: addr,
		EndAddress:   endAddress,
		MaxCount:     maxCount,
		Architecture: arch,
		Active:       true,
		FilePath:     path,
		writer:       w,
	}
	m.sessions[addr] = s
	return s, nil
}

// WriterFor implements dispatch.TraceSessions.
func (m *TraceManager) WriterFor(addr uint64) *tracefile.TraceWriter {
	m.mu.Lock()
	s, ok := m.sessions[addr]
	m.mu.Unlock()
	if !ok || !s.Active {
		return nil
	}
	return s.writer
}

// RecordRow implements dispatch.TraceSessions: it advances the session's
// row count and, when the stop condition fires, closes the trace file.
func (m *TraceManager) RecordRow(addr, pc uint64) bool {
	m.mu.Lock()
	s, ok := m.sessions[addr]
	m.mu.Unlock()
	if !ok {
		return true
	}
	s.incrementCount()
	stop := s.shouldStop(pc)
	if stop {
		s.close()
	}
	return stop
}

// NextTimestamp implements dispatch.TraceSessions with a monotonically
// increasing counter private to this manager (spec §3's timestamp field
// is an opaque ordering key, not a wall-clock reading).
func (m *TraceManager) NextTimestamp() uint64 {
	return m.clock.Add(1)
}

// Status reports the current TraceStatus for the session anchored at
// addr, or false if no session has ever existed there.
func (m *TraceManager) Status(addr uint64) (TraceStatus, bool) {
	m.mu.Lock()
	s, ok := m.sessions[addr]
	m.mu.Unlock()
	if !ok {
		return TraceStatus{}, false
	}
	return s.status(), true
}

// Stop ends the session anchored at addr, closing its trace file. It is
// idempotent.
func (m *TraceManager) Stop(addr uint64) error {
	m.mu.Lock()
	s, ok := m.sessions[addr]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("no trace session at %#x", addr)
	}
	return s.close()
}

// FilePath returns the on-disk path of the session anchored at addr.
func (m *TraceManager) FilePath(addr uint64) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[addr]
	if !ok {
		return "", false
	}
	return s.FilePath, true
}
