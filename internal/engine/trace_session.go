package engine

import (
	"sync"

	"github.com/doranekosystems/dynadbg-core/internal/tracefile"
)

// TraceSession is one active trace (spec §3): at most one trace file
// open at a time per session, current_count never exceeds max_count.
type TraceSession struct {
	mu sync.Mutex

	StartAddress    uint64
	EndAddress      *uint64
	MaxCount        int
	CurrentCount    int
	Architecture    tracefile.Architecture
	EndedByEndAddr  bool
	Active          bool
	FilePath        string

	writer *tracefile.TraceWriter
}

// TraceStatus is the engine API's get_trace_status reply shape (spec
// §6).
type TraceStatus struct {
	IsActive         bool
	CurrentCount     int
	TotalCount       int
	EndedByEndAddress bool
	FilePath         string
}

func (s *TraceSession) status() TraceStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return TraceStatus{
		IsActive:          s.Active,
		CurrentCount:      s.CurrentCount,
		TotalCount:        s.MaxCount,
		EndedByEndAddress: s.EndedByEndAddr,
		FilePath:          s.FilePath,
	}
}

// shouldStop reports whether the session should stop now (max_count
// reached, or pc == end_address, which also sets EndedByEndAddr).
func (s *TraceSession) shouldStop(pc uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.CurrentCount >= s.MaxCount {
		return true
	}
	if s.EndAddress != nil && pc == *s.EndAddress {
		s.EndedByEndAddr = true
		return true
	}
	return false
}

func (s *TraceSession) incrementCount() {
	s.mu.Lock()
	s.CurrentCount++
	s.mu.Unlock()
}

func (s *TraceSession) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.Active {
		return nil
	}
	s.Active = false
	if s.writer == nil {
		return nil
	}
	return s.writer.Close()
}
