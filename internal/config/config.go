// Package config loads EngineConfig from the process environment using
// github.com/xyproto/env/v2, in the same "one env var per tunable, safe
// default on absence" style the pack's xyproto repos declare it for.
package config

import (
	"time"

	"github.com/xyproto/env/v2"
)

// EngineConfig holds the engine-wide tunables spec §9 assumes exist but
// leaves unspecified: the handler-drain timeout, software breakpoint
// ceiling, full-memory-cache mode, and the directory trace/log/dump
// files are written under.
type EngineConfig struct {
	// HandlerDrainTimeout bounds how long a slot removal waits for
	// in-flight hit handlers to drain (spec §5) before force-resetting.
	HandlerDrainTimeout time.Duration

	// MaxSoftwareBreakpoints bounds the software breakpoint registry
	// (spec §3 names "≤10^6" as the practical ceiling).
	MaxSoftwareBreakpoints int

	// FullMemoryCache is the full-memory-cache tracing flag (spec §4.6
	// step 4); off by default. It is loaded here but nothing in the engine
	// reads it, and tracing writes no DYNALOG access records.
	FullMemoryCache bool

	// OutputDir is where start_trace's output_path, and any memory dump
	// requested alongside it, are resolved relative to.
	OutputDir string
}

const (
	envDrainTimeout    = "DYNADBG_HANDLER_DRAIN_TIMEOUT"
	envMaxSWBreakpoint = "DYNADBG_MAX_SW_BREAKPOINTS"
	envFullMemCache    = "DYNADBG_FULL_MEMORY_CACHE"
	envOutputDir       = "DYNADBG_OUTPUT_DIR"
)

const (
	defaultDrainTimeout    = time.Second
	defaultMaxSWBreakpoint = 1_000_000
	defaultOutputDir       = "."
)

// Load reads EngineConfig from the environment, falling back to the
// spec-sized defaults for anything unset.
func Load() EngineConfig {
	return EngineConfig{
		HandlerDrainTimeout:    env.DurationOrDefault(envDrainTimeout, defaultDrainTimeout),
		MaxSoftwareBreakpoints: env.IntOrDefault(envMaxSWBreakpoint, defaultMaxSWBreakpoint),
		FullMemoryCache:        env.BoolOr(envFullMemCache, false),
		OutputDir:              env.StrOrDefault(envOutputDir, defaultOutputDir),
	}
}
