package config

import (
	"os"
	"testing"
	"time"
)

func TestLoad_DefaultsWhenUnset(t *testing.T) {
	os.Unsetenv(envDrainTimeout)
	os.Unsetenv(envMaxSWBreakpoint)
	os.Unsetenv(envFullMemCache)
	os.Unsetenv(envOutputDir)

	cfg := Load()
	if cfg.HandlerDrainTimeout != time.Second {
		t.Fatalf("HandlerDrainTimeout = %v, want 1s", cfg.HandlerDrainTimeout)
	}
	if cfg.MaxSoftwareBreakpoints != 1_000_000 {
		t.Fatalf("MaxSoftwareBreakpoints = %d, want 1000000", cfg.MaxSoftwareBreakpoints)
	}
	if cfg.FullMemoryCache {
		t.Fatal("FullMemoryCache = true, want false by default")
	}
	if cfg.OutputDir != "." {
		t.Fatalf("OutputDir = %q, want \".\"", cfg.OutputDir)
	}
}

func TestLoad_HonorsOverrides(t *testing.T) {
	t.Setenv(envDrainTimeout, "2s")
	t.Setenv(envMaxSWBreakpoint, "5")
	t.Setenv(envFullMemCache, "true")
	t.Setenv(envOutputDir, "/tmp/dynadbg")

	cfg := Load()
	if cfg.HandlerDrainTimeout != 2*time.Second {
		t.Fatalf("HandlerDrainTimeout = %v, want 2s", cfg.HandlerDrainTimeout)
	}
	if cfg.MaxSoftwareBreakpoints != 5 {
		t.Fatalf("MaxSoftwareBreakpoints = %d, want 5", cfg.MaxSoftwareBreakpoints)
	}
	if !cfg.FullMemoryCache {
		t.Fatal("FullMemoryCache = false, want true")
	}
	if cfg.OutputDir != "/tmp/dynadbg" {
		t.Fatalf("OutputDir = %q, want /tmp/dynadbg", cfg.OutputDir)
	}
}
