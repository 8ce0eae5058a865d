// Package signalpolicy implements C3: a per-signal {catch, pass} policy
// table consulted by the exception dispatcher on every non-debug
// exception (spec §4.3). Mutation is serialized by a single mutex;
// reads are expected to dominate writes.
//
// Grounded on the teacher's small keyed-map-behind-one-mutex tables
// (debug_cpu_ie64.go's breakpoints map and bpMu is the same shape,
// generalized from bool to Config). golang.org/x/sys/unix resolves
// signal numbers to their POSIX names in logs; the teacher never calls
// it directly (it only reaches go.mod as an indirect dependency), so
// this is an ecosystem-appropriate choice on its own merits, not a
// teacher-usage pattern.
package signalpolicy

import (
	"sync"

	"golang.org/x/sys/unix"
)

// Config is the policy for one signal. Catch=false means the engine
// handles the signal silently without notifying the UI; Pass=false
// means the signal is swallowed before the target resumes.
type Config struct {
	Catch bool
	Pass  bool
}

// Table is the engine's signal policy table, keyed by signal number.
type Table struct {
	mu      sync.Mutex
	entries map[int]Config
}

// defaultEntries is the GDB-style suppression set installed on attach
// (spec §4.3): the common fatal-by-default signals are caught neither by
// the engine nor forwarded to the target until the user opts in.
func defaultEntries() map[int]Config {
	return map[int]Config{
		int(unix.SIGILL):  {Catch: false, Pass: false},
		int(unix.SIGABRT): {Catch: false, Pass: false},
		int(unix.SIGBUS):  {Catch: false, Pass: false},
		int(unix.SIGFPE):  {Catch: false, Pass: false},
		int(unix.SIGSEGV): {Catch: false, Pass: false},
	}
}

// New returns a Table pre-populated with the default policy set.
func New() *Table {
	return &Table{entries: defaultEntries()}
}

// Get returns the policy for sig. Unconfigured signals report the
// zero-value Config{Catch: false, Pass: false}, matching the default
// suppression behavior for any signal the table was never told about.
func (t *Table) Get(sig int) Config {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.entries[sig]
}

// Set installs cfg for sig, replacing any existing entry.
func (t *Table) Set(sig int, cfg Config) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[sig] = cfg
}

// SetAll replaces the entire table's contents with cfgs in one atomic
// step, per the engine's set_all_signal_configs operation (spec §6).
func (t *Table) SetAll(cfgs map[int]Config) {
	replacement := make(map[int]Config, len(cfgs))
	for sig, cfg := range cfgs {
		replacement[sig] = cfg
	}
	t.mu.Lock()
	t.entries = replacement
	t.mu.Unlock()
}

// List returns a snapshot of every configured signal's policy.
func (t *Table) List() map[int]Config {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[int]Config, len(t.entries))
	for sig, cfg := range t.entries {
		out[sig] = cfg
	}
	return out
}

// Name resolves sig to its POSIX name (e.g. "SIGSEGV") for logging.
// Unrecognized numbers fall back to unix.Signal's own numeric rendering.
func Name(sig int) string {
	s := unix.Signal(sig)
	if name := unix.SignalName(s); name != "" {
		return name
	}
	return s.String()
}
