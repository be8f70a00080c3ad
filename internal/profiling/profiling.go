// Package profiling backs the CLI's --cpuprofile and --memprofile
// flags. Indexing large sources is where the time goes; these hooks
// make a run inspectable with go tool pprof without extra tooling.
package profiling

import (
	"fmt"
	"os"
	"runtime"
	"runtime/pprof"
)

// Session holds the open profile files for one CLI invocation.
// Stop must run before the process exits or the CPU profile is empty.
type Session struct {
	cpuFile *os.File
	memPath string
}

// Start begins CPU profiling and remembers where to snapshot the heap.
// Either path may be empty to skip that profile.
func Start(cpuPath, memPath string) (*Session, error) {
	s := &Session{memPath: memPath}

	if cpuPath != "" {
		f, err := os.Create(cpuPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create CPU profile file: %w", err)
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("failed to start CPU profile: %w", err)
		}
		s.cpuFile = f
	}

	return s, nil
}

// Stop ends CPU profiling and writes the heap snapshot.
func (s *Session) Stop() error {
	if s.cpuFile != nil {
		pprof.StopCPUProfile()
		_ = s.cpuFile.Close()
		s.cpuFile = nil
	}

	if s.memPath == "" {
		return nil
	}

	f, err := os.Create(s.memPath)
	if err != nil {
		return fmt.Errorf("failed to create heap profile file: %w", err)
	}
	defer func() { _ = f.Close() }()

	// Collect first so the snapshot shows live objects, not garbage.
	runtime.GC()
	if err := pprof.WriteHeapProfile(f); err != nil {
		return fmt.Errorf("failed to write heap profile: %w", err)
	}
	return nil
}
