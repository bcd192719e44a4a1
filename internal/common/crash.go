// -----------------------------------------------------------------------
// Crash reports - written when the main goroutine panics
// -----------------------------------------------------------------------

package common

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"
)

var (
	crashDir   = "./logs"
	crashDirMu sync.RWMutex
)

// InstallCrashHandler sets the crash report directory and creates it.
// Call it at the top of main together with a deferred RecoverWithCrashFile.
func InstallCrashHandler(logDir string) {
	crashDirMu.Lock()
	defer crashDirMu.Unlock()

	if logDir != "" {
		crashDir = logDir
	}
	if err := os.MkdirAll(crashDir, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "CRASH: failed to create crash directory: %v\n", err)
	}
}

// WriteCrashFile writes a crash report with the panic value, the panicking stack,
// every goroutine and runtime memory stats. Returns the report path, or "" when
// the report could only be printed to stderr.
func WriteCrashFile(panicVal any, stackTrace string) string {
	crashDirMu.RLock()
	dir := crashDir
	crashDirMu.RUnlock()

	now := time.Now()
	path := filepath.Join(dir, fmt.Sprintf("folio-crash-%s.log", now.Format("2006-01-02T15-04-05")))

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	var b strings.Builder
	fmt.Fprintf(&b, "folio crash report\n")
	fmt.Fprintf(&b, "time:       %s\n", now.Format(time.RFC3339))
	fmt.Fprintf(&b, "version:    %s\n", GetFullVersion())
	fmt.Fprintf(&b, "goroutines: %d (spawned via SafeGo: %d)\n", runtime.NumGoroutine(), GetGoroutineCount())
	fmt.Fprintf(&b, "platform:   %s/%s, %d CPUs\n", runtime.GOOS, runtime.GOARCH, runtime.NumCPU())
	fmt.Fprintf(&b, "memory:     alloc=%dMB sys=%dMB gc=%d\n\n", mem.Alloc>>20, mem.Sys>>20, mem.NumGC)
	fmt.Fprintf(&b, "panic: %v\n\n%s\n\n", panicVal, stackTrace)
	fmt.Fprintf(&b, "all goroutines:\n%s\n", allGoroutineStacks())

	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		fmt.Fprintf(os.Stderr, "CRASH: failed to write crash file: %v\n%s", err, b.String())
		return ""
	}

	fmt.Fprintf(os.Stderr, "\nFATAL: %v\nCrash report saved to %s\n", panicVal, path)
	return path
}

func allGoroutineStacks() string {
	buf := make([]byte, 64*1024)
	for {
		n := runtime.Stack(buf, true)
		if n < len(buf) || len(buf) >= 64*1024*1024 {
			return string(buf[:n])
		}
		buf = make([]byte, len(buf)*2)
	}
}

// RecoverWithCrashFile recovers a panic, writes a crash report and exits.
// Usage: defer common.RecoverWithCrashFile()
func RecoverWithCrashFile() {
	if r := recover(); r != nil {
		buf := make([]byte, 8192)
		n := runtime.Stack(buf, false)
		WriteCrashFile(r, string(buf[:n]))
		os.Exit(1)
	}
}
