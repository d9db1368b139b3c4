// Package dump writes crash dumps for unhandled panics so a failed daemon
// leaves a post-mortem artifact behind.
package dump

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/psantana5/procbox/pkg/logging"
)

// DefaultDir is used when no dump directory is configured.
const DefaultDir = "dumps"

// Guard captures a panic, writes a dump file, and re-panics so the process
// still dies with the original cause. Install it with defer at the top of a
// goroutine or main:
//
//	defer dump.Guard("procbox", "", log)
func Guard(appName, dir string, logger *logging.Logger) {
	r := recover()
	if r == nil {
		return
	}

	path, err := writeDump(appName, dir, r, debug.Stack())
	if logger != nil {
		if err != nil {
			logger.Error("Failed to write crash dump", map[string]interface{}{"error": err.Error()})
		} else {
			logger.Error("Unhandled panic, crash dump written", map[string]interface{}{
				"panic": fmt.Sprint(r), "dump": path,
			})
		}
	}
	panic(r)
}

func writeDump(appName, dir string, cause interface{}, stack []byte) (string, error) {
	if appName == "" {
		appName = "app"
	}
	if dir == "" {
		dir = DefaultDir
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create dump directory: %w", err)
	}

	name := fmt.Sprintf("%s_%s.dump", appName, time.Now().Format("20060102_150405"))
	path := filepath.Join(dir, name)

	body := fmt.Sprintf("time: %s\npid: %d\npanic: %v\n\n%s",
		time.Now().Format(time.RFC3339), os.Getpid(), cause, stack)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		return "", fmt.Errorf("write dump file: %w", err)
	}
	return path, nil
}
