// Package procutil probes the host process table and network ports. It
// answers liveness questions about processes the supervisor did not spawn
// itself, so PID-existence checks and name lookups go through the OS rather
// than internal state.
package procutil

import (
	"os"
	"strings"

	gopsnet "github.com/shirou/gopsutil/v3/net"
	"github.com/shirou/gopsutil/v3/process"
)

// PIDExists reports whether a process with the given PID is alive.
func PIDExists(pid int) bool {
	ok, err := process.PidExists(int32(pid))
	return err == nil && ok
}

// FindByName returns the PIDs of all processes whose executable name
// matches name, case-insensitively.
func FindByName(name string) []int {
	procs, err := process.Processes()
	if err != nil {
		return nil
	}
	var pids []int
	for _, p := range procs {
		pname, err := p.Name()
		if err != nil {
			continue
		}
		if strings.EqualFold(pname, name) {
			pids = append(pids, int(p.Pid))
		}
	}
	return pids
}

// Running reports whether any process with the given name is alive.
func Running(name string) bool {
	return len(FindByName(name)) > 0
}

// TerminateByName sends SIGTERM to every process matching name, skipping
// the calling process itself. It reports whether at least one process was
// signalled.
func TerminateByName(name string) bool {
	self := os.Getpid()
	terminated := false
	for _, pid := range FindByName(name) {
		if pid == self {
			continue
		}
		p, err := process.NewProcess(int32(pid))
		if err != nil {
			continue
		}
		if err := p.Terminate(); err == nil {
			terminated = true
		}
	}
	return terminated
}

// PortInUse reports whether a local TCP port has a listener.
func PortInUse(port int) bool {
	conns, err := gopsnet.Connections("tcp")
	if err != nil {
		return false
	}
	for _, c := range conns {
		if c.Status == "LISTEN" && int(c.Laddr.Port) == port {
			return true
		}
	}
	return false
}
