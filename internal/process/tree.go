package process

import (
	"log/slog"

	"github.com/shirou/gopsutil/v3/process"
)

// Descendants returns the pids of all processes below pid, deepest first
func Descendants(pid int) []int32 {
	procs, err := process.Processes()
	if err != nil {
		slog.Debug("Failed to list processes", "error", err)
		return nil
	}

	children := make(map[int32][]int32)
	for _, p := range procs {
		// Short-lived processes may vanish between listing and reading their parent.
		ppid, err := p.Ppid()
		if err != nil {
			continue
		}
		children[ppid] = append(children[ppid], p.Pid)
	}

	var collect func(parent int32) []int32
	collect = func(parent int32) []int32 {
		var pids []int32
		for _, child := range children[parent] {
			pids = append(pids, collect(child)...)
			pids = append(pids, child)
		}
		return pids
	}
	return collect(int32(pid))
}

// killDescendants kills every process below pid. Descendants that moved to another process
// group, for example by calling setsid, are not reached by a process group kill.
func killDescendants(pid int) {
	for _, child := range Descendants(pid) {
		p, err := process.NewProcess(child)
		if err != nil {
			// Already gone
			continue
		}
		if err := p.Kill(); err != nil {
			slog.Debug("Failed to kill descendant process", "pid", child, "error", err)
		}
	}
}

// Running reports whether a process with pid exists and is not a zombie
func Running(pid int) bool {
	if pid <= 0 {
		return false
	}
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return false
	}
	status, err := p.Status()
	if err != nil {
		return false
	}
	for _, s := range status {
		if s == process.Zombie {
			return false
		}
	}
	return true
}
