package watchdog

import (
	"bufio"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

// sampleDisk returns the used-percentage of the filesystem containing path.
// Uses golang.org/x/sys/unix rather than the syscall package, matching the
// teacher's internal/sandbox/linux.go precedent for raw OS calls.
func sampleDisk(path string) (float64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, err
	}
	total := stat.Blocks * uint64(stat.Bsize)
	free := stat.Bavail * uint64(stat.Bsize)
	if total == 0 {
		return 0, nil
	}
	used := total - free
	return (float64(used) / float64(total)) * 100, nil
}

// sampleMemory returns the used-percentage of system memory, read from
// /proc/meminfo (no third-party host-metrics library appears anywhere in
// the example pack, so this one reading is stdlib — see DESIGN.md).
func sampleMemory() (float64, error) {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var total, available float64
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "MemTotal:"):
			total = parseMeminfoKB(line)
		case strings.HasPrefix(line, "MemAvailable:"):
			available = parseMeminfoKB(line)
		}
	}
	if total == 0 {
		return 0, nil
	}
	used := total - available
	return (used / total) * 100, nil
}

func parseMeminfoKB(line string) float64 {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return 0
	}
	v, _ := strconv.ParseFloat(fields[1], 64)
	return v
}

// sampleCPU returns the 1-minute load average expressed as a percentage of
// per-core capacity (spec §4.10 "CPU load / cores").
func sampleCPU() (float64, error) {
	data, err := os.ReadFile("/proc/loadavg")
	if err != nil {
		return 0, err
	}
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return 0, nil
	}
	load1, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, err
	}
	cores := runtime.NumCPU()
	if cores <= 0 {
		cores = 1
	}
	return (load1 / float64(cores)) * 100, nil
}

func takeSample(diskPath string) Sample {
	s := Sample{At: time.Now()}
	if v, err := sampleDisk(diskPath); err == nil {
		s.DiskPercent = v
	}
	if v, err := sampleMemory(); err == nil {
		s.MemoryPercent = v
	}
	if v, err := sampleCPU(); err == nil {
		s.CPUPercent = v
	}
	return s
}
