package broker

import (
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/fcefyn/hilrelay/internal/logging"
)

// WritePidfile records our PID as plain decimal text.
func WritePidfile(path string) error {
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

// ReadPidfile returns the recorded PID, or 0 when absent or garbled.
func ReadPidfile(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0
	}
	return pid
}

// CheckPidfile reports the recorded PID and whether that process is alive.
// A stale or garbled file is discarded on the spot.
func CheckPidfile(path string) (int, bool) {
	pid := ReadPidfile(path)
	if pid == 0 {
		_ = os.Remove(path)
		return 0, false
	}
	if !processAlive(pid) {
		logging.Info("discarding stale pidfile", "path", path, "pid", pid)
		_ = os.Remove(path)
		return pid, false
	}
	return pid, true
}

// RemovePidfile ignores "already absent".
func RemovePidfile(path string) {
	_ = os.Remove(path)
}

func processAlive(pid int) bool {
	err := syscall.Kill(pid, 0)
	return err == nil || err == syscall.EPERM
}
