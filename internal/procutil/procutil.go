package procutil

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// ProcFSAvailable reports whether procfs is available for process introspection.
func ProcFSAvailable() bool {
	_, err := os.Stat("/proc/self/stat")
	return err == nil
}

// PIDAlive reports whether a process exists and is not a zombie.
func PIDAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	if PIDZombie(pid) {
		return false
	}
	err := syscall.Kill(pid, 0)
	if err == nil {
		return true
	}
	return errors.Is(err, syscall.EPERM)
}

// PIDZombie checks whether a PID is in a zombie/dead state.
func PIDZombie(pid int) bool {
	if !ProcFSAvailable() {
		return pidZombieFromPS(pid)
	}
	statPath := filepath.Join("/proc", strconv.Itoa(pid), "stat")
	b, err := os.ReadFile(statPath)
	if err != nil {
		return false
	}
	line := string(b)
	closeIdx := strings.LastIndexByte(line, ')')
	if closeIdx < 0 || closeIdx+2 >= len(line) {
		return false
	}
	state := line[closeIdx+2]
	return state == 'Z' || state == 'X'
}

func pidZombieFromPS(pid int) bool {
	out, err := exec.Command("ps", "-o", "state=", "-p", strconv.Itoa(pid)).Output()
	if err != nil {
		return false
	}
	state := strings.TrimSpace(string(out))
	if state == "" {
		return false
	}
	c := state[0]
	return c == 'Z' || c == 'X'
}

// WritePIDFile records the current process id at path.
func WritePIDFile(path string) error {
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644)
}

// ReadPIDFile reads a pid file written by WritePIDFile. Returns 0 if the file
// does not exist.
func ReadPIDFile(path string) (int, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}
	raw := strings.TrimSpace(string(b))
	if raw == "" {
		return 0, nil
	}
	pid, err := strconv.Atoi(raw)
	if err != nil || pid <= 0 {
		return 0, errors.New("invalid pid file: " + path)
	}
	return pid, nil
}

// ErrPIDFileHeld means a pid file is owned by a live process.
var ErrPIDFileHeld = errors.New("pid file held by a live process")

// AcquirePIDFile records the current pid at path, refusing when the recorded
// previous owner is still alive. Stale and unreadable pid files are replaced.
func AcquirePIDFile(path string) error {
	pid, err := ReadPIDFile(path)
	if err == nil && pid != 0 && pid != os.Getpid() && PIDAlive(pid) {
		return fmt.Errorf("%w: pid %d at %s", ErrPIDFileHeld, pid, path)
	}
	return WritePIDFile(path)
}

// TerminateGroup sends SIGTERM to the process group of cmd, waits for the
// grace period, then SIGKILLs any survivors. cmd must have been started with
// Setpgid so that children are covered.
func TerminateGroup(cmd *exec.Cmd, grace time.Duration) {
	if cmd == nil || cmd.Process == nil {
		return
	}
	pgid := -cmd.Process.Pid
	_ = syscall.Kill(pgid, syscall.SIGTERM)
	if grace <= 0 {
		_ = syscall.Kill(pgid, syscall.SIGKILL)
		return
	}
	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		if !PIDAlive(cmd.Process.Pid) {
			return
		}
		time.Sleep(25 * time.Millisecond)
	}
	_ = syscall.Kill(pgid, syscall.SIGKILL)
}
