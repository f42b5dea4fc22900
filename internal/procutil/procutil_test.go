package procutil

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"
)

func TestPIDAliveSelf(t *testing.T) {
	if !PIDAlive(os.Getpid()) {
		t.Fatal("own pid reported dead")
	}
}

func TestPIDAliveBogus(t *testing.T) {
	if PIDAlive(0) || PIDAlive(-1) {
		t.Fatal("non-positive pid reported alive")
	}
}

func TestPIDFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.pid")
	if err := WritePIDFile(path); err != nil {
		t.Fatal(err)
	}
	pid, err := ReadPIDFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if pid != os.Getpid() {
		t.Fatalf("pid = %d, want %d", pid, os.Getpid())
	}
}

func TestReadPIDFileGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.pid")
	if err := os.WriteFile(path, []byte("not a pid"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadPIDFile(path); err == nil {
		t.Fatal("garbage pid file accepted")
	}
}

func TestAcquirePIDFileRefusesLiveOwner(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.pid")
	// The parent test process is alive for the duration of the test.
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getppid())+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	err := AcquirePIDFile(path)
	if !errors.Is(err, ErrPIDFileHeld) {
		t.Fatalf("err = %v, want ErrPIDFileHeld", err)
	}
	pid, err := ReadPIDFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if pid != os.Getppid() {
		t.Fatalf("live owner's pid file was overwritten: %d", pid)
	}
}

func TestAcquirePIDFileReplacesStaleAndGarbage(t *testing.T) {
	for name, body := range map[string]string{
		"stale":   "999999999\n",
		"garbage": "not a pid",
	} {
		path := filepath.Join(t.TempDir(), "run.pid")
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
		if err := AcquirePIDFile(path); err != nil {
			t.Fatalf("%s pid file not replaced: %v", name, err)
		}
		pid, err := ReadPIDFile(path)
		if err != nil {
			t.Fatal(err)
		}
		if pid != os.Getpid() {
			t.Fatalf("%s: pid = %d, want %d", name, pid, os.Getpid())
		}
	}
}

func TestAcquirePIDFileReacquiresOwn(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.pid")
	if err := AcquirePIDFile(path); err != nil {
		t.Fatal(err)
	}
	if err := AcquirePIDFile(path); err != nil {
		t.Fatalf("re-acquiring own pid file: %v", err)
	}
}
