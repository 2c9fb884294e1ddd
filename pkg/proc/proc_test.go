package proc

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

func TestReadPidFile(t *testing.T) {
	dir := t.TempDir()

	t.Run("valid", func(t *testing.T) {
		path := filepath.Join(dir, "ok.pid")
		os.WriteFile(path, []byte("1234\n"), 0644)
		pid, err := ReadPidFile(path)
		if err != nil {
			t.Fatal(err)
		}
		if pid != 1234 {
			t.Errorf("pid = %d, want 1234", pid)
		}
	})

	t.Run("missing", func(t *testing.T) {
		_, err := ReadPidFile(filepath.Join(dir, "none.pid"))
		if !errors.Is(err, os.ErrNotExist) {
			t.Errorf("err = %v, want ErrNotExist", err)
		}
	})

	t.Run("garbage", func(t *testing.T) {
		path := filepath.Join(dir, "bad.pid")
		os.WriteFile(path, []byte("abc"), 0644)
		if _, err := ReadPidFile(path); err == nil {
			t.Error("expected error")
		}
	})

	t.Run("zero", func(t *testing.T) {
		path := filepath.Join(dir, "zero.pid")
		os.WriteFile(path, []byte("0"), 0644)
		if _, err := ReadPidFile(path); err == nil {
			t.Error("expected error for pid 0")
		}
	})
}

func TestExitCode(t *testing.T) {
	if ExitCode(nil) != 0 {
		t.Error("nil error should be exit 0")
	}
	if ExitCode(errors.New("spawn failed")) != -1 {
		t.Error("non-exit error should be -1")
	}
	wrapped := fmt.Errorf("dhclient: %w", &exec.ExitError{})
	if ExitCode(wrapped) == 0 {
		t.Error("wrapped ExitError should not report success")
	}
}
