package lockguard_test

import (
	"errors"
	"os"
	"strings"
	"testing"

	"datadb/internal/lockguard"
)

func TestCheck_BlockedWithoutMarker(t *testing.T) {
	dir := t.TempDir()
	err := lockguard.Check(dir, false)
	if err == nil {
		t.Fatalf("expected restore to be blocked")
	}
	var blocked *lockguard.BlockedError
	if !errors.As(err, &blocked) {
		t.Fatalf("error type = %T, want *BlockedError", err)
	}
	if blocked.Dir != dir {
		t.Fatalf("Dir = %q, want %q", blocked.Dir, dir)
	}
	for _, want := range []string{lockguard.MarkerName, "--force"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("message %q does not mention %q", err, want)
		}
	}
}

func TestCheck_ForceBypasses(t *testing.T) {
	if err := lockguard.Check(t.TempDir(), true); err != nil {
		t.Fatalf("Check with force: %v", err)
	}
}

func TestCheck_MarkerPresent(t *testing.T) {
	dir := t.TempDir()
	if err := lockguard.Acquire(dir); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := lockguard.Check(dir, false); err != nil {
		t.Fatalf("Check: %v", err)
	}
}

func TestAcquire_CreatesSingleZeroByteMarker(t *testing.T) {
	dir := t.TempDir()
	if err := lockguard.Acquire(dir); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := lockguard.Acquire(dir); err != nil {
		t.Fatalf("second Acquire: %v", err)
	}
	info, err := os.Stat(lockguard.Path(dir))
	if err != nil {
		t.Fatalf("stat marker: %v", err)
	}
	if info.Size() != 0 {
		t.Fatalf("marker size = %d, want 0", info.Size())
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != lockguard.MarkerName {
		t.Fatalf("dir entries = %v, want only the marker", entries)
	}
}

func TestPresent(t *testing.T) {
	dir := t.TempDir()
	present, err := lockguard.Present(dir)
	if err != nil || present {
		t.Fatalf("Present = %v, %v; want false, nil", present, err)
	}
	if err := lockguard.Acquire(dir); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	present, err = lockguard.Present(dir)
	if err != nil || !present {
		t.Fatalf("Present = %v, %v; want true, nil", present, err)
	}
}
