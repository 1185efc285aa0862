package main

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

// TestBuildWithCGODisabled checks that the module builds without cgo, so the
// binary has no C linkage.
func TestBuildWithCGODisabled(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping build in short mode")
	}
	modRoot, err := filepath.Abs(filepath.Join("..", ".."))
	if err != nil {
		t.Fatalf("failed to resolve module root: %v", err)
	}

	cmd := exec.Command("go", "build", "./...")
	cmd.Dir = modRoot
	cmd.Env = append(os.Environ(), "CGO_ENABLED=0")
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		t.Fatalf("build failed with CGO disabled in %s: %v", filepath.Base(modRoot), err)
	}
}
