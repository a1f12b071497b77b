//go:build integration

package main

import (
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"
)

// TestEditorScriptSyntax checks the embedded editor script with node --check.
// This test requires Node.js to be installed.
func TestEditorScriptSyntax(t *testing.T) {
	nodePath, err := exec.LookPath("node")
	if err != nil {
		t.Skip("Node.js not found, skipping JavaScript checks")
	}

	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("Could not determine test file location")
	}
	projectDir := filepath.Dir(filename)

	cmd := exec.Command(nodePath, "--check", filepath.Join("static", "app.js"))
	cmd.Dir = projectDir

	output, err := cmd.CombinedOutput()
	if err != nil {
		t.Logf("node output:\n%s", string(output))
		if exitErr, ok := err.(*exec.ExitError); ok {
			t.Fatalf("static/app.js failed the syntax check with exit code %d", exitErr.ExitCode())
		}
		t.Fatalf("Failed to run node: %v", err)
	}
}
