package main

import (
	"path/filepath"
	"testing"
)

func TestCLIVersion(t *testing.T) {
	e := newExecutor(t)
	e.Run(t, "chit", "--version")
	e.checkNextLine(t, "^Chit$")
	e.checkNextLine(t, "^Version:")
	e.checkNextLine(t, "^GoVersion: go")
	e.checkEOF(t)
}

func TestNodeBadConfig(t *testing.T) {
	e := newExecutor(t)
	e.RunWithError(t, "chit", "node", "--config-file", filepath.Join(t.TempDir(), "missing.yml"))
}
