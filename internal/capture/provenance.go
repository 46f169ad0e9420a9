package capture

import (
	"os/exec"
	"strings"

	"github.com/vburojevic/adbg/internal/domain"
)

// detectProvenance records which git tree the debugged code came from.
// Everything is best-effort: a script outside any repository yields a zero
// Provenance rather than an error.
func detectProvenance(dir string) domain.Provenance {
	var p domain.Provenance

	root, err := gitOutput(dir, "rev-parse", "--show-toplevel")
	if err != nil || root == "" {
		return p
	}
	p.RepoRoot = root

	if commit, err := gitOutput(root, "rev-parse", "HEAD"); err == nil {
		p.Commit = commit
	}
	if status, err := gitOutput(root, "status", "--porcelain"); err == nil && status != "" {
		p.Dirty = true
	}
	return p
}

func gitOutput(dir string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
