package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/vburojevic/adbg/internal/store"
)

// ExportCmd dumps one session as a single JSON document: session info, every
// line report, extracted crashes and a rollup summary.
type ExportCmd struct {
	Session string `arg:"" optional:"" help:"Session ID to export (defaults to the last run)"`
	Last    bool   `help:"Export the most recent session"`
	Output  string `short:"o" help:"Write to file instead of stdout"`
	Compact bool   `help:"Emit compact JSON instead of indented"`
}

// Run executes the export command.
func (c *ExportCmd) Run(globals *Globals) error {
	st, err := store.Open(dbPath(globals))
	if err != nil {
		return outputErrorCommon(globals, "DB_OPEN_FAILED", err.Error())
	}
	defer st.Close()

	sessionID, err := resolveSession(globals, st, c.Session, c.Last)
	if err != nil {
		return err
	}

	doc, err := st.ExportSession(sessionID)
	if err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			return outputErrorCommon(globals, "SESSION_NOT_FOUND", fmt.Sprintf("session %s not found", sessionID),
				"run 'adbg sessions' to list stored sessions")
		}
		return outputErrorCommon(globals, "EXPORT_FAILED", err.Error())
	}

	out := globals.Stdout
	if c.Output != "" {
		f, err := os.Create(c.Output)
		if err != nil {
			return outputErrorCommon(globals, "OUTPUT_FAILED", err.Error())
		}
		defer f.Close()
		out = f
	}

	enc := json.NewEncoder(out)
	if !c.Compact {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(doc); err != nil {
		return err
	}

	if c.Output != "" && !globals.Quiet && globals.Format != "ndjson" {
		fmt.Fprintf(globals.Stderr, "Exported session %s to %s\n", sessionID, c.Output)
	}
	return nil
}
