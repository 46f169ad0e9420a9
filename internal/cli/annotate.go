package cli

import (
	"fmt"
	"strings"

	"github.com/vburojevic/adbg/internal/output"
	"github.com/vburojevic/adbg/internal/store"
)

// AnnotateCmd appends a free-text observation to one captured step.
// Observations are append-only; existing text is never rewritten.
type AnnotateCmd struct {
	StepID int64    `arg:"" help:"ID of the step to annotate"`
	Text   []string `arg:"" help:"Observation text"`
}

// Run executes the annotate command.
func (c *AnnotateCmd) Run(globals *Globals) error {
	text := strings.TrimSpace(strings.Join(c.Text, " "))
	if text == "" {
		return outputErrorCommon(globals, "EMPTY_OBSERVATION", "observation text is required")
	}

	st, err := store.Open(dbPath(globals))
	if err != nil {
		return outputErrorCommon(globals, "DB_OPEN_FAILED", err.Error())
	}
	defer st.Close()

	if err := st.AppendObservation(c.StepID, text); err != nil {
		return outputErrorCommon(globals, "ANNOTATE_FAILED", err.Error())
	}

	if globals.Format == "ndjson" {
		return output.NewNDJSONWriter(globals.Stdout).WriteValue(map[string]any{
			"type":          "annotated",
			"schemaVersion": output.SchemaVersion,
			"step_id":       c.StepID,
		})
	}
	if !globals.Quiet {
		fmt.Fprintf(globals.Stdout, "Annotated step %d\n", c.StepID)
	}
	return nil
}
