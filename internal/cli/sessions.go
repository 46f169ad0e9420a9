package cli

import (
	"fmt"

	"github.com/olekukonko/tablewriter"

	"github.com/vburojevic/adbg/internal/output"
	"github.com/vburojevic/adbg/internal/store"
)

// SessionsCmd lists stored capture sessions, newest first.
type SessionsCmd struct {
	Limit int `help:"Maximum number of sessions to list (0 = all)"`
}

// Run executes the sessions command.
func (c *SessionsCmd) Run(globals *Globals) error {
	st, err := store.Open(dbPath(globals))
	if err != nil {
		return outputErrorCommon(globals, "DB_OPEN_FAILED", err.Error())
	}
	defer st.Close()

	sessions, err := st.Sessions()
	if err != nil {
		return outputErrorCommon(globals, "QUERY_FAILED", err.Error())
	}
	if c.Limit > 0 && len(sessions) > c.Limit {
		sessions = sessions[:c.Limit]
	}

	if globals.Format == "ndjson" {
		w := output.NewNDJSONWriter(globals.Stdout)
		for _, s := range sessions {
			if err := w.WriteSummary(s); err != nil {
				return err
			}
		}
		return nil
	}

	if len(sessions) == 0 {
		fmt.Fprintln(globals.Stdout, "No sessions found.")
		return nil
	}

	table := tablewriter.NewWriter(globals.Stdout)
	table.Header("SESSION", "FILE", "START", "STEPS", "ERRORS", "CRASHES")
	for _, s := range sessions {
		table.Append(s.SessionID, s.File, s.StartTime,
			fmt.Sprintf("%d", s.TotalSteps),
			fmt.Sprintf("%d", s.ErrorSteps),
			fmt.Sprintf("%d", s.CrashCount))
	}
	return table.Render()
}
