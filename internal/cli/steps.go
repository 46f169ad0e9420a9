package cli

import (
	"fmt"
	"regexp"
	"time"

	"github.com/vburojevic/adbg/internal/filter"
	"github.com/vburojevic/adbg/internal/output"
	"github.com/vburojevic/adbg/internal/store"
)

// StepsCmd queries the captured steps of one session with the filter
// pipeline: include pattern, exclude pattern, where clauses, dedupe.
type StepsCmd struct {
	Session string   `arg:"" optional:"" help:"Session ID to query (defaults to the last run)"`
	Last    bool     `help:"Query the most recent session"`
	Pattern string   `short:"p" help:"Regex the step's source text must match"`
	Exclude string   `short:"x" help:"Regex that drops matching steps"`
	Where   []string `short:"w" help:"Field filter like 'status=error' or 'line>=10' (repeatable)"`
	Dedupe  bool     `help:"Collapse consecutive visits to the same line"`
	Window  string   `help:"Dedupe window (e.g. 5s); implies suppressing any revisit within it"`
	Limit   int      `help:"Maximum steps to output (0 = config default)"`
}

// Run executes the steps command.
func (c *StepsCmd) Run(globals *Globals) error {
	if err := validateFlags(globals, c.Window != "", c.Dedupe); err != nil {
		return err
	}

	st, err := store.Open(dbPath(globals))
	if err != nil {
		return outputErrorCommon(globals, "DB_OPEN_FAILED", err.Error())
	}
	defer st.Close()

	sessionID, err := resolveSession(globals, st, c.Session, c.Last)
	if err != nil {
		return err
	}

	pipeline, dedupe, err := c.buildFilters(globals)
	if err != nil {
		return err
	}

	steps, err := st.Steps(sessionID)
	if err != nil {
		return outputErrorCommon(globals, "QUERY_FAILED", err.Error())
	}

	limit := c.Limit
	if limit == 0 {
		limit = globals.Config.Defaults.Limit
	}

	w := output.NewNDJSONWriter(globals.Stdout)
	emitted := 0
	for i := range steps {
		step := steps[i]
		if !pipeline.Match(&step) {
			continue
		}
		if dedupe != nil {
			if r := dedupe.Check(&step); !r.ShouldEmit {
				continue
			}
		}
		if globals.Format == "ndjson" {
			if err := w.WriteStep(step.ID, step); err != nil {
				return err
			}
		} else {
			marker := " "
			if step.Status != "success" {
				marker = "E"
			}
			fmt.Fprintf(globals.Stdout, "%s %s:%d  %s\n", marker, step.File, step.LineNumber, step.Code)
		}
		emitted++
		if limit > 0 && emitted >= limit {
			break
		}
	}

	if globals.Format != "ndjson" && !globals.Quiet {
		fmt.Fprintf(globals.Stderr, "%d of %d steps\n", emitted, len(steps))
	}
	return nil
}

func (c *StepsCmd) buildFilters(globals *Globals) (*filter.Pipeline, *filter.DedupeFilter, error) {
	var pattern *regexp.Regexp
	var err error
	if c.Pattern != "" {
		pattern, err = regexp.Compile(c.Pattern)
		if err != nil {
			return nil, nil, outputErrorCommon(globals, "INVALID_PATTERN", fmt.Sprintf("invalid regex pattern: %s", err))
		}
	}

	var excludes []*regexp.Regexp
	exclude := c.Exclude
	if exclude == "" {
		exclude = globals.Config.Defaults.ExcludePattern
	}
	if exclude != "" {
		re, err := regexp.Compile(exclude)
		if err != nil {
			return nil, nil, outputErrorCommon(globals, "INVALID_EXCLUDE_PATTERN", fmt.Sprintf("invalid exclude pattern: %s", err))
		}
		excludes = append(excludes, re)
	}

	where, err := filter.NewWhereFilter(c.Where)
	if err != nil {
		return nil, nil, outputErrorCommon(globals, "INVALID_WHERE", err.Error())
	}

	var dedupe *filter.DedupeFilter
	if c.Dedupe {
		var window time.Duration
		if c.Window != "" {
			window, err = time.ParseDuration(c.Window)
			if err != nil {
				return nil, nil, outputErrorCommon(globals, "INVALID_WINDOW", fmt.Sprintf("invalid dedupe window: %s", err))
			}
		}
		dedupe = filter.NewDedupeFilter(window)
	}

	return filter.NewPipeline(pattern, excludes, where), dedupe, nil
}

// resolveSession turns the positional session argument or --last into a
// concrete session ID, falling back to the last-run state file.
func resolveSession(globals *Globals, st *store.Store, arg string, last bool) (string, error) {
	if arg != "" && !last {
		return arg, nil
	}
	if state, err := loadLastRun(); err == nil && state != nil && state.SessionID != "" {
		return state.SessionID, nil
	}
	// No state file; pick the newest stored session.
	sessions, err := st.Sessions()
	if err != nil || len(sessions) == 0 {
		return "", outputErrorCommon(globals, "NO_SESSION", "no session specified and no previous run found",
			"run 'adbg sessions' to list stored sessions")
	}
	return sessions[0].SessionID, nil
}
