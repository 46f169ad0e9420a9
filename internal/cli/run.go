package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/vburojevic/adbg/internal/capture"
	"github.com/vburojevic/adbg/internal/dap"
	"github.com/vburojevic/adbg/internal/domain"
	"github.com/vburojevic/adbg/internal/output"
	"github.com/vburojevic/adbg/internal/store"
)

// RunCmd debugs a Python script, capturing every executed line into the
// capture database and streaming step events as they happen.
type RunCmd struct {
	Script string   `arg:"" help:"Python script to debug"`
	Args   []string `arg:"" optional:"" passthrough:"" help:"Arguments passed to the script"`

	PythonExe      string `help:"Python interpreter used to spawn the debug adapter (default from config)"`
	AdapterHost    string `help:"Host the debug adapter listens on (default from config)"`
	AdapterLogDir  string `help:"Directory for adapter debug logs"`
	JustMyCode     bool   `default:"true" negatable:"" help:"Step only through the debuggee's own code"`
	StopOnEntry    bool   `default:"true" negatable:"" help:"Set dense breakpoints so capture starts at the first line"`
	RequestTimeout string `help:"Per-request adapter timeout (default from config)"`
	MaxSteps       int    `help:"Stop capturing after this many steps (0 = unlimited)"`
	OutDir         string `help:"Also write the step stream to <dir>/<session-id>.ndjson"`
	TrackPatterns  bool   `help:"Record crash signatures across runs"`
	PatternFile    string `help:"Crash signature state file (default: .adbg/patterns.json)"`
}

// Run executes the run command.
func (c *RunCmd) Run(globals *Globals) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := c.resolve(globals)

	timeout, err := time.ParseDuration(cfg.timeout)
	if err != nil {
		return outputErrorCommon(globals, "INVALID_TIMEOUT", fmt.Sprintf("invalid request timeout: %s", err))
	}

	st, err := store.Open(dbPath(globals))
	if err != nil {
		return outputErrorCommon(globals, "DB_OPEN_FAILED", err.Error())
	}
	defer st.Close()

	ctrl := capture.NewController()

	// First interrupt asks the orchestrator to finish the current step and
	// disconnect cleanly; a second one cancels hard.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		ctrl.Submit(capture.ActionQuit)
		<-sigCh
		cancel()
	}()
	defer signal.Stop(sigCh)

	writer := output.NewNDJSONWriter(globals.Stdout)
	rot := newRotation(func(sessionID string) (string, error) {
		return sessionOutputPath(c.OutDir, sessionID)
	})
	defer rot.Close()

	var fileWriter *output.NDJSONWriter
	stepCount := 0
	hooks := capture.Hooks{OnStep: func(step domain.CapturedStep, stepID int64) {
		stepCount++
		if globals.Format == "ndjson" {
			writer.WriteStep(stepID, step)
		} else if !globals.Quiet {
			marker := " "
			if step.Status == domain.StatusError {
				marker = "E"
			}
			fmt.Fprintf(globals.Stdout, "%s %s:%d  %s\n", marker, step.File, step.LineNumber, step.Code)
		}
		if fileWriter != nil {
			fileWriter.WriteStep(stepID, step)
		}
		if c.MaxSteps > 0 && stepCount >= c.MaxSteps {
			ctrl.Submit(capture.ActionQuit)
		}
	}}

	orch := capture.New(capture.Config{
		ScriptPath:     c.Script,
		Args:           c.Args,
		PythonExe:      cfg.pythonExe,
		AdapterHost:    cfg.adapterHost,
		AdapterLogDir:  c.AdapterLogDir,
		JustMyCode:     c.JustMyCode,
		StopOnEntry:    c.StopOnEntry,
		RequestTimeout: timeout,
	}, st, ctrl, capture.Options{
		Logger: globals.logger.Sugared(),
		Hooks:  hooks,
	})

	if c.OutDir != "" {
		w, _, path, rerr := rot.Open(orch.SessionID())
		if rerr != nil {
			return outputErrorCommon(globals, "OUT_DIR_FAILED", rerr.Error())
		}
		fileWriter = output.NewNDJSONWriter(w)
		globals.Debug("writing step stream to %s", path)
	}

	if globals.Format == "ndjson" {
		writer.WriteSessionStart(domain.NewSessionStart(orch.SessionID(), c.Script, 0))
	} else if !globals.Quiet {
		fmt.Fprintf(globals.Stderr, "Capturing %s (session %s)\n", c.Script, orch.SessionID())
		fmt.Fprintln(globals.Stderr, "Press Ctrl+C to stop")
	}

	runErr := orch.Run(ctx)

	// The summary row is closed even on failure, so report whatever landed.
	if summary, serr := st.Session(orch.SessionID()); serr == nil {
		saveLastRun(orch.SessionID(), dbPath(globals), c.Script)
		if globals.Format == "ndjson" {
			writer.WriteSessionEnd(domain.NewSessionEnd(summary))
		} else if !globals.Quiet {
			fmt.Fprintf(globals.Stderr, "Captured %d steps (%d errors) in session %s\n",
				summary.TotalSteps, summary.ErrorSteps, summary.SessionID)
		}
		if c.TrackPatterns {
			c.reportPatterns(globals, writer, st, orch.SessionID())
		}
	}

	if runErr != nil {
		if errors.Is(runErr, dap.ErrAdapterUnreachable) {
			return outputErrorCommon(globals, "ADAPTER_UNREACHABLE", runErr.Error(),
				"is debugpy installed? try: pip install debugpy")
		}
		if errors.Is(runErr, context.Canceled) {
			return nil
		}
		return outputErrorCommon(globals, "CAPTURE_FAILED", runErr.Error())
	}
	return nil
}

// reportPatterns folds the session's error steps into the cross-run crash
// signature store and reports which signatures are new.
func (c *RunCmd) reportPatterns(globals *Globals, writer *output.NDJSONWriter, st *store.Store, sessionID string) {
	steps, err := st.Steps(sessionID)
	if err != nil {
		return
	}
	counts := map[string]int{}
	for _, step := range steps {
		if step.Status != domain.StatusError {
			continue
		}
		counts[output.NormalizeCrash(step.ErrorType, step.ErrorMessage)]++
	}
	if len(counts) == 0 {
		return
	}

	matches := make([]output.PatternMatch, 0, len(counts))
	for sig, n := range counts {
		matches = append(matches, output.PatternMatch{Pattern: sig, Count: n})
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Pattern < matches[j].Pattern })

	patterns := output.NewPatternStore(c.PatternFile)
	annotated := patterns.RecordPatterns(matches)
	if err := patterns.Save(); err != nil {
		globals.Debug("pattern store save failed: %v", err)
	}

	for _, ap := range annotated {
		if globals.Format == "ndjson" {
			writer.WriteValue(map[string]any{
				"type":          "crash_pattern",
				"schemaVersion": output.SchemaVersion,
				"pattern":       ap.Pattern,
				"count":         ap.Count,
				"is_new":        ap.IsNew,
				"total_count":   ap.TotalCount,
			})
		} else if !globals.Quiet {
			label := "known"
			if ap.IsNew {
				label = "NEW"
			}
			fmt.Fprintf(globals.Stderr, "[%s] %s (x%d)\n", label, ap.Pattern, ap.Count)
		}
	}
}

type resolvedRunConfig struct {
	pythonExe   string
	adapterHost string
	timeout     string
}

// resolve applies config-file defaults for flags the user left empty.
func (c *RunCmd) resolve(globals *Globals) resolvedRunConfig {
	out := resolvedRunConfig{
		pythonExe:   c.PythonExe,
		adapterHost: c.AdapterHost,
		timeout:     c.RequestTimeout,
	}
	if out.pythonExe == "" {
		out.pythonExe = globals.Config.Defaults.PythonExe
	}
	if out.adapterHost == "" {
		out.adapterHost = globals.Config.Defaults.AdapterHost
	}
	if out.timeout == "" {
		out.timeout = globals.Config.Defaults.RequestTimeout
	}
	if out.timeout == "" {
		out.timeout = "10s"
	}
	return out
}

// dbPath resolves the database location: flag, config, then default.
func dbPath(globals *Globals) string {
	if globals.DBPath != "" {
		return globals.DBPath
	}
	return store.DefaultPath()
}
