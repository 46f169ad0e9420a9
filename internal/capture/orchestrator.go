// Package capture drives a debuggee from launch to termination through the
// debug-adapter protocol, harvesting stack, scope and variable data at every
// stop and persisting each step to the capture store.
package capture

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vburojevic/adbg/internal/adapter"
	"github.com/vburojevic/adbg/internal/dap"
	"github.com/vburojevic/adbg/internal/domain"
	"github.com/vburojevic/adbg/internal/store"
)

// Scope pseudo-variables the adapter injects that are not user data.
var skipVariableNames = map[string]bool{
	"special variables":  true,
	"function variables": true,
	"class variables":    true,
}

// Config describes one capture run.
type Config struct {
	ScriptPath  string
	Args        []string
	PythonExe   string
	AdapterHost string
	// AdapterAddr attaches to an already-listening adapter instead of
	// spawning one. Used by tests and external adapter setups.
	AdapterAddr   string
	AdapterLogDir string
	JustMyCode    bool
	StopOnEntry   bool

	// RequestTimeout bounds every steady-state correlated request; expiry
	// there is fatal since it means the adapter stopped responding.
	RequestTimeout time.Duration
	// HandshakeTimeout bounds initialize/configurationDone and the
	// initialized-event wait.
	HandshakeTimeout time.Duration
	// ConnectDeadline bounds the connect-retry loop after adapter spawn.
	ConnectDeadline time.Duration
}

func (c *Config) applyDefaults() {
	if c.AdapterHost == "" {
		c.AdapterHost = "127.0.0.1"
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 10 * time.Second
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 15 * time.Second
	}
	if c.ConnectDeadline <= 0 {
		c.ConnectDeadline = 15 * time.Second
	}
}

// Hooks let the CLI observe captured steps as they are persisted.
type Hooks struct {
	OnStep func(step domain.CapturedStep, stepID int64)
}

// Options carry the ambient collaborators; zero values get quiet defaults.
type Options struct {
	Clock  clock.Clock
	Logger *zap.SugaredLogger
	Hooks  Hooks
}

// Orchestrator is the stepping state machine:
// Starting -> Handshaking -> Running -> Draining -> Terminated.
// It exclusively owns the adapter connection and the in-memory session.
type Orchestrator struct {
	cfg   Config
	st    *store.Store
	ctrl  *Controller
	clk   clock.Clock
	log   *zap.SugaredLogger
	hooks Hooks

	sessionID   string
	client      *dap.Client
	proc        *adapter.Process
	snapshotted map[string]bool
}

// New builds an orchestrator for one session. ctrl may be shared with a
// process-control collaborator; it must not be nil.
func New(cfg Config, st *store.Store, ctrl *Controller, opts Options) *Orchestrator {
	cfg.applyDefaults()
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	return &Orchestrator{
		cfg:         cfg,
		st:          st,
		ctrl:        ctrl,
		clk:         opts.Clock,
		log:         opts.Logger,
		hooks:       opts.Hooks,
		sessionID:   uuid.NewString(),
		snapshotted: make(map[string]bool),
	}
}

// SessionID returns the id under which this run persists its steps.
func (o *Orchestrator) SessionID() string { return o.sessionID }

// Run executes the full capture pipeline and blocks until the debuggee
// terminates, the context is cancelled, a quit action arrives, or a fatal
// protocol error occurs. The session summary always gets an end time, even
// on failure, so a truncated session stays fully queryable.
func (o *Orchestrator) Run(ctx context.Context) (err error) {
	scriptAbs, aerr := filepath.Abs(o.cfg.ScriptPath)
	if aerr != nil {
		return fmt.Errorf("capture: resolve script path: %w", aerr)
	}

	o.ctrl.setState(StateStarting)
	summary := domain.SessionSummary{
		SessionID:  o.sessionID,
		File:       scriptAbs,
		Language:   "python",
		StartTime:  domain.UTCNow(),
		Provenance: detectProvenance(filepath.Dir(scriptAbs)),
	}
	if err := o.st.OpenSession(summary); err != nil {
		return err
	}
	defer func() {
		// Truncated-but-consistent: the summary reflects whatever was
		// captured before failure rather than dangling open.
		if cerr := o.st.CloseSession(o.sessionID, domain.UTCNow()); cerr != nil && err == nil {
			err = cerr
		}
		o.ctrl.setState(StateTerminated)
	}()

	addr := o.cfg.AdapterAddr
	if addr == "" {
		proc, perr := adapter.Start(adapter.Config{
			PythonExe: o.cfg.PythonExe,
			Host:      o.cfg.AdapterHost,
			LogDir:    o.cfg.AdapterLogDir,
			Logger:    o.log,
		})
		if perr != nil {
			return perr
		}
		o.proc = proc
		defer proc.Stop()
		addr = proc.Addr()
	}

	if err := o.connect(ctx, addr); err != nil {
		return err
	}
	defer o.client.Close()

	o.ctrl.setState(StateHandshaking)
	if err := o.handshake(ctx, scriptAbs); err != nil {
		return err
	}

	o.ctrl.setState(StateRunning)
	loopErr := o.captureLoop(ctx)

	o.ctrl.setState(StateDraining)
	return loopErr
}

// connect retries dialing with a short backoff until the adapter accepts or
// the startup deadline passes, then fails with ErrAdapterUnreachable.
func (o *Orchestrator) connect(ctx context.Context, addr string) error {
	deadline := o.clk.Now().Add(o.cfg.ConnectDeadline)
	for {
		client := dap.NewClient(addr, dap.Options{
			DialTimeout: o.cfg.RequestTimeout,
			Clock:       o.clk,
			Logger:      o.log,
		})
		err := client.Connect()
		if err == nil {
			o.client = client
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !o.clk.Now().Before(deadline) {
			return fmt.Errorf("%w: %s: %v", dap.ErrAdapterUnreachable, addr, err)
		}
		o.clk.Sleep(100 * time.Millisecond)
	}
}

// handshake performs the fixed protocol opening. The launch request is the
// single fire-and-forget case: many adapters delay its acknowledgement until
// the debuggee actually starts, so its response is awaited last with a short
// tolerated timeout.
func (o *Orchestrator) handshake(ctx context.Context, scriptAbs string) error {
	_, err := o.client.Request("initialize", map[string]any{
		"clientID":               "adbg",
		"adapterID":              "python",
		"pathFormat":             "path",
		"linesStartAt1":          true,
		"columnsStartAt1":        true,
		"locale":                 "en-US",
		"supportsVariableType":   true,
		"supportsVariablePaging": true,
	}, o.cfg.HandshakeTimeout)
	if err != nil {
		return fmt.Errorf("capture: initialize: %w", err)
	}

	launchSeq, err := o.client.Send("launch",
		launchArguments(scriptAbs, o.cfg.Args, o.cfg.JustMyCode, o.cfg.StopOnEntry))
	if err != nil {
		return fmt.Errorf("capture: launch: %w", err)
	}

	o.awaitInitializedEvent(ctx)

	tryOptional(o.log, "setExceptionBreakpoints", func() error {
		_, err := o.client.Request("setExceptionBreakpoints", map[string]any{
			"filters":       []any{"uncaught"},
			"filterOptions": []any{},
		}, o.cfg.RequestTimeout)
		return err
	})
	tryOptional(o.log, "setBreakpoints", func() error {
		var bps []any
		if o.cfg.StopOnEntry {
			for _, line := range executableLines(scriptAbs) {
				bps = append(bps, map[string]any{"line": line})
			}
		}
		if bps == nil {
			bps = []any{}
		}
		_, err := o.client.Request("setBreakpoints", map[string]any{
			"source":      map[string]any{"path": scriptAbs},
			"breakpoints": bps,
		}, o.cfg.RequestTimeout)
		return err
	})

	// configurationDone is what actually starts execution.
	if _, err := o.client.Request("configurationDone", map[string]any{}, o.cfg.HandshakeTimeout); err != nil {
		return fmt.Errorf("capture: configurationDone: %w", err)
	}

	tryOptional(o.log, "launch response", func() error {
		_, err := o.client.WaitResponse(launchSeq, o.cfg.RequestTimeout)
		return err
	})
	return nil
}

// awaitInitializedEvent polls the event queue until the adapter announces
// readiness or the handshake deadline passes. Elapsing quietly is tolerated;
// some adapters emit the event before we start looking.
func (o *Orchestrator) awaitInitializedEvent(ctx context.Context) {
	deadline := o.clk.Now().Add(o.cfg.HandshakeTimeout)
	for o.clk.Now().Before(deadline) && ctx.Err() == nil {
		for _, ev := range o.client.DrainEvents() {
			if ev.Event == "initialized" {
				return
			}
		}
		o.clk.Sleep(50 * time.Millisecond)
	}
}

// captureLoop is the Running state: drain events, introspect stops, persist
// steps, resume with stepIn. Returns nil on clean termination.
func (o *Orchestrator) captureLoop(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			o.disconnectDebuggee()
			return ctx.Err()
		}
		if o.ctrl.takeQuit() {
			o.disconnectDebuggee()
			return nil
		}

		events := o.client.DrainEvents()
		if len(events) == 0 {
			if !o.client.Running() {
				return fmt.Errorf("capture: %w", dap.ErrConnectionClosed)
			}
			o.clk.Sleep(10 * time.Millisecond)
			continue
		}

		for _, ev := range events {
			switch ev.Event {
			case "stopped":
				quit, err := o.captureStop(ev)
				if err != nil {
					return err
				}
				if quit {
					return nil
				}
			case "terminated", "exited":
				return nil
			case "initialized", "continued", "output":
				// initialized was consumed during the handshake; output is
				// available to collaborators via the same event stream.
			default:
				// Adapter chatter we do not recognize. Deliberately ignored.
				o.log.Debugw("unrecognized event", "event", ev.Event)
			}
		}
	}
}

// captureStop introspects one stopped event: first frame, source line, all
// scopes flattened to textual values, error classification, then persist and
// resume. Only the first stack frame is captured; deeper frames stay
// reachable through the same stackTrace call for collaborators.
func (o *Orchestrator) captureStop(ev *dap.Message) (quit bool, err error) {
	threadID := ev.BodyInt("threadId")
	reason := ev.BodyString("reason")

	st, err := o.client.Request("stackTrace", map[string]any{"threadId": threadID}, o.cfg.RequestTimeout)
	if err != nil {
		return false, fmt.Errorf("capture: stackTrace: %w", err)
	}
	frames := st.BodySlice("stackFrames")
	if len(frames) == 0 {
		// Nothing to introspect here; keep the machine moving.
		return false, o.stepIn(threadID)
	}
	frame, _ := frames[0].(map[string]any)
	filePath, line, frameID := frameFields(frame)

	if filePath != "" && !o.snapshotted[filePath] {
		tryOptional(o.log, "file snapshot", func() error {
			return o.snapshotFile(filePath)
		})
		o.snapshotted[filePath] = true
	}

	code := sourceLine(filePath, line)

	scopesResp, err := o.client.Request("scopes", map[string]any{"frameId": frameID}, o.cfg.RequestTimeout)
	if err != nil {
		return false, fmt.Errorf("capture: scopes: %w", err)
	}
	vars, err := o.collectVariables(scopesResp)
	if err != nil {
		return false, err
	}

	step := domain.CapturedStep{
		SessionID:  o.sessionID,
		File:       filePath,
		LineNumber: line,
		Code:       code,
		Timestamp:  domain.UTCNow(),
		Variables:  vars,
		StackDepth: len(frames),
		ThreadID:   threadID,
		Status:     domain.StatusSuccess,
	}

	if reason == "exception" || reason == "error" {
		step.Status = domain.StatusError
		o.classifyError(threadID, &step)
	}

	stepID, err := o.st.AppendStep(step)
	if err != nil {
		return false, err
	}
	o.ctrl.setStop(o.sessionID, filePath, line, code)
	if o.hooks.OnStep != nil {
		o.hooks.OnStep(step, stepID)
	}

	if a, ok := o.ctrl.take(); ok {
		switch a {
		case ActionQuit:
			o.disconnectDebuggee()
			return true, nil
		case ActionContinue:
			if _, err := o.client.Request("continue", map[string]any{"threadId": threadID}, o.cfg.RequestTimeout); err != nil {
				return false, fmt.Errorf("capture: continue: %w", err)
			}
			return false, nil
		}
	}
	return false, o.stepIn(threadID)
}

// stepIn resumes with single-step granularity, so call-nested lines get
// captured as well, not just top-level lines.
func (o *Orchestrator) stepIn(threadID int) error {
	if _, err := o.client.Request("stepIn", map[string]any{"threadId": threadID}, o.cfg.RequestTimeout); err != nil {
		return fmt.Errorf("capture: stepIn: %w", err)
	}
	return nil
}

// collectVariables fetches every scope of the frame and flattens it to
// scope -> name -> adapter-rendered value. Values stay opaque strings.
func (o *Orchestrator) collectVariables(scopesResp *dap.Message) (domain.Variables, error) {
	vars := domain.Variables{}
	for _, raw := range scopesResp.BodySlice("scopes") {
		sc, _ := raw.(map[string]any)
		if sc == nil {
			continue
		}
		name, _ := sc["name"].(string)
		ref := intFrom(sc["variablesReference"])
		if name == "" || ref == 0 {
			continue
		}
		vresp, err := o.client.Request("variables", map[string]any{"variablesReference": ref}, o.cfg.RequestTimeout)
		if err != nil {
			return nil, fmt.Errorf("capture: variables for scope %s: %w", name, err)
		}
		scopeMap := map[string]string{}
		for _, rv := range vresp.BodySlice("variables") {
			v, _ := rv.(map[string]any)
			if v == nil {
				continue
			}
			vname, _ := v["name"].(string)
			if vname == "" || skipVariableNames[vname] {
				continue
			}
			value, _ := v["value"].(string)
			scopeMap[vname] = value
		}
		vars[name] = scopeMap
	}
	return vars, nil
}

// classifyError enriches an exception stop with type, message and a rendered
// call stack. Both lookups are optional; either may fail silently and the
// step is persisted regardless.
func (o *Orchestrator) classifyError(threadID int, step *domain.CapturedStep) {
	tryOptional(o.log, "exceptionInfo", func() error {
		resp, err := o.client.Request("exceptionInfo", map[string]any{"threadId": threadID}, o.cfg.RequestTimeout)
		if err != nil {
			return err
		}
		step.ErrorType = resp.BodyString("exceptionId")
		if details := resp.BodyMap("details"); details != nil {
			if msg, ok := details["message"].(string); ok {
				step.ErrorMessage = msg
			}
		}
		return nil
	})
	tryOptional(o.log, "exception stackTrace", func() error {
		resp, err := o.client.Request("stackTrace", map[string]any{"threadId": threadID}, o.cfg.RequestTimeout)
		if err != nil {
			return err
		}
		var rendered string
		for _, raw := range resp.BodySlice("stackFrames") {
			fr, _ := raw.(map[string]any)
			if fr == nil {
				continue
			}
			path, line, _ := frameFields(fr)
			if path == "" || line == 0 {
				continue
			}
			if rendered != "" {
				rendered += "\n"
			}
			rendered += fmt.Sprintf("%s:%d", path, line)
		}
		step.StackTrace = rendered
		return nil
	})
}

// disconnectDebuggee asks the adapter to tear the debuggee down; best-effort
// since the adapter may already be gone.
func (o *Orchestrator) disconnectDebuggee() {
	tryOptional(o.log, "disconnect", func() error {
		_, err := o.client.Request("disconnect", map[string]any{"terminateDebuggee": true}, 2*time.Second)
		return err
	})
}

func (o *Orchestrator) snapshotFile(path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return o.st.AddFileSnapshot(o.sessionID, path, content)
}

// frameFields pulls path, line and frame id out of a stackFrame object.
func frameFields(frame map[string]any) (path string, line, frameID int) {
	if frame == nil {
		return "", 0, 0
	}
	if src, ok := frame["source"].(map[string]any); ok {
		path, _ = src["path"].(string)
	}
	return path, intFrom(frame["line"]), intFrom(frame["id"])
}

func intFrom(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	}
	return 0
}
