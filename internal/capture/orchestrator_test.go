package capture

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vburojevic/adbg/internal/dap"
	"github.com/vburojevic/adbg/internal/domain"
	"github.com/vburojevic/adbg/internal/store"
)

// fakeAdapter speaks the server side of the framed protocol. Each incoming
// request is handed to the test's handler, which answers through respond()
// and may push events at will.
type fakeAdapter struct {
	t  *testing.T
	ln net.Listener

	mu   sync.Mutex
	conn net.Conn
}

func newFakeAdapter(t *testing.T, handler func(fa *fakeAdapter, msg *dap.Message)) *fakeAdapter {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	fa := &fakeAdapter{t: t, ln: ln}
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		fa.mu.Lock()
		fa.conn = conn
		fa.mu.Unlock()
		fa.readLoop(conn, handler)
	}()
	t.Cleanup(func() {
		ln.Close()
		fa.mu.Lock()
		if fa.conn != nil {
			fa.conn.Close()
		}
		fa.mu.Unlock()
	})
	return fa
}

func (fa *fakeAdapter) addr() string { return fa.ln.Addr().String() }

// readLoop reassembles frames and dispatches decoded requests serially.
func (fa *fakeAdapter) readLoop(conn net.Conn, handler func(fa *fakeAdapter, msg *dap.Message)) {
	sep := []byte("\r\n\r\n")
	var buf []byte
	chunk := make([]byte, 4096)
	for {
		for {
			idx := bytes.Index(buf, sep)
			if idx == -1 {
				break
			}
			var length int
			for _, line := range strings.Split(string(buf[:idx]), "\r\n") {
				if v, ok := strings.CutPrefix(line, "Content-Length:"); ok {
					length, _ = strconv.Atoi(strings.TrimSpace(v))
				}
			}
			total := idx + len(sep) + length
			if len(buf) < total {
				break
			}
			var msg dap.Message
			if err := json.Unmarshal(buf[idx+len(sep):total], &msg); err == nil {
				handler(fa, &msg)
			}
			buf = buf[total:]
		}
		n, err := conn.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if err != nil {
			return
		}
	}
}

func (fa *fakeAdapter) write(payload any) {
	fa.mu.Lock()
	defer fa.mu.Unlock()
	if fa.conn == nil {
		return
	}
	wire, err := dap.Encode(payload)
	require.NoError(fa.t, err)
	fa.conn.Write(wire)
}

func (fa *fakeAdapter) respond(req *dap.Message, success bool, body map[string]any) {
	fa.write(map[string]any{
		"type":        "response",
		"request_seq": req.Seq,
		"command":     req.Command,
		"success":     success,
		"body":        body,
	})
}

func (fa *fakeAdapter) event(name string, body map[string]any) {
	fa.write(map[string]any{"type": "event", "event": name, "body": body})
}

// writeScript drops a small python file whose line 7 is a known statement.
func writeScript(t *testing.T) string {
	t.Helper()
	content := strings.Join([]string{
		"# demo script",
		"",
		"def main():",
		"    pass",
		"",
		"",
		"x = 1",
		"y = 2",
		"",
	}, "\n")
	path := filepath.Join(t.TempDir(), "a.py")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "line_reports.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testConfig(script, addr string) Config {
	return Config{
		ScriptPath:       script,
		AdapterAddr:      addr,
		StopOnEntry:      true,
		JustMyCode:       true,
		RequestTimeout:   2 * time.Second,
		HandshakeTimeout: 2 * time.Second,
		ConnectDeadline:  2 * time.Second,
	}
}

// handshakeHandler answers the protocol opening the way debugpy does:
// initialize response then initialized event, launch acknowledged
// immediately, execution starting on configurationDone.
func handshakeHandler(onConfigured func(fa *fakeAdapter)) func(fa *fakeAdapter, msg *dap.Message) {
	return func(fa *fakeAdapter, msg *dap.Message) {
		switch msg.Command {
		case "initialize":
			fa.respond(msg, true, map[string]any{})
			fa.event("initialized", map[string]any{})
		case "configurationDone":
			fa.respond(msg, true, map[string]any{})
			onConfigured(fa)
		default:
			fa.respond(msg, true, map[string]any{})
		}
	}
}

func TestRunCapturesOneStepThenTerminates(t *testing.T) {
	script := writeScript(t)

	var handler func(fa *fakeAdapter, msg *dap.Message)
	base := handshakeHandler(func(fa *fakeAdapter) {
		fa.event("stopped", map[string]any{"threadId": 1, "reason": "breakpoint"})
	})
	handler = func(fa *fakeAdapter, msg *dap.Message) {
		switch msg.Command {
		case "stackTrace":
			fa.respond(msg, true, map[string]any{
				"stackFrames": []any{
					map[string]any{"id": 100, "line": 7, "source": map[string]any{"path": script}},
				},
			})
		case "scopes":
			fa.respond(msg, true, map[string]any{
				"scopes": []any{
					map[string]any{"name": "Locals", "variablesReference": 200},
				},
			})
		case "variables":
			fa.respond(msg, true, map[string]any{
				"variables": []any{
					map[string]any{"name": "x", "value": "1"},
					map[string]any{"name": "y", "value": "2"},
					map[string]any{"name": "special variables", "value": "..."},
				},
			})
		case "stepIn":
			fa.respond(msg, true, map[string]any{})
			fa.event("terminated", map[string]any{})
		default:
			base(fa, msg)
		}
	}
	fa := newFakeAdapter(t, func(fa *fakeAdapter, msg *dap.Message) { handler(fa, msg) })

	st := newTestStore(t)
	o := New(testConfig(script, fa.addr()), st, NewController(), Options{})

	require.NoError(t, o.Run(context.Background()))

	steps, err := st.Steps(o.SessionID())
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, 7, steps[0].LineNumber)
	assert.Equal(t, script, steps[0].File)
	assert.Equal(t, "x = 1", steps[0].Code)
	assert.Equal(t, domain.StatusSuccess, steps[0].Status)
	assert.Equal(t, domain.Variables{"Locals": {"x": "1", "y": "2"}}, steps[0].Variables)
	assert.Equal(t, 1, steps[0].ThreadID)
	assert.Equal(t, 1, steps[0].StackDepth)

	sum, err := st.Session(o.SessionID())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.TotalSteps)
	assert.Equal(t, 1, sum.SuccessfulSteps)
	assert.NotEmpty(t, sum.EndTime, "clean termination must close the session")
}

func TestRunClassifiesExceptionWithFailedIntrospection(t *testing.T) {
	script := writeScript(t)

	base := handshakeHandler(func(fa *fakeAdapter) {
		fa.event("stopped", map[string]any{"threadId": 1, "reason": "exception"})
	})
	handler := func(fa *fakeAdapter, msg *dap.Message) {
		switch msg.Command {
		case "stackTrace":
			fa.respond(msg, true, map[string]any{
				"stackFrames": []any{
					map[string]any{"id": 100, "line": 8, "source": map[string]any{"path": script}},
				},
			})
		case "scopes":
			fa.respond(msg, true, map[string]any{"scopes": []any{}})
		case "exceptionInfo":
			// Adapter refuses: no body at all. Capture must not abort.
			fa.respond(msg, false, nil)
		case "stepIn":
			fa.respond(msg, true, map[string]any{})
			fa.event("exited", map[string]any{})
		default:
			base(fa, msg)
		}
	}
	fa := newFakeAdapter(t, handler)

	st := newTestStore(t)
	o := New(testConfig(script, fa.addr()), st, NewController(), Options{})

	require.NoError(t, o.Run(context.Background()))

	steps, err := st.Steps(o.SessionID())
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, domain.StatusError, steps[0].Status)
	assert.Empty(t, steps[0].ErrorType)
	assert.Empty(t, steps[0].ErrorMessage)
	// The secondary stackTrace still succeeded, so the rendered trace is kept.
	assert.Contains(t, steps[0].StackTrace, script+":8")

	sum, err := st.Session(o.SessionID())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.ErrorSteps)
	assert.Equal(t, 1, sum.CrashCount)
}

func TestRunFailsWithAdapterUnreachable(t *testing.T) {
	script := writeScript(t)

	// Pick a port nobody listens on.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	cfg := testConfig(script, addr)
	cfg.ConnectDeadline = 300 * time.Millisecond

	st := newTestStore(t)
	o := New(cfg, st, NewController(), Options{})

	err = o.Run(context.Background())
	require.ErrorIs(t, err, dap.ErrAdapterUnreachable)

	// No half-initialized summary: the row has an end time even on failure.
	sum, serr := st.Session(o.SessionID())
	require.NoError(t, serr)
	assert.NotEmpty(t, sum.EndTime)
	assert.Zero(t, sum.TotalSteps)
}

func TestRunSteadyStateTimeoutIsFatalButSessionCloses(t *testing.T) {
	script := writeScript(t)

	base := handshakeHandler(func(fa *fakeAdapter) {
		fa.event("stopped", map[string]any{"threadId": 1, "reason": "breakpoint"})
	})
	handler := func(fa *fakeAdapter, msg *dap.Message) {
		if msg.Command == "stackTrace" {
			return // never answer: the adapter has stopped responding
		}
		base(fa, msg)
	}
	fa := newFakeAdapter(t, handler)

	cfg := testConfig(script, fa.addr())
	cfg.RequestTimeout = 300 * time.Millisecond

	st := newTestStore(t)
	o := New(cfg, st, NewController(), Options{})

	err := o.Run(context.Background())
	require.ErrorIs(t, err, dap.ErrRequestTimeout)

	sum, serr := st.Session(o.SessionID())
	require.NoError(t, serr)
	assert.NotEmpty(t, sum.EndTime, "truncated session must still be closed")
}

func TestQuitActionDisconnectsAfterStep(t *testing.T) {
	script := writeScript(t)

	disconnected := make(chan struct{}, 1)
	base := handshakeHandler(func(fa *fakeAdapter) {
		fa.event("stopped", map[string]any{"threadId": 1, "reason": "step"})
	})
	handler := func(fa *fakeAdapter, msg *dap.Message) {
		switch msg.Command {
		case "stackTrace":
			fa.respond(msg, true, map[string]any{
				"stackFrames": []any{
					map[string]any{"id": 100, "line": 7, "source": map[string]any{"path": script}},
				},
			})
		case "scopes":
			fa.respond(msg, true, map[string]any{"scopes": []any{}})
		case "disconnect":
			fa.respond(msg, true, map[string]any{})
			select {
			case disconnected <- struct{}{}:
			default:
			}
		default:
			base(fa, msg)
		}
	}
	fa := newFakeAdapter(t, handler)

	st := newTestStore(t)
	ctrl := NewController()
	o := New(testConfig(script, fa.addr()), st, ctrl, Options{
		Hooks: Hooks{OnStep: func(domain.CapturedStep, int64) {
			ctrl.Submit(ActionQuit)
		}},
	})

	require.NoError(t, o.Run(context.Background()))

	select {
	case <-disconnected:
	case <-time.After(time.Second):
		t.Fatal("expected a disconnect request after the quit action")
	}
	assert.Equal(t, StateTerminated, ctrl.StopState().State)
	assert.Equal(t, 1, ctrl.StopState().StepCount)
}

func TestContinueActionQueuedBetweenStopsResumesWithContinue(t *testing.T) {
	script := writeScript(t)

	resumed := make(chan string, 1)
	base := handshakeHandler(func(fa *fakeAdapter) {
		fa.event("stopped", map[string]any{"threadId": 1, "reason": "step"})
	})
	handler := func(fa *fakeAdapter, msg *dap.Message) {
		switch msg.Command {
		case "stackTrace":
			fa.respond(msg, true, map[string]any{
				"stackFrames": []any{
					map[string]any{"id": 100, "line": 7, "source": map[string]any{"path": script}},
				},
			})
		case "scopes":
			fa.respond(msg, true, map[string]any{"scopes": []any{}})
		case "continue", "stepIn":
			fa.respond(msg, true, map[string]any{})
			select {
			case resumed <- msg.Command:
			default:
			}
			fa.event("terminated", map[string]any{})
		default:
			base(fa, msg)
		}
	}
	fa := newFakeAdapter(t, handler)

	st := newTestStore(t)
	ctrl := NewController()
	// Queued before execution even starts: the idle loop spins past it many
	// times before the first stop and must leave it pending.
	ctrl.Submit(ActionContinue)

	o := New(testConfig(script, fa.addr()), st, ctrl, Options{})
	require.NoError(t, o.Run(context.Background()))

	select {
	case cmd := <-resumed:
		assert.Equal(t, "continue", cmd, "a queued continue must drive the resume")
	case <-time.After(time.Second):
		t.Fatal("expected a resume request after the first step")
	}

	steps, err := st.Steps(o.SessionID())
	require.NoError(t, err)
	require.Len(t, steps, 1)
}

func TestEmptyStackFramesPersistsNothingAndKeepsStepping(t *testing.T) {
	script := writeScript(t)

	stops := 0
	base := handshakeHandler(func(fa *fakeAdapter) {
		fa.event("stopped", map[string]any{"threadId": 1, "reason": "step"})
	})
	handler := func(fa *fakeAdapter, msg *dap.Message) {
		switch msg.Command {
		case "stackTrace":
			if stops == 0 {
				fa.respond(msg, true, map[string]any{"stackFrames": []any{}})
			} else {
				fa.respond(msg, true, map[string]any{
					"stackFrames": []any{
						map[string]any{"id": 100, "line": 7, "source": map[string]any{"path": script}},
					},
				})
			}
		case "scopes":
			fa.respond(msg, true, map[string]any{"scopes": []any{}})
		case "stepIn":
			fa.respond(msg, true, map[string]any{})
			stops++
			if stops < 2 {
				fa.event("stopped", map[string]any{"threadId": 1, "reason": "step"})
			} else {
				fa.event("terminated", map[string]any{})
			}
		default:
			base(fa, msg)
		}
	}
	fa := newFakeAdapter(t, handler)

	st := newTestStore(t)
	o := New(testConfig(script, fa.addr()), st, NewController(), Options{})
	require.NoError(t, o.Run(context.Background()))

	steps, err := st.Steps(o.SessionID())
	require.NoError(t, err)
	require.Len(t, steps, 1, "a frameless stop leaves no row behind")
	assert.Equal(t, 7, steps[0].LineNumber)

	sum, err := st.Session(o.SessionID())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.TotalSteps)
}

func TestRunCapturesConsecutiveSteps(t *testing.T) {
	script := writeScript(t)

	stops := 0
	base := handshakeHandler(func(fa *fakeAdapter) {
		fa.event("stopped", map[string]any{"threadId": 1, "reason": "step"})
	})
	handler := func(fa *fakeAdapter, msg *dap.Message) {
		switch msg.Command {
		case "stackTrace":
			fa.respond(msg, true, map[string]any{
				"stackFrames": []any{
					map[string]any{"id": 100, "line": 7 + stops, "source": map[string]any{"path": script}},
				},
			})
		case "scopes":
			fa.respond(msg, true, map[string]any{"scopes": []any{}})
		case "stepIn":
			fa.respond(msg, true, map[string]any{})
			stops++
			if stops < 2 {
				fa.event("stopped", map[string]any{"threadId": 1, "reason": "step"})
			} else {
				fa.event("terminated", map[string]any{})
			}
		default:
			base(fa, msg)
		}
	}
	fa := newFakeAdapter(t, handler)

	st := newTestStore(t)
	o := New(testConfig(script, fa.addr()), st, NewController(), Options{})
	require.NoError(t, o.Run(context.Background()))

	steps, err := st.Steps(o.SessionID())
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.Equal(t, 7, steps[0].LineNumber)
	assert.Equal(t, 8, steps[1].LineNumber)
	assert.Equal(t, "x = 1", steps[0].Code)
	assert.Equal(t, "y = 2", steps[1].Code)

	sum, err := st.Session(o.SessionID())
	require.NoError(t, err)
	assert.Equal(t, 2, sum.TotalSteps)
	assert.Equal(t, 2, sum.SuccessfulSteps)
}
