package capture

import "sync"

// Action is a stepping command submitted by a process-control collaborator.
type Action string

const (
	ActionStep     Action = "step"
	ActionContinue Action = "continue"
	ActionQuit     Action = "quit"
)

// State names the orchestrator's position in its lifecycle.
type State string

const (
	StateStarting    State = "starting"
	StateHandshaking State = "handshaking"
	StateRunning     State = "running"
	StateDraining    State = "draining"
	StateTerminated  State = "terminated"
)

// StopState is a snapshot of the most recent stop, safe to poll from any
// goroutine without touching transport internals.
type StopState struct {
	SessionID string `json:"session_id"`
	State     State  `json:"state"`
	File      string `json:"file,omitempty"`
	Line      int    `json:"line,omitempty"`
	Code      string `json:"code,omitempty"`
	StepCount int    `json:"step_count"`
}

// Controller is the thread-safe submit-action / report-stop-state surface
// exposed to external control collaborators. Actions queue in FIFO order and
// are consumed by the orchestrator between steps.
type Controller struct {
	mu      sync.Mutex
	actions []Action
	state   StopState
}

// NewController returns a controller in the starting state.
func NewController() *Controller {
	return &Controller{state: StopState{State: StateStarting}}
}

// Submit enqueues an action for the orchestrator.
func (c *Controller) Submit(a Action) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.actions = append(c.actions, a)
}

// take pops the oldest pending action, if any.
func (c *Controller) take() (Action, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.actions) == 0 {
		return "", false
	}
	a := c.actions[0]
	c.actions = c.actions[1:]
	return a, true
}

// takeQuit consumes the oldest pending action only when it is a quit.
// Other actions stay queued so they reach the dispatch at the next stop.
func (c *Controller) takeQuit() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.actions) == 0 || c.actions[0] != ActionQuit {
		return false
	}
	c.actions = c.actions[1:]
	return true
}

// StopState returns a copy of the current stop snapshot.
func (c *Controller) StopState() StopState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.State = s
}

func (c *Controller) setStop(sessionID, file string, line int, code string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.SessionID = sessionID
	c.state.File = file
	c.state.Line = line
	c.state.Code = code
	c.state.StepCount++
}
