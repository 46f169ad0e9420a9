package dap

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

const (
	// pollInterval is how often WaitResponse re-checks the pending map.
	pollInterval = 10 * time.Millisecond
	// readTimeout bounds each socket read so the listener can notice a
	// shutdown flag promptly even with no traffic.
	readTimeout = 1 * time.Second
)

// Options tune a Client. Zero values fall back to sane defaults.
type Options struct {
	DialTimeout time.Duration
	Clock       clock.Clock
	Logger      *zap.SugaredLogger
}

// Client owns the adapter connection. A background listener goroutine is the
// sole reader of the socket; it classifies decoded frames as responses,
// events or reverse-requests. The pending-response map and the event queue
// are the only cross-goroutine state, both guarded by one mutex.
type Client struct {
	addr        string
	dialTimeout time.Duration
	clk         clock.Clock
	log         *zap.SugaredLogger

	mu      sync.Mutex
	conn    net.Conn
	seq     int
	pending map[int]*Message
	events  []*Message
	running bool
}

// NewClient creates a client for the adapter at addr (host:port).
func NewClient(addr string, opts Options) *Client {
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 10 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	return &Client{
		addr:        addr,
		dialTimeout: opts.DialTimeout,
		clk:         opts.Clock,
		log:         opts.Logger,
		seq:         1,
		pending:     make(map[int]*Message),
	}
}

// Connect dials the adapter and starts the listener goroutine.
func (c *Client) Connect() error {
	conn, err := net.DialTimeout("tcp", c.addr, c.dialTimeout)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.conn = conn
	c.running = true
	c.mu.Unlock()
	go c.listen(conn)
	return nil
}

// Running reports whether the listener is still consuming the connection.
func (c *Client) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Close stops the listener and closes the connection. Safe to call twice.
func (c *Client) Close() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.running = false
	c.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

// listen is the transport read loop. It reassembles partial frames across
// reads: a bounded-timeout read that yields nothing still triggers a parse
// pass, since slow senders may deliver one frame over several reads.
func (c *Client) listen(conn net.Conn) {
	defer func() {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
	}()

	buf := make([]byte, 0, 4096)
	chunk := make([]byte, 4096)
	for {
		if !c.Running() {
			return
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		n, err := conn.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				// no data this tick; fall through and parse what we have
			} else {
				// peer closed or hard read error
				return
			}
		}

		for {
			payload, consumed, ok, ferr := splitFrame(buf)
			if ferr != nil {
				c.log.Debugw("dropping unframeable bytes", "error", ferr)
				buf = buf[consumed:]
				continue
			}
			if !ok {
				break
			}
			buf = buf[consumed:]
			msg, derr := decodeMessage(payload)
			if derr != nil {
				c.log.Debugw("dropping undecodable frame", "error", derr)
				continue
			}
			c.dispatch(msg)
		}
	}
}

// dispatch routes one decoded message. Unknown kinds are dropped, not fatal.
func (c *Client) dispatch(msg *Message) {
	switch msg.Type {
	case KindResponse:
		if msg.RequestSeq == 0 {
			c.log.Debugw("response without request_seq dropped", "command", msg.Command)
			return
		}
		c.mu.Lock()
		c.pending[msg.RequestSeq] = msg
		c.mu.Unlock()
	case KindEvent:
		c.mu.Lock()
		c.events = append(c.events, msg)
		c.mu.Unlock()
	case KindRequest:
		// Reverse-request from the adapter. Answer with a failure so its own
		// wait logic does not block; this client implements none of them.
		if err := c.SendResponse(msg.Seq, msg.Command, false, map[string]any{},
			fmt.Sprintf("%s not supported by client", msg.Command)); err != nil {
			c.log.Debugw("reverse-request reply failed", "command", msg.Command, "error", err)
		}
	default:
		c.log.Debugw("unknown message type dropped", "type", msg.Type)
	}
}

// Send allocates the next sequence number, frames the request and writes it.
func (c *Client) Send(command string, arguments map[string]any) (int, error) {
	if arguments == nil {
		arguments = map[string]any{}
	}
	c.mu.Lock()
	seq := c.seq
	c.seq++
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return 0, ErrNotConnected
	}
	wire, err := Encode(requestPayload{
		Seq:       seq,
		Type:      KindRequest,
		Command:   command,
		Arguments: arguments,
	})
	if err != nil {
		return 0, err
	}
	if _, err := conn.Write(wire); err != nil {
		return 0, fmt.Errorf("dap: send %s: %w", command, err)
	}
	return seq, nil
}

// WaitResponse polls the pending map until the response for seq appears or
// timeout elapses. Responses arriving after the timeout find no waiter and
// are dropped when the next caller never claims them; the orchestrator owns
// its own sequence numbers, so that is acceptable.
func (c *Client) WaitResponse(seq int, timeout time.Duration) (*Message, error) {
	deadline := c.clk.Now().Add(timeout)
	for {
		c.mu.Lock()
		msg, ok := c.pending[seq]
		if ok {
			delete(c.pending, seq)
		}
		c.mu.Unlock()
		if ok {
			return msg, nil
		}
		if !c.clk.Now().Before(deadline) {
			return nil, fmt.Errorf("%w: seq=%d after %s", ErrRequestTimeout, seq, timeout)
		}
		c.clk.Sleep(pollInterval)
	}
}

// Request is Send followed by WaitResponse.
func (c *Client) Request(command string, arguments map[string]any, timeout time.Duration) (*Message, error) {
	seq, err := c.Send(command, arguments)
	if err != nil {
		return nil, err
	}
	return c.WaitResponse(seq, timeout)
}

// DrainEvents atomically swaps out and returns all buffered events in arrival
// order. Events are never replayed.
func (c *Client) DrainEvents() []*Message {
	c.mu.Lock()
	evs := c.events
	c.events = nil
	c.mu.Unlock()
	return evs
}

// SendResponse writes a manually constructed response; used to answer
// reverse-requests from the adapter.
func (c *Client) SendResponse(requestSeq int, command string, success bool, body map[string]any, message string) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	wire, err := Encode(responsePayload{
		Type:       KindResponse,
		RequestSeq: requestSeq,
		Command:    command,
		Success:    success,
		Body:       body,
		Message:    message,
	})
	if err != nil {
		return err
	}
	_, err = conn.Write(wire)
	return err
}

// requestPayload is the outgoing request envelope.
type requestPayload struct {
	Seq       int            `json:"seq"`
	Type      string         `json:"type"`
	Command   string         `json:"command"`
	Arguments map[string]any `json:"arguments"`
}

// responsePayload is the outgoing reverse-request reply envelope. Success is
// always serialized; a dropped "success":false would read as assent.
type responsePayload struct {
	Type       string         `json:"type"`
	RequestSeq int            `json:"request_seq"`
	Command    string         `json:"command"`
	Success    bool           `json:"success"`
	Body       map[string]any `json:"body,omitempty"`
	Message    string         `json:"message,omitempty"`
}
