package dap

import (
	"bytes"
	"encoding/json"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAdapter is a minimal in-process peer speaking the framed protocol over
// a real TCP socket, so the listener goroutine is exercised end to end.
type fakeAdapter struct {
	t  *testing.T
	ln net.Listener

	connCh chan net.Conn

	// leftover holds bytes DecodeHeaders read past the previous frame's body,
	// so back-to-back frames coalesced into one TCP read are not lost.
	leftover []byte
}

func newFakeAdapter(t *testing.T) *fakeAdapter {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	fa := &fakeAdapter{t: t, ln: ln, connCh: make(chan net.Conn, 1)}
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		fa.connCh <- conn
	}()
	t.Cleanup(func() { ln.Close() })
	return fa
}

func (fa *fakeAdapter) addr() string { return fa.ln.Addr().String() }

func (fa *fakeAdapter) conn() net.Conn {
	fa.t.Helper()
	select {
	case c := <-fa.connCh:
		fa.t.Cleanup(func() { c.Close() })
		return c
	case <-time.After(2 * time.Second):
		fa.t.Fatal("client never connected")
		return nil
	}
}

func (fa *fakeAdapter) write(conn net.Conn, payload any) {
	fa.t.Helper()
	wire, err := Encode(payload)
	require.NoError(fa.t, err)
	_, err = conn.Write(wire)
	require.NoError(fa.t, err)
}

// readRequest blocks until one complete request frame arrives from the client.
func (fa *fakeAdapter) readRequest(conn net.Conn) *Message {
	fa.t.Helper()
	r := io.MultiReader(bytes.NewReader(fa.leftover), conn)
	headers, rest, err := DecodeHeaders(r)
	require.NoError(fa.t, err)
	length, err := contentLength(headers)
	require.NoError(fa.t, err)
	if len(rest) > length {
		fa.leftover = append([]byte(nil), rest[length:]...)
		rest = rest[:length]
	} else {
		fa.leftover = nil
	}
	payload, err := ReadBody(r, length, rest)
	require.NoError(fa.t, err)
	msg, err := decodeMessage(payload)
	require.NoError(fa.t, err)
	return msg
}

func connectedClient(t *testing.T, fa *fakeAdapter) *Client {
	t.Helper()
	c := NewClient(fa.addr(), Options{DialTimeout: 2 * time.Second})
	require.NoError(t, c.Connect())
	t.Cleanup(c.Close)
	return c
}

func TestRequestResponseCorrelation(t *testing.T) {
	fa := newFakeAdapter(t)
	c := connectedClient(t, fa)
	conn := fa.conn()

	go func() {
		// Reply to two requests in reverse order; correlation must still hold.
		first := fa.readRequest(conn)
		second := fa.readRequest(conn)
		fa.write(conn, responsePayload{Type: KindResponse, RequestSeq: second.Seq, Command: second.Command, Success: true, Body: map[string]any{"which": "second"}})
		fa.write(conn, responsePayload{Type: KindResponse, RequestSeq: first.Seq, Command: first.Command, Success: true, Body: map[string]any{"which": "first"}})
	}()

	seq1, err := c.Send("threads", nil)
	require.NoError(t, err)
	seq2, err := c.Send("scopes", nil)
	require.NoError(t, err)
	require.NotEqual(t, seq1, seq2)

	resp1, err := c.WaitResponse(seq1, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "first", resp1.BodyString("which"))
	assert.Equal(t, seq1, resp1.RequestSeq)

	resp2, err := c.WaitResponse(seq2, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "second", resp2.BodyString("which"))
}

func TestWaitResponseTimesOutPromptly(t *testing.T) {
	fa := newFakeAdapter(t)
	c := connectedClient(t, fa)
	fa.conn()

	start := time.Now()
	_, err := c.WaitResponse(9999, 100*time.Millisecond)
	elapsed := time.Since(start)

	require.ErrorIs(t, err, ErrRequestTimeout)
	assert.GreaterOrEqual(t, elapsed, 100*time.Millisecond)
	assert.Less(t, elapsed, 500*time.Millisecond, "timeout should not block far past the deadline")
}

func TestDrainEventsPreservesOrderAndNeverReplays(t *testing.T) {
	fa := newFakeAdapter(t)
	c := connectedClient(t, fa)
	conn := fa.conn()

	for i, name := range []string{"initialized", "stopped", "continued"} {
		fa.write(conn, Message{Type: KindEvent, Seq: i + 1, Event: name, Body: map[string]any{}})
	}

	var events []*Message
	deadline := time.Now().Add(2 * time.Second)
	for len(events) < 3 && time.Now().Before(deadline) {
		events = append(events, c.DrainEvents()...)
		time.Sleep(5 * time.Millisecond)
	}
	require.Len(t, events, 3)
	assert.Equal(t, "initialized", events[0].Event)
	assert.Equal(t, "stopped", events[1].Event)
	assert.Equal(t, "continued", events[2].Event)

	assert.Empty(t, c.DrainEvents(), "drained events must not replay")
}

func TestReverseRequestAnsweredWithFailure(t *testing.T) {
	fa := newFakeAdapter(t)
	c := connectedClient(t, fa)
	conn := fa.conn()
	_ = c

	fa.write(conn, requestPayload{Seq: 42, Type: KindRequest, Command: "runInTerminal", Arguments: map[string]any{}})

	reply := fa.readRequest(conn)
	assert.Equal(t, KindResponse, reply.Type)
	assert.Equal(t, 42, reply.RequestSeq)
	assert.Equal(t, "runInTerminal", reply.Command)
	assert.False(t, reply.Success)
	assert.Contains(t, reply.Msg, "not supported")
}

func TestListenerReassemblesSplitFrames(t *testing.T) {
	fa := newFakeAdapter(t)
	c := connectedClient(t, fa)
	conn := fa.conn()

	wire, err := Encode(Message{Type: KindEvent, Seq: 1, Event: "stopped", Body: map[string]any{"reason": "step"}})
	require.NoError(t, err)

	// Deliver the frame in three slow chunks across read timeouts.
	third := len(wire) / 3
	for _, part := range [][]byte{wire[:third], wire[third : 2*third], wire[2*third:]} {
		_, err = conn.Write(part)
		require.NoError(t, err)
		time.Sleep(20 * time.Millisecond)
	}

	var events []*Message
	deadline := time.Now().Add(2 * time.Second)
	for len(events) == 0 && time.Now().Before(deadline) {
		events = c.DrainEvents()
		time.Sleep(5 * time.Millisecond)
	}
	require.Len(t, events, 1)
	assert.Equal(t, "stopped", events[0].Event)
	assert.Equal(t, "step", events[0].BodyString("reason"))
}

func TestUndecodableFrameIsDroppedAndProcessingContinues(t *testing.T) {
	fa := newFakeAdapter(t)
	c := connectedClient(t, fa)
	conn := fa.conn()

	// Valid framing, invalid JSON: dropped without killing the listener.
	_, err := conn.Write([]byte("Content-Length: 5\r\n\r\n{{{{{"))
	require.NoError(t, err)
	fa.write(conn, Message{Type: KindEvent, Seq: 2, Event: "terminated", Body: map[string]any{}})

	var events []*Message
	deadline := time.Now().Add(2 * time.Second)
	for len(events) == 0 && time.Now().Before(deadline) {
		events = c.DrainEvents()
		time.Sleep(5 * time.Millisecond)
	}
	require.Len(t, events, 1)
	assert.Equal(t, "terminated", events[0].Event)
	assert.True(t, c.Running())
}

func TestPeerCloseStopsListener(t *testing.T) {
	fa := newFakeAdapter(t)
	c := connectedClient(t, fa)
	conn := fa.conn()

	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for c.Running() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	assert.False(t, c.Running())
}

func TestSendWiresExactFraming(t *testing.T) {
	fa := newFakeAdapter(t)
	c := connectedClient(t, fa)
	conn := fa.conn()

	seq, err := c.Send("initialize", map[string]any{"clientID": "adbg"})
	require.NoError(t, err)

	headers, rest, err := DecodeHeaders(conn)
	require.NoError(t, err)
	length, err := contentLength(headers)
	require.NoError(t, err)
	payload, err := ReadBody(conn, length, rest)
	require.NoError(t, err)
	require.Len(t, payload, length)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(payload, &decoded))
	assert.EqualValues(t, seq, decoded["seq"])
	assert.Equal(t, "request", decoded["type"])
	assert.Equal(t, "initialize", decoded["command"])
}
