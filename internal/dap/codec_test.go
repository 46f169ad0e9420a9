package dap

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDeclaresExactLength(t *testing.T) {
	wire, err := Encode(requestPayload{Seq: 1, Type: KindRequest, Command: "initialize", Arguments: map[string]any{}})
	require.NoError(t, err)

	headers, rest, err := DecodeHeaders(bytes.NewReader(wire))
	require.NoError(t, err)

	length, err := contentLength(headers)
	require.NoError(t, err)
	assert.Equal(t, length, len(rest), "buffered remainder should be exactly the payload")
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	msgs := []Message{
		{Type: KindEvent, Seq: 3, Event: "stopped", Body: map[string]any{"reason": "breakpoint", "threadId": float64(1)}},
		{Type: KindResponse, Seq: 9, RequestSeq: 4, Success: true, Command: "stackTrace", Body: map[string]any{}},
		{Type: KindEvent, Seq: 7, Event: "output", Body: map[string]any{"output": "héllo\nworld"}},
	}
	for _, in := range msgs {
		t.Run(in.Type+"/"+in.Event+in.Command, func(t *testing.T) {
			wire, err := Encode(in)
			require.NoError(t, err)

			r := bytes.NewReader(wire)
			headers, rest, err := DecodeHeaders(r)
			require.NoError(t, err)
			length, err := contentLength(headers)
			require.NoError(t, err)
			payload, err := ReadBody(r, length, rest)
			require.NoError(t, err)

			out, err := decodeMessage(payload)
			require.NoError(t, err)
			assert.Equal(t, in.Type, out.Type)
			assert.Equal(t, in.Seq, out.Seq)
			assert.Equal(t, in.Event, out.Event)
			assert.Equal(t, in.Command, out.Command)
			assert.Equal(t, in.RequestSeq, out.RequestSeq)
			assert.Equal(t, in.Success, out.Success)
			assert.Equal(t, in.Body, out.Body)
		})
	}
}

func TestDecodeHeadersIncompleteStream(t *testing.T) {
	_, _, err := DecodeHeaders(strings.NewReader("Content-Length: 10\r\n"))
	require.ErrorIs(t, err, ErrIncompleteFrame)
}

func TestReadBodyShortStream(t *testing.T) {
	_, err := ReadBody(strings.NewReader("abc"), 10, nil)
	require.ErrorIs(t, err, ErrConnectionClosed)
}

func TestReadBodyUsesBufferedBytes(t *testing.T) {
	got, err := ReadBody(strings.NewReader("world"), 10, []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, "helloworld", string(got))
}

func TestSplitFrame(t *testing.T) {
	frame := func(body string) []byte {
		return []byte(fmt.Sprintf("Content-Length: %d\r\n\r\n%s", len(body), body))
	}

	t.Run("no separator yet", func(t *testing.T) {
		_, consumed, ok, err := splitFrame([]byte("Content-Length: 5\r\n"))
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Zero(t, consumed)
	})

	t.Run("headers complete but body short", func(t *testing.T) {
		buf := frame(`{"a":1}`)
		_, _, ok, err := splitFrame(buf[:len(buf)-3])
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("one complete frame plus trailing bytes", func(t *testing.T) {
		buf := append(frame(`{"a":1}`), []byte("Content-Le")...)
		payload, consumed, ok, err := splitFrame(buf)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, `{"a":1}`, string(payload))
		assert.Equal(t, len(buf)-len("Content-Le"), consumed)
	})

	t.Run("missing content length skips the garbage", func(t *testing.T) {
		buf := append([]byte("X-Whatever: 1\r\n\r\n"), frame(`{}`)...)
		_, consumed, ok, err := splitFrame(buf)
		require.ErrorIs(t, err, ErrIncompleteFrame)
		assert.False(t, ok)
		assert.Equal(t, len("X-Whatever: 1\r\n\r\n"), consumed)
	})

	t.Run("two frames parse in sequence", func(t *testing.T) {
		buf := append(frame(`{"a":1}`), frame(`{"b":2}`)...)
		p1, consumed, ok, err := splitFrame(buf)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, `{"a":1}`, string(p1))

		p2, _, ok, err := splitFrame(buf[consumed:])
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, `{"b":2}`, string(p2))
	})
}
