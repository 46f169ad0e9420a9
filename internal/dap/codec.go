package dap

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// headerSep terminates the header block. Nothing inside the declared payload
// length is scanned for delimiters; framing is length-exact by contract.
var headerSep = []byte("\r\n\r\n")

// Encode serializes payload to its wire form: a Content-Length header whose
// value matches the encoded JSON byte length exactly, a blank line, and the
// JSON bytes.
func Encode(payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("dap: encode: %w", err)
	}
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "Content-Length: %d\r\n\r\n", len(raw))
	buf.Write(raw)
	return buf.Bytes(), nil
}

// DecodeHeaders reads from r until the header separator appears and returns
// the parsed header map plus any bytes read past the separator. If the stream
// closes before a separator is seen, the error wraps ErrIncompleteFrame.
func DecodeHeaders(r io.Reader) (map[string]string, []byte, error) {
	var buf []byte
	chunk := make([]byte, 4096)
	for {
		if idx := bytes.Index(buf, headerSep); idx != -1 {
			headers := parseHeaderBlock(buf[:idx])
			rest := append([]byte(nil), buf[idx+len(headerSep):]...)
			return headers, rest, nil
		}
		n, err := r.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			continue
		}
		if err != nil {
			return nil, nil, fmt.Errorf("%w: stream ended while reading headers", ErrIncompleteFrame)
		}
	}
}

// ReadBody reads exactly length payload bytes, starting from what the header
// read already buffered. A short stream wraps ErrConnectionClosed.
func ReadBody(r io.Reader, length int, buffered []byte) ([]byte, error) {
	data := append([]byte(nil), buffered...)
	if len(data) > length {
		data = data[:length]
	}
	for len(data) < length {
		chunk := make([]byte, length-len(data))
		n, err := r.Read(chunk)
		if n > 0 {
			data = append(data, chunk[:n]...)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%w: stream ended while reading content", ErrConnectionClosed)
		}
	}
	return data, nil
}

// parseHeaderBlock splits "Key: Value" lines into a map. Malformed lines are
// skipped rather than failing the frame.
func parseHeaderBlock(block []byte) map[string]string {
	headers := make(map[string]string)
	for _, line := range bytes.Split(block, []byte("\r\n")) {
		if len(line) == 0 {
			continue
		}
		key, value, ok := strings.Cut(string(line), ":")
		if !ok {
			continue
		}
		headers[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return headers
}

// contentLength extracts the declared payload length from a header map.
func contentLength(headers map[string]string) (int, error) {
	raw, ok := headers["Content-Length"]
	if !ok {
		return 0, fmt.Errorf("%w: missing Content-Length header", ErrIncompleteFrame)
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: bad Content-Length %q", ErrIncompleteFrame, raw)
	}
	return n, nil
}

// splitFrame attempts to carve one complete frame out of buf. It returns the
// payload, the number of bytes consumed, and whether a full frame was present.
// Incomplete data is not an error: the listener retries once more bytes arrive.
func splitFrame(buf []byte) (payload []byte, consumed int, ok bool, err error) {
	idx := bytes.Index(buf, headerSep)
	if idx == -1 {
		return nil, 0, false, nil
	}
	headers := parseHeaderBlock(buf[:idx])
	length, err := contentLength(headers)
	if err != nil {
		// Unframeable garbage: drop through the separator and keep going.
		return nil, idx + len(headerSep), false, err
	}
	total := idx + len(headerSep) + length
	if len(buf) < total {
		return nil, 0, false, nil
	}
	payload = append([]byte(nil), buf[idx+len(headerSep):total]...)
	return payload, total, true, nil
}
