package cli

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
)

// rotation manages the per-session step-stream file for run.
type rotation struct {
	pathBuilder    func(string) (string, error)
	outputFile     *os.File
	bufferedWriter *bufio.Writer
}

func newRotation(pb func(string) (string, error)) *rotation {
	return &rotation{pathBuilder: pb}
}

func (r *rotation) Open(sessionID string) (writer *bufio.Writer, file *os.File, path string, err error) {
	if r.pathBuilder == nil {
		return nil, nil, "", nil
	}

	if r.bufferedWriter != nil {
		r.bufferedWriter.Flush()
	}
	if r.outputFile != nil {
		r.outputFile.Close()
	}

	path, err = r.pathBuilder(sessionID)
	if err != nil {
		return nil, nil, "", fmt.Errorf("failed to build path: %w", err)
	}

	r.outputFile, err = os.Create(path)
	if err != nil {
		return nil, nil, "", fmt.Errorf("failed to create output file: %w", err)
	}
	r.bufferedWriter = bufio.NewWriter(r.outputFile)
	return r.bufferedWriter, r.outputFile, path, nil
}

func (r *rotation) Close() {
	if r.bufferedWriter != nil {
		r.bufferedWriter.Flush()
	}
	if r.outputFile != nil {
		r.outputFile.Close()
	}
}

// sessionOutputPath builds <dir>/<session-id>.ndjson, creating dir if needed.
func sessionOutputPath(dir, sessionID string) (string, error) {
	if dir == "" {
		return "", fmt.Errorf("output directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return filepath.Join(dir, sessionID+".ndjson"), nil
}
