// Package adapter manages the external debug-adapter child process. The
// adapter's stepping and breakpoint semantics are consumed strictly through
// its socket protocol; this package only owns spawn and teardown.
package adapter

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// stopTimeout bounds the graceful-terminate wait before the process is killed.
const stopTimeout = 3 * time.Second

// Config describes how to launch the adapter.
type Config struct {
	PythonExe string
	Host      string
	LogDir    string
	Logger    *zap.SugaredLogger
}

// Process is a running debug-adapter child bound to a locally chosen port.
type Process struct {
	Host string
	Port int

	cmd *exec.Cmd
	log *zap.SugaredLogger
}

// FreePort asks the kernel for an unused local TCP port.
func FreePort(host string) (int, error) {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		return 0, fmt.Errorf("adapter: pick free port: %w", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port, nil
}

// Start spawns `python -m debugpy.adapter` listening on a fresh local port
// and pumps its stderr to the debug log to aid troubleshooting.
func Start(cfg Config) (*Process, error) {
	if cfg.PythonExe == "" {
		cfg.PythonExe = "python3"
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}

	port, err := FreePort(cfg.Host)
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(cfg.PythonExe, "-m", "debugpy.adapter",
		"--host", cfg.Host, "--port", strconv.Itoa(port))
	cmd.Env = append(os.Environ(), "PYTHONUNBUFFERED=1")
	if cfg.LogDir != "" {
		cmd.Env = append(cmd.Env,
			"DEBUGPY_LOG_DIR="+cfg.LogDir,
			"DEBUGPY_LOG_LEVEL=debug")
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("adapter: stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("adapter: start %s: %w", cfg.PythonExe, err)
	}

	p := &Process{Host: cfg.Host, Port: port, cmd: cmd, log: cfg.Logger}
	go p.pumpStderr(stderr)
	return p, nil
}

// Addr returns the host:port the adapter listens on.
func (p *Process) Addr() string {
	return net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
}

// PID returns the child process id, or 0 if it never started.
func (p *Process) PID() int {
	if p.cmd == nil || p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

func (p *Process) pumpStderr(r interface{ Read([]byte) (int, error) }) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		p.log.Debugw("debugpy.adapter", "line", scanner.Text())
	}
}

// Stop terminates the adapter: SIGTERM, bounded wait, then SIGKILL if it is
// unresponsive. Safe to call on an already-exited process.
func (p *Process) Stop() {
	if p.cmd == nil || p.cmd.Process == nil {
		return
	}
	_ = p.cmd.Process.Signal(syscall.SIGTERM)

	done := make(chan error, 1)
	go func() { done <- p.cmd.Wait() }()
	select {
	case <-done:
	case <-time.After(stopTimeout):
		_ = p.cmd.Process.Kill()
		<-done
	}
}
