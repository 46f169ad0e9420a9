// Package cli wires the adbg commands: capture runs, stored-session queries,
// exports and maintenance. Output is ndjson by default so agents and scripts
// get machine-readable results; text is for humans at a terminal.
package cli

import (
	"io"
	"os"

	"github.com/mattn/go-isatty"

	"github.com/vburojevic/adbg/internal/config"
)

// Build-time version information, set via -ldflags.
var (
	Version = "dev"
	Commit  = "unknown"
)

// CLI is the root kong command tree.
type CLI struct {
	Format  string `help:"Output format: ndjson or text" enum:"ndjson,text,auto" default:"auto"`
	Level   string `help:"Log verbosity level" default:"${config_level}"`
	Quiet   bool   `short:"q" help:"Suppress informational output"`
	Verbose bool   `short:"v" help:"Enable verbose debug logging"`
	DB      string `help:"Path to the capture database (default: ./.adbg/line_reports.db)"`

	Run      RunCmd      `cmd:"" help:"Debug a Python script and capture every executed line"`
	Sessions SessionsCmd `cmd:"" help:"List stored capture sessions"`
	Steps    StepsCmd    `cmd:"" help:"Query captured steps of a session"`
	Export   ExportCmd   `cmd:"" help:"Export a full session as a JSON document"`
	Annotate AnnotateCmd `cmd:"" help:"Append an observation to a captured step"`
	Config   ConfigCmd   `cmd:"" help:"Show and manage configuration"`
	Schema   SchemaCmd   `cmd:"" help:"Output JSON Schema for NDJSON output types"`
	Update   UpdateCmd   `cmd:"" help:"Show how to upgrade adbg"`

	Completion CompletionCmd `cmd:"" help:"Generate shell completions"`

	VersionFlag bool `name:"version" help:"Print version and exit"`
}

// Globals carries the resolved global options into every command.
type Globals struct {
	Format  string
	Level   string
	Quiet   bool
	Verbose bool
	DBPath  string
	Stdout  io.Writer
	Stderr  io.Writer
	Config  *config.Config

	logger *agentLogger
}

// NewGlobalsWithConfig resolves the final globals from parsed flags and the
// loaded config. Flags win; "auto" format picks text on a TTY, ndjson
// otherwise, so piped invocations stay machine-readable.
func NewGlobalsWithConfig(c *CLI, cfg *config.Config) *Globals {
	format := c.Format
	if format == "" || format == "auto" {
		format = cfg.Format
		if format == "" || format == "auto" {
			if isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd()) {
				format = "text"
			} else {
				format = "ndjson"
			}
		}
	}

	dbPath := c.DB
	if dbPath == "" {
		dbPath = cfg.Defaults.DBPath
	}

	g := &Globals{
		Format:  format,
		Level:   c.Level,
		Quiet:   c.Quiet || cfg.Quiet,
		Verbose: c.Verbose || cfg.Verbose,
		DBPath:  dbPath,
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
		Config:  cfg,
	}
	g.logger = newAgentLogger(g)
	return g
}

// Debug logs a verbose diagnostic line; a no-op unless --verbose is set.
func (g *Globals) Debug(format string, args ...interface{}) {
	if g.logger != nil {
		g.logger.Debug(format, args...)
	}
}
