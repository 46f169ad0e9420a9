package cli

import (
	"encoding/json"
	"fmt"

	"github.com/vburojevic/adbg/internal/config"
	"github.com/vburojevic/adbg/internal/output"
)

// ConfigCmd groups configuration subcommands.
type ConfigCmd struct {
	Show     ConfigShowCmd     `cmd:"" default:"1" help:"Show the effective configuration"`
	Path     ConfigPathCmd     `cmd:"" help:"Show which config file is in use"`
	Generate ConfigGenerateCmd `cmd:"" help:"Print a sample configuration file"`
}

// ConfigShowCmd prints the effective configuration.
type ConfigShowCmd struct{}

// Run executes the config show command.
func (c *ConfigShowCmd) Run(globals *Globals) error {
	cfg := globals.Config
	if cfg == nil {
		cfg = config.Default()
	}

	if globals.Format == "ndjson" {
		out := map[string]interface{}{
			"type":          "config",
			"schemaVersion": output.SchemaVersion,
			"format":        cfg.Format,
			"level":         cfg.Level,
			"quiet":         cfg.Quiet,
			"verbose":       cfg.Verbose,
			"defaults": map[string]interface{}{
				"db_path":         cfg.Defaults.DBPath,
				"python_exe":      cfg.Defaults.PythonExe,
				"adapter_host":    cfg.Defaults.AdapterHost,
				"adapter_log_dir": cfg.Defaults.AdapterLogDir,
				"just_my_code":    cfg.Defaults.JustMyCode,
				"stop_on_entry":   cfg.Defaults.StopOnEntry,
				"request_timeout": cfg.Defaults.RequestTimeout,
				"limit":           cfg.Defaults.Limit,
				"exclude_pattern": cfg.Defaults.ExcludePattern,
			},
		}
		return json.NewEncoder(globals.Stdout).Encode(out)
	}

	fmt.Fprintln(globals.Stdout, "Current Configuration:")
	fmt.Fprintf(globals.Stdout, "  format: %s\n", cfg.Format)
	fmt.Fprintf(globals.Stdout, "  level: %s\n", cfg.Level)
	fmt.Fprintf(globals.Stdout, "  quiet: %v\n", cfg.Quiet)
	fmt.Fprintf(globals.Stdout, "  verbose: %v\n", cfg.Verbose)
	fmt.Fprintln(globals.Stdout, "  Defaults:")
	fmt.Fprintf(globals.Stdout, "    db_path: %s\n", cfg.Defaults.DBPath)
	fmt.Fprintf(globals.Stdout, "    python_exe: %s\n", cfg.Defaults.PythonExe)
	fmt.Fprintf(globals.Stdout, "    adapter_host: %s\n", cfg.Defaults.AdapterHost)
	fmt.Fprintf(globals.Stdout, "    just_my_code: %v\n", cfg.Defaults.JustMyCode)
	fmt.Fprintf(globals.Stdout, "    stop_on_entry: %v\n", cfg.Defaults.StopOnEntry)
	fmt.Fprintf(globals.Stdout, "    request_timeout: %s\n", cfg.Defaults.RequestTimeout)
	fmt.Fprintf(globals.Stdout, "    limit: %d\n", cfg.Defaults.Limit)
	return nil
}

// ConfigPathCmd shows which config file was picked up.
type ConfigPathCmd struct{}

// Run executes the config path command.
func (c *ConfigPathCmd) Run(globals *Globals) error {
	path := config.ConfigFile()

	if globals.Format == "ndjson" {
		out := map[string]interface{}{
			"type":          "config_path",
			"schemaVersion": output.SchemaVersion,
			"path":          path,
			"found":         path != "",
		}
		return json.NewEncoder(globals.Stdout).Encode(out)
	}

	if path == "" {
		fmt.Fprintln(globals.Stdout, "No configuration file found (using defaults)")
	} else {
		fmt.Fprintf(globals.Stdout, "Config file: %s\n", path)
	}
	return nil
}

// ConfigGenerateCmd prints a documented sample config file.
type ConfigGenerateCmd struct{}

const sampleConfig = `# adbg configuration file
# Place at ~/.adbg.yaml, ./adbg.yaml or $XDG_CONFIG_HOME/adbg/adbg.yaml

# Output format: ndjson (machine-readable) or text
format: ndjson

# Log verbosity level
level: default

# Suppress informational output
quiet: false

# Enable verbose debug logging
verbose: false

defaults:
  # Capture database location (default: ./.adbg/line_reports.db)
  # db_path: /path/to/line_reports.db

  # Python interpreter used to spawn the debug adapter
  python_exe: python

  # Host the debug adapter listens on
  adapter_host: 127.0.0.1

  # Step only through the debuggee's own code
  just_my_code: true

  # Set dense breakpoints so capture starts at the first line
  stop_on_entry: true

  # Per-request adapter timeout
  request_timeout: 10s

  # Default maximum steps output by queries
  limit: 1000

  # Regex dropping matching steps from queries
  # exclude_pattern: "logging|telemetry"
`

// Run executes the config generate command.
func (c *ConfigGenerateCmd) Run(globals *Globals) error {
	fmt.Fprint(globals.Stdout, sampleConfig)
	return nil
}
