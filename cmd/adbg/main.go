package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"

	"github.com/vburojevic/adbg/internal/cli"
	"github.com/vburojevic/adbg/internal/config"
)

const quickStart = `adbg - line-by-line Python execution capture for AI agents

Quick start:
  adbg run script.py                    Debug a script, capture every line
  adbg sessions                         List stored capture sessions
  adbg steps --where status=error       Show failing lines of the last run
  adbg export -o session.json           Export the last run as JSON

For help:
  adbg --help                           All commands and flags
  adbg schema                           JSON Schema for NDJSON output types
`

func main() {
	// Show quick start if no args provided
	if len(os.Args) == 1 {
		fmt.Print(quickStart)
		return
	}

	// Load configuration from files/environment
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to load config: %v\n", err)
		cfg = config.Default()
	}

	var c cli.CLI

	// Apply config defaults before parsing
	// These will be overridden by CLI flags if specified
	vars := kong.Vars{
		"config_level": cfg.Level,
	}

	ctx := kong.Parse(&c,
		kong.Name("adbg"),
		kong.Description("adbg: Debug Python scripts and capture every executed line with its variable state\n\nAI agents: output is NDJSON by default when piped; run 'adbg schema' for the shapes"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
			Summary: true,
		}),
		vars,
	)

	if c.VersionFlag {
		fmt.Printf("adbg %s (%s)\n", cli.Version, cli.Commit)
		return
	}

	// Create globals with config fallbacks
	globals := cli.NewGlobalsWithConfig(&c, cfg)
	err = ctx.Run(globals)
	if err != nil {
		os.Exit(1)
	}
}
