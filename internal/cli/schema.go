package cli

import (
	"encoding/json"
	"strings"
)

// SchemaCmd outputs JSON Schema for adbg output types
type SchemaCmd struct {
	Type []string `short:"t" help:"Output types to include (step,session_start,session_end,error,crash_pattern). Default: all"`
}

// Run executes the schema command
func (c *SchemaCmd) Run(globals *Globals) error {
	schemas := map[string]interface{}{
		"step":          stepSchema(),
		"session_start": sessionStartSchema(),
		"session_end":   sessionEndSchema(),
		"error":         errorSchema(),
		"crash_pattern": crashPatternSchema(),
	}

	// Determine which schemas to output
	typesToOutput := c.Type
	if len(typesToOutput) == 0 {
		typesToOutput = []string{"step", "session_start", "session_end", "error", "crash_pattern"}
	}

	// Build output
	out := map[string]interface{}{
		"$schema":     "http://json-schema.org/draft-07/schema#",
		"title":       "adbg Output Schemas",
		"description": "JSON Schema definitions for all adbg NDJSON output types",
		"definitions": map[string]interface{}{},
	}

	defs := out["definitions"].(map[string]interface{})
	for _, t := range typesToOutput {
		t = strings.ToLower(strings.TrimSpace(t))
		if schema, ok := schemas[t]; ok {
			defs[t] = schema
		}
	}

	// Output as JSON
	encoder := json.NewEncoder(globals.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(out)
}

func stepSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":        "object",
		"title":       "Captured Step",
		"description": "One executed line of the debugged script with its variable state",
		"properties": map[string]interface{}{
			"step_id": map[string]interface{}{
				"type":        "integer",
				"description": "Database ID of the step, usable with 'adbg annotate'",
			},
			"session_id": map[string]interface{}{
				"type":        "string",
				"description": "UUID of the capture session",
			},
			"file": map[string]interface{}{
				"type":        "string",
				"description": "Absolute path of the source file",
			},
			"line_number": map[string]interface{}{
				"type":        "integer",
				"description": "1-based line number that executed",
			},
			"code": map[string]interface{}{
				"type":        "string",
				"description": "Source text of the executed line",
			},
			"timestamp": map[string]interface{}{
				"type":        "string",
				"format":      "date-time",
				"description": "UTC time the stop was captured",
			},
			"variables": map[string]interface{}{
				"type":        "object",
				"description": "Scope name -> variable name -> rendered value",
			},
			"stack_depth": map[string]interface{}{
				"type":        "integer",
				"description": "Call stack depth at the stop",
			},
			"thread_id": map[string]interface{}{
				"type":        "integer",
				"description": "Debuggee thread that stopped",
			},
			"status": map[string]interface{}{
				"type":        "string",
				"enum":        []string{"success", "error", "warning"},
				"description": "Classification of the step",
			},
			"error_type": map[string]interface{}{
				"type":        "string",
				"description": "Exception class name, when status is error",
			},
			"error_message": map[string]interface{}{
				"type":        "string",
				"description": "Exception message, when status is error",
			},
			"stack_trace": map[string]interface{}{
				"type":        "string",
				"description": "Rendered file:line call stack at the error",
			},
		},
		"required": []string{"session_id", "file", "line_number", "timestamp", "status"},
	}
}

func sessionStartSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":        "object",
		"title":       "Session Start",
		"description": "Emitted when a capture session begins",
		"properties": map[string]interface{}{
			"type": map[string]interface{}{
				"type":  "string",
				"const": "session_start",
			},
			"session_id": map[string]interface{}{
				"type":        "string",
				"description": "UUID of the capture session",
			},
			"file": map[string]interface{}{
				"type":        "string",
				"description": "Script being debugged",
			},
			"adapter_pid": map[string]interface{}{
				"type":        "integer",
				"description": "PID of the spawned debug adapter",
			},
			"timestamp": map[string]interface{}{
				"type":   "string",
				"format": "date-time",
			},
		},
		"required": []string{"type", "session_id", "file", "timestamp"},
	}
}

func sessionEndSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":        "object",
		"title":       "Session End",
		"description": "Emitted when a capture session ends, with the final summary",
		"properties": map[string]interface{}{
			"type": map[string]interface{}{
				"type":  "string",
				"const": "session_end",
			},
			"session_id": map[string]interface{}{
				"type": "string",
			},
			"summary": map[string]interface{}{
				"type":        "object",
				"description": "Session counters: total, successful and error steps, crashes",
			},
		},
		"required": []string{"type", "session_id", "summary"},
	}
}

func errorSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":        "object",
		"title":       "Error",
		"description": "Machine-readable command failure",
		"properties": map[string]interface{}{
			"type": map[string]interface{}{
				"type":  "string",
				"const": "error",
			},
			"code": map[string]interface{}{
				"type":        "string",
				"description": "Stable error code, e.g. ADAPTER_UNREACHABLE",
			},
			"message": map[string]interface{}{
				"type": "string",
			},
			"hint": map[string]interface{}{
				"type":        "string",
				"description": "Suggested remediation, when known",
			},
		},
		"required": []string{"type", "code", "message"},
	}
}

func crashPatternSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":        "object",
		"title":       "Crash Pattern",
		"description": "A normalized crash signature observed during the run",
		"properties": map[string]interface{}{
			"type": map[string]interface{}{
				"type":  "string",
				"const": "crash_pattern",
			},
			"pattern": map[string]interface{}{
				"type":        "string",
				"description": "Normalized signature, volatile values replaced by placeholders",
			},
			"count": map[string]interface{}{
				"type":        "integer",
				"description": "Occurrences in this run",
			},
			"is_new": map[string]interface{}{
				"type":        "boolean",
				"description": "True when never seen in any previous run",
			},
			"total_count": map[string]interface{}{
				"type":        "integer",
				"description": "Occurrences across all recorded runs",
			},
		},
		"required": []string{"type", "pattern", "count", "is_new"},
	}
}
