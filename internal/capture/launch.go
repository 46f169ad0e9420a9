package capture

import (
	"os"
	"path/filepath"
	"strings"
)

// launchArguments computes the launch request body for a target script.
// Packages (a sibling __init__.py) launch module-style so relative imports
// work; plain scripts launch program-style. The working directory and
// PYTHONPATH point at the script's parent so either form resolves.
func launchArguments(scriptAbs string, args []string, justMyCode, stopOnEntry bool) map[string]any {
	scriptDir := filepath.Dir(scriptAbs)
	parentDir := filepath.Dir(scriptDir)

	pythonPath := parentDir
	if existing := os.Getenv("PYTHONPATH"); existing != "" {
		pythonPath = existing + string(os.PathListSeparator) + parentDir
	}

	if args == nil {
		args = []string{}
	}
	launch := map[string]any{
		"name":            "Python: adbg",
		"type":            "python",
		"request":         "launch",
		"console":         "internalConsole",
		"cwd":             parentDir,
		"justMyCode":      justMyCode,
		"stopOnEntry":     stopOnEntry,
		"showReturnValue": true,
		"redirectOutput":  true,
		"env":             map[string]any{"PYTHONPATH": pythonPath},
		"args":            args,
	}

	if _, err := os.Stat(filepath.Join(scriptDir, "__init__.py")); err == nil {
		pkg := filepath.Base(scriptDir)
		launch["module"] = pkg + ".main"
	} else {
		launch["program"] = scriptAbs
	}
	return launch
}

// executableLines heuristically picks the lines of a Python file worth a
// breakpoint: assignments, control flow, defs, returns and top-level
// statements. Blank lines, comments and docstring delimiters are skipped.
// On any read error it falls back to line 1.
func executableLines(path string) []int {
	data, err := os.ReadFile(path)
	if err != nil {
		return []int{1}
	}
	keywords := []string{"=", "if ", "for ", "while ", "def ", "class ", "return", "print", "import"}

	var lines []int
	for i, text := range strings.Split(string(data), "\n") {
		stripped := strings.TrimSpace(text)
		if stripped == "" || strings.HasPrefix(stripped, "#") {
			continue
		}
		if strings.Contains(stripped, `"""`) || strings.Contains(stripped, "'''") {
			continue
		}
		executable := false
		for _, kw := range keywords {
			if strings.Contains(text, kw) {
				executable = true
				break
			}
		}
		if !executable && !strings.HasPrefix(text, " ") && !strings.HasPrefix(text, "\t") {
			executable = true
		}
		if executable {
			lines = append(lines, i+1)
		}
	}
	if len(lines) == 0 {
		return []int{1}
	}
	return lines
}

// sourceLine reads one physical line of a file for display, 1-based.
// Errors yield an empty string; display text is best-effort.
func sourceLine(path string, line int) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	lines := strings.Split(string(data), "\n")
	if line < 1 || line > len(lines) {
		return ""
	}
	return strings.TrimRight(lines[line-1], "\r\n")
}
