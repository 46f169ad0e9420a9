package filter

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/vburojevic/adbg/internal/domain"
)

// WhereClause represents a parsed --where condition
type WhereClause struct {
	Field    string
	Operator string
	Value    string
	regex    *regexp.Regexp // Compiled regex for ~ and !~ operators
}

// ParseWhereClause parses a where clause like "status=error" or "code~range"
// Supported operators: =, !=, ~, !~, >=, <=, ^, $
func ParseWhereClause(clause string) (*WhereClause, error) {
	// Try operators in order of length (longest first to avoid partial matches)
	operators := []string{"!~", ">=", "<=", "!=", "~", "=", "^", "$"}

	for _, op := range operators {
		idx := strings.Index(clause, op)
		if idx > 0 {
			field := strings.TrimSpace(clause[:idx])
			value := strings.TrimSpace(clause[idx+len(op):])

			if field == "" || value == "" {
				return nil, fmt.Errorf("invalid where clause: %s", clause)
			}

			wc := &WhereClause{
				Field:    field,
				Operator: op,
				Value:    value,
			}

			// Pre-compile regex for ~ and !~ operators
			if op == "~" || op == "!~" {
				re, err := regexp.Compile(value)
				if err != nil {
					return nil, fmt.Errorf("invalid regex in where clause '%s': %w", clause, err)
				}
				wc.regex = re
			}

			return wc, nil
		}
	}

	return nil, fmt.Errorf("no valid operator found in where clause: %s (use =, !=, ~, !~, >=, <=, ^, $)", clause)
}

// Match checks if a captured step matches this where clause
func (wc *WhereClause) Match(step *domain.CapturedStep) bool {
	switch wc.Operator {
	case ">=", "<=":
		return wc.compareNumeric(step)
	}

	fieldValue := wc.getFieldValue(step)

	switch wc.Operator {
	case "=":
		return fieldValue == wc.Value
	case "!=":
		return fieldValue != wc.Value
	case "~": // Contains (regex)
		if wc.regex != nil {
			return wc.regex.MatchString(fieldValue)
		}
		return strings.Contains(fieldValue, wc.Value)
	case "!~": // Not contains (regex)
		if wc.regex != nil {
			return !wc.regex.MatchString(fieldValue)
		}
		return !strings.Contains(fieldValue, wc.Value)
	case "^": // Starts with
		return strings.HasPrefix(fieldValue, wc.Value)
	case "$": // Ends with
		return strings.HasSuffix(fieldValue, wc.Value)
	}

	return false
}

// getFieldValue extracts the field value from a captured step
func (wc *WhereClause) getFieldValue(step *domain.CapturedStep) string {
	switch strings.ToLower(wc.Field) {
	case "status":
		return string(step.Status)
	case "file":
		return step.File
	case "code":
		return step.Code
	case "error_type", "errortype":
		return step.ErrorType
	case "error_message", "errormessage":
		return step.ErrorMessage
	case "session", "session_id":
		return step.SessionID
	case "line":
		return strconv.Itoa(step.LineNumber)
	case "depth", "stack_depth":
		return strconv.Itoa(step.StackDepth)
	case "thread", "thread_id":
		return strconv.Itoa(step.ThreadID)
	default:
		return ""
	}
}

// compareNumeric handles >= and <= for integer-valued fields
func (wc *WhereClause) compareNumeric(step *domain.CapturedStep) bool {
	var fieldValue int
	switch strings.ToLower(wc.Field) {
	case "line":
		fieldValue = step.LineNumber
	case "depth", "stack_depth":
		fieldValue = step.StackDepth
	case "thread", "thread_id":
		fieldValue = step.ThreadID
	default:
		return false
	}

	target, err := strconv.Atoi(wc.Value)
	if err != nil {
		return false
	}

	if wc.Operator == ">=" {
		return fieldValue >= target
	}
	return fieldValue <= target
}

// WhereFilter is a filter that applies multiple where clauses (AND logic)
type WhereFilter struct {
	clauses []*WhereClause
}

// NewWhereFilter creates a filter from multiple where clause strings
func NewWhereFilter(whereClauses []string) (*WhereFilter, error) {
	if len(whereClauses) == 0 {
		return nil, nil
	}

	filter := &WhereFilter{}
	for _, clause := range whereClauses {
		wc, err := ParseWhereClause(clause)
		if err != nil {
			return nil, err
		}
		filter.clauses = append(filter.clauses, wc)
	}

	return filter, nil
}

// Match returns true if the step matches ALL where clauses (AND logic)
func (f *WhereFilter) Match(step *domain.CapturedStep) bool {
	for _, clause := range f.clauses {
		if !clause.Match(step) {
			return false
		}
	}
	return true
}
