package output

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"
)

// PatternStore remembers crash signatures across runs so repeated captures
// can tell a brand-new failure from one seen before. State lives in a small
// JSON file next to the capture database.
type PatternStore struct {
	mu       sync.Mutex
	path     string
	patterns map[string]*KnownPattern
}

// KnownPattern is one remembered crash signature.
type KnownPattern struct {
	Pattern    string    `json:"pattern"`
	TotalCount int       `json:"total_count"`
	FirstSeen  time.Time `json:"first_seen"`
	LastSeen   time.Time `json:"last_seen"`
}

// PatternMatch is a crash signature observed in the current run.
type PatternMatch struct {
	Pattern string   `json:"pattern"`
	Count   int      `json:"count"`
	Samples []string `json:"samples,omitempty"`
}

// AnnotatedPattern is a PatternMatch enriched with cross-run history.
type AnnotatedPattern struct {
	PatternMatch
	IsNew      bool       `json:"is_new"`
	FirstSeen  *time.Time `json:"first_seen,omitempty"`
	TotalCount int        `json:"total_count"`
}

// patternsFile is the on-disk layout.
type patternsFile struct {
	Version  int                      `json:"version"`
	Patterns map[string]*KnownPattern `json:"patterns"`
}

// NewPatternStore creates a store backed by path. An empty path falls back to
// .adbg/patterns.json under the working directory. Existing state is loaded
// immediately; a missing file is an empty store.
func NewPatternStore(path string) *PatternStore {
	if path == "" {
		cwd, err := os.Getwd()
		if err != nil {
			cwd = "."
		}
		path = filepath.Join(cwd, ".adbg", "patterns.json")
	}
	s := &PatternStore{
		path:     path,
		patterns: make(map[string]*KnownPattern),
	}
	s.Load()
	return s
}

// Load reads the state file. A missing file is not an error.
func (s *PatternStore) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var file patternsFile
	if err := json.Unmarshal(data, &file); err != nil {
		return err
	}
	if file.Patterns != nil {
		s.patterns = file.Patterns
	}
	return nil
}

// Save writes the state file, creating the parent directory if needed.
func (s *PatternStore) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(patternsFile{Version: 1, Patterns: s.patterns}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0o644)
}

// RecordPattern records count occurrences of a signature. Returns true when
// the signature was not known before.
func (s *PatternStore) RecordPattern(pattern string, count int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if existing, ok := s.patterns[pattern]; ok {
		existing.TotalCount += count
		existing.LastSeen = now
		return false
	}
	s.patterns[pattern] = &KnownPattern{
		Pattern:    pattern,
		TotalCount: count,
		FirstSeen:  now,
		LastSeen:   now,
	}
	return true
}

// IsKnown reports whether a signature has been recorded before.
func (s *PatternStore) IsKnown(pattern string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.patterns[pattern]
	return ok
}

// GetPattern returns a copy of the recorded state for a signature, or nil.
func (s *PatternStore) GetPattern(pattern string) *KnownPattern {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.patterns[pattern]
	if !ok {
		return nil
	}
	cp := *p
	return &cp
}

// GetAllPatterns returns copies of every recorded signature.
func (s *PatternStore) GetAllPatterns() []*KnownPattern {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*KnownPattern, 0, len(s.patterns))
	for _, p := range s.patterns {
		cp := *p
		out = append(out, &cp)
	}
	return out
}

// Count returns the number of known signatures.
func (s *PatternStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.patterns)
}

// Clear drops all in-memory state. The file is untouched until Save.
func (s *PatternStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.patterns = make(map[string]*KnownPattern)
}

// AnnotatePatterns enriches observed signatures against known history without
// modifying the store.
func (s *PatternStore) AnnotatePatterns(matches []PatternMatch) []AnnotatedPattern {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]AnnotatedPattern, 0, len(matches))
	for _, m := range matches {
		ap := AnnotatedPattern{PatternMatch: m, IsNew: true}
		if known, ok := s.patterns[m.Pattern]; ok {
			ap.IsNew = false
			first := known.FirstSeen
			ap.FirstSeen = &first
			ap.TotalCount = known.TotalCount
		}
		out = append(out, ap)
	}
	return out
}

// RecordPatterns records observed signatures and returns the annotated result
// reflecting the update.
func (s *PatternStore) RecordPatterns(matches []PatternMatch) []AnnotatedPattern {
	out := make([]AnnotatedPattern, 0, len(matches))
	for _, m := range matches {
		isNew := s.RecordPattern(m.Pattern, m.Count)
		ap := AnnotatedPattern{PatternMatch: m, IsNew: isNew}
		if known := s.GetPattern(m.Pattern); known != nil {
			first := known.FirstSeen
			if !isNew {
				ap.FirstSeen = &first
			}
			ap.TotalCount = known.TotalCount
		}
		out = append(out, ap)
	}
	return out
}

var (
	hexRe    = regexp.MustCompile(`0x[0-9a-fA-F]+`)
	numRe    = regexp.MustCompile(`\b\d+\b`)
	quotedRe = regexp.MustCompile(`'[^']*'|"[^"]*"`)
)

// NormalizeCrash collapses the volatile parts of an error into a stable
// signature: addresses, numbers and quoted values become placeholders so
// "KeyError: 'user_42'" and "KeyError: 'user_7'" compare equal.
func NormalizeCrash(errorType, message string) string {
	msg := hexRe.ReplaceAllString(message, "<addr>")
	msg = quotedRe.ReplaceAllString(msg, "<s>")
	msg = numRe.ReplaceAllString(msg, "<n>")
	if errorType == "" {
		return msg
	}
	if msg == "" {
		return errorType
	}
	return errorType + ": " + msg
}
