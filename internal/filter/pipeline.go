package filter

import (
	"regexp"

	"github.com/vburojevic/adbg/internal/domain"
)

// Pipeline chains the step filters in fixed order: include pattern first,
// then exclude patterns, then where clauses. A nil *Pipeline allows all.
type Pipeline struct {
	pattern  *regexp.Regexp
	excludes []*regexp.Regexp
	where    *WhereFilter
}

// NewPipeline builds a pipeline from the optional filter pieces. Returns nil
// when every piece is nil so callers can skip filtering entirely.
func NewPipeline(pattern *regexp.Regexp, excludes []*regexp.Regexp, where *WhereFilter) *Pipeline {
	if pattern == nil && len(excludes) == 0 && where == nil {
		return nil
	}
	return &Pipeline{
		pattern:  pattern,
		excludes: excludes,
		where:    where,
	}
}

// Match reports whether a captured step passes every stage. Pattern and
// exclude regexes test the source text of the step.
func (p *Pipeline) Match(step *domain.CapturedStep) bool {
	if p == nil {
		return true
	}
	if p.pattern != nil && !p.pattern.MatchString(step.Code) {
		return false
	}
	for _, ex := range p.excludes {
		if ex.MatchString(step.Code) {
			return false
		}
	}
	if p.where != nil && !p.where.Match(step) {
		return false
	}
	return true
}
