package daemon

import (
	"fmt"
	"regexp"
	"strings"
)

// FilteredToken replaces every redacted match.
const FilteredToken = "*** Filtered ***"

// Redactor replaces sensitive substrings before lines are logged or
// returned. A nil Redactor passes lines through unchanged.
type Redactor struct {
	re *regexp.Regexp
}

// NewRedactor compiles the union of patterns. Blank patterns are skipped;
// no patterns yields a nil Redactor.
func NewRedactor(patterns []string) (*Redactor, error) {
	re, err := union(patterns)
	if err != nil {
		return nil, fmt.Errorf("compile filters: %w", err)
	}
	if re == nil {
		return nil, nil
	}
	return &Redactor{re: re}, nil
}

// Redact returns line with every match replaced by FilteredToken.
func (r *Redactor) Redact(line string) string {
	if r == nil || r.re == nil {
		return line
	}
	return r.re.ReplaceAllLiteralString(line, FilteredToken)
}

// compileErrors builds the error matcher: caller patterns plus the
// failure sentinel.
func compileErrors(patterns []string) (*regexp.Regexp, error) {
	all := append([]string{regexp.QuoteMeta(FailureSentinel)}, patterns...)
	re, err := union(all)
	if err != nil {
		return nil, fmt.Errorf("compile error patterns: %w", err)
	}
	return re, nil
}

func union(patterns []string) (*regexp.Regexp, error) {
	parts := make([]string, 0, len(patterns))
	for _, p := range patterns {
		if strings.TrimSpace(p) == "" {
			continue
		}
		if _, err := regexp.Compile(p); err != nil {
			return nil, err
		}
		parts = append(parts, "(?:"+p+")")
	}
	if len(parts) == 0 {
		return nil, nil
	}
	return regexp.Compile(strings.Join(parts, "|"))
}
