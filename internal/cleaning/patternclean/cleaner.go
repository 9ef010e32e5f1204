// Package patternclean implements a deterministic [cleaning.TextCleaner] that
// removes text matching regular expressions. It needs no network access and
// is the offline alternative to the model-backed cleaner.
package patternclean

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/MrWong99/personaset/internal/cleaning"
	"github.com/MrWong99/personaset/internal/resilience"
)

// DefaultPattern matches a lower-case narrated stage direction at the start
// of a line, up to and including its first full stop.
const DefaultPattern = `^[a-z ]+\.`

// ErrEmptyResult is returned when stripping leaves nothing of the line. The
// error is marked [resilience.Permanent] since the result is deterministic.
var ErrEmptyResult = errors.New("patternclean: nothing left after stripping")

// Cleaner deletes every match of its patterns, applied in order, and trims
// the result. The instruction passed to CleanText is ignored. Cleaner is
// immutable and safe for concurrent use.
type Cleaner struct {
	patterns []*regexp.Regexp
}

var _ cleaning.TextCleaner = (*Cleaner)(nil)

// New compiles patterns. With no patterns, [DefaultPattern] is used.
func New(patterns ...string) (*Cleaner, error) {
	if len(patterns) == 0 {
		patterns = []string{DefaultPattern}
	}
	c := &Cleaner{patterns: make([]*regexp.Regexp, 0, len(patterns))}
	var errs []error
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			errs = append(errs, fmt.Errorf("patternclean: compile %q: %w", p, err))
			continue
		}
		c.patterns = append(c.patterns, re)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return c, nil
}

// Patterns returns the source of each compiled pattern.
func (c *Cleaner) Patterns() []string {
	out := make([]string, len(c.patterns))
	for i, re := range c.patterns {
		out[i] = re.String()
	}
	return out
}

// CleanText implements [cleaning.TextCleaner].
func (c *Cleaner) CleanText(ctx context.Context, _ string, text string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	out := strings.TrimSpace(text)
	for _, re := range c.patterns {
		out = strings.TrimSpace(re.ReplaceAllLiteralString(out, ""))
	}
	if out == "" {
		return "", resilience.Permanent(fmt.Errorf("%w: %q", ErrEmptyResult, text))
	}
	return out, nil
}
