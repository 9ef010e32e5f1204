// Package pairing turns an ordered transcript into persona training records.
//
// The [Engine] scans adjacent lines and emits a [dataset.Record] whenever a
// non-persona line is immediately followed by a persona line from the same
// episode. The scan is a single forward pass with one line of lookahead; the
// output preserves transcript order and is neither deduplicated nor shuffled.
//
// Lines missing a speaker, episode or text are reported as [SkippedLine]
// values and never take part in a pair.
package pairing

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/MrWong99/personaset/pkg/dataset"
)

// SkippedLine records a malformed transcript line that was left out of the
// scan. It implements error so callers can log or join skips directly.
type SkippedLine struct {
	// Index is the position of the line in the input transcript.
	Index int

	// Line is the offending input.
	Line dataset.TranscriptLine

	// Reason is one of the dataset.ErrMissing* sentinels.
	Reason error
}

// Error implements error.
func (s SkippedLine) Error() string {
	return fmt.Sprintf("pairing: line %d skipped: %v", s.Index, s.Reason)
}

// Unwrap returns the skip reason.
func (s SkippedLine) Unwrap() error { return s.Reason }

// Extraction is the result of a single [Engine.Extract] pass.
type Extraction struct {
	// Dataset holds the emitted records in scan order.
	Dataset dataset.Dataset

	// Skipped lists malformed lines in input order.
	Skipped []SkippedLine
}

// Err joins every skipped line into one error, or returns nil when the scan
// saw no malformed input.
func (x *Extraction) Err() error {
	if len(x.Skipped) == 0 {
		return nil
	}
	errs := make([]error, len(x.Skipped))
	for i, s := range x.Skipped {
		errs[i] = s
	}
	return errors.Join(errs...)
}

// Option is a functional option for configuring an [Engine].
type Option func(*Engine)

// WithAliases maps alternative speaker labels onto canonical names before the
// pairing predicate runs, e.g. {"Rick Sanchez": "Rick"}. Matching on the
// canonical names is still exact.
func WithAliases(aliases map[string]string) Option {
	return func(e *Engine) {
		for from, to := range aliases {
			e.aliases[from] = to
		}
	}
}

// Engine extracts (non-persona, persona) pairs from a transcript. An Engine is
// immutable after construction and safe for concurrent use.
type Engine struct {
	persona      string
	systemPrompt string
	aliases      map[string]string
}

// New returns an [Engine] for the given persona speaker label. systemPrompt
// becomes the system turn of every emitted record.
func New(persona, systemPrompt string, opts ...Option) (*Engine, error) {
	if strings.TrimSpace(persona) == "" {
		return nil, errors.New("pairing: persona must not be empty")
	}
	e := &Engine{
		persona:      persona,
		systemPrompt: systemPrompt,
		aliases:      make(map[string]string),
	}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

// Persona returns the canonical persona speaker label.
func (e *Engine) Persona() string { return e.persona }

// SystemPrompt returns the system turn text attached to every record.
func (e *Engine) SystemPrompt() string { return e.systemPrompt }

// speaker resolves a raw label through the alias table.
func (e *Engine) speaker(raw string) string {
	if canonical, ok := e.aliases[raw]; ok {
		return canonical
	}
	return raw
}

// Extract scans lines once and returns every qualifying pair. Line i and
// line i+1 form a record when:
//
//   - line i is not spoken by the persona,
//   - line i+1 is spoken by the persona, and
//   - both lines share an episode id.
//
// Texts are trimmed of surrounding whitespace. Empty and single-line inputs
// yield an empty dataset. The result never holds more than len(lines)-1
// records.
func (e *Engine) Extract(lines []dataset.TranscriptLine) *Extraction {
	x := &Extraction{}

	valid := make([]bool, len(lines))
	for i, l := range lines {
		if err := l.Validate(); err != nil {
			x.Skipped = append(x.Skipped, SkippedLine{Index: i, Line: l, Reason: err})
			slog.Debug("pairing: skipping malformed line", "index", i, "reason", err)
			continue
		}
		valid[i] = true
	}

	for i := 0; i+1 < len(lines); i++ {
		if !valid[i] || !valid[i+1] {
			continue
		}
		cur, next := lines[i], lines[i+1]
		if e.speaker(cur.Speaker) == e.persona {
			continue
		}
		if e.speaker(next.Speaker) != e.persona {
			continue
		}
		if cur.EpisodeID != next.EpisodeID {
			continue
		}
		x.Dataset = append(x.Dataset, dataset.NewRecord(
			e.systemPrompt,
			strings.TrimSpace(cur.Text),
			strings.TrimSpace(next.Text),
		))
	}
	return x
}

// Pairs is a convenience wrapper that builds a default [Engine] and returns
// only the emitted dataset.
func Pairs(lines []dataset.TranscriptLine, persona, systemPrompt string) (dataset.Dataset, error) {
	e, err := New(persona, systemPrompt)
	if err != nil {
		return nil, err
	}
	return e.Extract(lines).Dataset, nil
}
