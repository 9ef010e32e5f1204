// Package cleaning normalises the human and assistant turns of persona
// records through an injectable [TextCleaner].
//
// A [Stage] fans the turns of a dataset out to the cleaner with a bounded
// number of calls in flight and reassembles the results by position, so
// record j of the output always corresponds to record j of the input no
// matter in which order calls complete. System turns are never sent to the
// cleaner.
//
// Failures are collected per record: see [Outcome].
package cleaning

import (
	"context"
	"fmt"

	"github.com/MrWong99/personaset/pkg/dataset"
)

// TextCleaner rewrites a single utterance according to instruction.
// Implementations must be safe for concurrent use and must honour ctx.
type TextCleaner interface {
	CleanText(ctx context.Context, instruction, text string) (string, error)
}

// CleanerFunc adapts an ordinary function to the [TextCleaner] interface.
type CleanerFunc func(ctx context.Context, instruction, text string) (string, error)

// CleanText calls f.
func (f CleanerFunc) CleanText(ctx context.Context, instruction, text string) (string, error) {
	return f(ctx, instruction, text)
}

// Identity returns every text unchanged.
var Identity TextCleaner = CleanerFunc(func(_ context.Context, _, text string) (string, error) {
	return text, nil
})

// CleaningError reports that one turn of one record could not be cleaned.
type CleaningError struct {
	// Index is the position of the record in the input dataset.
	Index int

	// Turn is either dataset.RoleHuman or dataset.RoleAssistant.
	Turn dataset.Role

	// Err is the cleaner's error.
	Err error
}

// Error implements error.
func (e *CleaningError) Error() string {
	return fmt.Sprintf("cleaning: record %d %s turn: %v", e.Index, e.Turn, e.Err)
}

// Unwrap returns the cleaner's error.
func (e *CleaningError) Unwrap() error { return e.Err }

// IncompleteError is returned by [Outcome.Dataset] when at least one record
// failed to clean.
type IncompleteError struct {
	// Total is the number of records in the input.
	Total int

	// Failures lists every failed turn ordered by record index, then turn.
	Failures []*CleaningError
}

// Error implements error.
func (e *IncompleteError) Error() string {
	return fmt.Sprintf("cleaning: %d of %d records failed (indices %v)", len(failedIndices(e.Failures)), e.Total, failedIndices(e.Failures))
}

// Unwrap exposes the individual failures to errors.Is and errors.As.
func (e *IncompleteError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f
	}
	return errs
}

// failedIndices returns the distinct record indices in failures, in order.
func failedIndices(failures []*CleaningError) []int {
	var out []int
	for _, f := range failures {
		if n := len(out); n > 0 && out[n-1] == f.Index {
			continue
		}
		out = append(out, f.Index)
	}
	return out
}
