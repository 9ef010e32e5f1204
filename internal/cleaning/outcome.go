package cleaning

import (
	"errors"

	"github.com/MrWong99/personaset/pkg/dataset"
)

// Outcome holds the positional result of a cleaning run: one slot per input
// record, each either a fully cleaned record or the errors of its failed
// turns. A record is never half-cleaned; if either turn fails, the whole
// record is reported as failed.
type Outcome struct {
	input   dataset.Dataset
	records []dataset.Record
	errs    [][]*CleaningError
}

func newOutcome(input dataset.Dataset) *Outcome {
	return &Outcome{
		input:   input,
		records: make([]dataset.Record, len(input)),
		errs:    make([][]*CleaningError, len(input)),
	}
}

// clone returns a deep enough copy for Retry to mutate slots independently.
func (o *Outcome) clone() *Outcome {
	c := &Outcome{
		input:   o.input,
		records: make([]dataset.Record, len(o.records)),
		errs:    make([][]*CleaningError, len(o.errs)),
	}
	copy(c.records, o.records)
	copy(c.errs, o.errs)
	return c
}

// Len returns the number of slots, always equal to the input length.
func (o *Outcome) Len() int { return len(o.records) }

// OK reports whether every record was cleaned.
func (o *Outcome) OK() bool {
	for _, e := range o.errs {
		if len(e) > 0 {
			return false
		}
	}
	return true
}

// Record returns the cleaned record at index i, or the joined turn errors if
// that record failed.
func (o *Outcome) Record(i int) (dataset.Record, error) {
	if errs := o.errs[i]; len(errs) > 0 {
		joined := make([]error, len(errs))
		for k, e := range errs {
			joined[k] = e
		}
		return dataset.Record{}, errors.Join(joined...)
	}
	return o.records[i], nil
}

// Input returns the raw record at index i.
func (o *Outcome) Input(i int) dataset.Record { return o.input[i] }

// Failures lists every failed turn ordered by record index, then turn.
func (o *Outcome) Failures() []*CleaningError {
	var out []*CleaningError
	for _, e := range o.errs {
		out = append(out, e...)
	}
	return out
}

// FailedIndices returns the indices of records that failed, ascending.
func (o *Outcome) FailedIndices() []int {
	var out []int
	for i, e := range o.errs {
		if len(e) > 0 {
			out = append(out, i)
		}
	}
	return out
}

// Dataset returns the cleaned dataset, the same length as the input, when
// every record succeeded. Otherwise it returns nil and an *[IncompleteError].
func (o *Outcome) Dataset() (dataset.Dataset, error) {
	if !o.OK() {
		return nil, &IncompleteError{Total: len(o.records), Failures: o.Failures()}
	}
	out := make(dataset.Dataset, len(o.records))
	copy(out, o.records)
	return out, nil
}

// Cleaned returns the successfully cleaned records in input order together
// with the input index of each. Failed records are left out; use
// [Outcome.Failures] to report them.
func (o *Outcome) Cleaned() (dataset.Dataset, []int) {
	var (
		out     dataset.Dataset
		indices []int
	)
	for i, r := range o.records {
		if len(o.errs[i]) > 0 {
			continue
		}
		out = append(out, r)
		indices = append(indices, i)
	}
	return out, indices
}
