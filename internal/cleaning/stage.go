package cleaning

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/personaset/internal/observe"
	"github.com/MrWong99/personaset/pkg/dataset"
)

// DefaultConcurrency is the number of cleaning calls allowed in flight when
// [Config.Concurrency] is zero.
const DefaultConcurrency = 8

// Config carries everything a [Stage] needs. It is passed explicitly; the
// package holds no global state.
type Config struct {
	// Cleaner performs the per-turn rewrite. Required.
	Cleaner TextCleaner

	// Instruction is handed to the cleaner with every turn. Empty selects
	// [DefaultInstruction].
	Instruction string

	// Concurrency bounds the number of cleaner calls in flight. Zero selects
	// [DefaultConcurrency].
	Concurrency int

	// CallTimeout bounds each individual cleaner call. Zero means no limit
	// beyond the caller's context.
	CallTimeout time.Duration

	// Metrics receives per-call measurements. Nil selects
	// [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// Stage cleans datasets with a fixed configuration. It is safe for
// concurrent use.
type Stage struct {
	cleaner     TextCleaner
	instruction string
	limit       int
	callTimeout time.Duration
	metrics     *observe.Metrics
}

// New validates cfg and returns a ready [Stage].
func New(cfg Config) (*Stage, error) {
	if cfg.Cleaner == nil {
		return nil, errors.New("cleaning: cleaner must not be nil")
	}
	if cfg.Concurrency < 0 {
		return nil, fmt.Errorf("cleaning: concurrency must be positive, got %d", cfg.Concurrency)
	}
	s := &Stage{
		cleaner:     cfg.Cleaner,
		instruction: cfg.Instruction,
		limit:       cfg.Concurrency,
		callTimeout: cfg.CallTimeout,
		metrics:     cfg.Metrics,
	}
	if s.instruction == "" {
		s.instruction = DefaultInstruction
	}
	if s.limit == 0 {
		s.limit = DefaultConcurrency
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s, nil
}

// Instruction returns the instruction sent with every turn.
func (s *Stage) Instruction() string { return s.instruction }

// Clean cleans the human and assistant turns of every record in raw.
//
// The returned [Outcome] always has one slot per input record. Cleaner
// failures are recorded in the outcome rather than returned; the error
// return is reserved for context cancellation, in which case no outcome is
// returned.
func (s *Stage) Clean(ctx context.Context, raw dataset.Dataset) (*Outcome, error) {
	raw.MustBeWellFormed()

	o := newOutcome(raw)
	indices := make([]int, len(raw))
	for i := range indices {
		indices[i] = i
	}
	if err := s.cleanInto(ctx, o, indices); err != nil {
		return nil, err
	}
	return o, nil
}

// Retry re-cleans only the failed records of prev and returns a new outcome
// in which previously successful slots are carried over untouched.
func (s *Stage) Retry(ctx context.Context, prev *Outcome) (*Outcome, error) {
	o := prev.clone()
	failed := prev.FailedIndices()
	if len(failed) == 0 {
		return o, nil
	}
	if err := s.cleanInto(ctx, o, failed); err != nil {
		return nil, err
	}
	return o, nil
}

// turnsPerRecord is the number of cleanable turns in a record.
const turnsPerRecord = 2

var cleanableRoles = [turnsPerRecord]dataset.Role{dataset.RoleHuman, dataset.RoleAssistant}

// cleanInto cleans the records at indices and writes their slots into o.
// Results land in a slice keyed by position*2+turn, so reassembly never
// depends on completion order.
func (s *Stage) cleanInto(ctx context.Context, o *Outcome, indices []int) error {
	ctx, span := observe.StartSpan(ctx, "cleaning.Clean", trace.WithAttributes(
		attribute.Int("records", len(indices)),
		attribute.Int("concurrency", s.limit),
	))
	defer span.End()

	n := len(indices) * turnsPerRecord
	texts := make([]string, n)
	errs := make([]error, n)

	var g errgroup.Group
	g.SetLimit(s.limit)

schedule:
	for p, idx := range indices {
		in := o.input[idx]
		for k, text := range [turnsPerRecord]string{in.Human(), in.Assistant()} {
			if ctx.Err() != nil {
				break schedule
			}
			slot := p*turnsPerRecord + k
			role := cleanableRoles[k]
			g.Go(func() error {
				texts[slot], errs[slot] = s.cleanTurn(ctx, idx, role, text)
				return nil
			})
		}
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("cleaning: %w", err)
	}

	log := observe.Logger(ctx)
	failed := 0
	for p, idx := range indices {
		base := p * turnsPerRecord
		var turnErrs []*CleaningError
		for k := range turnsPerRecord {
			if err := errs[base+k]; err != nil {
				turnErrs = append(turnErrs, &CleaningError{Index: idx, Turn: cleanableRoles[k], Err: err})
			}
		}
		if len(turnErrs) > 0 {
			failed++
			o.records[idx] = dataset.Record{}
			o.errs[idx] = turnErrs
			for _, e := range turnErrs {
				log.Warn("cleaning: turn failed", "index", e.Index, "turn", e.Turn, "err", e.Err)
			}
			continue
		}
		rec := o.input[idx].WithDialogue(texts[base], texts[base+1])
		rec.MustBeWellFormed()
		o.records[idx] = rec
		o.errs[idx] = nil
	}

	span.SetAttributes(attribute.Int("failed", failed))
	log.Info("cleaning: batch done", "records", len(indices), "failed", failed)
	return nil
}

// cleanTurn runs a single cleaner call with the per-call timeout and records
// its metrics.
func (s *Stage) cleanTurn(ctx context.Context, idx int, role dataset.Role, text string) (string, error) {
	if s.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.callTimeout)
		defer cancel()
	}

	s.metrics.CleaningInFlight.Add(ctx, 1)
	defer s.metrics.CleaningInFlight.Add(context.WithoutCancel(ctx), -1)

	start := time.Now()
	out, err := s.cleaner.CleanText(ctx, s.instruction, text)
	status := "ok"
	if err != nil {
		status = "error"
	}
	s.metrics.RecordCleaningCall(context.WithoutCancel(ctx), string(role), status, time.Since(start))
	if err != nil {
		return "", err
	}
	observe.Logger(ctx).Debug("cleaning: turn cleaned", "index", idx, "turn", role)
	return out, nil
}
