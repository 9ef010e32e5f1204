package app

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/MrWong99/personaset/internal/cleaning"
	"github.com/MrWong99/personaset/internal/datasetstore"
	"github.com/MrWong99/personaset/internal/observe"
	"github.com/MrWong99/personaset/internal/pairing"
	"github.com/MrWong99/personaset/pkg/dataset"
)

// BuildOptions tune [App.Build].
type BuildOptions struct {
	// RetryPasses re-cleans failed records this many extra times before
	// giving up on them.
	RetryPasses int

	// AllowPartial publishes the successfully cleaned records when some
	// failed. Otherwise a single failure aborts the build before anything is
	// published.
	AllowPartial bool
}

// Result summarises a build.
type Result struct {
	// Raw is the paired dataset before cleaning.
	Raw dataset.Dataset

	// Skipped lists malformed transcript lines.
	Skipped []pairing.SkippedLine

	// Outcome is the final cleaning outcome after all retry passes.
	Outcome *cleaning.Outcome

	// Published is the dataset handed to the sinks. Nil when nothing was
	// published.
	Published dataset.Dataset
}

// Pair reads the transcript and extracts persona records.
func (a *App) Pair(ctx context.Context) (*pairing.Extraction, error) {
	ctx, span := observe.StartSpan(ctx, "pairing.extract")
	defer span.End()
	log := observe.Logger(ctx)

	lines, err := a.source.Read(ctx)
	if err != nil {
		observe.FailSpan(span, err)
		return nil, fmt.Errorf("app: read %s: %w", a.source.Name(), err)
	}

	x := a.engine.Extract(lines)

	skipped := make(map[string]int)
	for _, s := range x.Skipped {
		skipped[skipReason(s)]++
		log.Warn("app: malformed transcript line skipped", "index", s.Index, "reason", s.Reason)
	}
	a.metrics.RecordPairing(ctx, len(x.Dataset), skipped)
	span.SetAttributes(
		attribute.Int("personaset.lines", len(lines)),
		attribute.Int("personaset.records", len(x.Dataset)),
		attribute.Int("personaset.skipped", len(x.Skipped)),
	)
	log.Info("app: transcript paired",
		"source", a.source.Name(),
		"persona", a.engine.Persona(),
		"lines", len(lines),
		"records", len(x.Dataset),
		"skipped", len(x.Skipped),
	)
	return x, nil
}

// skipReason turns a skipped line into a short metric label.
func skipReason(s pairing.SkippedLine) string {
	switch {
	case errors.Is(s.Reason, dataset.ErrMissingSpeaker):
		return "missing_speaker"
	case errors.Is(s.Reason, dataset.ErrMissingEpisode):
		return "missing_episode"
	case errors.Is(s.Reason, dataset.ErrMissingText):
		return "missing_text"
	default:
		return "malformed"
	}
}

// Clean runs the cleaning stage over raw, then up to retryPasses further
// passes over the records that failed.
func (a *App) Clean(ctx context.Context, raw dataset.Dataset, retryPasses int) (*cleaning.Outcome, error) {
	stage, err := a.Stage()
	if err != nil {
		return nil, err
	}

	ctx, span := observe.StartSpan(ctx, "cleaning.run")
	defer span.End()
	log := observe.Logger(ctx)

	out, err := stage.Clean(ctx, raw)
	if err != nil {
		observe.FailSpan(span, err)
		return nil, err
	}
	for pass := 1; pass <= retryPasses && !out.OK(); pass++ {
		log.Info("app: retrying failed records", "pass", pass, "failed", len(out.FailedIndices()))
		if out, err = stage.Retry(ctx, out); err != nil {
			observe.FailSpan(span, err)
			return nil, err
		}
	}

	failed := out.FailedIndices()
	span.SetAttributes(
		attribute.Int("personaset.records", out.Len()),
		attribute.Int("personaset.failed", len(failed)),
	)
	for _, f := range out.Failures() {
		log.Error("app: cleaning failed", "index", f.Index, "turn", f.Turn, "err", f.Err)
	}
	log.Info("app: dataset cleaned", "records", out.Len(), "failed", len(failed))
	return out, nil
}

// Build pairs, cleans and publishes. With a dataset store configured, the
// raw records and any cleaning failures are saved as a raw run as well.
func (a *App) Build(ctx context.Context, opts BuildOptions) (*Result, error) {
	ctx, span := observe.StartSpan(ctx, "personaset.build")
	defer span.End()
	log := observe.Logger(ctx)
	log.Info("app: build started", "run_id", observe.RunID(ctx))

	pub, err := a.Publisher(ctx)
	if err != nil {
		observe.FailSpan(span, err)
		return nil, err
	}

	x, err := a.Pair(ctx)
	if err != nil {
		observe.FailSpan(span, err)
		return nil, err
	}
	res := &Result{Raw: x.Dataset, Skipped: x.Skipped}

	out, err := a.Clean(ctx, x.Dataset, opts.RetryPasses)
	if err != nil {
		observe.FailSpan(span, err)
		return nil, err
	}
	res.Outcome = out

	if err := a.saveRaw(ctx, x.Dataset, out); err != nil {
		log.Warn("app: raw run not saved", "err", err)
	}

	cleaned, err := out.Dataset()
	if err != nil {
		if !opts.AllowPartial {
			observe.FailSpan(span, err)
			return res, err
		}
		cleaned, _ = out.Cleaned()
		log.Warn("app: publishing partial dataset", "records", len(cleaned), "failed", len(out.FailedIndices()))
	}

	if err := pub.Publish(ctx, cleaned); err != nil {
		observe.FailSpan(span, err)
		return res, fmt.Errorf("app: publish: %w", err)
	}
	res.Published = cleaned

	if !out.OK() {
		// Partial publish: report the failures without failing the build.
		_, incomplete := out.Dataset()
		log.Warn("app: build finished with failures", "err", incomplete)
	}
	log.Info("app: build finished", "published", len(cleaned))
	return res, nil
}

// saveRaw stores the paired dataset and the cleaning failures.
func (a *App) saveRaw(ctx context.Context, raw dataset.Dataset, out *cleaning.Outcome) error {
	store, err := a.Store(ctx)
	if err != nil || store == nil {
		return err
	}
	run, err := store.SaveRun(ctx, datasetstore.Run{
		Dataset: a.cfg.Publish.Postgres.Dataset,
		Stage:   datasetstore.StageRaw,
		Persona: a.cfg.Persona.Speaker,
		Source:  a.source.Name(),
	}, raw)
	if err != nil {
		return err
	}
	failures := make([]datasetstore.Failure, 0, len(out.Failures()))
	for _, f := range out.Failures() {
		failures = append(failures, datasetstore.Failure{Position: f.Index, Turn: f.Turn, Error: f.Err.Error()})
	}
	return store.SaveFailures(ctx, run.ID, failures)
}
