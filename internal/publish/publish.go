// Package publish writes finished datasets to their destinations.
//
// A [Sink] receives a complete dataset and either stores all of it or
// returns an error. Sinks never reorder, deduplicate or filter records.
package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"go.opentelemetry.io/otel/attribute"

	"github.com/MrWong99/personaset/internal/observe"
	"github.com/MrWong99/personaset/pkg/dataset"
)

// Sink publishes a dataset.
type Sink interface {
	// Publish stores d in full.
	Publish(ctx context.Context, d dataset.Dataset) error

	// Name identifies the sink in logs and metrics, e.g. "jsonl".
	Name() string
}

// JSONLSink writes a ShareGPT JSON lines file.
type JSONLSink struct {
	path string
	key  string
}

var _ Sink = (*JSONLSink)(nil)

// NewJSONL returns a sink that writes to path, storing each record under
// key. An empty key selects [dataset.KeyConversations].
func NewJSONL(path, key string) *JSONLSink {
	if key == "" {
		key = dataset.KeyConversations
	}
	return &JSONLSink{path: path, key: key}
}

// Name implements [Sink].
func (s *JSONLSink) Name() string { return "jsonl" }

// Publish implements [Sink]. The file is written to a temporary sibling and
// renamed into place, so readers never observe a partial dataset.
func (s *JSONLSink) Publish(_ context.Context, d dataset.Dataset) error {
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("publish: jsonl: %w", err)
		}
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("publish: jsonl: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := dataset.WriteJSONL(tmp, s.key, d); err != nil {
		tmp.Close()
		return fmt.Errorf("publish: jsonl %q: %w", s.path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("publish: jsonl %q: %w", s.path, err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("publish: jsonl %q: %w", s.path, err)
	}
	return nil
}

// Publisher fans a dataset out to several sinks.
type Publisher struct {
	sinks   []Sink
	metrics *observe.Metrics
}

// NewPublisher returns a publisher over sinks. A nil metrics uses
// [observe.DefaultMetrics].
func NewPublisher(m *observe.Metrics, sinks ...Sink) *Publisher {
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &Publisher{sinks: sinks, metrics: m}
}

// Sinks returns the configured sinks in order.
func (p *Publisher) Sinks() []Sink { return p.sinks }

// Publish writes d to every sink in order. A failing sink does not stop the
// remaining ones; all failures are returned joined.
func (p *Publisher) Publish(ctx context.Context, d dataset.Dataset) error {
	d.MustBeWellFormed()

	var errs []error
	for _, s := range p.sinks {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.publishOne(ctx, s, d); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (p *Publisher) publishOne(ctx context.Context, s Sink, d dataset.Dataset) error {
	ctx, span := observe.StartSpan(ctx, "publish."+s.Name())
	defer span.End()
	span.SetAttributes(attribute.Int("personaset.records", len(d)))

	if err := s.Publish(ctx, d); err != nil {
		observe.FailSpan(span, err)
		observe.Logger(ctx).Error("publish: sink failed", "sink", s.Name(), "err", err)
		return fmt.Errorf("%s: %w", s.Name(), err)
	}
	p.metrics.RecordPublished(ctx, s.Name(), len(d))
	slog.Info("publish: dataset written", "sink", s.Name(), "records", len(d))
	return nil
}
