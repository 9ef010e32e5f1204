package publish

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/MrWong99/personaset/internal/datasetstore"
	"github.com/MrWong99/personaset/pkg/dataset"
)

// PostgresSink saves the dataset as a new run in a [datasetstore.Store].
type PostgresSink struct {
	store *datasetstore.Store
	run   datasetstore.Run
}

var _ Sink = (*PostgresSink)(nil)

// NewPostgres returns a sink that stores each published dataset as a run
// described by template. A fresh run ID is generated per publish.
func NewPostgres(store *datasetstore.Store, template datasetstore.Run) *PostgresSink {
	return &PostgresSink{store: store, run: template}
}

// Name implements [Sink].
func (s *PostgresSink) Name() string { return "postgres" }

// Publish implements [Sink].
func (s *PostgresSink) Publish(ctx context.Context, d dataset.Dataset) error {
	run := s.run
	run.ID = uuid.Nil
	if _, err := s.store.SaveRun(ctx, run, d); err != nil {
		return fmt.Errorf("publish: postgres: %w", err)
	}
	return nil
}
