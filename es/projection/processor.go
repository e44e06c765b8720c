package projection

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/getpup/sigledger/es"
	"github.com/getpup/sigledger/es/store"
)

// ErrProjectionStopped indicates the projection was stopped due to an error.
var ErrProjectionStopped = errors.New("projection stopped")

// Source is the storage a processor reads from and checkpoints to.
type Source interface {
	store.EventReader
	store.CheckpointStore
}

// Processor processes the global log for one projection, checkpointing in
// the same transaction as the handler so progress and side effects in the
// database commit together.
type Processor struct {
	db     *sql.DB
	source Source
	config ProcessorConfig
}

var _ ProcessorRunner = (*Processor)(nil)

// NewProcessor creates a new projection processor.
func NewProcessor(db *sql.DB, source Source, config ProcessorConfig) *Processor {
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}
	if config.TotalPartitions <= 0 {
		config.TotalPartitions = 1
	}
	if config.PartitionStrategy == nil {
		config.PartitionStrategy = HashPartitionStrategy{}
	}
	return &Processor{db: db, source: source, config: config}
}

// Run processes events for the given projection until the context is cancelled.
// Returns ErrProjectionStopped wrapping the cause if the handler fails.
func (p *Processor) Run(ctx context.Context, proj Projection) error {
	log := es.OrNoOp(p.config.Logger)
	log.Info(ctx, "projection processor starting",
		"projection", proj.Name(),
		"partition_key", p.config.PartitionKey,
		"total_partitions", p.config.TotalPartitions,
		"batch_size", p.config.BatchSize)

	filter := eventTypeFilter(proj)
	for {
		n, err := p.ProcessBatch(ctx, proj, filter)
		if err != nil {
			if ctx.Err() != nil {
				log.Info(ctx, "projection processor stopped", "projection", proj.Name(), "reason", ctx.Err())
				return ctx.Err()
			}
			log.Error(ctx, "projection processor failed", "projection", proj.Name(), "error", err)
			return fmt.Errorf("%w: %w", ErrProjectionStopped, err)
		}
		if n > 0 {
			continue
		}

		timer := time.NewTimer(p.config.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Info(ctx, "projection processor stopped", "projection", proj.Name(), "reason", ctx.Err())
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// ProcessBatch handles one batch and returns the number of events read.
// filter may be nil to handle every event type.
func (p *Processor) ProcessBatch(ctx context.Context, proj Projection, filter map[string]struct{}) (int, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	//nolint:errcheck // Rollback after Commit is a no-op
	defer tx.Rollback()

	checkpoint, err := p.source.GetCheckpoint(ctx, tx, proj.Name())
	if err != nil {
		return 0, fmt.Errorf("failed to get checkpoint: %w", err)
	}

	events, err := p.source.ReadAll(ctx, tx, checkpoint, p.config.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to read events: %w", err)
	}
	if len(events) == 0 {
		return 0, nil
	}

	var lastSeq int64
	for _, event := range events {
		lastSeq = event.GlobalSeq
		if !p.config.PartitionStrategy.ShouldProcess(event.StreamKey, p.config.PartitionKey, p.config.TotalPartitions) {
			continue
		}
		if filter != nil {
			if _, ok := filter[event.EventType]; !ok {
				continue
			}
		}
		if err := proj.Handle(ctx, tx, event); err != nil {
			return 0, fmt.Errorf("projection handler error at global_seq %d: %w", event.GlobalSeq, err)
		}
	}

	if err := p.source.UpdateCheckpoint(ctx, tx, proj.Name(), lastSeq); err != nil {
		return 0, fmt.Errorf("failed to update checkpoint: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit batch: %w", err)
	}

	es.OrNoOp(p.config.Logger).Debug(ctx, "projection batch processed",
		"projection", proj.Name(),
		"events", len(events),
		"checkpoint", lastSeq)
	return len(events), nil
}
