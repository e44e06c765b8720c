// Package runner runs several projection processors side by side.
// It is explicit and CLI-friendly: no scheduling, no leader election.
// Coordination between processes happens through checkpoints and partitions.
package runner

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/getpup/sigledger/es/projection"
)

var (
	// ErrNoProjections indicates that no projections were provided to run.
	ErrNoProjections = errors.New("no projections provided")

	// ErrInvalidPartitionConfig indicates invalid partition configuration.
	ErrInvalidPartitionConfig = errors.New("invalid partition configuration")
)

// ProjectionRunner pairs a projection with its processor.
type ProjectionRunner struct {
	Projection projection.Projection
	Processor  projection.ProcessorRunner
}

// Runner orchestrates multiple projections concurrently.
//
// Example:
//
//	s := sqlite.NewStore(store.DefaultConfig())
//	r := runner.New()
//	err := r.Run(ctx, []runner.ProjectionRunner{
//	    {Projection: publisher, Processor: projection.NewProcessor(db, s, cfg)},
//	})
type Runner struct{}

// New creates a new projection runner.
func New() *Runner {
	return &Runner{}
}

// Run runs every projection until ctx ends or one of them fails.
// The first failure cancels the others and is returned. Cancellation of ctx
// returns ctx.Err().
func (r *Runner) Run(ctx context.Context, runners []ProjectionRunner) error {
	if len(runners) == 0 {
		return ErrNoProjections
	}
	for i, pr := range runners {
		if pr.Projection == nil {
			return fmt.Errorf("projection at index %d is nil", i)
		}
		if pr.Processor == nil {
			return fmt.Errorf("processor at index %d is nil", i)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, pr := range runners {
		g.Go(func() error {
			err := pr.Processor.Run(gctx, pr.Projection)
			if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
				return fmt.Errorf("projection %q failed: %w", pr.Projection.Name(), err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// Partitioned returns total processors for the same projection, one per
// partition, built by newProcessor. With more than one partition each
// processor checkpoints under "<name>#<key>/<total>", since partitions
// advance independently.
func Partitioned(proj projection.Projection, total int, newProcessor func(partitionKey, total int) projection.ProcessorRunner) ([]ProjectionRunner, error) {
	if total < 1 {
		return nil, fmt.Errorf("%w: total partitions must be >= 1, got %d", ErrInvalidPartitionConfig, total)
	}
	runners := make([]ProjectionRunner, total)
	for i := 0; i < total; i++ {
		p := proj
		if total > 1 {
			p = partitionOf(proj, i, total)
		}
		runners[i] = ProjectionRunner{Projection: p, Processor: newProcessor(i, total)}
	}
	return runners, nil
}

type partition struct {
	projection.Projection
	name string
}

func (p *partition) Name() string { return p.name }

type scopedPartition struct {
	partition
	types []string
}

func (p *scopedPartition) EventTypes() []string { return p.types }

func partitionOf(proj projection.Projection, key, total int) projection.Projection {
	base := partition{Projection: proj, name: fmt.Sprintf("%s#%d/%d", proj.Name(), key, total)}
	if scoped, ok := proj.(projection.ScopedProjection); ok {
		return &scopedPartition{partition: base, types: scoped.EventTypes()}
	}
	return &base
}
