// Package projection provides checkpointed, pull-based processing of the
// global event log.
package projection

import (
	"context"
	"hash/fnv"
	"time"

	"github.com/getpup/sigledger/es"
)

// Projection defines the interface for event projection handlers.
type Projection interface {
	// Name returns the unique name of this projection.
	// This name is used for checkpoint tracking.
	Name() string

	// Handle processes a single event inside the checkpoint transaction.
	// Return an error to stop projection processing; the batch is retried
	// from the last checkpoint on the next run.
	Handle(ctx context.Context, tx es.DBTX, event es.PersistedEvent) error
}

// ScopedProjection is a projection that only wants some event types.
// Events of other types advance the checkpoint without reaching Handle.
type ScopedProjection interface {
	Projection

	// EventTypes returns the event types to handle. Empty means all.
	EventTypes() []string
}

// ProcessorRunner runs one projection until the context ends.
type ProcessorRunner interface {
	Run(ctx context.Context, projection Projection) error
}

// PartitionStrategy defines how events are partitioned across processor instances.
type PartitionStrategy interface {
	// ShouldProcess returns true if this instance should process events of streamKey.
	// partitionKey identifies this instance (0-indexed) out of totalPartitions.
	ShouldProcess(streamKey string, partitionKey int, totalPartitions int) bool
}

// HashPartitionStrategy assigns streams to partitions by FNV-1a hash of the
// stream key, so every event of a stream is handled by the same instance, in order.
type HashPartitionStrategy struct{}

// ShouldProcess implements PartitionStrategy.
func (HashPartitionStrategy) ShouldProcess(streamKey string, partitionKey int, totalPartitions int) bool {
	if totalPartitions <= 1 {
		return true
	}

	h := fnv.New32a()
	h.Write([]byte(streamKey))
	return int(h.Sum32()%uint32(totalPartitions)) == partitionKey
}

// ProcessorConfig configures a projection processor.
type ProcessorConfig struct {
	// Logger is an optional logger. If nil, logging is disabled.
	Logger es.Logger

	// PartitionStrategy determines which events this processor handles
	PartitionStrategy PartitionStrategy

	// BatchSize is the number of events to read per batch
	BatchSize int

	// PollInterval is how long to wait when the log has no new events
	PollInterval time.Duration

	// PartitionKey identifies this processor instance (0-indexed)
	PartitionKey int

	// TotalPartitions is the total number of processor instances
	TotalPartitions int
}

// DefaultProcessorConfig returns the default configuration.
func DefaultProcessorConfig() ProcessorConfig {
	return ProcessorConfig{
		BatchSize:         100,
		PollInterval:      500 * time.Millisecond,
		PartitionKey:      0,
		TotalPartitions:   1,
		PartitionStrategy: HashPartitionStrategy{},
	}
}

// eventTypeFilter returns the set of handled types, or nil for all.
func eventTypeFilter(p Projection) map[string]struct{} {
	scoped, ok := p.(ScopedProjection)
	if !ok {
		return nil
	}
	types := scoped.EventTypes()
	if len(types) == 0 {
		return nil
	}
	filter := make(map[string]struct{}, len(types))
	for _, t := range types {
		filter[t] = struct{}{}
	}
	return filter
}
