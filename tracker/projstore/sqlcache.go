package projstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/getpup/sigledger/es"
	"github.com/getpup/sigledger/es/store"
	"github.com/getpup/sigledger/tracker"
)

// SQLCache keeps projections in the log database as JSON snapshots, so a
// restarted process resumes from the last snapshot instead of replaying
// every stream from the start.
type SQLCache struct {
	db        es.DBTX
	snapshots store.SnapshotStore
}

// NewSQLCache returns a cache writing through snapshots on db.
func NewSQLCache(db es.DBTX, snapshots store.SnapshotStore) *SQLCache {
	return &SQLCache{db: db, snapshots: snapshots}
}

func (c *SQLCache) Get(ctx context.Context, streamKey string) (*tracker.Projection, bool, error) {
	snap, ok, err := c.snapshots.LoadSnapshot(ctx, c.db, streamKey)
	if err != nil || !ok {
		return nil, false, err
	}
	p, err := decodeProjection(snap.Payload)
	if err != nil {
		return nil, false, err
	}
	if p.StreamKey != streamKey || p.Version != snap.StreamVersion {
		return nil, false, fmt.Errorf("snapshot of %s is inconsistent: row version %d, projection %s@%d",
			streamKey, snap.StreamVersion, p.StreamKey, p.Version)
	}
	return p, true, nil
}

// Put never replaces a snapshot with an older version. Callers that need
// to go backwards Delete first.
func (c *SQLCache) Put(ctx context.Context, p *tracker.Projection) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal projection: %w", err)
	}
	return c.snapshots.SaveSnapshot(ctx, c.db, store.Snapshot{
		StreamKey:     p.StreamKey,
		StreamVersion: p.Version,
		Payload:       data,
	})
}

func (c *SQLCache) Delete(ctx context.Context, streamKey string) error {
	return c.snapshots.DeleteSnapshot(ctx, c.db, streamKey)
}
