// Package projstore serves current projections of signature streams. A
// projection is a cache of the fold over the stream's events: it is caught
// up from the log on every read and can be dropped at any time.
package projstore

import (
	"context"
	"fmt"
	"iter"

	"golang.org/x/sync/singleflight"

	"github.com/getpup/sigledger/es"
	"github.com/getpup/sigledger/es/eventlog"
	"github.com/getpup/sigledger/metrics"
	"github.com/getpup/sigledger/tracker"
)

// Reader is the part of the log the store reads.
type Reader interface {
	Replay(ctx context.Context, streamKey string, fromSeq int64) iter.Seq2[es.PersistedEvent, error]
	StreamVersion(ctx context.Context, streamKey string) (int64, error)
}

var _ Reader = (eventlog.Log)(nil)

// Config configures a Store.
type Config struct {
	// Cache keeps folded projections. Defaults to a MemoryCache.
	Cache Cache

	// Logger is optional.
	Logger es.Logger

	// Metrics is optional.
	Metrics *metrics.Metrics
}

// Store returns projections equivalent to a full replay of their stream.
type Store struct {
	log     Reader
	cache   Cache
	logger  es.Logger
	metrics *metrics.Metrics
	group   singleflight.Group
}

// New creates a Store reading from log.
func New(log Reader, config Config) *Store {
	if config.Cache == nil {
		config.Cache = NewMemoryCache()
	}
	return &Store{
		log:     log,
		cache:   config.Cache,
		logger:  es.OrNoOp(config.Logger),
		metrics: config.Metrics,
	}
}

// Current returns the projection of streamKey at the end of the log.
// Concurrent calls for one stream share a single catch-up. The caller owns
// the returned projection.
func (s *Store) Current(ctx context.Context, streamKey string) (*tracker.Projection, error) {
	v, err, _ := s.group.Do(streamKey, func() (any, error) {
		return s.catchUp(ctx, streamKey)
	})
	if err != nil {
		return nil, err
	}
	return v.(*tracker.Projection).Clone(), nil
}

// Rebuild folds streamKey from its first event and replaces the cached copy.
func (s *Store) Rebuild(ctx context.Context, streamKey string) (*tracker.Projection, error) {
	p, err := tracker.Fold(streamKey, s.log.Replay(ctx, streamKey, 0))
	if err != nil {
		return nil, fmt.Errorf("rebuild %s: %w", streamKey, err)
	}
	s.drop(ctx, streamKey)
	s.put(ctx, p)
	return p, nil
}

// Invalidate drops the cached projection of streamKey.
func (s *Store) Invalidate(ctx context.Context, streamKey string) error {
	return s.cache.Delete(ctx, streamKey)
}

// Advance applies events appended after p and caches the result.
// p is not modified.
func (s *Store) Advance(ctx context.Context, p *tracker.Projection, events []es.PersistedEvent) (*tracker.Projection, error) {
	next := p.Clone()
	for _, e := range events {
		if err := next.Apply(e); err != nil {
			return nil, err
		}
	}
	s.put(ctx, next)
	return next, nil
}

func (s *Store) catchUp(ctx context.Context, streamKey string) (*tracker.Projection, error) {
	// The cache is read before the log head. A concurrent append can only
	// move the head forward, so a cached version above it means the log
	// really lost events.
	p, hit, err := s.cache.Get(ctx, streamKey)
	if err != nil {
		s.logger.Warn(ctx, "projection cache read failed, replaying", "stream_key", streamKey, "error", err)
		s.drop(ctx, streamKey)
		hit = false
	}

	version, err := s.log.StreamVersion(ctx, streamKey)
	if err != nil {
		return nil, fmt.Errorf("stream version %s: %w", streamKey, err)
	}
	if hit && p.Version > version {
		s.logger.Warn(ctx, "cached projection ahead of log, discarding",
			"stream_key", streamKey, "cached_version", p.Version, "log_version", version)
		s.drop(ctx, streamKey)
		hit = false
	}
	s.metrics.CacheLookup(hit)
	if !hit {
		p = tracker.NewProjection(streamKey)
	}
	if p.Version == version {
		if !hit {
			s.put(ctx, p)
		}
		return p, nil
	}

	if err := p.ApplyAll(s.log.Replay(ctx, streamKey, p.LastGlobalSeq)); err != nil {
		return nil, fmt.Errorf("replay %s: %w", streamKey, err)
	}
	s.put(ctx, p)
	return p, nil
}

func (s *Store) drop(ctx context.Context, streamKey string) {
	if err := s.cache.Delete(ctx, streamKey); err != nil {
		s.logger.Warn(ctx, "projection cache delete failed", "stream_key", streamKey, "error", err)
	}
}

func (s *Store) put(ctx context.Context, p *tracker.Projection) {
	if err := s.cache.Put(ctx, p); err != nil {
		s.logger.Warn(ctx, "projection cache write failed", "stream_key", p.StreamKey, "error", err)
	}
}
