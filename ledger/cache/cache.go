// Package cache puts a Redis read-through cache in front of a ledger
// resolver. Concurrent misses for the same DID share one ledger call, which
// runs detached from any single caller's cancellation and is bounded by
// Config.ResolveTimeout instead.
//
// Cache backend failures never fail a resolution: they are logged, counted
// and the ledger is asked instead.
package cache

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/pilacorp/go-identity-sdk/common/domainerrors"
	"github.com/pilacorp/go-identity-sdk/did"
	"github.com/pilacorp/go-identity-sdk/ledger"
)

const (
	// DefaultTTL is how long a resolved document stays cached.
	DefaultTTL = 5 * time.Minute
	// DefaultKeyPrefix namespaces the cache keys.
	DefaultKeyPrefix = "identity:did:"
	// DefaultResolveTimeout bounds a shared ledger resolution.
	DefaultResolveTimeout = 30 * time.Second
)

// Store is the subset of the Redis client the cache uses. *redis.Client,
// *redis.ClusterClient and redis.UniversalClient satisfy it.
type Store interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Config holds configuration for the cache.
type Config struct {
	// Store is the Redis client. Required.
	Store Store
	// TTL defaults to DefaultTTL.
	TTL time.Duration
	// KeyPrefix defaults to DefaultKeyPrefix.
	KeyPrefix string
	// ResolveTimeout defaults to DefaultResolveTimeout.
	ResolveTimeout time.Duration
	// Metrics defaults to unregistered metrics.
	Metrics *Metrics
	// Logger defaults to a discarding logger.
	Logger *slog.Logger
}

// Validate checks the required fields.
func (c *Config) Validate() error {
	if c.Store == nil {
		return domainerrors.New(domainerrors.CodeInvalidConfig, "cache store is required")
	}
	if c.TTL < 0 || c.ResolveTimeout < 0 {
		return domainerrors.New(domainerrors.CodeInvalidConfig, "cache durations must not be negative")
	}
	return nil
}

// Standardize fills in defaults for optional fields.
func (c *Config) Standardize() {
	if c.TTL == 0 {
		c.TTL = DefaultTTL
	}
	if c.KeyPrefix == "" {
		c.KeyPrefix = DefaultKeyPrefix
	}
	if c.ResolveTimeout == 0 {
		c.ResolveTimeout = DefaultResolveTimeout
	}
	if c.Metrics == nil {
		c.Metrics = NewMetrics(nil)
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
}

// Resolver is a caching ledger.Resolver.
type Resolver struct {
	next  ledger.Resolver
	cfg   Config
	group singleflight.Group
}

var _ ledger.Resolver = (*Resolver)(nil)

// NewResolver caches the documents resolved by next.
func NewResolver(next ledger.Resolver, cfg Config) (*Resolver, error) {
	if next == nil {
		return nil, domainerrors.New(domainerrors.CodeInvalidConfig, "resolver is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.Standardize()

	return &Resolver{next: next, cfg: cfg}, nil
}

func (r *Resolver) key(id did.DID) string {
	return r.cfg.KeyPrefix + id.String()
}

// Resolve returns the cached document of id, resolving and caching it on a
// miss. Every caller receives its own Document instance.
func (r *Resolver) Resolve(ctx context.Context, id did.DID) (*did.Document, error) {
	start := time.Now()
	data, err := r.cfg.Store.Get(ctx, r.key(id)).Bytes()
	r.cfg.Metrics.LookupDurationSeconds.Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
		doc, perr := did.ParseDocument(data)
		if perr == nil {
			r.cfg.Metrics.HitsTotal.Inc()
			return doc, nil
		}
		r.cfg.Logger.WarnContext(ctx, "dropping undecodable cache entry", slog.String("did", id.String()), slog.Any("error", perr))
		r.del(ctx, id)
	case !errors.Is(err, redis.Nil):
		r.cfg.Metrics.ErrorsTotal.WithLabelValues("get").Inc()
		r.cfg.Logger.WarnContext(ctx, "cache lookup failed", slog.String("did", id.String()), slog.Any("error", err))
	}
	r.cfg.Metrics.MissesTotal.Inc()

	ch := r.group.DoChan(id.String(), func() (interface{}, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.ResolveTimeout)
		defer cancel()

		doc, err := r.next.Resolve(fctx, id)
		if err != nil {
			return nil, err
		}
		data, err := doc.Serialize()
		if err != nil {
			return nil, err
		}
		r.store(fctx, id, data)
		return data, nil
	})

	select {
	case <-ctx.Done():
		return nil, ledger.TransportError(ctx.Err(), "resolution abandoned")
	case res := <-ch:
		if res.Shared {
			r.cfg.Metrics.SharedResolutionsTotal.Inc()
		}
		if res.Err != nil {
			return nil, res.Err
		}
		return did.ParseDocument(res.Val.([]byte))
	}
}

// Store caches doc under its DID.
func (r *Resolver) Store(ctx context.Context, doc *did.Document) error {
	data, err := doc.Serialize()
	if err != nil {
		return err
	}
	r.store(ctx, doc.ID(), data)
	return nil
}

// Invalidate drops the cached document of id.
func (r *Resolver) Invalidate(ctx context.Context, id did.DID) {
	r.del(ctx, id)
}

func (r *Resolver) store(ctx context.Context, id did.DID, data []byte) {
	if err := r.cfg.Store.Set(ctx, r.key(id), data, r.cfg.TTL).Err(); err != nil {
		r.cfg.Metrics.ErrorsTotal.WithLabelValues("set").Inc()
		r.cfg.Logger.WarnContext(ctx, "cache write failed", slog.String("did", id.String()), slog.Any("error", err))
	}
}

func (r *Resolver) del(ctx context.Context, id did.DID) {
	if err := r.cfg.Store.Del(ctx, r.key(id)).Err(); err != nil {
		r.cfg.Metrics.ErrorsTotal.WithLabelValues("del").Inc()
		r.cfg.Logger.WarnContext(ctx, "cache delete failed", slog.String("did", id.String()), slog.Any("error", err))
	}
}

// Client is a ledger.Client whose resolutions go through the cache.
// Published documents are written to the cache immediately.
type Client struct {
	ledger.Client
	resolver *Resolver
}

// NewClient wraps next with a resolution cache.
func NewClient(next ledger.Client, cfg Config) (*Client, error) {
	r, err := NewResolver(next, cfg)
	if err != nil {
		return nil, err
	}
	return &Client{Client: next, resolver: r}, nil
}

// Publish publishes doc through the wrapped client and caches the result.
func (c *Client) Publish(ctx context.Context, doc *did.Document) (*did.Document, error) {
	published, err := c.Client.Publish(ctx, doc)
	if err != nil {
		return nil, err
	}
	if err := c.resolver.Store(ctx, published); err != nil {
		c.resolver.Invalidate(ctx, published.ID())
	}
	return published, nil
}

// Resolve resolves through the cache.
func (c *Client) Resolve(ctx context.Context, id did.DID) (*did.Document, error) {
	return c.resolver.Resolve(ctx, id)
}
