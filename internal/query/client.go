// Package query fetches and caches GET responses under application chosen
// keys.
//
// A Client is the explicit cache shared by all queries of an application. It
// is created once at startup and passed to the callers that need it. Each
// distinct key and URL pair has at most one request in flight: concurrent
// fetches of the same data share the response.
package query

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/chinmina/opsdesk/internal/api"
	"github.com/chinmina/opsdesk/internal/cache"
	"github.com/chinmina/opsdesk/internal/config"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// Fetcher is the part of the API client used by queries.
type Fetcher interface {
	Resolve(path string, params url.Values) (string, error)
	Get(ctx context.Context, path string, params url.Values) (*api.Response, error)
}

// Entry is a cached response payload.
type Entry struct {
	Body      []byte
	FetchedAt time.Time

	// seq identifies the write that stored the entry
	seq uint64
}

type indexed struct {
	key Key
	seq uint64
}

type Client struct {
	fetcher Fetcher
	cache   cache.Cache[Entry]
	flights singleflight.Group
	now     func() time.Time

	// mu guards index, epoch and seq. The epoch advances on every
	// invalidation so that responses to requests started before it are not
	// cached.
	mu    sync.Mutex
	index map[string]indexed
	epoch uint64
	seq   uint64
}

// NewClient creates a query client over the given cache.
func NewClient(fetcher Fetcher, c cache.Cache[Entry]) *Client {
	return &Client{
		fetcher: fetcher,
		cache:   c,
		now:     time.Now,
		index:   map[string]indexed{},
	}
}

// NewClientFromConfig creates a query client backed by an instrumented
// in-memory cache.
func NewClientFromConfig(fetcher Fetcher, cfg config.QueryConfig) (*Client, error) {
	c := NewClient(fetcher, nil)

	memory, err := cache.NewMemory[Entry](cfg.GCTime(), cfg.MaxEntries, cache.WithEvictionHandler[Entry](c.evicted))
	if err != nil {
		return nil, fmt.Errorf("query cache configuration failed: %w", err)
	}
	c.cache = cache.NewInstrumented(memory, "query")

	return c, nil
}

// evicted forgets an entry the cache dropped by itself. An entry stored again
// since the eviction is kept.
func (c *Client) evicted(id string, entry Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if current, ok := c.index[id]; ok && current.seq == entry.seq {
		delete(c.index, id)
	}
}

// Len returns the number of cached entries.
func (c *Client) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.index)
}

// Close releases the cache.
func (c *Client) Close() error {
	c.mu.Lock()
	c.index = map[string]indexed{}
	c.epoch++
	c.mu.Unlock()

	return c.cache.Close()
}

// Invalidate removes every cached entry whose key starts with key, so that the
// next fetch of those queries goes to the server. It returns the number of
// entries removed.
func (c *Client) Invalidate(ctx context.Context, key Key) int {
	c.mu.Lock()
	c.epoch++
	var matched []string
	for id, ix := range c.index {
		if ix.key.HasPrefix(key) {
			matched = append(matched, id)
			delete(c.index, id)
		}
	}
	c.mu.Unlock()

	for _, id := range matched {
		if err := c.cache.Invalidate(ctx, id); err != nil {
			log.Ctx(ctx).Warn().Err(err).Str("entry", id).Msg("cache invalidation failed")
		}
	}

	log.Ctx(ctx).Debug().
		Str("key", key.String()).
		Int("entries", len(matched)).
		Msg("query cache invalidated")

	return len(matched)
}

// fetch returns the entry for key and the resolved URL, from the cache unless
// force is set.
func (c *Client) fetch(ctx context.Context, key Key, path string, params url.Values, force bool) (Entry, error) {
	target, err := c.fetcher.Resolve(path, params)
	if err != nil {
		return Entry{}, err
	}

	id := key.String() + " " + target

	if !force {
		entry, found, err := c.cache.Get(ctx, id)
		if err != nil {
			log.Ctx(ctx).Warn().Err(err).Str("entry", id).Msg("cache read failed, fetching")
		} else if found {
			return entry, nil
		}
	}

	c.mu.Lock()
	epoch := c.epoch
	c.mu.Unlock()

	ch := c.flights.DoChan(id, func() (any, error) {
		// shared by every waiter, so it must outlive any single caller
		flightCtx := context.WithoutCancel(ctx)

		resp, err := c.fetcher.Get(flightCtx, target, nil)
		if err != nil {
			return Entry{}, err
		}

		entry := Entry{Body: resp.Body, FetchedAt: c.now()}
		c.store(flightCtx, id, key, entry, epoch)

		return entry, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return Entry{}, res.Err
		}
		return res.Val.(Entry), nil
	case <-ctx.Done():
		return Entry{}, ctx.Err()
	}
}

func (c *Client) store(ctx context.Context, id string, key Key, entry Entry, epoch uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.epoch != epoch {
		// invalidated while the request was in flight
		return
	}

	c.seq++
	entry.seq = c.seq

	if err := c.cache.Set(ctx, id, entry); err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("entry", id).Msg("cache write failed")
		return
	}
	c.index[id] = indexed{key: key, seq: entry.seq}
}
