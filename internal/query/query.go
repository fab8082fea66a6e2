package query

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/chinmina/opsdesk/internal/api"
	"github.com/chinmina/opsdesk/internal/result"
	"github.com/rs/zerolog/log"
)

// State is the observable state of a query.
type State[T any] struct {
	// Data is the last successfully fetched payload. It is only meaningful
	// when HasData is true.
	Data      T
	HasData   bool
	IsLoading bool
	Err       error
	UpdatedAt time.Time
}

type options struct {
	enabled bool
	params  url.Values
}

type Option func(*options)

// WithEnabled controls whether Fetch issues requests. Disabled queries return
// an empty result.
func WithEnabled(enabled bool) Option {
	return func(o *options) {
		o.enabled = enabled
	}
}

// WithParams adds query parameters to the request. Parameters are part of the
// cache identity.
func WithParams(params url.Values) Option {
	return func(o *options) {
		o.params = params
	}
}

// Query fetches the GET response at path, decoded as T, and caches it under
// key. It is safe for concurrent use.
type Query[T any] struct {
	client *Client
	key    Key
	path   string
	opts   options

	mu    sync.Mutex
	state State[T]
}

func New[T any](client *Client, key Key, path string, opts ...Option) *Query[T] {
	o := options{enabled: true}
	for _, opt := range opts {
		opt(&o)
	}

	return &Query[T]{
		client: client,
		key:    key,
		path:   path,
		opts:   o,
	}
}

func (q *Query[T]) Key() Key {
	return q.key
}

// Fetch returns the cached payload for the query if present, otherwise it
// requests it.
func (q *Query[T]) Fetch(ctx context.Context) result.Result[T] {
	if !q.opts.enabled {
		return result.Empty[T]()
	}
	return q.run(ctx, false)
}

// Refetch requests the payload regardless of the cache or the enabled flag.
func (q *Query[T]) Refetch(ctx context.Context) result.Result[T] {
	return q.run(ctx, true)
}

// State returns a snapshot of the query state.
func (q *Query[T]) State() State[T] {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state
}

func (q *Query[T]) run(ctx context.Context, force bool) result.Result[T] {
	q.mu.Lock()
	q.state.IsLoading = true
	q.mu.Unlock()

	data, updatedAt, err := q.load(ctx, force)

	q.mu.Lock()
	defer q.mu.Unlock()

	q.state.IsLoading = false
	q.state.Err = err

	if err != nil {
		log.Ctx(ctx).Debug().Err(err).Str("key", q.key.String()).Msg("query failed")
		return result.Fail[T](err)
	}

	q.state.Data = data
	q.state.HasData = true
	q.state.UpdatedAt = updatedAt

	return result.Ok(data)
}

func (q *Query[T]) load(ctx context.Context, force bool) (T, time.Time, error) {
	entry, err := q.client.fetch(ctx, q.key, q.path, q.opts.params, force)
	if err != nil {
		var zero T
		return zero, time.Time{}, err
	}

	data, err := api.Decode[T](entry.Body)
	if err != nil {
		return data, time.Time{}, err
	}

	return data, entry.FetchedAt, nil
}
