package query_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chinmina/opsdesk/internal/api"
	"github.com/chinmina/opsdesk/internal/config"
	"github.com/chinmina/opsdesk/internal/query"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type customer struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type backend struct {
	server *httptest.Server
	calls  atomic.Int32
	status atomic.Int32
	delay  time.Duration
}

func setupBackend(t *testing.T) *backend {
	t.Helper()

	b := &backend{}
	b.status.Store(http.StatusOK)

	b.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := b.calls.Add(1)
		if b.delay > 0 {
			time.Sleep(b.delay)
		}

		status := int(b.status.Load())
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status != http.StatusOK {
			_, _ = fmt.Fprint(w, `{"message":"backend unavailable"}`)
			return
		}
		_, _ = fmt.Fprintf(w, `[{"id":"%d","name":"%s"}]`, n, r.URL.RawQuery)
	}))
	t.Cleanup(b.server.Close)

	return b
}

func newQueryClient(t *testing.T, b *backend) *query.Client {
	t.Helper()

	apiClient, err := api.New(config.APIConfig{BaseURL: b.server.URL}, nil)
	require.NoError(t, err)

	client, err := query.NewClientFromConfig(apiClient, config.QueryConfig{MaxEntries: 100, GCTimeSeconds: 60})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return client
}

func TestFetch_CachesByKey(t *testing.T) {
	b := setupBackend(t)
	client := newQueryClient(t, b)
	ctx := context.Background()

	q := query.New[[]customer](client, query.Key{"customer"}, "/customer")

	first, err := q.Fetch(ctx).Unwrap()
	require.NoError(t, err)
	second, err := q.Fetch(ctx).Unwrap()
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), b.calls.Load())

	// a second query on the same key and path shares the cached entry
	other := query.New[[]customer](client, query.Key{"customer"}, "/customer")
	_, err = other.Fetch(ctx).Unwrap()
	require.NoError(t, err)
	assert.Equal(t, int32(1), b.calls.Load())
}

func TestFetch_ParamsArePartOfIdentity(t *testing.T) {
	b := setupBackend(t)
	client := newQueryClient(t, b)
	ctx := context.Background()

	page1 := query.New[[]customer](client, query.Key{"customer"}, "/customer", query.WithParams(url.Values{"page": {"1"}}))
	page2 := query.New[[]customer](client, query.Key{"customer"}, "/customer", query.WithParams(url.Values{"page": {"2"}}))

	one, err := page1.Fetch(ctx).Unwrap()
	require.NoError(t, err)
	two, err := page2.Fetch(ctx).Unwrap()
	require.NoError(t, err)

	assert.Equal(t, "page=1", one[0].Name)
	assert.Equal(t, "page=2", two[0].Name)
	assert.Equal(t, int32(2), b.calls.Load())
}

func TestFetch_Disabled(t *testing.T) {
	b := setupBackend(t)
	client := newQueryClient(t, b)

	q := query.New[[]customer](client, query.Key{"customer"}, "/customer", query.WithEnabled(false))

	res := q.Fetch(context.Background())

	_, failed := res.Failed()
	assert.False(t, failed)
	_, ok := res.Value()
	assert.False(t, ok)
	assert.Equal(t, int32(0), b.calls.Load())
	assert.False(t, q.State().HasData)
}

func TestRefetch_BypassesCache(t *testing.T) {
	b := setupBackend(t)
	client := newQueryClient(t, b)
	ctx := context.Background()

	q := query.New[[]customer](client, query.Key{"customer"}, "/customer")

	first, err := q.Fetch(ctx).Unwrap()
	require.NoError(t, err)
	second, err := q.Refetch(ctx).Unwrap()
	require.NoError(t, err)

	assert.Equal(t, "1", first[0].ID)
	assert.Equal(t, "2", second[0].ID)
	assert.Equal(t, int32(2), b.calls.Load())

	// the refetched payload replaces the cached one
	third, err := q.Fetch(ctx).Unwrap()
	require.NoError(t, err)
	assert.Equal(t, "2", third[0].ID)
}

func TestFetch_FailurePopulatesError(t *testing.T) {
	b := setupBackend(t)
	client := newQueryClient(t, b)
	ctx := context.Background()

	q := query.New[[]customer](client, query.Key{"customer"}, "/customer")

	_, err := q.Fetch(ctx).Unwrap()
	require.NoError(t, err)
	before := q.State()

	b.status.Store(http.StatusInternalServerError)
	res := q.Refetch(ctx)

	err, failed := res.Failed()
	require.True(t, failed)
	var statusErr *api.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, "backend unavailable", statusErr.Message)

	state := q.State()
	assert.Equal(t, err, state.Err)
	assert.False(t, state.IsLoading)
	assert.True(t, state.HasData)
	assert.Equal(t, before.Data, state.Data)
	assert.Equal(t, before.UpdatedAt, state.UpdatedAt)
}

func TestFetch_FailureWithoutPriorData(t *testing.T) {
	b := setupBackend(t)
	b.status.Store(http.StatusBadGateway)
	client := newQueryClient(t, b)

	q := query.New[[]customer](client, query.Key{"customer"}, "/customer")

	_, err := q.Fetch(context.Background()).Unwrap()
	require.Error(t, err)

	state := q.State()
	assert.False(t, state.HasData)
	assert.Nil(t, state.Data)
	assert.Error(t, state.Err)
}

func TestFetch_UndecodablePayload(t *testing.T) {
	b := setupBackend(t)
	client := newQueryClient(t, b)

	// the backend returns a list, not an object
	q := query.New[customer](client, query.Key{"customer", "1"}, "/customer/1")

	_, err := q.Fetch(context.Background()).Unwrap()
	assert.ErrorContains(t, err, "decoding payload")
}

func TestFetch_ConcurrentCallsShareRequest(t *testing.T) {
	b := setupBackend(t)
	b.delay = 50 * time.Millisecond
	client := newQueryClient(t, b)

	const callers = 8
	var wg sync.WaitGroup
	results := make([][]customer, callers)
	errs := make([]error, callers)

	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q := query.New[[]customer](client, query.Key{"customer"}, "/customer")
			results[i], errs[i] = q.Fetch(context.Background()).Unwrap()
		}()
	}
	wg.Wait()

	for i := range callers {
		require.NoError(t, errs[i])
		assert.Equal(t, results[0], results[i])
	}
	assert.Equal(t, int32(1), b.calls.Load())
}

func TestFetch_CancelledCaller(t *testing.T) {
	b := setupBackend(t)
	b.delay = 100 * time.Millisecond
	client := newQueryClient(t, b)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	q := query.New[[]customer](client, query.Key{"customer"}, "/customer")
	_, err := q.Fetch(ctx).Unwrap()
	assert.ErrorIs(t, err, context.Canceled)
}

func TestInvalidate_PrefixMatch(t *testing.T) {
	b := setupBackend(t)
	client := newQueryClient(t, b)
	ctx := context.Background()

	list := query.New[[]customer](client, query.Key{"customer"}, "/customer")
	record := query.New[[]customer](client, query.Key{"customer", "1"}, "/customer/1")
	vendors := query.New[[]customer](client, query.Key{"vendor"}, "/vendor")

	for _, q := range []*query.Query[[]customer]{list, record, vendors} {
		_, err := q.Fetch(ctx).Unwrap()
		require.NoError(t, err)
	}
	require.Equal(t, int32(3), b.calls.Load())

	removed := client.Invalidate(ctx, query.Key{"customer"})
	assert.Equal(t, 2, removed)

	for _, q := range []*query.Query[[]customer]{list, record, vendors} {
		_, err := q.Fetch(ctx).Unwrap()
		require.NoError(t, err)
	}
	// only the two customer entries are fetched again
	assert.Equal(t, int32(5), b.calls.Load())
}

func TestInvalidate_NoMatches(t *testing.T) {
	b := setupBackend(t)
	client := newQueryClient(t, b)

	assert.Equal(t, 0, client.Invalidate(context.Background(), query.Key{"customer"}))
}

func TestInvalidate_CountsOnlyLiveEntries(t *testing.T) {
	b := setupBackend(t)

	apiClient, err := api.New(config.APIConfig{BaseURL: b.server.URL}, nil)
	require.NoError(t, err)

	client, err := query.NewClientFromConfig(apiClient, config.QueryConfig{MaxEntries: 2, GCTimeSeconds: 60})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	for i := range 6 {
		id := fmt.Sprint(i)
		q := query.New[[]customer](client, query.Key{"customer", id}, "/customer/"+id)
		_, err := q.Fetch(ctx).Unwrap()
		require.NoError(t, err)
	}
	require.Equal(t, int32(6), b.calls.Load())

	// entries dropped by the size bound leave the index
	require.Eventually(t, func() bool { return client.Len() <= 2 }, 2*time.Second, 10*time.Millisecond)

	live := client.Len()
	assert.Equal(t, live, client.Invalidate(ctx, query.Key{"customer"}))
	assert.Zero(t, client.Len())
}
