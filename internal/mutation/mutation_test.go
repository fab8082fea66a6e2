package mutation_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/chinmina/opsdesk/internal/api"
	"github.com/chinmina/opsdesk/internal/config"
	"github.com/chinmina/opsdesk/internal/mutation"
	"github.com/chinmina/opsdesk/internal/query"
	"github.com/chinmina/opsdesk/internal/toast"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type invalidations struct {
	mu   sync.Mutex
	keys []query.Key
}

func (i *invalidations) Invalidate(_ context.Context, key query.Key) int {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.keys = append(i.keys, key)
	return 1
}

type request struct {
	Method string
	Path   string
	Body   string
}

type fixture struct {
	api      *api.Client
	queries  *invalidations
	notifier *toast.Recorder
	requests chan request
}

func setup(t *testing.T, status int, response string) *fixture {
	t.Helper()

	requests := make(chan request, 10)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		requests <- request{Method: r.Method, Path: r.URL.Path, Body: string(body)}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, response)
	}))
	t.Cleanup(server.Close)

	client, err := api.New(config.APIConfig{BaseURL: server.URL}, nil)
	require.NoError(t, err)

	return &fixture{
		api:      client,
		queries:  &invalidations{},
		notifier: &toast.Recorder{},
		requests: requests,
	}
}

func (f *fixture) mutation(t *testing.T, key query.Key, path string, method mutation.Method, opts ...mutation.Option) *mutation.Mutation {
	t.Helper()
	m, err := mutation.New(f.api, f.queries, f.notifier, key, path, method, opts...)
	require.NoError(t, err)
	return m
}

func TestMutate_SuccessUsesServerMessage(t *testing.T) {
	f := setup(t, http.StatusOK, `{"message":"ok","data":{"id":1}}`)
	m := f.mutation(t, query.Key{"addX"}, "/x", mutation.MethodPost)

	env, err := m.Mutate(context.Background(), map[string]string{"name": "A"}).Unwrap()
	require.NoError(t, err)

	assert.Equal(t, "ok", env.Message)
	assert.JSONEq(t, `{"id":1}`, string(env.Data))

	assert.Equal(t, []toast.Toast{{Kind: toast.KindSuccess, Message: "ok"}}, f.notifier.Toasts())
	assert.Equal(t, []query.Key{{"addX"}}, f.queries.keys)

	req := <-f.requests
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "/x", req.Path)
	assert.JSONEq(t, `{"name":"A"}`, req.Body)
}

func TestMutate_SuccessMessageFallback(t *testing.T) {
	tests := []struct {
		name     string
		opts     []mutation.Option
		expected string
	}{
		{name: "default", expected: "Request completed successfully"},
		{name: "configured", opts: []mutation.Option{mutation.WithSuccessMessage("Vendor saved")}, expected: "Vendor saved"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setup(t, http.StatusCreated, `{"data":{"id":"v1"}}`)
			m := f.mutation(t, query.Key{"vendor"}, "/vendor", mutation.MethodPost, tt.opts...)

			res := m.Mutate(context.Background(), map[string]string{"name": "Acme"})

			_, ok := res.Value()
			assert.True(t, ok)
			assert.Equal(t, []toast.Toast{{Kind: toast.KindSuccess, Message: tt.expected}}, f.notifier.Toasts())
		})
	}
}

func TestMutate_Override(t *testing.T) {
	f := setup(t, http.StatusOK, `{"message":"updated","data":{"id":"42"}}`)
	m := f.mutation(t, query.Key{"customer"}, "/customer", mutation.MethodPut)

	_, err := m.Mutate(context.Background(), mutation.Override{
		URL:  "/customer/42",
		Data: map[string]string{"name": "B"},
	}).Unwrap()
	require.NoError(t, err)

	req := <-f.requests
	assert.Equal(t, http.MethodPut, req.Method)
	assert.Equal(t, "/customer/42", req.Path)
	assert.JSONEq(t, `{"name":"B"}`, req.Body)
}

func TestMutate_OverrideWithoutURL(t *testing.T) {
	f := setup(t, http.StatusOK, `{"message":"deleted","data":{"id":"42"}}`)
	m := f.mutation(t, query.Key{"customer"}, "/customer/42", mutation.MethodDelete)

	_, err := m.Mutate(context.Background(), &mutation.Override{}).Unwrap()
	require.NoError(t, err)

	req := <-f.requests
	assert.Equal(t, http.MethodDelete, req.Method)
	assert.Equal(t, "/customer/42", req.Path)
	assert.Empty(t, req.Body)
}

func TestMutate_NilOverridePointer(t *testing.T) {
	f := setup(t, http.StatusOK, `{"message":"deleted","data":{"id":"42"}}`)
	m := f.mutation(t, query.Key{"customer"}, "/customer/42", mutation.MethodDelete)

	var override *mutation.Override
	_, err := m.Mutate(context.Background(), override).Unwrap()
	require.NoError(t, err)

	req := <-f.requests
	assert.Equal(t, "/customer/42", req.Path)
	assert.Empty(t, req.Body, "no JSON null body is sent")
}

func TestMutate_ExtraInvalidations(t *testing.T) {
	f := setup(t, http.StatusOK, `{"message":"ok","data":{}}`)
	m := f.mutation(t, query.Key{"invoices"}, "/invoices", mutation.MethodPost,
		mutation.WithInvalidate(query.Key{"customer", "42"}, query.Key{"events"}))

	_, err := m.Mutate(context.Background(), map[string]any{"amount": 10}).Unwrap()
	require.NoError(t, err)

	assert.Equal(t, []query.Key{{"invoices"}, {"customer", "42"}, {"events"}}, f.queries.keys)
	assert.Len(t, f.notifier.Toasts(), 1)
}

func TestMutate_ServerFailure(t *testing.T) {
	f := setup(t, http.StatusUnprocessableEntity, `{"message":"name is required"}`)
	m := f.mutation(t, query.Key{"customer"}, "/customer", mutation.MethodPost)

	err, failed := m.Mutate(context.Background(), map[string]string{}).Failed()
	require.True(t, failed)

	var statusErr *api.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusUnprocessableEntity, statusErr.StatusCode)

	assert.Equal(t, []toast.Toast{{Kind: toast.KindError, Message: "name is required"}}, f.notifier.Toasts())
	assert.Empty(t, f.queries.keys)
}

func TestMutate_ServerFailureWithoutMessage(t *testing.T) {
	f := setup(t, http.StatusInternalServerError, ``)
	m := f.mutation(t, query.Key{"customer"}, "/customer", mutation.MethodPost)

	err, failed := m.Mutate(context.Background(), nil).Failed()
	require.True(t, failed)

	toasts := f.notifier.Toasts()
	require.Len(t, toasts, 1)
	assert.Equal(t, toast.KindError, toasts[0].Kind)
	assert.Equal(t, err.Error(), toasts[0].Message)
	assert.Empty(t, f.queries.keys)
}

func TestMutate_NoDataIsFailure(t *testing.T) {
	for _, body := range []string{"", "null", "  \n"} {
		t.Run(body, func(t *testing.T) {
			f := setup(t, http.StatusOK, body)
			m := f.mutation(t, query.Key{"customer"}, "/customer", mutation.MethodPost)

			err, failed := m.Mutate(context.Background(), map[string]string{"name": "A"}).Failed()
			require.True(t, failed)
			assert.ErrorIs(t, err, mutation.ErrNoData)

			assert.Equal(t, []toast.Toast{{Kind: toast.KindError, Message: "no data returned from server"}}, f.notifier.Toasts())
			assert.Empty(t, f.queries.keys)
		})
	}
}

func TestMutate_TransportFailure(t *testing.T) {
	client, err := api.New(config.APIConfig{BaseURL: "http://127.0.0.1:1"}, roundTripperFunc(func(*http.Request) (*http.Response, error) {
		return nil, errors.New("connection refused")
	}))
	require.NoError(t, err)

	queries := &invalidations{}
	notifier := &toast.Recorder{}
	m, err := mutation.New(client, queries, notifier, query.Key{"customer"}, "/customer", mutation.MethodPost)
	require.NoError(t, err)

	err, failed := m.Mutate(context.Background(), json.RawMessage(`{}`)).Failed()
	require.True(t, failed)
	assert.ErrorContains(t, err, "connection refused")

	toasts := notifier.Toasts()
	require.Len(t, toasts, 1)
	assert.Equal(t, toast.KindError, toasts[0].Kind)
	assert.Empty(t, queries.keys)
}

func TestMutate_InvalidatesQueryCache(t *testing.T) {
	var reads atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			reads.Add(1)
			_, _ = io.WriteString(w, `[]`)
			return
		}
		_, _ = io.WriteString(w, `{"message":"ok","data":{"id":1}}`)
	}))
	t.Cleanup(server.Close)

	client, err := api.New(config.APIConfig{BaseURL: server.URL}, nil)
	require.NoError(t, err)
	queries, err := query.NewClientFromConfig(client, config.QueryConfig{MaxEntries: 10, GCTimeSeconds: 60})
	require.NoError(t, err)

	ctx := context.Background()
	list := query.New[[]map[string]any](queries, query.Key{"product"}, "/product")
	add, err := mutation.New(client, queries, &toast.Recorder{}, query.Key{"product"}, "/product", mutation.MethodPost)
	require.NoError(t, err)

	_, err = list.Fetch(ctx).Unwrap()
	require.NoError(t, err)
	_, err = list.Fetch(ctx).Unwrap()
	require.NoError(t, err)
	require.Equal(t, int32(1), reads.Load())

	_, err = add.Mutate(ctx, map[string]string{"name": "Widget"}).Unwrap()
	require.NoError(t, err)

	_, err = list.Fetch(ctx).Unwrap()
	require.NoError(t, err)
	assert.Equal(t, int32(2), reads.Load())
}

func TestNew_RejectsUnknownMethod(t *testing.T) {
	_, err := mutation.New(nil, nil, nil, query.Key{"x"}, "/x", mutation.Method("patch"))
	assert.ErrorContains(t, err, `unsupported mutation method "patch"`)
}

func TestParseMethod(t *testing.T) {
	m, err := mutation.ParseMethod("PUT")
	require.NoError(t, err)
	assert.Equal(t, mutation.MethodPut, m)

	_, err = mutation.ParseMethod("get")
	assert.Error(t, err)
}

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}
