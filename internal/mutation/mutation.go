// Package mutation performs writes against the backend and keeps cached
// queries consistent with them.
package mutation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/chinmina/opsdesk/internal/api"
	"github.com/chinmina/opsdesk/internal/query"
	"github.com/chinmina/opsdesk/internal/result"
	"github.com/chinmina/opsdesk/internal/toast"
	"github.com/rs/zerolog/log"
)

const DefaultSuccessMessage = "Request completed successfully"

// ErrNoData is returned when the server answers a write without a payload,
// whatever the response status.
var ErrNoData = errors.New("no data returned from server")

type Method string

const (
	MethodPost   Method = "post"
	MethodPut    Method = "put"
	MethodDelete Method = "delete"
)

// ParseMethod accepts a method name in any case.
func ParseMethod(s string) (Method, error) {
	m := Method(strings.ToLower(s))
	if _, ok := m.httpMethod(); !ok {
		return "", fmt.Errorf("unsupported mutation method %q", s)
	}
	return m, nil
}

func (m Method) httpMethod() (string, bool) {
	switch m {
	case MethodPost:
		return http.MethodPost, true
	case MethodPut:
		return http.MethodPut, true
	case MethodDelete:
		return http.MethodDelete, true
	}
	return "", false
}

// Override replaces the mutation's URL for a single call. An empty URL keeps
// the configured one.
type Override struct {
	URL  string
	Data any
}

// Sender is the part of the API client used to issue writes.
type Sender interface {
	Do(ctx context.Context, method, path string, body any, params url.Values) (*api.Response, error)
}

// Invalidator removes cached queries.
type Invalidator interface {
	Invalidate(ctx context.Context, key query.Key) int
}

type Option func(*Mutation)

// WithSuccessMessage sets the notification used when the server response has
// no message of its own.
func WithSuccessMessage(message string) Option {
	return func(m *Mutation) {
		m.successMessage = message
	}
}

// WithInvalidate adds keys that are invalidated on success along with the
// mutation's own key.
func WithInvalidate(keys ...query.Key) Option {
	return func(m *Mutation) {
		m.invalidate = append(m.invalidate, keys...)
	}
}

type Mutation struct {
	sender   Sender
	queries  Invalidator
	notifier toast.Notifier

	key        query.Key
	path       string
	method     Method
	httpMethod string

	successMessage string
	invalidate     []query.Key
}

func New(sender Sender, queries Invalidator, notifier toast.Notifier, key query.Key, path string, method Method, opts ...Option) (*Mutation, error) {
	httpMethod, ok := method.httpMethod()
	if !ok {
		return nil, fmt.Errorf("unsupported mutation method %q", method)
	}

	m := &Mutation{
		sender:         sender,
		queries:        queries,
		notifier:       notifier,
		key:            key,
		path:           path,
		method:         method,
		httpMethod:     httpMethod,
		successMessage: DefaultSuccessMessage,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m, nil
}

// Mutate sends input to the server. Input is either the request payload or
// an Override. Each call produces exactly one notification: success, with
// the related queries invalidated, or error, with the cache left untouched.
func (m *Mutation) Mutate(ctx context.Context, input any) result.Result[api.Envelope] {
	path, body := m.path, input
	switch o := input.(type) {
	case Override:
		path, body = m.target(o)
	case *Override:
		// a nil override carries no payload and keeps the configured URL
		var override Override
		if o != nil {
			override = *o
		}
		path, body = m.target(override)
	}

	env, err := m.send(ctx, path, body)
	if err != nil {
		message, ok := api.ServerMessage(err)
		if !ok {
			message = err.Error()
		}

		log.Ctx(ctx).Warn().Err(err).
			Str("method", string(m.method)).
			Str("path", path).
			Msg("mutation failed")

		m.notifier.Error(ctx, message)
		return result.Fail[api.Envelope](err)
	}

	message := env.Message
	if message == "" {
		message = m.successMessage
	}
	m.notifier.Success(ctx, message)

	m.queries.Invalidate(ctx, m.key)
	for _, key := range m.invalidate {
		m.queries.Invalidate(ctx, key)
	}

	return result.Ok(env)
}

func (m *Mutation) target(o Override) (string, any) {
	if o.URL == "" {
		return m.path, o.Data
	}
	return o.URL, o.Data
}

func (m *Mutation) send(ctx context.Context, path string, body any) (api.Envelope, error) {
	resp, err := m.sender.Do(ctx, m.httpMethod, path, body, nil)
	if err != nil {
		return api.Envelope{}, err
	}

	if resp.Empty() {
		return api.Envelope{}, ErrNoData
	}

	return resp.Envelope()
}
