// Package auth attaches the session's bearer token to outgoing requests and
// refreshes it when it has expired.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/chinmina/opsdesk/internal/config"
	"github.com/chinmina/opsdesk/internal/session"
	"github.com/chinmina/opsdesk/internal/token"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

var (
	ErrRefreshTokenExpired = errors.New("refresh token expired")
	ErrRefreshFailed       = errors.New("refresh call failed")
	ErrSessionUnreadable   = errors.New("stored session unreadable")
)

// DefaultRefreshTimeout bounds a refresh call when the API client has no
// timeout of its own.
const DefaultRefreshTimeout = 30 * time.Second

// Navigator moves the user to another part of the client, used to send them
// to the login screen when the session cannot be recovered.
type Navigator interface {
	Navigate(ctx context.Context, route string)
}

type NavigatorFunc func(ctx context.Context, route string)

func (f NavigatorFunc) Navigate(ctx context.Context, route string) {
	f(ctx, route)
}

// Transport is an http.RoundTripper that makes sure every request leaves with
// a currently valid access token when a session exists.
//
// Expired access tokens are exchanged using the refresh token. Concurrent
// requests that find the same expired token share a single refresh call. When
// the session cannot be refreshed it is cleared, the user is sent to the
// login route and the request fails.
type Transport struct {
	store      session.Store
	base       http.RoundTripper
	refreshURL string
	loginRoute string
	navigator  Navigator
	now        func() time.Time
	refreshes  singleflight.Group

	refreshTimeout time.Duration
}

type Option func(*Transport)

// WithNavigator sets the navigator invoked when the session ends.
func WithNavigator(n Navigator) Option {
	return func(t *Transport) {
		t.navigator = n
	}
}

// WithClock replaces the time source used to evaluate token expiry.
func WithClock(now func() time.Time) Option {
	return func(t *Transport) {
		t.now = now
	}
}

// WithRefreshTimeout bounds each refresh call.
func WithRefreshTimeout(d time.Duration) Option {
	return func(t *Transport) {
		t.refreshTimeout = d
	}
}

// NewTransport wraps base. The refresh endpoint and login route are taken
// from cfg. Refresh calls are sent through base directly.
func NewTransport(cfg config.APIConfig, store session.Store, base http.RoundTripper, opts ...Option) (*Transport, error) {
	baseURL, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("could not parse API base URL: %w", err)
	}

	if base == nil {
		base = http.DefaultTransport
	}

	t := &Transport{
		store:      store,
		base:       base,
		refreshURL: baseURL.JoinPath(cfg.RefreshPath).String(),
		loginRoute: cfg.LoginRoute,
		navigator: NavigatorFunc(func(ctx context.Context, route string) {
			log.Ctx(ctx).Info().Str("route", route).Msg("session ended: login required")
		}),
		now:            time.Now,
		refreshTimeout: cfg.Timeout(),
	}
	if t.refreshTimeout <= 0 {
		t.refreshTimeout = DefaultRefreshTimeout
	}

	for _, opt := range opts {
		opt(t)
	}

	initMetrics()

	return t, nil
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	accessToken, err := t.accessToken(ctx)
	if err != nil {
		// the transport owns the body once RoundTrip is called
		if req.Body != nil {
			req.Body.Close()
		}
		return nil, err
	}

	if accessToken == "" {
		return t.base.RoundTrip(req)
	}

	authorized := req.Clone(ctx)
	authorized.Header.Set("Authorization", "Bearer "+accessToken)

	return t.base.RoundTrip(authorized)
}

// accessToken returns the token to attach, or an empty string when there is
// no session.
func (t *Transport) accessToken(ctx context.Context) (string, error) {
	current, err := t.store.Get(ctx)
	if errors.Is(err, session.ErrNoSession) {
		return "", nil
	}
	if errors.Is(err, session.ErrCorrupt) {
		recordRefresh(ctx, "unreadable")
		t.endSession(ctx, "stored session unreadable")
		return "", fmt.Errorf("%w: %w", ErrSessionUnreadable, err)
	}
	if err != nil {
		return "", fmt.Errorf("reading session: %w", err)
	}

	now := t.now()

	if !token.Expired(current.AccessToken, now) {
		return current.AccessToken, nil
	}

	if token.Expired(current.RefreshToken, now) {
		recordRefresh(ctx, "expired")
		t.endSession(ctx, "refresh token expired")
		return "", ErrRefreshTokenExpired
	}

	ch := t.refreshes.DoChan(current.RefreshToken, func() (any, error) {
		// shared by every waiter, so it must outlive any single request
		return t.refresh(context.WithoutCancel(ctx), current)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type tokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

type refreshResponse struct {
	tokenPair
	Data *tokenPair `json:"data"`
}

func (t *Transport) refresh(ctx context.Context, current session.Session) (string, error) {
	// a refresh that completed just before this one started has already
	// replaced the token
	latest, err := t.store.Get(ctx)
	if err == nil && latest.RefreshToken == current.RefreshToken && !token.Expired(latest.AccessToken, t.now()) {
		return latest.AccessToken, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, t.refreshTimeout)
	defer cancel()

	accessToken, err := t.callRefresh(callCtx, current.RefreshToken)
	if err != nil {
		recordRefresh(ctx, "failure")
		log.Ctx(ctx).Warn().Err(err).Msg("access token refresh failed")
		t.endSession(ctx, "refresh call failed")
		return "", fmt.Errorf("%w: %w", ErrRefreshFailed, err)
	}

	err = t.store.Set(ctx, current.WithAccessToken(accessToken))
	if err != nil {
		// the token is still usable for this request
		log.Ctx(ctx).Warn().Err(err).Msg("refreshed access token could not be persisted")
	}

	recordRefresh(ctx, "success")
	log.Ctx(ctx).Debug().Msg("access token refreshed")

	return accessToken, nil
}

func (t *Transport) callRefresh(ctx context.Context, refreshToken string) (string, error) {
	body, err := json.Marshal(refreshRequest{RefreshToken: refreshToken})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.refreshURL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	contents, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("reading refresh response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("refresh endpoint returned status %d", resp.StatusCode)
	}

	var decoded refreshResponse
	if err := json.Unmarshal(contents, &decoded); err != nil {
		return "", fmt.Errorf("decoding refresh response: %w", err)
	}

	accessToken := decoded.AccessToken
	if accessToken == "" && decoded.Data != nil {
		accessToken = decoded.Data.AccessToken
	}
	if accessToken == "" {
		return "", errors.New("refresh response did not include an access token")
	}

	return accessToken, nil
}

// endSession clears the persisted session and sends the user to login.
func (t *Transport) endSession(ctx context.Context, reason string) {
	if err := t.store.Clear(ctx); err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("failed to clear session")
	}

	log.Ctx(ctx).Info().Str("reason", reason).Msg("session ended")

	t.navigator.Navigate(ctx, t.loginRoute)
}
