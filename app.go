package main

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/chinmina/opsdesk/internal/api"
	"github.com/chinmina/opsdesk/internal/auth"
	"github.com/chinmina/opsdesk/internal/config"
	"github.com/chinmina/opsdesk/internal/observe"
	"github.com/chinmina/opsdesk/internal/query"
	"github.com/chinmina/opsdesk/internal/resource"
	"github.com/chinmina/opsdesk/internal/server"
	"github.com/chinmina/opsdesk/internal/session"
	"github.com/chinmina/opsdesk/internal/toast"
)

// app holds the collaborators shared by all commands. It is assembled once
// per invocation by bootstrap and torn down through its shutdown hooks.
type app struct {
	cfg       config.Config
	store     session.Store
	api       *api.Client
	public    *api.Client
	queries   *query.Client
	notifier  toast.Notifier
	catalogue *resource.Catalogue
	hooks     *server.ShutdownHooks
}

func bootstrap(ctx context.Context, cfg config.Config, stderr io.Writer) (*app, error) {
	hooks := &server.ShutdownHooks{}

	// configure telemetry, including wrapping the outgoing transport
	shutdownTelemetry, err := observe.Configure(ctx, cfg.Observe)
	if err != nil {
		return nil, fmt.Errorf("telemetry bootstrap failed: %w", err)
	}
	hooks.AddContext("telemetry", shutdownTelemetry)

	store, err := sessionStore(ctx, cfg.Session)
	if err != nil {
		return nil, fmt.Errorf("session store configuration failed: %w", err)
	}

	base := observe.HTTPTransport(configureHTTPTransport(cfg.Client), cfg.Observe)

	transport, err := auth.NewTransport(cfg.API, store, base,
		auth.WithNavigator(loginNavigator(stderr)),
	)
	if err != nil {
		return nil, fmt.Errorf("auth transport configuration failed: %w", err)
	}

	apiClient, err := api.New(cfg.API, transport)
	if err != nil {
		return nil, fmt.Errorf("API client configuration failed: %w", err)
	}

	// login happens before there is a session to attach
	publicClient, err := api.New(cfg.API, base)
	if err != nil {
		return nil, fmt.Errorf("API client configuration failed: %w", err)
	}

	queries, err := query.NewClientFromConfig(apiClient, cfg.Query)
	if err != nil {
		return nil, err
	}
	hooks.Add("query cache", queries.Close)

	return &app{
		cfg:       cfg,
		store:     store,
		api:       apiClient,
		public:    publicClient,
		queries:   queries,
		notifier:  toast.NewConsole(stderr),
		catalogue: resource.Default(),
		hooks:     hooks,
	}, nil
}

func sessionStore(ctx context.Context, cfg config.SessionConfig) (*session.File, error) {
	dir := cfg.Dir
	if dir == "" {
		var err error
		dir, err = session.DefaultDir()
		if err != nil {
			return nil, err
		}
	}

	var codec session.Codec = session.PlainCodec{}
	if cfg.KMSKeyID != "" {
		kmsCodec, err := session.NewKMSCodecFromConfig(ctx, cfg.KMSKeyID)
		if err != nil {
			return nil, err
		}
		codec = kmsCodec
	}

	return session.NewFile(dir, codec)
}

func configureHTTPTransport(cfg config.ClientConfig) *http.Transport {
	transport := http.DefaultTransport.(*http.Transport).Clone()

	transport.MaxIdleConns = cfg.OutgoingHTTPMaxIdleConns
	transport.MaxConnsPerHost = cfg.OutgoingHTTPMaxConnsPerHost

	return transport
}

// loginNavigator tells the user how to reach the login route, which for the
// command line is the login command.
func loginNavigator(out io.Writer) auth.Navigator {
	return auth.NavigatorFunc(func(_ context.Context, route string) {
		fmt.Fprintf(out, "Session ended (%s): run `opsdesk login` to sign in again\n", route)
	})
}
