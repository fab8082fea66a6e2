package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/chinmina/opsdesk/internal/config"
	"github.com/chinmina/opsdesk/internal/mutation"
	"github.com/chinmina/opsdesk/internal/query"
	"github.com/chinmina/opsdesk/internal/resource"
	"github.com/chinmina/opsdesk/internal/result"
	"github.com/chinmina/opsdesk/internal/session"
	"github.com/chinmina/opsdesk/internal/token"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// reportedError marks a failure the user has already been notified of.
type reportedError struct {
	error
}

func (e reportedError) Unwrap() error {
	return e.error
}

type loader func(ctx context.Context) (config.Config, error)

func newRootCommand(load loader, stdout, stderr io.Writer) *cobra.Command {
	var (
		output string
		a      *app
	)

	// commands are constructed before the app exists, so they resolve it
	// lazily
	deps := func() *app { return a }

	root := &cobra.Command{
		Use:           "opsdesk",
		Short:         "Work with the business operations backend",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := validateOutput(output); err != nil {
				return err
			}

			cfg, err := load(cmd.Context())
			if err != nil {
				return fmt.Errorf("configuration load failed: %w", err)
			}

			a, err = bootstrap(cmd.Context(), cfg, stderr)
			return err
		},
	}

	root.SetOut(stdout)
	root.SetErr(stderr)
	root.PersistentFlags().StringVarP(&output, "output", "o", outputJSON, "output format: json or yaml")

	out := func(v any) error {
		return writeOutput(stdout, output, v)
	}

	root.AddCommand(
		newLoginCommand(deps),
		newLogoutCommand(deps),
		newWhoamiCommand(deps, out),
		newResourcesCommand(deps, out),
		newListCommand(deps, out),
		newGetCommand(deps, out),
		newWriteCommand(deps, out, "create", mutation.MethodPost),
		newWriteCommand(deps, out, "update", mutation.MethodPut),
		newWriteCommand(deps, out, "delete", mutation.MethodDelete),
	)

	return root
}

// run adapts fn to a cobra RunE, releasing the app once fn returns whatever
// the outcome. PersistentPostRunE is not used as cobra skips it on failure.
func run(deps func() *app, fn func(ctx context.Context, a *app, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a := deps()

		defer func() {
			if err := a.hooks.Execute(ctx); err != nil {
				log.Ctx(ctx).Warn().Err(err).Msg("shutdown failed")
			}
		}()

		return fn(ctx, a, args)
	}
}

func newLoginCommand(deps func() *app) *cobra.Command {
	var email, password string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and store the session",
		Args:  cobra.NoArgs,
		RunE: run(deps, func(ctx context.Context, a *app, _ []string) error {
			if password == "" {
				password = os.Getenv("OPSDESK_PASSWORD")
			}
			if email == "" || password == "" {
				return errors.New("--email and --password (or OPSDESK_PASSWORD) are required")
			}

			resp, err := a.public.Post(ctx, a.cfg.API.LoginPath, map[string]string{
				"email":    email,
				"password": password,
			})
			if err != nil {
				return a.fail(ctx, err)
			}

			s, err := decodeSession(resp.Body)
			if err != nil {
				return a.fail(ctx, err)
			}

			if err := a.store.Set(ctx, s); err != nil {
				return a.fail(ctx, fmt.Errorf("storing session: %w", err))
			}

			a.notifier.Success(ctx, fmt.Sprintf("Signed in as %s", s.Email))
			return nil
		}),
	}

	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password")

	return cmd
}

// decodeSession accepts the session fields at the top level or nested under
// "data".
func decodeSession(body []byte) (session.Session, error) {
	var payload struct {
		session.Session
		Data *session.Session `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return session.Session{}, fmt.Errorf("decoding login response: %w", err)
	}

	s := payload.Session
	if !s.Valid() && payload.Data != nil {
		s = *payload.Data
	}
	if !s.Valid() {
		return session.Session{}, errors.New("login response did not include a token pair")
	}

	return s, nil
}

func newLogoutCommand(deps func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the stored session",
		Args:  cobra.NoArgs,
		RunE: run(deps, func(ctx context.Context, a *app, _ []string) error {
			if err := a.store.Clear(ctx); err != nil {
				return a.fail(ctx, fmt.Errorf("clearing session: %w", err))
			}

			a.notifier.Success(ctx, "Signed out")
			return nil
		}),
	}
}

type identity struct {
	Email          string    `json:"email,omitempty"`
	UID            string    `json:"uid,omitempty"`
	AccessExpires  time.Time `json:"accessTokenExpires"`
	AccessExpired  bool      `json:"accessTokenExpired"`
	RefreshExpires time.Time `json:"refreshTokenExpires"`
	RefreshExpired bool      `json:"refreshTokenExpired"`
}

func newWhoamiCommand(deps func() *app, out func(any) error) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the stored session",
		Args:  cobra.NoArgs,
		RunE: run(deps, func(ctx context.Context, a *app, _ []string) error {
			s, err := a.store.Get(ctx)
			if err != nil {
				return a.fail(ctx, err)
			}

			now := time.Now()
			id := identity{
				Email:          s.Email,
				UID:            s.UID,
				AccessExpired:  token.Expired(s.AccessToken, now),
				RefreshExpired: token.Expired(s.RefreshToken, now),
			}
			// undecodable tokens report as expired with no expiry time
			id.AccessExpires, _ = token.Expiry(s.AccessToken)
			id.RefreshExpires, _ = token.Expiry(s.RefreshToken)

			return out(id)
		}),
	}
}

func newResourcesCommand(deps func() *app, out func(any) error) *cobra.Command {
	return &cobra.Command{
		Use:   "resources",
		Short: "List the resources served by the backend",
		Args:  cobra.NoArgs,
		RunE: run(deps, func(_ context.Context, a *app, _ []string) error {
			type entry struct {
				Name  string `json:"name"`
				Path  string `json:"path"`
				Title string `json:"title"`
			}

			entries := []entry{}
			for _, r := range a.catalogue.All() {
				entries = append(entries, entry{Name: r.Name, Path: r.Path, Title: r.Title})
			}
			return out(entries)
		}),
	}
}

func newListCommand(deps func() *app, out func(any) error) *cobra.Command {
	var page, limit int

	cmd := &cobra.Command{
		Use:   "list <resource>",
		Short: "List the records of a resource",
		Args:  cobra.ExactArgs(1),
		RunE: run(deps, func(ctx context.Context, a *app, args []string) error {
			res, err := a.resource(args[0])
			if err != nil {
				return err
			}

			params := url.Values{}
			if page > 0 {
				params.Set("page", strconv.Itoa(page))
			}
			if limit > 0 {
				params.Set("limit", strconv.Itoa(limit))
			}

			q := query.New[json.RawMessage](a.queries, res.ListKey(), res.Path, query.WithParams(params))

			return a.show(ctx, q.Fetch(ctx), out)
		}),
	}

	cmd.Flags().IntVar(&page, "page", 0, "page number, starting at 1")
	cmd.Flags().IntVar(&limit, "limit", 0, "records per page")

	return cmd
}

func newGetCommand(deps func() *app, out func(any) error) *cobra.Command {
	return &cobra.Command{
		Use:   "get <resource> <id>",
		Short: "Show a single record",
		Args:  cobra.ExactArgs(2),
		RunE: run(deps, func(ctx context.Context, a *app, args []string) error {
			res, err := a.resource(args[0])
			if err != nil {
				return err
			}

			q := query.New[json.RawMessage](a.queries, res.RecordKey(args[1]), res.RecordPath(args[1]))

			return a.show(ctx, q.Fetch(ctx), out)
		}),
	}
}

// newWriteCommand builds the create, update and delete commands, which differ
// only in method and whether a record id is given.
func newWriteCommand(deps func() *app, out func(any) error, name string, method mutation.Method) *cobra.Command {
	var data string

	use := name + " <resource> <id>"
	positional := cobra.ExactArgs(2)
	if method == mutation.MethodPost {
		use = name + " <resource>"
		positional = cobra.ExactArgs(1)
	}

	cmd := &cobra.Command{
		Use:   use,
		Short: strings.ToUpper(name[:1]) + name[1:] + " a record",
		Args:  positional,
		RunE: run(deps, func(ctx context.Context, a *app, args []string) error {
			res, err := a.resource(args[0])
			if err != nil {
				return err
			}

			var payload any
			if method != mutation.MethodDelete {
				payload, err = readPayload(data)
				if err != nil {
					return err
				}
			}

			m, err := mutation.New(a.api, a.queries, a.notifier, res.ListKey(), res.Path, method)
			if err != nil {
				return err
			}

			input := payload
			if len(args) > 1 {
				input = mutation.Override{URL: res.RecordPath(args[1]), Data: payload}
			}

			env, err := m.Mutate(ctx, input).Unwrap()
			if err != nil {
				// the notifier has already reported the failure
				return reportedError{err}
			}

			return out(env.Data)
		}),
	}

	if method != mutation.MethodDelete {
		cmd.Flags().StringVar(&data, "data", "", "record fields as a JSON object, or @file to read them from a file")
		_ = cmd.MarkFlagRequired("data")
	}

	return cmd
}

func readPayload(data string) (json.RawMessage, error) {
	raw := []byte(data)
	if path, ok := strings.CutPrefix(data, "@"); ok {
		var err error
		raw, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading --data file: %w", err)
		}
	}

	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return nil, errors.New("--data must be a JSON object")
	}

	return json.RawMessage(raw), nil
}

func (a *app) resource(name string) (resource.Resource, error) {
	res, ok := a.catalogue.Lookup(name)
	if !ok {
		return resource.Resource{}, fmt.Errorf("unknown resource %q: run `opsdesk resources` for the list", name)
	}
	return res, nil
}

// show prints a query result, or reports its failure.
func (a *app) show(ctx context.Context, res result.Result[json.RawMessage], out func(any) error) error {
	if err, failed := res.Failed(); failed {
		return a.fail(ctx, err)
	}

	data, ok := res.Value()
	if !ok {
		return nil
	}
	return out(data)
}

// fail notifies the user of err.
func (a *app) fail(ctx context.Context, err error) error {
	log.Ctx(ctx).Debug().Err(err).Msg("command failed")

	a.notifier.Error(ctx, err.Error())

	return reportedError{err}
}
