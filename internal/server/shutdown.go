package server

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"
)

type hook struct {
	name string
	fn   func(context.Context) error
}

// ShutdownHooks collects the teardown steps of a process. Hooks run in reverse
// order of registration so that resources are released before the things
// they depend on. It is safe for concurrent use.
type ShutdownHooks struct {
	mu    sync.Mutex
	hooks []hook
}

// AddContext registers a hook that receives the shutdown context. Nil hooks
// are ignored.
func (s *ShutdownHooks) AddContext(name string, fn func(context.Context) error) {
	if fn == nil {
		log.Warn().Str("hook", name).Msg("attempted to add nil shutdown hook; ignoring")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	log.Debug().Str("hook", name).Msg("adding shutdown hook")
	s.hooks = append(s.hooks, hook{name: name, fn: fn})
}

// Add registers a hook that does not need the shutdown context.
func (s *ShutdownHooks) Add(name string, fn func() error) {
	if fn == nil {
		log.Warn().Str("hook", name).Msg("attempted to add nil shutdown hook; ignoring")
		return
	}

	s.AddContext(name, func(context.Context) error {
		return fn()
	})
}

// Execute runs and removes the registered hooks, continuing past failures. The
// failures are logged and returned joined.
func (s *ShutdownHooks) Execute(ctx context.Context) error {
	s.mu.Lock()
	hooks := s.hooks
	s.hooks = nil
	s.mu.Unlock()

	l := log.Ctx(ctx)

	var errs error
	for i := len(hooks) - 1; i >= 0; i-- {
		h := hooks[i]
		hookLog := l.With().Str("hook", h.name).Logger()

		hookLog.Debug().Msg("shutdown started")
		if err := h.fn(ctx); err != nil {
			hookLog.Warn().Err(err).Msg("shutdown failed")
			errs = errors.Join(errs, err)
		} else {
			hookLog.Debug().Msg("shutdown complete")
		}
	}

	return errs
}
