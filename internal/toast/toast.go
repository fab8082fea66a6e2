// Package toast delivers short user-facing notifications about the outcome of
// an operation.
package toast

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Notifier shows success and error notifications.
type Notifier interface {
	Success(ctx context.Context, message string)
	Error(ctx context.Context, message string)
}

// Console writes notifications to a terminal, coloured when the output
// supports it.
type Console struct {
	out     io.Writer
	success *color.Color
	failure *color.Color

	mu sync.Mutex
}

func NewConsole(out io.Writer) *Console {
	return &Console{
		out:     out,
		success: color.New(color.FgGreen),
		failure: color.New(color.FgRed, color.Bold),
	}
}

func (c *Console) Success(_ context.Context, message string) {
	c.write(c.success, "✓", message)
}

func (c *Console) Error(_ context.Context, message string) {
	c.write(c.failure, "✗", message)
}

func (c *Console) write(style *color.Color, symbol, message string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, _ = fmt.Fprintln(c.out, style.Sprint(symbol), message)
}

// Log records notifications on the context logger. It is used where there is
// no interactive user, such as in scripts and background jobs.
type Log struct{}

func (Log) Success(ctx context.Context, message string) {
	log.Ctx(ctx).Info().Str("toast", "success").Msg(message)
}

func (Log) Error(ctx context.Context, message string) {
	log.Ctx(ctx).WithLevel(zerolog.ErrorLevel).Str("toast", "error").Msg(message)
}

// Kind distinguishes recorded notifications.
type Kind string

const (
	KindSuccess Kind = "success"
	KindError   Kind = "error"
)

type Toast struct {
	Kind    Kind
	Message string
}

// Recorder keeps every notification it receives.
type Recorder struct {
	mu     sync.Mutex
	toasts []Toast
}

func (r *Recorder) Success(_ context.Context, message string) {
	r.add(Toast{Kind: KindSuccess, Message: message})
}

func (r *Recorder) Error(_ context.Context, message string) {
	r.add(Toast{Kind: KindError, Message: message})
}

func (r *Recorder) add(t Toast) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.toasts = append(r.toasts, t)
}

// Toasts returns a copy of the recorded notifications in arrival order.
func (r *Recorder) Toasts() []Toast {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Toast(nil), r.toasts...)
}
