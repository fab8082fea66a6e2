package toast_test

import (
	"bytes"
	"context"
	"sync"
	"testing"

	"github.com/chinmina/opsdesk/internal/toast"
	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsole(t *testing.T) {
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = false })

	var out bytes.Buffer
	console := toast.NewConsole(&out)

	console.Success(context.Background(), "customer created")
	console.Error(context.Background(), "name is required")

	assert.Equal(t, "✓ customer created\n✗ name is required\n", out.String())
}

func TestLog(t *testing.T) {
	var out bytes.Buffer
	logger := zerolog.New(&out)
	ctx := logger.WithContext(context.Background())

	toast.Log{}.Success(ctx, "saved")
	toast.Log{}.Error(ctx, "rejected")

	assert.Contains(t, out.String(), `{"level":"info","toast":"success","message":"saved"}`)
	assert.Contains(t, out.String(), `{"level":"error","toast":"error","message":"rejected"}`)
}

func TestRecorder(t *testing.T) {
	rec := &toast.Recorder{}
	ctx := context.Background()

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec.Success(ctx, "ok")
		}()
	}
	wg.Wait()
	rec.Error(ctx, "failed")

	toasts := rec.Toasts()
	require.Len(t, toasts, 11)
	assert.Equal(t, toast.Toast{Kind: toast.KindError, Message: "failed"}, toasts[10])
}
