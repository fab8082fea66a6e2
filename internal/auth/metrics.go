package auth

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	metricsOnce     sync.Once
	refreshOutcomes metric.Int64Counter
)

func initMetrics() {
	metricsOnce.Do(func() {
		meter := otel.Meter("github.com/chinmina/opsdesk/internal/auth")

		var err error
		refreshOutcomes, err = meter.Int64Counter(
			"auth.refresh",
			metric.WithDescription("Access token refresh attempts by outcome"),
		)
		if err != nil {
			otel.Handle(err)
		}
	})
}

func recordRefresh(ctx context.Context, status string) {
	if refreshOutcomes == nil {
		return
	}
	refreshOutcomes.Add(ctx, 1,
		metric.WithAttributes(attribute.String("auth.refresh.status", status)),
	)
}
