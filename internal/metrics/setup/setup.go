// Package setup installs the metrics backend selected by configuration.
package setup

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"transitsql/internal/config"
	"transitsql/internal/metrics"
	"transitsql/internal/metrics/datadog"
)

// metricsBackend is a metrics backend that buffers and must be closed.
type metricsBackend interface {
	metrics.Backend
	Close() error
}

// Test seams.
var (
	newDatadogBackend = func(ctx context.Context, opts datadog.Options) (metricsBackend, error) {
		b, err := datadog.NewBackend(ctx, opts)
		if err != nil {
			return nil, err
		}
		return b, nil
	}
	setMetricsBackend = metrics.SetBackend
)

// Init installs the configured backend and returns its cleanup. The
// cleanup is never nil and is safe to call on every path.
//
// The Datadog backend buffers and submits periodically; cleanup stops the
// loop and performs a final flush.
func Init(ctx context.Context, cfg config.MetricsConfig, log *zap.Logger) (func(), error) {
	noop := func() {}

	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", "none", "noop":
		log.Debug("metrics: disabled")
		return noop, nil

	case "datadog", "dd":
		tags := datadog.ParseTagsCSV(cfg.Tags)
		b, err := newDatadogBackend(ctx, datadog.Options{
			JobName:    cfg.JobName,
			Tags:       tags,
			FlushEvery: cfg.FlushEvery,
		})
		if err != nil {
			return noop, err
		}
		setMetricsBackend(b)
		log.Info("metrics: datadog enabled", zap.String("job", cfg.JobName), zap.Strings("tags", tags))

		return func() {
			setMetricsBackend(nil)
			if err := b.Close(); err != nil {
				log.Warn("metrics: datadog close error", zap.Error(err))
			}
		}, nil

	default:
		return noop, fmt.Errorf("unknown metrics backend %q (want none|datadog)", cfg.Backend)
	}
}
