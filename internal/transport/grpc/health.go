package grpc

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// WatchHealth probes check every interval and reports the result for the
// booking service and the server as a whole. It returns when ctx is done.
func WatchHealth(ctx context.Context, hs *health.Server, check func(context.Context) error, interval time.Duration, log *slog.Logger) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	log = log.With(slog.String("component", "grpc.health"))

	last := healthpb.HealthCheckResponse_UNKNOWN
	probe := func() {
		probeCtx, cancel := context.WithTimeout(ctx, interval)
		defer cancel()

		next := healthpb.HealthCheckResponse_SERVING
		if err := check(probeCtx); err != nil {
			next = healthpb.HealthCheckResponse_NOT_SERVING
			if last != next {
				log.Warn("readiness check failed", slog.Any("err", err))
			}
		} else if last != next {
			log.Info("readiness restored")
		}
		last = next
		hs.SetServingStatus("", next)
		hs.SetServingStatus(bookingServiceName, next)
	}

	probe()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			probe()
		}
	}
}
