package grpc

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func TestWatchHealth_ReportsCheckResult(t *testing.T) {
	tests := []struct {
		name  string
		check func(context.Context) error
		want  healthpb.HealthCheckResponse_ServingStatus
	}{
		{name: "ready", check: func(context.Context) error { return nil }, want: healthpb.HealthCheckResponse_SERVING},
		{name: "db down", check: func(context.Context) error { return errors.New("refused") }, want: healthpb.HealthCheckResponse_NOT_SERVING},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hs := health.NewServer()
			ctx, cancel := context.WithCancel(context.Background())
			cancel()

			// A cancelled context still runs the first probe before returning.
			WatchHealth(ctx, hs, tt.check, time.Hour, slog.Default())

			resp, err := hs.Check(context.Background(), &healthpb.HealthCheckRequest{Service: bookingServiceName})
			if err != nil {
				t.Fatalf("Check error: %v", err)
			}
			if resp.GetStatus() != tt.want {
				t.Fatalf("status = %s, want %s", resp.GetStatus(), tt.want)
			}
		})
	}
}
