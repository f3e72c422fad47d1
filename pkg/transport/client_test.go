package transport_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"golang.org/x/time/rate"

	"github.com/openfroyo/polsync/pkg/engine"
	"github.com/openfroyo/polsync/pkg/fake"
	"github.com/openfroyo/polsync/pkg/schema"
	"github.com/openfroyo/polsync/pkg/telemetry"
	"github.com/openfroyo/polsync/pkg/transport"
)

func newTelemetry(t *testing.T) *telemetry.Telemetry {
	t.Helper()
	tel, err := telemetry.NewTelemetry(telemetry.DefaultConfig())
	if err != nil {
		t.Fatalf("NewTelemetry() error = %v", err)
	}
	t.Cleanup(func() { _ = tel.Shutdown(context.Background()) })
	return tel
}

// errorCodes returns the code label of every client error series.
func errorCodes(t *testing.T, tel *telemetry.Telemetry) map[string]float64 {
	t.Helper()
	families, err := tel.Metrics.Registry().Gather()
	if err != nil {
		t.Fatal(err)
	}
	codes := make(map[string]float64)
	for _, mf := range families {
		if mf.GetName() != "polsync_client_errors_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "code" {
					codes[l.GetValue()] += m.GetCounter().GetValue()
				}
			}
		}
	}
	return codes
}

func TestInstrumented(t *testing.T) {
	tel := newTelemetry(t)
	ctx := tel.WithContext(context.Background())

	s := schema.TagSchema()
	backend := fake.New(s)
	backend.MarkReferenced("prod")
	client := transport.Instrumented(backend, s.Type)

	created, err := client.Create(ctx, engine.DesiredState{"name": "prod", "folder": "Texas"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := client.Fetch(ctx, "prod", engine.ContainerSelector{Field: "folder", Value: "Texas"}); err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if _, err := client.Fetch(ctx, "missing", engine.ContainerSelector{}); !engine.IsNotFound(err) {
		t.Errorf("Fetch(missing) error = %v, want not found", err)
	}
	if err := client.Delete(ctx, created.ID()); !engine.IsStillReferenced(err) {
		t.Errorf("Delete() error = %v, want still referenced", err)
	}

	if n := backend.TotalCalls(); n != 4 {
		t.Errorf("backend calls = %d, want 4", n)
	}

	count, err := testutil.GatherAndCount(tel.Metrics.Registry(), "polsync_client_calls_total")
	if err != nil {
		t.Fatal(err)
	}
	// One series per resource type and call.
	if count != 3 {
		t.Errorf("client call series = %d, want 3", count)
	}

	codes := errorCodes(t, tel)
	if codes[engine.ErrCodeNotFound] != 1 || codes[engine.ErrCodeStillReferenced] != 1 {
		t.Errorf("error codes = %v", codes)
	}
}

func TestInstrumentedWithoutTelemetry(t *testing.T) {
	s := schema.TagSchema()
	backend := fake.New(s)
	client := transport.Instrumented(backend, s.Type)

	res, err := client.Create(context.Background(), engine.DesiredState{"name": "prod", "folder": "Texas"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if res.Name() != "prod" {
		t.Errorf("created %v", res)
	}
	patch := engine.Patch(res.Clone())
	patch["color"] = "Red"
	if _, err := client.Update(context.Background(), patch); err != nil {
		t.Errorf("Update() error = %v", err)
	}
}

func TestRateLimited(t *testing.T) {
	s := schema.TagSchema()
	backend := fake.New(s)

	if got := transport.RateLimited(backend, nil); got != engine.Client(backend) {
		t.Error("a nil limiter should return the client unchanged")
	}

	// One token, refilled far in the future.
	limiter := rate.NewLimiter(rate.Every(time.Hour), 1)
	client := transport.RateLimited(backend, limiter)

	if _, err := client.Fetch(context.Background(), "prod", engine.ContainerSelector{}); !engine.IsNotFound(err) {
		t.Fatalf("first Fetch() error = %v, want not found", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := client.Create(ctx, engine.DesiredState{"name": "prod", "folder": "Texas"}); err == nil {
		t.Fatal("second call should wait past the deadline")
	}
	if n := backend.Calls(fake.CallCreate); n != 0 {
		t.Errorf("create reached the backend %d times", n)
	}
}

func TestNewLimiter(t *testing.T) {
	if transport.NewLimiter(0, 5) != nil {
		t.Error("zero rate should disable limiting")
	}
	l := transport.NewLimiter(10, 0)
	if l == nil || l.Burst() != 1 {
		t.Errorf("limiter = %v, want burst 1", l)
	}
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"engine error", engine.InvalidError("bad"), engine.ErrCodeInvalid},
		{"wrapped", errors.Join(errors.New("ctx"), engine.NameNotUniqueError("dup")), engine.ErrCodeNameNotUnique},
		{"canceled", context.Canceled, "CANCELED"},
		{"deadline", context.DeadlineExceeded, "TIMEOUT"},
		{"other", errors.New("boom"), "UNKNOWN"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := transport.ErrorCode(tt.err); got != tt.want {
				t.Errorf("ErrorCode() = %q, want %q", got, tt.want)
			}
		})
	}
}
