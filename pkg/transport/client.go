// Package transport decorates engine clients with the cross-cutting
// behaviour every collaborator needs: call rate limiting and telemetry.
package transport

import (
	"context"
	"errors"

	"golang.org/x/time/rate"

	"github.com/openfroyo/polsync/pkg/engine"
	"github.com/openfroyo/polsync/pkg/telemetry"
)

// Client call names used in spans and metrics.
const (
	CallFetch  = "fetch"
	CallCreate = "create"
	CallUpdate = "update"
	CallDelete = "delete"
)

// NewLimiter returns a limiter allowing perSecond calls with the given
// burst, or nil when perSecond is not positive.
func NewLimiter(perSecond float64, burst int) *rate.Limiter {
	if perSecond <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}

type rateLimited struct {
	next    engine.Client
	limiter *rate.Limiter
}

// RateLimited waits on limiter before every call to next. A nil limiter
// returns next unchanged. Limiters may be shared between clients.
func RateLimited(next engine.Client, limiter *rate.Limiter) engine.Client {
	if limiter == nil {
		return next
	}
	return &rateLimited{next: next, limiter: limiter}
}

func (c *rateLimited) Fetch(ctx context.Context, name string, container engine.ContainerSelector) (engine.RemoteResource, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return c.next.Fetch(ctx, name, container)
}

func (c *rateLimited) Create(ctx context.Context, payload engine.DesiredState) (engine.RemoteResource, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return c.next.Create(ctx, payload)
}

func (c *rateLimited) Update(ctx context.Context, patch engine.Patch) (engine.RemoteResource, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return c.next.Update(ctx, patch)
}

func (c *rateLimited) Delete(ctx context.Context, id string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	return c.next.Delete(ctx, id)
}

type instrumented struct {
	next         engine.Client
	resourceType string
}

// Instrumented records a span and call metrics for every call to next.
// Telemetry is taken from the call context; without it calls pass through.
func Instrumented(next engine.Client, resourceType string) engine.Client {
	return &instrumented{next: next, resourceType: resourceType}
}

func (c *instrumented) Fetch(ctx context.Context, name string, container engine.ContainerSelector) (engine.RemoteResource, error) {
	var res engine.RemoteResource
	err := telemetry.RecordClientCall(ctx, c.resourceType, CallFetch, ErrorCode, func(ctx context.Context) error {
		var err error
		res, err = c.next.Fetch(ctx, name, container)
		return err
	})
	return res, err
}

func (c *instrumented) Create(ctx context.Context, payload engine.DesiredState) (engine.RemoteResource, error) {
	var res engine.RemoteResource
	err := telemetry.RecordClientCall(ctx, c.resourceType, CallCreate, ErrorCode, func(ctx context.Context) error {
		var err error
		res, err = c.next.Create(ctx, payload)
		return err
	})
	return res, err
}

func (c *instrumented) Update(ctx context.Context, patch engine.Patch) (engine.RemoteResource, error) {
	var res engine.RemoteResource
	err := telemetry.RecordClientCall(ctx, c.resourceType, CallUpdate, ErrorCode, func(ctx context.Context) error {
		var err error
		res, err = c.next.Update(ctx, patch)
		return err
	})
	return res, err
}

func (c *instrumented) Delete(ctx context.Context, id string) error {
	return telemetry.RecordClientCall(ctx, c.resourceType, CallDelete, ErrorCode, func(ctx context.Context) error {
		return c.next.Delete(ctx, id)
	})
}

// ErrorCode labels a client error for metrics. Engine errors use their
// code; context errors and anything else get a fixed label.
func ErrorCode(err error) string {
	if _, code := engine.ClassOf(err); code != "" {
		return code
	}
	switch {
	case errors.Is(err, context.Canceled):
		return "CANCELED"
	case errors.Is(err, context.DeadlineExceeded):
		return "TIMEOUT"
	}
	return "UNKNOWN"
}
