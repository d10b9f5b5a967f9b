// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package alert

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/ManuGH/firewatch/internal/log"
	"github.com/ManuGH/firewatch/internal/metrics"
	"github.com/ManuGH/firewatch/internal/pipeline/model"
	"github.com/ManuGH/firewatch/internal/resilience"
	"github.com/ManuGH/firewatch/internal/telemetry"
)

const maxTrackedSources = 1024

// Policy bounds dispatching.
type Policy struct {
	Timeout time.Duration
	// MinInterval enables the per-source flood limiter when positive.
	MinInterval      time.Duration
	Burst            int
	BreakerThreshold int
	BreakerReset     time.Duration
}

// Dispatcher renders and delivers alerts. Each Dispatch makes at most one
// delivery attempt.
type Dispatcher struct {
	renderer  *Renderer
	transport Transport
	policy    Policy
	breaker   *resilience.CircuitBreaker

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewDispatcher wires a renderer and transport under policy.
func NewDispatcher(renderer *Renderer, transport Transport, policy Policy, breakerOpts ...resilience.Option) *Dispatcher {
	if policy.Burst < 1 {
		policy.Burst = 1
	}
	logger := log.WithComponent("alert")
	breakerOpts = append([]resilience.Option{
		resilience.WithStateChange(func(from, to resilience.State) {
			logger.Warn().
				Str(log.FieldEvent, "alert.breaker").
				Str(log.FieldOldState, string(from)).
				Str(log.FieldNewState, string(to)).
				Str("transport", transport.Name()).
				Msg("alert transport circuit changed state")
		}),
	}, breakerOpts...)
	return &Dispatcher{
		renderer:  renderer,
		transport: transport,
		policy:    policy,
		breaker:   resilience.NewCircuitBreaker("alert_"+transport.Name(), policy.BreakerThreshold, policy.BreakerReset, breakerOpts...),
		limiters:  make(map[string]*rate.Limiter),
	}
}

// TransportName names the active transport.
func (d *Dispatcher) TransportName() string { return d.transport.Name() }

// BreakerState exposes the breaker for health checks.
func (d *Dispatcher) BreakerState() string { return string(d.breaker.State()) }

func (d *Dispatcher) allow(source string) bool {
	if d.policy.MinInterval <= 0 {
		return true
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.limiters[source]
	if !ok {
		if len(d.limiters) >= maxTrackedSources {
			d.limiters = make(map[string]*rate.Limiter)
		}
		l = rate.NewLimiter(rate.Every(d.policy.MinInterval), d.policy.Burst)
		d.limiters[source] = l
	}
	return l.Allow()
}

// Dispatch delivers a. A rate-limited alert is Ok with status suppressed; any
// delivery problem is Failed(DELIVERY_ERROR), which callers treat as
// non-fatal.
func (d *Dispatcher) Dispatch(ctx context.Context, a Alert) model.StageResult[model.Delivery] {
	name := d.transport.Name()
	span := trace.SpanFromContext(ctx)

	n, err := d.renderer.Render(a)
	if err != nil {
		// A malformed alert is a pipeline bug, not a transport problem.
		metrics.RecordAlert(name, string(model.DeliveryFailed))
		return model.Failed[model.Delivery](model.KindInternal, model.StageAlert, "alert could not be rendered", err)
	}
	logger := log.WithContext(log.ContextWithSource(ctx, n.Source), log.WithComponent("alert"))

	delivery := model.Delivery{Transport: name, Recipients: len(n.Recipients)}

	if !d.allow(n.Source) {
		delivery.Status = model.DeliverySuppressed
		metrics.RecordAlert(name, string(delivery.Status))
		span.SetAttributes(telemetry.DeliveryAttributes(string(delivery.Status), name)...)
		logger.Info().
			Str(log.FieldEvent, "alert.suppressed").
			Dur("min_interval", d.policy.MinInterval).
			Msg("alert suppressed by flood limiter")
		return model.Ok(delivery)
	}

	start := time.Now()
	err = d.breaker.Execute(ctx, func(ctx context.Context) error {
		if d.policy.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d.policy.Timeout)
			defer cancel()
		}
		return d.transport.Deliver(ctx, n)
	})
	metrics.ObserveAlertLatency(name, time.Since(start))

	if err != nil {
		delivery.Status = model.DeliveryFailed
		delivery.Error = deliveryError(err)
		metrics.RecordAlert(name, string(delivery.Status))
		span.SetAttributes(telemetry.DeliveryAttributes(string(delivery.Status), name)...)
		logger.Error().
			Err(err).
			Str(log.FieldEvent, "alert.failed").
			Msg("alert delivery failed")
		f := model.NewFailure(model.KindDelivery, model.StageAlert, delivery.Error, err)
		return model.StageResult[model.Delivery]{Value: delivery, Failure: f}
	}

	delivery.Status = model.DeliveryDelivered
	metrics.RecordAlert(name, string(delivery.Status))
	span.SetAttributes(telemetry.DeliveryAttributes(string(delivery.Status), name)...)
	logger.Info().
		Str(log.FieldEvent, "alert.delivered").
		Int("recipients", delivery.Recipients).
		Int64(log.FieldDuration, time.Since(start).Milliseconds()).
		Msg("alert delivered")
	return model.Ok(delivery)
}

func deliveryError(err error) string {
	switch {
	case errors.Is(err, resilience.ErrCircuitOpen):
		return "alert transport unavailable (circuit open)"
	case errors.Is(err, context.DeadlineExceeded):
		return "alert delivery timed out"
	case errors.Is(err, context.Canceled):
		return "alert delivery canceled"
	default:
		return fmt.Sprintf("alert delivery failed: %v", err)
	}
}
