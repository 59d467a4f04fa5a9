package moonphase

import (
	"context"
	"time"

	"github.com/awaistahir/moonhunter/internal/engine"
)

// Provider is the illumination source wrapped by middlewares
type Provider = engine.IlluminationProvider

type Middleware func(Provider) Provider

// MetricsRecorder observes every provider call
type MetricsRecorder interface {
	ObserveCall(provider string, duration time.Duration, err error)
}

type NopMetricsRecorder struct{}

func (NopMetricsRecorder) ObserveCall(string, time.Duration, error) {}

// Chain applies middlewares so the first one is outermost
func Chain(base Provider, middlewares ...Middleware) Provider {
	p := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		if middlewares[i] == nil {
			continue
		}
		p = middlewares[i](p)
	}
	return p
}

// WithTimeout bounds each call
func WithTimeout(timeout time.Duration) Middleware {
	return func(next Provider) Provider {
		return &timeoutProvider{
			next:    next,
			timeout: timeout,
		}
	}
}

type timeoutProvider struct {
	next    Provider
	timeout time.Duration
}

func (p *timeoutProvider) Illumination(ctx context.Context, unix int64) (engine.Phase, error) {
	callCtx, cancel := withCallTimeout(ctx, p.timeout)
	defer cancel()
	return p.next.Illumination(callCtx, unix)
}

func withCallTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return ctx, func() {}
	}
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining > 0 && remaining <= timeout {
			return ctx, func() {}
		}
	}
	return context.WithTimeout(ctx, timeout)
}

// WithMetrics reports each call's latency and outcome under the given provider name
func WithMetrics(name string, recorder MetricsRecorder) Middleware {
	return func(next Provider) Provider {
		if recorder == nil {
			recorder = NopMetricsRecorder{}
		}
		return &metricsProvider{
			next:     next,
			name:     name,
			recorder: recorder,
		}
	}
}

type metricsProvider struct {
	next     Provider
	name     string
	recorder MetricsRecorder
}

func (p *metricsProvider) Illumination(ctx context.Context, unix int64) (phase engine.Phase, err error) {
	start := time.Now()
	defer func() {
		p.recorder.ObserveCall(p.name, time.Since(start), err)
	}()
	phase, err = p.next.Illumination(ctx, unix)
	return phase, err
}
