package llm

import (
	"context"

	"golang.org/x/time/rate"
)

// rateLimited wraps a Provider with a shared token bucket so chat and embed
// traffic together respect the provider's request-per-second budget.
type rateLimited struct {
	inner   Provider
	limiter *rate.Limiter
}

// WithRateLimit caps outgoing provider calls at rps with the given burst.
// rps <= 0 disables limiting and returns the provider unchanged.
func WithRateLimit(p Provider, rps float64, burst int) Provider {
	if rps <= 0 {
		return p
	}
	if burst <= 0 {
		burst = 1
	}
	return &rateLimited{inner: p, limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

func (r *rateLimited) Name() string { return r.inner.Name() }

func (r *rateLimited) Chat(ctx context.Context, req ChatRequest) (string, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return "", err
	}
	return r.inner.Chat(ctx, req)
}

func (r *rateLimited) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return r.inner.Embed(ctx, texts)
}
