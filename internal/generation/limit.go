package generation

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Limited wraps a Generator with a token-bucket rate limit and a per-call
// timeout. A timeout surfaces as *Error wrapping context.DeadlineExceeded.
type Limited struct {
	next    Generator
	limiter *rate.Limiter
	timeout time.Duration
}

// NewLimited returns next unchanged in behaviour when rps <= 0 and timeout <= 0.
func NewLimited(next Generator, rps float64, burst int, timeout time.Duration) *Limited {
	var limiter *rate.Limiter
	if rps > 0 {
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
	return &Limited{next: next, limiter: limiter, timeout: timeout}
}

func (l *Limited) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}
	if l.limiter != nil {
		if err := l.limiter.Wait(ctx); err != nil {
			return "", Wrap(err, "waiting for generation slot")
		}
	}
	text, err := l.next.Generate(ctx, systemPrompt, userPrompt)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", Wrap(ctxErr, "generation call")
		}
		return "", Wrap(err, "generation call")
	}
	return text, nil
}
