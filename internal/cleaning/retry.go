package cleaning

import (
	"context"

	"github.com/MrWong99/personaset/internal/resilience"
)

// retrying re-runs a cleaner call that failed with a transient error.
type retrying struct {
	next TextCleaner
	cfg  resilience.RetryConfig
}

// WithRetry wraps c so that each call is retried with backoff per cfg. Errors
// marked [resilience.Permanent] and context cancellation are not retried.
// With cfg.MaxAttempts of one, c is returned unwrapped.
func WithRetry(c TextCleaner, cfg resilience.RetryConfig) TextCleaner {
	if cfg.MaxAttempts == 1 {
		return c
	}
	return &retrying{next: c, cfg: cfg}
}

func (r *retrying) CleanText(ctx context.Context, instruction, text string) (string, error) {
	var out string
	err := resilience.Retry(ctx, r.cfg, func(ctx context.Context) error {
		var err error
		out, err = r.next.CleanText(ctx, instruction, text)
		return err
	})
	if err != nil {
		return "", err
	}
	return out, nil
}
