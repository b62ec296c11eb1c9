package producer

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// #region constants

const DefaultRetries = 2 // 2 retries = 3 total attempts

// #endregion

// #region retrying

// RetryConfig bounds retries of a failing producer.
type RetryConfig struct {
	MaxRetries int
	Delay      time.Duration
}

// Retrying re-invokes a producer after a failure. Context cancellation stops
// the loop immediately.
type Retrying struct {
	next   TextProducer
	config RetryConfig
	logger *zap.Logger
}

// NewRetrying wraps next.
func NewRetrying(next TextProducer, config RetryConfig, logger *zap.Logger) *Retrying {
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retrying{next: next, config: config, logger: logger.Named("producer")}
}

// ProduceText returns the first successful result or the last error.
func (r *Retrying) ProduceText(ctx context.Context, messages []Message) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= r.config.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := r.wait(ctx); err != nil {
				return "", fmt.Errorf("retry aborted after %d attempts: %w", attempt, lastErr)
			}
		}
		text, err := r.next.ProduceText(ctx, messages)
		if err == nil {
			return text, nil
		}
		lastErr = err
		r.logger.Warn("produce attempt failed",
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", r.config.MaxRetries+1),
			zap.Error(err),
		)
		if ctx.Err() != nil {
			break
		}
	}
	return "", fmt.Errorf("produce failed after retries: %w", lastErr)
}

func (r *Retrying) wait(ctx context.Context) error {
	if r.config.Delay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(r.config.Delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// #endregion
