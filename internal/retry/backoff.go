package retry

import (
	"context"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config controls exponential backoff behavior for one class of network call.
type Config struct {
	MaxRetries int           `koanf:"max_retries"` // retries after the first attempt
	BaseDelay  time.Duration `koanf:"base_delay"`  // delay before the first retry
	MaxDelay   time.Duration `koanf:"max_delay"`   // cap on any single delay
	Multiplier float64       `koanf:"multiplier"`  // exponential growth factor
	Jitter     bool          `koanf:"jitter"`      // randomize delays to avoid thundering herd
	LogRetries bool          `koanf:"log_retries"` // log each attempt and delay
}

// Result describes how a retried operation ended.
type Result struct {
	Attempts      int
	TotalDuration time.Duration
	LastError     error
	Success       bool
	RetryReasons  []string
}

// PublishConfig is the fast schedule used for post-publish calls:
// 5 total attempts, 500ms base delay, doubling.
func PublishConfig() Config {
	return Config{
		MaxRetries: 4,
		BaseDelay:  500 * time.Millisecond,
		MaxDelay:   30 * time.Second,
		Multiplier: 2.0,
		Jitter:     false,
		LogRetries: true,
	}
}

// GenerateConfig is the slow schedule used for generation calls:
// 5 total attempts, 1s base delay, doubling. Rate-limit responses land here.
func GenerateConfig() Config {
	return Config{
		MaxRetries: 4,
		BaseDelay:  1 * time.Second,
		MaxDelay:   60 * time.Second,
		Multiplier: 2.0,
		Jitter:     false,
		LogRetries: true,
	}
}

// Do executes operation with exponential backoff, up to MaxRetries+1 attempts.
// classify reports whether an error is worth retrying; a nil classify means
// IsRetryableError. Non-retryable errors surface immediately without backing
// off. The last error is preserved in the result, never swallowed.
func Do(ctx context.Context, cfg Config, operation func() error, classify func(error) bool, logger zerolog.Logger) Result {
	if classify == nil {
		classify = IsRetryableError
	}

	startTime := time.Now()

	result := Result{
		RetryReasons: make([]string, 0),
	}

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		result.Attempts = attempt + 1

		err := operation()
		if err == nil {
			result.Success = true
			result.TotalDuration = time.Since(startTime)
			if cfg.LogRetries && attempt > 0 {
				logger.Info().
					Int("retries", attempt).
					Dur("total_duration", result.TotalDuration).
					Msg("operation succeeded after retries")
			}
			return result
		}

		result.LastError = err
		result.RetryReasons = append(result.RetryReasons, err.Error())

		if !classify(err) {
			result.TotalDuration = time.Since(startTime)
			if cfg.LogRetries {
				logger.Error().
					Err(err).
					Int("attempts", result.Attempts).
					Msg("operation failed with non-retryable error, giving up")
			}
			return result
		}

		if attempt >= cfg.MaxRetries {
			result.TotalDuration = time.Since(startTime)
			if cfg.LogRetries {
				logger.Error().
					Err(err).
					Int("attempts", result.Attempts).
					Dur("total_duration", result.TotalDuration).
					Msg("operation failed after final attempt")
			}
			return result
		}

		if ctx.Err() != nil {
			result.LastError = ctx.Err()
			result.TotalDuration = time.Since(startTime)
			return result
		}

		delay := calculateDelay(cfg, attempt)
		if cfg.LogRetries {
			logger.Warn().
				Err(err).
				Int("attempt", attempt+1).
				Int("max_attempts", cfg.MaxRetries+1).
				Dur("delay", delay).
				Msg("operation failed, backing off before retry")
		}

		select {
		case <-ctx.Done():
			result.LastError = ctx.Err()
			result.TotalDuration = time.Since(startTime)
			if cfg.LogRetries {
				logger.Warn().Err(ctx.Err()).Msg("operation cancelled during backoff delay")
			}
			return result
		case <-time.After(delay):
		}
	}

	result.TotalDuration = time.Since(startTime)
	return result
}

// calculateDelay computes baseDelay * multiplier^attempt, capped at MaxDelay,
// with optional +-10% jitter.
func calculateDelay(cfg Config, attempt int) time.Duration {
	delay := float64(cfg.BaseDelay) * math.Pow(cfg.Multiplier, float64(attempt))

	if delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}

	if cfg.Jitter {
		jitterRange := delay * 0.1
		delay += (rand.Float64() - 0.5) * 2 * jitterRange
		if delay < 0 {
			delay = float64(cfg.BaseDelay)
		}
	}

	return time.Duration(delay)
}

// IsRetryableError reports whether an error looks transient enough to retry.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())

	retryable := []string{
		"connection refused",
		"connection reset",
		"connection timeout",
		"timeout",
		"temporary failure",
		"service unavailable",
		"too many requests",
		"rate limit",
		"429",
		"502",
		"503",
		"504",
		"no such host",
		"network unreachable",
		"broken pipe",
		"context deadline exceeded",
	}

	for _, s := range retryable {
		if strings.Contains(errStr, s) {
			return true
		}
	}

	return false
}

// IsRateLimitError reports whether an error is a rate-limit response. The
// generation path treats these identically to other transient errors but logs
// them distinctly for operability.
func IsRateLimitError(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "too many requests") ||
		strings.Contains(errStr, "resource_exhausted") ||
		strings.Contains(errStr, "quota")
}
