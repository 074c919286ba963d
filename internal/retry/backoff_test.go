package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestPublishConfig(t *testing.T) {
	cfg := PublishConfig()

	if cfg.MaxRetries != 4 {
		t.Errorf("Expected MaxRetries=4, got %d", cfg.MaxRetries)
	}

	if cfg.BaseDelay != 500*time.Millisecond {
		t.Errorf("Expected BaseDelay=500ms, got %v", cfg.BaseDelay)
	}

	if cfg.Multiplier != 2.0 {
		t.Errorf("Expected Multiplier=2.0, got %f", cfg.Multiplier)
	}

	if cfg.Jitter {
		t.Error("Expected Jitter=false for a deterministic publish schedule")
	}
}

func TestGenerateConfig(t *testing.T) {
	cfg := GenerateConfig()

	if cfg.MaxRetries != 4 {
		t.Errorf("Expected MaxRetries=4, got %d", cfg.MaxRetries)
	}

	if cfg.BaseDelay != time.Second {
		t.Errorf("Expected BaseDelay=1s, got %v", cfg.BaseDelay)
	}

	if cfg.MaxDelay != 60*time.Second {
		t.Errorf("Expected MaxDelay=60s, got %v", cfg.MaxDelay)
	}
}

func TestDo_FirstAttemptSuccess(t *testing.T) {
	cfg := Config{
		MaxRetries: 2,
		BaseDelay:  10 * time.Millisecond,
		MaxDelay:   100 * time.Millisecond,
		Multiplier: 2.0,
	}

	result := Do(context.Background(), cfg, func() error {
		return nil
	}, nil, zerolog.Nop())

	if !result.Success {
		t.Error("Expected success=true")
	}

	if result.Attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", result.Attempts)
	}

	if result.LastError != nil {
		t.Errorf("Expected no error, got %v", result.LastError)
	}

	if len(result.RetryReasons) != 0 {
		t.Errorf("Expected no retry reasons, got %d", len(result.RetryReasons))
	}
}

func TestDo_EventualSuccess(t *testing.T) {
	cfg := Config{
		MaxRetries: 3,
		BaseDelay:  10 * time.Millisecond,
		MaxDelay:   100 * time.Millisecond,
		Multiplier: 2.0,
	}

	attempts := 0
	result := Do(context.Background(), cfg, func() error {
		attempts++
		if attempts < 3 {
			return errors.New("temporary failure")
		}
		return nil
	}, nil, zerolog.Nop())

	if !result.Success {
		t.Error("Expected success=true")
	}

	if result.Attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", result.Attempts)
	}

	if len(result.RetryReasons) != 2 {
		t.Errorf("Expected 2 retry reasons, got %d", len(result.RetryReasons))
	}

	if result.TotalDuration == 0 {
		t.Error("Expected non-zero total duration")
	}
}

func TestDo_AllAttemptsFail(t *testing.T) {
	cfg := Config{
		MaxRetries: 2,
		BaseDelay:  10 * time.Millisecond,
		MaxDelay:   100 * time.Millisecond,
		Multiplier: 2.0,
	}

	expectedErr := errors.New("503 service unavailable")
	result := Do(context.Background(), cfg, func() error {
		return expectedErr
	}, nil, zerolog.Nop())

	if result.Success {
		t.Error("Expected success=false")
	}

	if result.Attempts != 3 { // MaxRetries + 1
		t.Errorf("Expected 3 attempts, got %d", result.Attempts)
	}

	if result.LastError != expectedErr {
		t.Errorf("Expected last error %v, got %v", expectedErr, result.LastError)
	}
}

func TestDo_NonRetryableErrorFailsFast(t *testing.T) {
	cfg := Config{
		MaxRetries: 4,
		BaseDelay:  time.Second,
		MaxDelay:   30 * time.Second,
		Multiplier: 2.0,
	}

	attempts := 0
	start := time.Now()
	result := Do(context.Background(), cfg, func() error {
		attempts++
		return errors.New("HTTP 401 Unauthorized")
	}, nil, zerolog.Nop())

	if result.Success {
		t.Error("Expected success=false")
	}

	if attempts != 1 {
		t.Errorf("Expected exactly 1 attempt for a non-retryable error, got %d", attempts)
	}

	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("Expected no backoff sleep for a non-retryable error, took %v", elapsed)
	}

	if result.LastError == nil {
		t.Error("Expected the non-retryable error to be preserved")
	}
}

func TestDo_CustomClassifierOverridesDefault(t *testing.T) {
	cfg := Config{
		MaxRetries: 2,
		BaseDelay:  time.Millisecond,
		MaxDelay:   10 * time.Millisecond,
		Multiplier: 2.0,
	}

	// "invalid input" is non-retryable by default; a permissive classifier
	// must still drive the full schedule.
	attempts := 0
	result := Do(context.Background(), cfg, func() error {
		attempts++
		return errors.New("invalid input")
	}, func(error) bool { return true }, zerolog.Nop())

	if result.Success {
		t.Error("Expected success=false")
	}

	if attempts != 3 {
		t.Errorf("Expected 3 attempts with a permissive classifier, got %d", attempts)
	}
}

func TestDo_ContextCancellation(t *testing.T) {
	cfg := Config{
		MaxRetries: 5,
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   time.Second,
		Multiplier: 2.0,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	result := Do(ctx, cfg, func() error {
		return errors.New("connection timeout")
	}, nil, zerolog.Nop())

	if result.Success {
		t.Error("Expected success=false due to context cancellation")
	}

	if result.LastError != context.DeadlineExceeded {
		t.Errorf("Expected context.DeadlineExceeded, got %v", result.LastError)
	}

	if result.Attempts > 2 {
		t.Errorf("Expected few attempts due to quick timeout, got %d", result.Attempts)
	}
}

func TestCalculateDelay_DoublingSchedule(t *testing.T) {
	cfg := Config{
		BaseDelay:  500 * time.Millisecond,
		MaxDelay:   30 * time.Second,
		Multiplier: 2.0,
	}

	delays := []time.Duration{
		calculateDelay(cfg, 0),
		calculateDelay(cfg, 1),
		calculateDelay(cfg, 2),
		calculateDelay(cfg, 3),
	}

	expected := []time.Duration{
		500 * time.Millisecond,
		time.Second,
		2 * time.Second,
		4 * time.Second,
	}

	for i := range expected {
		if delays[i] != expected[i] {
			t.Errorf("Expected delay %d to be %v, got %v", i, expected[i], delays[i])
		}
	}

	// Delays must be strictly increasing with no jitter.
	for i := 1; i < len(delays); i++ {
		if delays[i] <= delays[i-1] {
			t.Errorf("Expected strictly increasing delays, got %v then %v", delays[i-1], delays[i])
		}
	}
}

func TestCalculateDelay_MaxDelayCap(t *testing.T) {
	cfg := Config{
		BaseDelay:  time.Second,
		MaxDelay:   10 * time.Second,
		Multiplier: 2.0,
	}

	if d := calculateDelay(cfg, 10); d != 10*time.Second {
		t.Errorf("Expected capped delay of 10s, got %v", d)
	}
}

func TestCalculateDelay_WithJitter(t *testing.T) {
	cfg := Config{
		BaseDelay:  time.Second,
		MaxDelay:   10 * time.Second,
		Multiplier: 2.0,
		Jitter:     true,
	}

	expectedBase := 2 * time.Second
	tolerance := 200 * time.Millisecond // 10% of 2s

	a := calculateDelay(cfg, 1)
	b := calculateDelay(cfg, 1)
	c := calculateDelay(cfg, 1)

	if abs(a-expectedBase) > tolerance {
		t.Errorf("delay %v too far from expected %v", a, expectedBase)
	}

	if a == b && b == c {
		t.Error("Expected some variation with jitter enabled")
	}
}

func TestIsRetryableError(t *testing.T) {
	retryable := []error{
		errors.New("connection refused"),
		errors.New("connection timeout"),
		errors.New("temporary failure"),
		errors.New("HTTP 429 Too Many Requests"),
		errors.New("HTTP 502 Bad Gateway"),
		errors.New("HTTP 503 Service Unavailable"),
		errors.New("context deadline exceeded"),
	}

	for _, err := range retryable {
		if !IsRetryableError(err) {
			t.Errorf("Expected %v to be retryable", err)
		}
	}

	nonRetryable := []error{
		errors.New("invalid input"),
		errors.New("permission denied"),
		errors.New("HTTP 400 Bad Request"),
		errors.New("HTTP 401 Unauthorized"),
		errors.New("HTTP 404 Not Found"),
	}

	for _, err := range nonRetryable {
		if IsRetryableError(err) {
			t.Errorf("Expected %v to NOT be retryable", err)
		}
	}

	if IsRetryableError(nil) {
		t.Error("Expected nil error to NOT be retryable")
	}
}

func TestIsRateLimitError(t *testing.T) {
	if !IsRateLimitError(errors.New("googleapi: Error 429: RESOURCE_EXHAUSTED")) {
		t.Error("Expected 429 quota error to be a rate-limit error")
	}

	if !IsRateLimitError(errors.New("rate limit exceeded, retry later")) {
		t.Error("Expected rate-limit text to be a rate-limit error")
	}

	if IsRateLimitError(errors.New("connection refused")) {
		t.Error("Expected connection error to NOT be a rate-limit error")
	}

	if IsRateLimitError(nil) {
		t.Error("Expected nil error to NOT be a rate-limit error")
	}
}

func abs(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
