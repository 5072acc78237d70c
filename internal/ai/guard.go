package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	appErr "github.com/xxxsen/docrag/internal/pkg/errors"
)

type GuardConfig struct {
	Name string
	// MaxRetries is the number of extra attempts after the first failure.
	MaxRetries int
	RetryWait  time.Duration
	// RPM caps outbound requests per minute; 0 disables the limiter.
	RPM int
	// TripAfter opens the breaker after that many consecutive failures; 0 disables it.
	TripAfter int
}

type guardedChatter struct {
	next       IChatter
	name       string
	maxRetries int
	retryWait  time.Duration
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
}

// WrapGuard adds bounded retries, an optional rate limiter and an optional
// circuit breaker around a chatter.
func WrapGuard(next IChatter, cfg GuardConfig) IChatter {
	if next == nil {
		return nil
	}
	g := &guardedChatter{
		next:       next,
		name:       cfg.Name,
		maxRetries: cfg.MaxRetries,
		retryWait:  cfg.RetryWait,
	}
	if g.maxRetries < 0 {
		g.maxRetries = 0
	}
	if cfg.RPM > 0 {
		burst := cfg.RPM / 10
		if burst < 1 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(float64(cfg.RPM)/60.0), burst)
	}
	if cfg.TripAfter > 0 {
		tripAfter := uint32(cfg.TripAfter)
		g.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    cfg.Name,
			Timeout: 60 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= tripAfter
			},
			OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
				logutil.GetLogger(context.Background()).Warn("circuit breaker state changed",
					zap.String("name", name),
					zap.String("from", from.String()),
					zap.String("to", to.String()),
				)
			},
		})
	}
	return g
}

func (g *guardedChatter) Chat(ctx context.Context, messages []Message, opts *ChatOptions) (string, error) {
	logger := logutil.GetLogger(ctx).With(zap.String("chatter", g.name))
	var lastErr error
	attempts := 0
	for attempt := 0; attempt <= g.maxRetries; attempt++ {
		if attempt > 0 {
			logger.Warn("retrying chat call", zap.Int("attempt", attempt+1), zap.Error(lastErr))
			if err := sleepContext(ctx, g.retryWait); err != nil {
				return "", err
			}
		}
		if g.limiter != nil {
			if err := g.limiter.Wait(ctx); err != nil {
				return "", err
			}
		}
		attempts++
		res, err := g.call(ctx, messages, opts)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if !retryable(err) {
			break
		}
	}
	return "", fmt.Errorf("chat failed after %d attempts: %w", attempts, lastErr)
}

func (g *guardedChatter) call(ctx context.Context, messages []Message, opts *ChatOptions) (string, error) {
	if g.breaker == nil {
		return g.next.Chat(ctx, messages, opts)
	}
	res, err := g.breaker.Execute(func() (interface{}, error) {
		return g.next.Chat(ctx, messages, opts)
	})
	if err != nil {
		return "", err
	}
	return res.(string), nil
}

// retryable reports whether err is worth another attempt. Replies carrying
// an HTTP status are retried only on 429 and 5xx; transport errors without a
// status are retried.
func retryable(err error) bool {
	switch {
	case errors.Is(err, ErrUnavailable),
		errors.Is(err, appErr.ErrInvalid),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, gobreaker.ErrOpenState),
		errors.Is(err, gobreaker.ErrTooManyRequests):
		return false
	}
	if code, ok := statusCode(err); ok {
		return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
	}
	return true
}

func statusCode(err error) (int, bool) {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code, true
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return apiErrPtr.Code, true
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Code, true
	}
	return 0, false
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
