// internal/pool/scheduler.go
package pool

import (
	"context"
	"errors"
	"log/slog"
	"time"

	gh "ecosystem-harvester/internal/github"
	"ecosystem-harvester/internal/model"
)

// RequestFunc performs one upstream request against the chosen credential's
// client and returns the quota snapshot observed on the response.
type RequestFunc func(ctx context.Context, c *gh.Client) (model.Quota, error)

// Scheduler executes requests against pool-selected credentials, applying
// the rotation, cooldown, and backoff strategies from the pool policy.
type Scheduler struct {
	pool   *Pool
	policy Policy
	logger *slog.Logger
}

// NewScheduler creates a scheduler over the given pool.
func NewScheduler(p *Pool, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		pool:   p,
		policy: p.policy,
		logger: logger,
	}
}

// Execute runs fn against a credential with quota for the category.
//
// Only credential selection is serialized; concurrent Execute calls may run
// their requests in parallel on different credentials. Failure handling:
//   - primary rate limit: mark the credential exhausted and rotate, bounded
//     by the number of credentials;
//   - abuse detection: sleep the cooldown (or upstream Retry-After), retry;
//   - other 4xx (including not-found and stats-not-ready): fail immediately;
//   - 5xx or transport error: linear backoff, bounded attempts.
//
// The last observed error is always surfaced to the caller.
func (s *Scheduler) Execute(ctx context.Context, cat model.Category, fn RequestFunc) error {
	var lastErr error
	rotations := 0
	attempt := 0

	for {
		cred, err := s.pool.Select(ctx, cat)
		if err != nil {
			if lastErr != nil {
				return lastErr
			}
			return err
		}

		quota, err := fn(ctx, cred.API)
		if err == nil {
			s.pool.RecordSuccess(cred, cat, quota)
			return nil
		}
		lastErr = err

		var rateErr *gh.RateLimitedError
		var abuseErr *gh.AbuseError
		switch {
		case errors.As(err, &rateErr):
			s.pool.MarkExhausted(cred, cat, rateErr.ResetAt)
			rotations++
			if rotations >= s.pool.Size() {
				return lastErr
			}
			s.logger.Warn("Rate limit hit, rotating credential",
				"category", cat, "credential", cred.ID, "reset_at", rateErr.ResetAt)

		case errors.As(err, &abuseErr):
			attempt++
			if attempt >= s.policy.MaxAttempts {
				return lastErr
			}
			cooldown := s.policy.AbuseCooldown
			if abuseErr.RetryAfter > 0 {
				cooldown = abuseErr.RetryAfter
			}
			s.logger.Warn("Abuse detection triggered, cooling down",
				"credential", cred.ID, "cooldown", cooldown.String())
			if err := sleepCtx(ctx, cooldown); err != nil {
				return err
			}

		case errors.Is(err, gh.ErrNotFound), errors.Is(err, gh.ErrStatsNotReady), gh.IsClientError(err):
			// The caller decides what a 4xx means for its unit of work.
			return err

		default:
			// Server error or transport failure.
			s.pool.RecordFailure(cred)
			attempt++
			if attempt >= s.policy.MaxAttempts {
				return lastErr
			}
			delay := s.policy.BackoffBase * time.Duration(attempt)
			s.logger.Warn("Request failed, backing off",
				"credential", cred.ID, "attempt", attempt, "delay", delay.String(), "error", err)
			if err := sleepCtx(ctx, delay); err != nil {
				return err
			}
		}
	}
}
