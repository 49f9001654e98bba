// internal/pool/scheduler_test.go
package pool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gh "ecosystem-harvester/internal/github"
	"ecosystem-harvester/internal/model"
)

// newTestPool builds a pool of seeded credentials that never need probing.
func newTestPool(t *testing.T, ids ...string) (*Pool, []*Credential) {
	t.Helper()
	creds := make([]*Credential, 0, len(ids))
	for _, id := range ids {
		cred := NewCredential(id, nil)
		seedQuota(cred, model.CategoryCore, 100, time.Now().Add(time.Hour))
		seedQuota(cred, model.CategorySearch, 100, time.Now().Add(time.Hour))
		creds = append(creds, cred)
	}
	p, err := New(creds, testPolicy(), testLogger())
	require.NoError(t, err)
	return p, creds
}

func freshQuota(remaining int) model.Quota {
	return model.Quota{
		Remaining: remaining,
		Limit:     5000,
		ResetAt:   time.Now().Add(time.Hour),
		FetchedAt: time.Now(),
	}
}

func TestScheduler_Execute_Success(t *testing.T) {
	p, creds := newTestPool(t, "a")
	s := NewScheduler(p, testLogger())

	calls := 0
	err := s.Execute(context.Background(), model.CategoryCore, func(ctx context.Context, c *gh.Client) (model.Quota, error) {
		calls++
		return freshQuota(99), nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 99, p.Snapshot(creds[0], model.CategoryCore).Remaining)
}

func TestScheduler_Execute_RotatesOnRateLimit(t *testing.T) {
	p, creds := newTestPool(t, "a", "b")
	s := NewScheduler(p, testLogger())

	var used []*gh.Client
	err := s.Execute(context.Background(), model.CategoryCore, func(ctx context.Context, c *gh.Client) (model.Quota, error) {
		used = append(used, c)
		if len(used) == 1 {
			return model.Quota{}, &gh.RateLimitedError{
				Category: model.CategoryCore,
				ResetAt:  time.Now().Add(time.Hour),
			}
		}
		return freshQuota(50), nil
	})

	require.NoError(t, err)
	require.Len(t, used, 2)
	// The rate-limited credential is marked exhausted for the category.
	assert.Equal(t, 0, p.Snapshot(creds[0], model.CategoryCore).Remaining)
	assert.Equal(t, 50, p.Snapshot(creds[1], model.CategoryCore).Remaining)
}

func TestScheduler_Execute_RotationBoundedByPoolSize(t *testing.T) {
	p, _ := newTestPool(t, "a", "b")
	s := NewScheduler(p, testLogger())

	rateErr := &gh.RateLimitedError{Category: model.CategoryCore, ResetAt: time.Now().Add(time.Hour)}
	calls := 0
	err := s.Execute(context.Background(), model.CategoryCore, func(ctx context.Context, c *gh.Client) (model.Quota, error) {
		calls++
		return model.Quota{}, rateErr
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, rateErr)
	assert.Equal(t, 2, calls, "one attempt per credential")
}

func TestScheduler_Execute_CoolsDownOnAbuse(t *testing.T) {
	p, _ := newTestPool(t, "a")
	s := NewScheduler(p, testLogger())

	calls := 0
	start := time.Now()
	err := s.Execute(context.Background(), model.CategoryCore, func(ctx context.Context, c *gh.Client) (model.Quota, error) {
		calls++
		if calls == 1 {
			return model.Quota{}, &gh.AbuseError{RetryAfter: 30 * time.Millisecond}
		}
		return freshQuota(10), nil
	})
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.GreaterOrEqual(t, elapsed, 30*time.Millisecond, "must honor the cooldown before retrying")
}

func TestScheduler_Execute_FailsFastOnClientError(t *testing.T) {
	p, _ := newTestPool(t, "a", "b")
	s := NewScheduler(p, testLogger())

	apiErr := &gh.APIError{StatusCode: 422, Message: "validation failed"}
	calls := 0
	err := s.Execute(context.Background(), model.CategoryCore, func(ctx context.Context, c *gh.Client) (model.Quota, error) {
		calls++
		return model.Quota{}, apiErr
	})

	assert.ErrorIs(t, err, apiErr)
	assert.Equal(t, 1, calls, "4xx must not be retried")
}

func TestScheduler_Execute_PassesThroughNotFound(t *testing.T) {
	p, _ := newTestPool(t, "a")
	s := NewScheduler(p, testLogger())

	calls := 0
	err := s.Execute(context.Background(), model.CategoryCore, func(ctx context.Context, c *gh.Client) (model.Quota, error) {
		calls++
		return model.Quota{}, gh.ErrNotFound
	})

	assert.ErrorIs(t, err, gh.ErrNotFound)
	assert.Equal(t, 1, calls)
}

func TestScheduler_Execute_RetriesServerErrorsWithBackoff(t *testing.T) {
	p, creds := newTestPool(t, "a")
	s := NewScheduler(p, testLogger())

	serverErr := &gh.APIError{StatusCode: 503, Message: "unavailable"}
	calls := 0
	start := time.Now()
	err := s.Execute(context.Background(), model.CategoryCore, func(ctx context.Context, c *gh.Client) (model.Quota, error) {
		calls++
		return model.Quota{}, serverErr
	})
	elapsed := time.Since(start)

	assert.ErrorIs(t, err, serverErr, "the last observed error surfaces")
	assert.Equal(t, testPolicy().MaxAttempts, calls)
	// Linear backoff: base×1 + base×2 between the three attempts.
	assert.GreaterOrEqual(t, elapsed, 15*time.Millisecond)
	assert.Equal(t, 3, creds[0].consecutiveErrors)
}

func TestScheduler_Execute_RecoversAfterTransientServerError(t *testing.T) {
	p, creds := newTestPool(t, "a")
	s := NewScheduler(p, testLogger())

	calls := 0
	err := s.Execute(context.Background(), model.CategoryCore, func(ctx context.Context, c *gh.Client) (model.Quota, error) {
		calls++
		if calls == 1 {
			return model.Quota{}, &gh.APIError{StatusCode: 500, Message: "boom"}
		}
		return freshQuota(80), nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 0, creds[0].consecutiveErrors, "success clears the error counter")
}
