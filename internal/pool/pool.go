// internal/pool/pool.go
package pool

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	gh "ecosystem-harvester/internal/github"
	"ecosystem-harvester/internal/model"
)

// ErrNoHealthyCredentials is returned when every credential in the pool has
// been marked unhealthy and none can serve a request.
var ErrNoHealthyCredentials = errors.New("pool: no healthy credentials available")

// Policy holds the tunables for credential selection and request retries.
type Policy struct {
	// FreshnessWindow is how long a quota snapshot is trusted before a live
	// probe is required.
	FreshnessWindow time.Duration
	// ResetMargin is the extra wait applied after a quota reset time.
	ResetMargin time.Duration
	// AbuseCooldown is the fixed sleep after a secondary rate-limit signal
	// when the response carried no Retry-After hint.
	AbuseCooldown time.Duration
	// BackoffBase is the linear backoff unit for server errors
	// (delay = BackoffBase × attempt number).
	BackoffBase time.Duration
	// MaxAttempts bounds server-error and abuse retries.
	MaxAttempts int
	// UnhealthyThreshold is the consecutive-error count after which a
	// credential is skipped during selection.
	UnhealthyThreshold int
	// RehabilitateAfter is how long an unhealthy credential stays excluded
	// before it is given another chance.
	RehabilitateAfter time.Duration
}

// DefaultPolicy returns the production policy values.
func DefaultPolicy() Policy {
	return Policy{
		FreshnessWindow:    60 * time.Second,
		ResetMargin:        2 * time.Second,
		AbuseCooldown:      60 * time.Second,
		BackoffBase:        2 * time.Second,
		MaxAttempts:        3,
		UnhealthyThreshold: 3,
		RehabilitateAfter:  10 * time.Minute,
	}
}

// Credential is one pooled API token with its client and quota bookkeeping.
// All mutable state is owned by the Pool and guarded by its mutex.
type Credential struct {
	ID  string
	API *gh.Client

	quotas            map[model.Category]model.Quota
	consecutiveErrors int
	unhealthySince    time.Time
	lastUsedAt        time.Time
}

// NewCredential wraps an authenticated client as a pool credential.
func NewCredential(id string, api *gh.Client) *Credential {
	return &Credential{
		ID:     id,
		API:    api,
		quotas: make(map[model.Category]model.Quota),
	}
}

// Pool owns a fixed set of credentials and serializes selection decisions.
type Pool struct {
	mu     sync.Mutex
	creds  []*Credential
	last   int
	policy Policy
	logger *slog.Logger
}

// New creates a credential pool. At least one credential is required.
func New(creds []*Credential, policy Policy, logger *slog.Logger) (*Pool, error) {
	if len(creds) == 0 {
		return nil, errors.New("pool: at least one credential is required")
	}
	return &Pool{
		creds:  creds,
		last:   len(creds) - 1, // first selection starts at index 0
		policy: policy,
		logger: logger,
	}, nil
}

// Size returns the number of pooled credentials.
func (p *Pool) Size() int {
	return len(p.creds)
}

// Select picks a credential with remaining quota for the given category.
// Credentials are scanned round-robin starting after the last selection;
// unhealthy ones are skipped, stale or expired quota snapshots are refreshed
// with a live probe before being trusted. When every healthy credential is
// exhausted, Select blocks until the earliest reset (plus margin) and
// retries. The selection decision runs under the pool mutex so only one is
// in flight at a time; the exhaustion wait releases it so selections for
// other categories are not stalled behind this one.
func (p *Pool) Select(ctx context.Context, cat model.Category) (*Credential, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if cred := p.scanLocked(ctx, cat); cred != nil {
			return cred, nil
		}

		waitCred, resetAt := p.earliestResetLocked(cat)
		if waitCred == nil {
			return nil, ErrNoHealthyCredentials
		}

		wait := time.Until(resetAt.Add(p.policy.ResetMargin))
		if wait <= 0 {
			wait = p.policy.ResetMargin
		}
		p.logger.Warn("All credentials exhausted, waiting for quota reset",
			"category", cat, "credential", waitCred.ID, "wait", wait.Round(time.Second).String())

		// State may change while the mutex is released, so the loop
		// re-scans from scratch after the wait; the scan probes the
		// now-past-reset snapshot before trusting it.
		p.mu.Unlock()
		err := sleepCtx(ctx, wait)
		p.mu.Lock()
		if err != nil {
			return nil, err
		}
	}
}

// scanLocked makes one round-robin pass and returns the first credential with
// remaining quota, or nil when all healthy credentials are exhausted.
func (p *Pool) scanLocked(ctx context.Context, cat model.Category) *Credential {
	n := len(p.creds)
	for i := 1; i <= n; i++ {
		cred := p.creds[(p.last+i)%n]
		if !p.healthyLocked(cred) {
			continue
		}

		q, ok := cred.quotas[cat]
		needsProbe := !ok ||
			time.Since(q.FetchedAt) > p.policy.FreshnessWindow ||
			(q.Remaining == 0 && time.Now().After(q.ResetAt))
		if needsProbe {
			if err := p.refreshLocked(ctx, cred); err != nil {
				p.logger.Warn("Quota probe failed", "credential", cred.ID, "error", err)
				p.recordFailureLocked(cred)
				continue
			}
			q = cred.quotas[cat]
		}

		if q.Remaining > 0 {
			p.markSelectedLocked(cred)
			return cred
		}
	}
	return nil
}

// earliestResetLocked returns the healthy credential whose quota resets
// soonest for the category.
func (p *Pool) earliestResetLocked(cat model.Category) (*Credential, time.Time) {
	var best *Credential
	var bestReset time.Time
	for _, cred := range p.creds {
		if !p.healthyLocked(cred) {
			continue
		}
		reset := cred.quotas[cat].ResetAt
		if best == nil || reset.Before(bestReset) {
			best, bestReset = cred, reset
		}
	}
	return best, bestReset
}

func (p *Pool) markSelectedLocked(cred *Credential) {
	for i, c := range p.creds {
		if c == cred {
			p.last = i
			break
		}
	}
	cred.lastUsedAt = time.Now()
}

// healthyLocked reports whether a credential may be selected. Unhealthy
// credentials regain eligibility after the rehabilitation timeout; a further
// failure restarts the timer.
func (p *Pool) healthyLocked(cred *Credential) bool {
	if cred.consecutiveErrors < p.policy.UnhealthyThreshold {
		return true
	}
	return time.Since(cred.unhealthySince) >= p.policy.RehabilitateAfter
}

// refreshLocked replaces a credential's quota table with a live probe.
// A successful probe also clears the consecutive-error counter.
func (p *Pool) refreshLocked(ctx context.Context, cred *Credential) error {
	quotas, err := cred.API.Quotas(ctx)
	if err != nil {
		return err
	}
	cred.quotas = quotas
	cred.consecutiveErrors = 0
	cred.unhealthySince = time.Time{}
	return nil
}

func (p *Pool) recordFailureLocked(cred *Credential) {
	cred.consecutiveErrors++
	if cred.consecutiveErrors >= p.policy.UnhealthyThreshold {
		cred.unhealthySince = time.Now()
	}
}

// RecordSuccess stores the quota observed on a successful response and clears
// the credential's error counter.
func (p *Pool) RecordSuccess(cred *Credential, cat model.Category, q model.Quota) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if q.FetchedAt.IsZero() {
		// No rate headers on the response; decrement the local snapshot.
		q = cred.quotas[cat]
		if q.Remaining > 0 {
			q.Remaining--
		}
	}
	cred.quotas[cat] = q
	cred.consecutiveErrors = 0
	cred.unhealthySince = time.Time{}
}

// RecordFailure increments the credential's consecutive-error counter.
func (p *Pool) RecordFailure(cred *Credential) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.recordFailureLocked(cred)
}

// MarkExhausted zeroes a credential's quota for the category after an
// explicit rate-limit response.
func (p *Pool) MarkExhausted(cred *Credential, cat model.Category, resetAt time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()

	q := cred.quotas[cat]
	q.Remaining = 0
	q.FetchedAt = time.Now()
	if !resetAt.IsZero() {
		q.ResetAt = resetAt
	}
	cred.quotas[cat] = q
}

// Snapshot returns a copy of the credential's quota for the category.
func (p *Pool) Snapshot(cred *Credential, cat model.Category) model.Quota {
	p.mu.Lock()
	defer p.mu.Unlock()
	return cred.quotas[cat]
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
