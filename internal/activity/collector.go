// internal/activity/collector.go
package activity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	gh "ecosystem-harvester/internal/github"
	"ecosystem-harvester/internal/model"
	"ecosystem-harvester/internal/pool"
	"ecosystem-harvester/internal/runner"
	"ecosystem-harvester/internal/store"
)

// activityWindowWeeks is the trailing window of contributor weeks kept.
const activityWindowWeeks = 26

// Config holds the collector tunables. Zero values fall back to defaults.
type Config struct {
	Ecosystem      string
	PageSize       int
	BatchDelay     time.Duration
	StatsPollDelay time.Duration
	StatsMaxPolls  int
}

func (c Config) withDefaults() Config {
	if c.PageSize <= 0 {
		c.PageSize = 50
	}
	if c.BatchDelay <= 0 {
		c.BatchDelay = 5 * time.Second
	}
	if c.StatsPollDelay <= 0 {
		c.StatsPollDelay = 10 * time.Second
	}
	if c.StatsMaxPolls <= 0 {
		c.StatsMaxPolls = 5
	}
	return c
}

// Report summarizes one collection run.
type Report struct {
	Processed int
	Errors    int
}

// Collector pages through known repositories and harvests per-contributor
// weekly statistics. One run at a time; overlapping triggers are rejected.
type Collector struct {
	sched  *pool.Scheduler
	db     store.Store
	logger *slog.Logger
	cfg    Config
	guard  runner.Guard
	now    func() time.Time
}

// NewCollector creates an activity collector.
func NewCollector(sched *pool.Scheduler, db store.Store, logger *slog.Logger, cfg Config) *Collector {
	return &Collector{
		sched:  sched,
		db:     db,
		logger: logger,
		cfg:    cfg.withDefaults(),
		now:    time.Now,
	}
}

// Running reports whether a collection run is active.
func (c *Collector) Running() bool {
	return c.guard.Running()
}

// Start launches a run in the background. Returns runner.ErrAlreadyRunning
// if one is active.
func (c *Collector) Start(ctx context.Context, backfill bool) error {
	if err := c.guard.TryBegin(); err != nil {
		return err
	}
	go func() {
		defer c.guard.End()
		c.run(ctx, backfill)
	}()
	return nil
}

// Run executes a collection run synchronously. Returns
// runner.ErrAlreadyRunning if one is active.
func (c *Collector) Run(ctx context.Context, backfill bool) (Report, error) {
	if err := c.guard.TryBegin(); err != nil {
		return Report{}, err
	}
	defer c.guard.End()
	return c.run(ctx, backfill), ctx.Err()
}

// run pages repositories (newest first, or zero-activity in backfill mode)
// with a fixed inter-batch delay. Per-repository failures are logged and
// counted; they never stop the batch.
func (c *Collector) run(ctx context.Context, backfill bool) Report {
	start := c.now()
	c.logger.Info("Starting activity collection run", "ecosystem", c.cfg.Ecosystem, "backfill", backfill)

	var report Report
	offset := 0
	for ctx.Err() == nil {
		var repos []model.Repository
		var err error
		if backfill {
			repos, err = c.db.ListRepositoriesWithoutActivity(ctx, c.cfg.Ecosystem, c.cfg.PageSize, offset)
		} else {
			repos, err = c.db.ListRepositoriesByEcosystem(ctx, c.cfg.Ecosystem, c.cfg.PageSize, offset)
		}
		if err != nil {
			c.logger.Error("Failed to list repositories", "offset", offset, "error", err)
			report.Errors++
			break
		}
		if len(repos) == 0 {
			break
		}

		// Repositories that gain activity rows leave the zero-activity
		// result set, shifting the rest of the backlog down. The backfill
		// offset advances only past the ones still in it.
		remaining := 0
		for _, repo := range repos {
			if ctx.Err() != nil {
				break
			}
			if repo.IsClosedSource {
				remaining++
				continue
			}
			gained, err := c.collectRepository(ctx, repo, &report)
			if err != nil {
				c.logger.Error("Failed to collect repository activity",
					"owner", repo.Owner, "repo", repo.Name, "error", err)
				report.Errors++
				remaining++
				continue
			}
			report.Processed++
			if !gained {
				remaining++
			}
		}

		if len(repos) < c.cfg.PageSize {
			break
		}
		if backfill {
			offset += remaining
		} else {
			offset += c.cfg.PageSize
		}
		if err := sleepCtx(ctx, c.cfg.BatchDelay); err != nil {
			break
		}
	}

	c.logger.Info("Activity collection run finished", "processed", report.Processed,
		"errors", report.Errors, "duration", time.Since(start).Round(time.Second).String())
	return report
}

// collectRepository harvests one repository's contributor weeks and reports
// whether any activity rows were written. A 404 on the repository itself is
// terminal: the record is marked closed-source and skipped from then on.
func (c *Collector) collectRepository(ctx context.Context, repo model.Repository, report *Report) (bool, error) {
	logger := c.logger.With("owner", repo.Owner, "repo", repo.Name)

	stats, err := c.fetchStats(ctx, repo.Owner, repo.Name)
	if errors.Is(err, gh.ErrNotFound) {
		logger.Info("Repository no longer public, marking closed-source")
		return false, c.db.MarkClosedSource(ctx, repo.RepoID)
	}
	if err != nil {
		return false, err
	}

	cutoff := c.now().AddDate(0, 0, -activityWindowWeeks*7).Unix()
	var rows []model.Activity
	for _, contributor := range stats {
		weeks := recentWeeks(contributor.Weeks, cutoff)
		if len(weeks) == 0 {
			continue
		}
		dev, err := c.resolveDeveloper(ctx, contributor.Username)
		if err != nil {
			logger.Warn("Skipping contributor", "username", contributor.Username, "error", err)
			report.Errors++
			continue
		}
		for _, w := range weeks {
			rows = append(rows, model.Activity{
				RepositoryID: repo.ID,
				DeveloperID:  dev.ID,
				WeekStart:    w.WeekStart,
				Commits:      w.Commits,
				Additions:    w.Additions,
				Deletions:    w.Deletions,
			})
		}
	}

	if len(rows) == 0 {
		logger.Debug("No recent activity")
		return false, nil
	}
	n, err := c.db.InsertActivities(ctx, rows)
	if err != nil {
		return false, err
	}
	logger.Info("Persisted activity rows", "fetched", len(rows), "inserted", n)
	return true, nil
}

// fetchStats requests contributor statistics, re-issuing the request while
// the upstream computation is pending, bounded by StatsMaxPolls.
func (c *Collector) fetchStats(ctx context.Context, owner, name string) ([]model.ContributorStats, error) {
	for attempt := 1; ; attempt++ {
		var stats []model.ContributorStats
		err := c.sched.Execute(ctx, model.CategoryCore, func(ctx context.Context, cl *gh.Client) (model.Quota, error) {
			var q model.Quota
			var err error
			stats, q, err = cl.ContributorStats(ctx, owner, name)
			return q, err
		})
		if !errors.Is(err, gh.ErrStatsNotReady) {
			return stats, err
		}
		if attempt >= c.cfg.StatsMaxPolls {
			return nil, fmt.Errorf("contributor stats not ready after %d polls: %w", attempt, err)
		}
		if err := sleepCtx(ctx, c.cfg.StatsPollDelay); err != nil {
			return nil, err
		}
	}
}

// resolveDeveloper returns the stored developer for a username, creating the
// record from the upstream profile when absent.
func (c *Collector) resolveDeveloper(ctx context.Context, username string) (model.Developer, error) {
	dev, err := c.db.GetDeveloperByUsername(ctx, username)
	if err == nil {
		return dev, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return model.Developer{}, err
	}

	var profile *model.Developer
	err = c.sched.Execute(ctx, model.CategoryCore, func(ctx context.Context, cl *gh.Client) (model.Quota, error) {
		var q model.Quota
		var err error
		profile, q, err = cl.GetUser(ctx, username)
		return q, err
	})
	if err != nil {
		return model.Developer{}, err
	}
	return c.db.CreateDeveloper(ctx, *profile)
}

// recentWeeks keeps weeks strictly newer than the cutoff that have commits.
func recentWeeks(weeks []model.ContributorWeek, cutoff int64) []model.ContributorWeek {
	var out []model.ContributorWeek
	for _, w := range weeks {
		if w.Commits == 0 {
			continue
		}
		if w.WeekStart <= cutoff {
			continue
		}
		out = append(out, w)
	}
	return out
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
