// internal/discovery/engine.go
package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	gh "ecosystem-harvester/internal/github"
	"ecosystem-harvester/internal/model"
	"ecosystem-harvester/internal/pool"
	"ecosystem-harvester/internal/runner"
	"ecosystem-harvester/internal/store"
)

const (
	// pageSize is the search page size; a shorter page signals exhaustion.
	pageSize = 100
	// maxPages caps pagination per search cell (the upstream search API only
	// exposes the first 1000 results anyway).
	maxPages = 10
	// detailConcurrency bounds parallel repository detail lookups per page.
	detailConcurrency = 5
)

// Config holds the discovery search space for one ecosystem.
type Config struct {
	Ecosystem         string
	Language          string
	Targets           []model.SearchTarget
	Keywords          []string
	BroadStarFloor    int
	TrendingStarFloor int
}

// Stats summarizes one discovery run.
type Stats struct {
	Discovered int64
	Persisted  int64
	Errors     int64
}

type runStats struct {
	discovered atomic.Int64
	persisted  atomic.Int64
	errors     atomic.Int64
}

func (s *runStats) snapshot() Stats {
	return Stats{
		Discovered: s.discovered.Load(),
		Persisted:  s.persisted.Load(),
		Errors:     s.errors.Load(),
	}
}

// dedupSet tracks (owner, name) pairs already handled in the current run.
// It is shared by all strategies and not durable across runs; storage
// existence checks remain authoritative.
type dedupSet struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newDedupSet() *dedupSet {
	return &dedupSet{seen: make(map[string]bool)}
}

// add marks the pair as seen and reports whether it was new.
func (d *dedupSet) add(owner, name string) bool {
	key := owner + "/" + name
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seen[key] {
		return false
	}
	d.seen[key] = true
	return true
}

// Engine enumerates the discovery search space and persists normalized
// repository records. One run at a time; overlapping triggers are rejected.
type Engine struct {
	sched  *pool.Scheduler
	db     store.Store
	logger *slog.Logger
	cfg    Config
	guard  runner.Guard
	now    func() time.Time
}

// NewEngine creates a discovery engine.
func NewEngine(sched *pool.Scheduler, db store.Store, logger *slog.Logger, cfg Config) *Engine {
	return &Engine{
		sched:  sched,
		db:     db,
		logger: logger,
		cfg:    cfg,
		now:    time.Now,
	}
}

// Running reports whether a discovery run is active.
func (e *Engine) Running() bool {
	return e.guard.Running()
}

// Start launches a run in the background. Returns runner.ErrAlreadyRunning
// if one is active.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.guard.TryBegin(); err != nil {
		return err
	}
	go func() {
		defer e.guard.End()
		e.run(ctx)
	}()
	return nil
}

// Run executes a discovery run synchronously. Returns
// runner.ErrAlreadyRunning if one is active.
func (e *Engine) Run(ctx context.Context) (Stats, error) {
	if err := e.guard.TryBegin(); err != nil {
		return Stats{}, err
	}
	defer e.guard.End()
	return e.run(ctx), ctx.Err()
}

// run drives all three strategies concurrently. Strategy failures are
// logged and counted at cell granularity; they never abort the run.
func (e *Engine) run(ctx context.Context) Stats {
	start := e.now()
	e.logger.Info("Starting discovery run", "ecosystem", e.cfg.Ecosystem,
		"targets", len(e.cfg.Targets), "size_ranges", len(SizeRanges()))

	stats := &runStats{}
	dedup := newDedupSet()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		e.runTargeted(gctx, dedup, stats)
		return nil
	})
	g.Go(func() error {
		e.runBroadSearch(gctx, dedup, stats, e.cfg.BroadStarFloor, time.Time{})
		return nil
	})
	g.Go(func() error {
		e.runBroadSearch(gctx, dedup, stats, e.cfg.TrendingStarFloor, e.now().AddDate(0, 0, -7))
		return nil
	})
	_ = g.Wait()

	result := stats.snapshot()
	e.logger.Info("Discovery run finished", "discovered", result.Discovered,
		"persisted", result.Persisted, "errors", result.Errors,
		"duration", time.Since(start).Round(time.Second).String())
	return result
}

// runTargeted crawls the cartesian product of configured targets and size
// ranges through code search.
func (e *Engine) runTargeted(ctx context.Context, dedup *dedupSet, stats *runStats) {
	for _, target := range e.cfg.Targets {
		for _, sr := range SizeRanges() {
			if ctx.Err() != nil {
				return
			}
			e.crawlCell(ctx, target, sr, dedup, stats)
		}
	}
}

// crawlCell paginates one (target, size range) code-search cell. A request
// failure ends the cell only; the run moves on to the next one.
func (e *Engine) crawlCell(ctx context.Context, target model.SearchTarget, sr SizeRange, dedup *dedupSet, stats *runStats) {
	query := targetQuery(target, sr)
	logger := e.logger.With("target", target.Filename, "range", sr.String())

	for page := 1; page <= maxPages; page++ {
		var result model.CodeSearchPage
		err := e.sched.Execute(ctx, model.CategoryCodeSearch, func(ctx context.Context, c *gh.Client) (model.Quota, error) {
			var q model.Quota
			var err error
			result, q, err = c.SearchCode(ctx, query, page, pageSize)
			return q, err
		})
		if err != nil {
			logger.Warn("Search cell aborted", "page", page, "error", err)
			stats.errors.Add(1)
			return
		}

		repos := e.resolveItems(ctx, result.Items, dedup, stats)
		e.persistBatch(ctx, repos, target.Type, stats)

		if len(result.Items) < pageSize {
			break
		}
	}
}

// resolveItems fetches full repository details for new search hits. A
// failed detail lookup skips that item; the rest of the batch survives.
func (e *Engine) resolveItems(ctx context.Context, items []model.SearchItem, dedup *dedupSet, stats *runStats) []model.Repository {
	var mu sync.Mutex
	var repos []model.Repository

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(detailConcurrency)

	for _, item := range items {
		if item.RepoGithubID == 0 || item.Owner == "" || item.Name == "" {
			continue
		}
		if !dedup.add(item.Owner, item.Name) {
			continue
		}
		item := item
		g.Go(func() error {
			var detail *model.Repository
			err := e.sched.Execute(gctx, model.CategoryCore, func(ctx context.Context, c *gh.Client) (model.Quota, error) {
				var q model.Quota
				var err error
				detail, q, err = c.GetRepository(ctx, item.Owner, item.Name)
				return q, err
			})
			if err != nil {
				if !errors.Is(err, gh.ErrNotFound) {
					e.logger.Warn("Repository detail lookup failed",
						"owner", item.Owner, "name", item.Name, "error", err)
					stats.errors.Add(1)
				}
				return nil
			}
			detail.Ecosystem = e.cfg.Ecosystem
			mu.Lock()
			repos = append(repos, *detail)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return repos
}

// runBroadSearch crawls a keyword repository search with a star floor and,
// when pushedSince is set, a recency filter (the trending variant).
func (e *Engine) runBroadSearch(ctx context.Context, dedup *dedupSet, stats *runStats, starFloor int, pushedSince time.Time) {
	query := broadQuery(e.cfg.Keywords, e.cfg.Language, starFloor, pushedSince)
	logger := e.logger.With("query", query)

	for page := 1; page <= maxPages; page++ {
		if ctx.Err() != nil {
			return
		}
		var result model.RepoSearchPage
		err := e.sched.Execute(ctx, model.CategorySearch, func(ctx context.Context, c *gh.Client) (model.Quota, error) {
			var q model.Quota
			var err error
			result, q, err = c.SearchRepositories(ctx, query, page, pageSize)
			return q, err
		})
		if err != nil {
			logger.Warn("Broad search aborted", "page", page, "error", err)
			stats.errors.Add(1)
			return
		}

		var batch []model.Repository
		for _, repo := range result.Items {
			if repo.RepoID == "" || repo.Owner == "" || repo.Name == "" {
				continue
			}
			if !dedup.add(repo.Owner, repo.Name) {
				continue
			}
			exists, err := e.db.RepositoryExists(ctx, repo.RepoID)
			if err != nil {
				logger.Warn("Existence check failed", "repo_id", repo.RepoID, "error", err)
				stats.errors.Add(1)
				continue
			}
			if exists {
				continue
			}
			repo.Ecosystem = e.cfg.Ecosystem
			batch = append(batch, repo)
		}
		e.persistBatch(ctx, batch, "", stats)

		if len(result.Items) < pageSize {
			break
		}
	}
}

// persistBatch upserts a batch of repositories with insert-ignore semantics
// and records the matching type tags.
func (e *Engine) persistBatch(ctx context.Context, repos []model.Repository, typeTag string, stats *runStats) {
	if len(repos) == 0 {
		return
	}
	n, err := e.db.UpsertRepositories(ctx, repos)
	if err != nil {
		e.logger.Error("Failed to persist repository batch", "count", len(repos), "error", err)
		stats.errors.Add(1)
		return
	}
	stats.discovered.Add(int64(len(repos)))
	stats.persisted.Add(n)

	if typeTag == "" {
		return
	}
	tags := make([]model.RepoType, len(repos))
	for i, r := range repos {
		tags[i] = model.RepoType{RepoID: r.RepoID, Type: typeTag}
	}
	if _, err := e.db.InsertRepoTypes(ctx, tags); err != nil {
		e.logger.Error("Failed to persist repo type tags", "type", typeTag, "error", err)
		stats.errors.Add(1)
	}
}

// targetQuery builds the code-search query for one cell.
func targetQuery(target model.SearchTarget, sr SizeRange) string {
	qualifier := "filename:" + target.Filename
	if strings.HasPrefix(target.Filename, ".") {
		qualifier = "extension:" + strings.TrimPrefix(target.Filename, ".")
	}
	return fmt.Sprintf("%s in:file %s %s", target.Keyword, qualifier, sr.Qualifier())
}

// broadQuery builds the repository-search query for the broad and trending
// strategies.
func broadQuery(keywords []string, language string, starFloor int, pushedSince time.Time) string {
	parts := []string{strings.Join(keywords, " ")}
	if language != "" {
		parts = append(parts, "language:"+language)
	}
	parts = append(parts, fmt.Sprintf("stars:>=%d", starFloor))
	if !pushedSince.IsZero() {
		parts = append(parts, "pushed:>="+pushedSince.Format("2006-01-02"))
	}
	return strings.Join(parts, " ")
}
