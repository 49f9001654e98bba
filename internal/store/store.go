// internal/store/store.go
package store

import (
	"context"
	"errors"

	"ecosystem-harvester/internal/model"
)

// ErrNotFound is returned by point lookups when no row matches.
var ErrNotFound = errors.New("store: not found")

// Store is the persistence surface consumed by the discovery and activity
// workers. Batch inserts use insert-ignore-duplicate semantics so re-runs
// are idempotent.
type Store interface {
	// UpsertRepositories inserts repositories, ignoring natural-key
	// duplicates, and returns the number of new rows.
	UpsertRepositories(ctx context.Context, repos []model.Repository) (int64, error)
	// InsertRepoTypes records discovery type tags, ignoring duplicates.
	InsertRepoTypes(ctx context.Context, tags []model.RepoType) (int64, error)
	// RepositoryExists reports whether a repository with the natural key is
	// already persisted.
	RepositoryExists(ctx context.Context, repoID string) (bool, error)
	// GetRepositoryByKey returns a repository by natural key, or ErrNotFound.
	GetRepositoryByKey(ctx context.Context, repoID string) (model.Repository, error)
	// ListRepositoriesByEcosystem pages repositories for an ecosystem tag,
	// newest first.
	ListRepositoriesByEcosystem(ctx context.Context, ecosystem string, limit, offset int) ([]model.Repository, error)
	// ListRepositoriesWithoutActivity pages repositories that have no linked
	// activity rows yet (backfill mode).
	ListRepositoriesWithoutActivity(ctx context.Context, ecosystem string, limit, offset int) ([]model.Repository, error)
	// MarkClosedSource sets the closed-source flag. The transition is
	// monotonic: the flag is never cleared by the harvester.
	MarkClosedSource(ctx context.Context, repoID string) error
	// GetDeveloperByUsername returns a developer by username, or ErrNotFound.
	GetDeveloperByUsername(ctx context.Context, username string) (model.Developer, error)
	// CreateDeveloper inserts a developer, returning the stored row. A
	// concurrent insert of the same username yields the existing row.
	CreateDeveloper(ctx context.Context, dev model.Developer) (model.Developer, error)
	// InsertActivities inserts weekly activity rows, ignoring duplicate
	// (repository, developer, week) keys, and returns the number inserted.
	InsertActivities(ctx context.Context, rows []model.Activity) (int64, error)
}
