// internal/store/postgres.go
package store

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ecosystem-harvester/internal/model"
)

const repositoryColumns = `id, repo_id, owner, name, url, started_at, ecosystem, stars, open_issues, is_closed_source, created_at, updated_at`

const developerColumns = `id, username, display_name, profile_url, avatar_url, location, social_handle, created_at`

// Postgres implements Store on a pgx connection pool.
type Postgres struct {
	db     *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgres creates a Postgres store.
func NewPostgres(db *pgxpool.Pool, logger *slog.Logger) *Postgres {
	return &Postgres{db: db, logger: logger}
}

func (s *Postgres) UpsertRepositories(ctx context.Context, repos []model.Repository) (int64, error) {
	if len(repos) == 0 {
		return 0, nil
	}
	b := &pgx.Batch{}
	for _, r := range repos {
		b.Queue(`
			INSERT INTO repositories (repo_id, owner, name, url, started_at, ecosystem, stars, open_issues, is_closed_source)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, false)
			ON CONFLICT (repo_id) DO NOTHING`,
			r.RepoID, r.Owner, r.Name, r.URL, r.StartedAt, r.Ecosystem, r.Stars, r.OpenIssuesAndPRs)
	}
	return s.execBatch(ctx, b, len(repos))
}

func (s *Postgres) InsertRepoTypes(ctx context.Context, tags []model.RepoType) (int64, error) {
	if len(tags) == 0 {
		return 0, nil
	}
	b := &pgx.Batch{}
	for _, t := range tags {
		b.Queue(`
			INSERT INTO repo_types (repo_id, type)
			VALUES ($1, $2)
			ON CONFLICT (repo_id, type) DO NOTHING`,
			t.RepoID, t.Type)
	}
	return s.execBatch(ctx, b, len(tags))
}

func (s *Postgres) RepositoryExists(ctx context.Context, repoID string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM repositories WHERE repo_id = $1)`, repoID).Scan(&exists)
	return exists, err
}

func (s *Postgres) GetRepositoryByKey(ctx context.Context, repoID string) (model.Repository, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+repositoryColumns+` FROM repositories WHERE repo_id = $1`, repoID)
	return scanRepository(row)
}

func (s *Postgres) ListRepositoriesByEcosystem(ctx context.Context, ecosystem string, limit, offset int) ([]model.Repository, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+repositoryColumns+`
		 FROM repositories
		 WHERE ecosystem = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2 OFFSET $3`,
		ecosystem, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRepositories(rows)
}

func (s *Postgres) ListRepositoriesWithoutActivity(ctx context.Context, ecosystem string, limit, offset int) ([]model.Repository, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+repositoryColumns+`
		 FROM repositories r
		 WHERE r.ecosystem = $1
		   AND NOT EXISTS (SELECT 1 FROM activities a WHERE a.repository_id = r.id)
		 ORDER BY r.created_at DESC, r.id DESC
		 LIMIT $2 OFFSET $3`,
		ecosystem, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRepositories(rows)
}

func (s *Postgres) MarkClosedSource(ctx context.Context, repoID string) error {
	_, err := s.db.Exec(ctx,
		`UPDATE repositories SET is_closed_source = true, updated_at = now() WHERE repo_id = $1`, repoID)
	return err
}

func (s *Postgres) GetDeveloperByUsername(ctx context.Context, username string) (model.Developer, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+developerColumns+` FROM developers WHERE username = $1`, username)
	return scanDeveloper(row)
}

func (s *Postgres) CreateDeveloper(ctx context.Context, dev model.Developer) (model.Developer, error) {
	row := s.db.QueryRow(ctx,
		`INSERT INTO developers (username, display_name, profile_url, avatar_url, location, social_handle)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (username) DO NOTHING
		 RETURNING `+developerColumns,
		dev.Username, dev.DisplayName, dev.ProfileURL, dev.AvatarURL, dev.Location, dev.SocialHandle)
	created, err := scanDeveloper(row)
	if errors.Is(err, ErrNotFound) {
		// Lost the insert race; the existing row wins.
		return s.GetDeveloperByUsername(ctx, dev.Username)
	}
	return created, err
}

func (s *Postgres) InsertActivities(ctx context.Context, rows []model.Activity) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	b := &pgx.Batch{}
	for _, a := range rows {
		b.Queue(`
			INSERT INTO activities (repository_id, developer_id, week_start, commits, additions, deletions)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (repository_id, developer_id, week_start) DO NOTHING`,
			a.RepositoryID, a.DeveloperID, a.WeekStart, a.Commits, a.Additions, a.Deletions)
	}
	return s.execBatch(ctx, b, len(rows))
}

// execBatch sends a batch and sums affected rows across its statements.
func (s *Postgres) execBatch(ctx context.Context, b *pgx.Batch, n int) (int64, error) {
	br := s.db.SendBatch(ctx, b)
	defer br.Close()

	var inserted int64
	for i := 0; i < n; i++ {
		ct, err := br.Exec()
		if err != nil {
			return inserted, err
		}
		inserted += ct.RowsAffected()
	}
	return inserted, br.Close()
}

func scanRepository(row pgx.Row) (model.Repository, error) {
	var r model.Repository
	err := row.Scan(&r.ID, &r.RepoID, &r.Owner, &r.Name, &r.URL, &r.StartedAt,
		&r.Ecosystem, &r.Stars, &r.OpenIssuesAndPRs, &r.IsClosedSource,
		&r.DBCreatedAt, &r.DBUpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Repository{}, ErrNotFound
	}
	return r, err
}

func collectRepositories(rows pgx.Rows) ([]model.Repository, error) {
	var out []model.Repository
	for rows.Next() {
		r, err := scanRepository(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanDeveloper(row pgx.Row) (model.Developer, error) {
	var d model.Developer
	err := row.Scan(&d.ID, &d.Username, &d.DisplayName, &d.ProfileURL,
		&d.AvatarURL, &d.Location, &d.SocialHandle, &d.DBCreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Developer{}, ErrNotFound
	}
	return d, err
}
