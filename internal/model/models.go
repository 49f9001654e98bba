// internal/model/models.go
package model

import (
	"time"
)

// Category identifies the rate-limit bucket an upstream request consumes.
type Category string

const (
	CategoryCore       Category = "core"
	CategorySearch     Category = "search"
	CategoryCodeSearch Category = "code_search"
)

// Quota is one credential's rate-limit snapshot for a single category.
type Quota struct {
	Remaining int
	Limit     int
	ResetAt   time.Time
	FetchedAt time.Time
}

// Repository represents a harvested GitHub repository.
// RepoID is the natural key: the stable numeric GitHub id rendered as a
// decimal string, so renames and ownership transfers do not fork records.
type Repository struct {
	ID               int64
	RepoID           string
	Owner            string
	Name             string
	URL              string
	StartedAt        int64 // repository creation time, epoch seconds
	Ecosystem        string
	Stars            int
	OpenIssuesAndPRs int
	IsClosedSource   bool
	DBCreatedAt      time.Time
	DBUpdatedAt      time.Time
}

// Developer represents a GitHub user that contributed to a tracked repository.
type Developer struct {
	ID           int64
	Username     string
	DisplayName  *string
	ProfileURL   *string
	AvatarURL    *string
	Location     *string
	SocialHandle *string
	DBCreatedAt  time.Time
}

// Activity is one contributor's weekly commit statistics for one repository.
// Unique per (RepositoryID, DeveloperID, WeekStart).
type Activity struct {
	RepositoryID int64
	DeveloperID  int64
	WeekStart    int64 // epoch seconds, start of the statistics week
	Commits      int
	Additions    int
	Deletions    int
}

// RepoType tags a repository with the discovery descriptor that matched it,
// e.g. which framework dependency file was found.
type RepoType struct {
	RepoID string
	Type   string
}

// ContributorWeek is one week of upstream per-contributor statistics.
type ContributorWeek struct {
	WeekStart int64
	Commits   int
	Additions int
	Deletions int
}

// ContributorStats is the full weekly history for one contributor.
type ContributorStats struct {
	Username string
	Weeks    []ContributorWeek
}

// SearchTarget describes one targeted code-search descriptor: a dependency
// file (or extension) to look for, a keyword that must appear in it, and an
// optional type tag recorded against matching repositories.
type SearchTarget struct {
	Filename string
	Keyword  string
	Type     string
}

// SearchItem is a minimal code-search hit: just enough to decide whether the
// repository is worth a full detail lookup.
type SearchItem struct {
	RepoGithubID int64
	Owner        string
	Name         string
}

// CodeSearchPage is one page of code-search results.
type CodeSearchPage struct {
	Total      int
	Incomplete bool
	Items      []SearchItem
}

// RepoSearchPage is one page of repository-search results, already translated
// to full repository records.
type RepoSearchPage struct {
	Total      int
	Incomplete bool
	Items      []Repository
}
