package store

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("store: not found")

type User struct {
	ID          string
	DisplayName string
	Email       string
	Role        string
	CreatedAt   time.Time
}

type Repository struct {
	ID        int64
	Name      string
	Path      string
	CreatedAt time.Time
}

// BusinessProject groups repositories. LeadRepoID is nil until an
// administrator designates the planning repository.
type BusinessProject struct {
	ID           string
	Name         string
	Status       string
	LeadRepoID   *int64
	Repositories []Repository
	CreatedAt    time.Time
}

// IdentityBinding links a portal user to their tracker credential.
type IdentityBinding struct {
	UserID     string
	Provider   string
	Credential string
	ExternalID string
	UpdatedAt  time.Time
}

// ReleaseRecord is the portal's own log of a completed release.
type ReleaseRecord struct {
	ID             string
	RepoID         int64
	MilestoneID    int64
	MilestoneTitle string
	Tag            string
	RefBranch      string
	ReleaseNotes   string
	RolledOver     int
	ReleasedBy     string
	ArchiveKey     string
	CreatedAt      time.Time
}

// DefaultRole is granted to users created on first login. Planning and
// release rights are granted explicitly.
const DefaultRole = "viewer"

// Store is implemented by PostgresStore and MemoryStore.
type Store interface {
	Ping(ctx context.Context) error
	EnsureUserByName(ctx context.Context, name string) (User, error)
	GetUserByID(ctx context.Context, userID string) (User, error)
	SetRole(ctx context.Context, userID, role string) error
	UpsertRepository(ctx context.Context, repo Repository) error
	ListRepositories(ctx context.Context) ([]Repository, error)
	UpsertBusinessProject(ctx context.Context, project BusinessProject) error
	ListBusinessProjects(ctx context.Context) ([]BusinessProject, error)
	GetIdentityBinding(ctx context.Context, userID, provider string) (IdentityBinding, error)
	SaveIdentityBinding(ctx context.Context, binding IdentityBinding) error
	DeleteIdentityBinding(ctx context.Context, userID, provider string) error
	InsertRelease(ctx context.Context, record ReleaseRecord) error
	ListReleases(ctx context.Context, repoID int64, limit int) ([]ReleaseRecord, error)
}

var (
	_ Store = (*PostgresStore)(nil)
	_ Store = (*MemoryStore)(nil)
)
