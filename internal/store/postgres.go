package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) EnsureUserByName(ctx context.Context, name string) (User, error) {
	const findUser = `SELECT id, display_name, email, created_at FROM users WHERE display_name = $1`
	var user User
	err := s.db.QueryRowContext(ctx, findUser, name).Scan(&user.ID, &user.DisplayName, &user.Email, &user.CreatedAt)
	if err == nil {
		role, roleErr := s.getRole(ctx, user.ID)
		if roleErr != nil {
			return User{}, roleErr
		}
		user.Role = role
		return user, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return User{}, fmt.Errorf("lookup user: %w", err)
	}

	insertUser := `
		INSERT INTO users (display_name, email)
		VALUES ($1, CONCAT(LOWER(REPLACE($1, ' ', '.')), '@local.cadence.dev'))
		RETURNING id, display_name, email, created_at
	`
	if err := s.db.QueryRowContext(ctx, insertUser, name).Scan(&user.ID, &user.DisplayName, &user.Email, &user.CreatedAt); err != nil {
		return User{}, fmt.Errorf("insert user: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO memberships (user_id, role)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO NOTHING
	`, user.ID, DefaultRole); err != nil {
		return User{}, fmt.Errorf("upsert membership: %w", err)
	}

	user.Role = DefaultRole
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `SELECT id, display_name, email, created_at FROM users WHERE id=$1`, userID).
		Scan(&user.ID, &user.DisplayName, &user.Email, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("get user: %w", err)
	}
	role, err := s.getRole(ctx, user.ID)
	if err != nil {
		return User{}, err
	}
	user.Role = role
	return user, nil
}

func (s *PostgresStore) SetRole(ctx context.Context, userID, role string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memberships (user_id, role)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET role=EXCLUDED.role
	`, userID, role)
	if err != nil {
		return fmt.Errorf("set role: %w", err)
	}
	return nil
}

func (s *PostgresStore) getRole(ctx context.Context, userID string) (string, error) {
	var role string
	err := s.db.QueryRowContext(ctx, `SELECT role FROM memberships WHERE user_id=$1`, userID).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return "viewer", nil
	}
	if err != nil {
		return "", fmt.Errorf("read role: %w", err)
	}
	return role, nil
}

func (s *PostgresStore) UpsertRepository(ctx context.Context, repo Repository) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO repositories (id, name, path)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET name=EXCLUDED.name, path=EXCLUDED.path
	`, repo.ID, repo.Name, repo.Path)
	if err != nil {
		return fmt.Errorf("upsert repository: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListRepositories(ctx context.Context) ([]Repository, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, path, created_at FROM repositories ORDER BY name ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list repositories: %w", err)
	}
	defer rows.Close()

	var out []Repository
	for rows.Next() {
		var repo Repository
		if err := rows.Scan(&repo.ID, &repo.Name, &repo.Path, &repo.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan repository: %w", err)
		}
		out = append(out, repo)
	}
	return out, rows.Err()
}

// UpsertBusinessProject stores the project and replaces its repository links.
func (s *PostgresStore) UpsertBusinessProject(ctx context.Context, project BusinessProject) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin business project tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	status := project.Status
	if status == "" {
		status = "active"
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO business_projects (id, name, status, lead_repo_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET name=EXCLUDED.name, status=EXCLUDED.status, lead_repo_id=EXCLUDED.lead_repo_id
	`, project.ID, project.Name, status, nullInt64(project.LeadRepoID)); err != nil {
		return fmt.Errorf("upsert business project: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM business_project_repositories WHERE project_id=$1`, project.ID); err != nil {
		return fmt.Errorf("clear project repositories: %w", err)
	}
	for _, repo := range project.Repositories {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO business_project_repositories (project_id, repo_id)
			VALUES ($1, $2)
		`, project.ID, repo.ID); err != nil {
			return fmt.Errorf("link repository %d: %w", repo.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit business project: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListBusinessProjects(ctx context.Context) ([]BusinessProject, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT bp.id, bp.name, bp.status, bp.lead_repo_id, bp.created_at,
			r.id, r.name, r.path
		FROM business_projects bp
		LEFT JOIN business_project_repositories bpr ON bpr.project_id = bp.id
		LEFT JOIN repositories r ON r.id = bpr.repo_id
		ORDER BY bp.name ASC, bp.id ASC, r.name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list business projects: %w", err)
	}
	defer rows.Close()

	var (
		out   []BusinessProject
		index = map[string]int{}
	)
	for rows.Next() {
		var (
			project  BusinessProject
			lead     sql.NullInt64
			repoID   sql.NullInt64
			repoName sql.NullString
			repoPath sql.NullString
		)
		if err := rows.Scan(&project.ID, &project.Name, &project.Status, &lead, &project.CreatedAt, &repoID, &repoName, &repoPath); err != nil {
			return nil, fmt.Errorf("scan business project: %w", err)
		}
		pos, ok := index[project.ID]
		if !ok {
			if lead.Valid {
				id := lead.Int64
				project.LeadRepoID = &id
			}
			out = append(out, project)
			pos = len(out) - 1
			index[project.ID] = pos
		}
		if repoID.Valid {
			out[pos].Repositories = append(out[pos].Repositories, Repository{
				ID:   repoID.Int64,
				Name: repoName.String,
				Path: repoPath.String,
			})
		}
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetIdentityBinding(ctx context.Context, userID, provider string) (IdentityBinding, error) {
	var binding IdentityBinding
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, provider, credential, external_id, updated_at
		FROM identity_bindings
		WHERE user_id=$1 AND provider=$2
	`, userID, provider).Scan(&binding.UserID, &binding.Provider, &binding.Credential, &binding.ExternalID, &binding.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return IdentityBinding{}, ErrNotFound
	}
	if err != nil {
		return IdentityBinding{}, fmt.Errorf("get identity binding: %w", err)
	}
	return binding, nil
}

func (s *PostgresStore) SaveIdentityBinding(ctx context.Context, binding IdentityBinding) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO identity_bindings (user_id, provider, credential, external_id, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (user_id, provider) DO UPDATE
		SET credential=EXCLUDED.credential, external_id=EXCLUDED.external_id, updated_at=NOW()
	`, binding.UserID, binding.Provider, binding.Credential, binding.ExternalID)
	if err != nil {
		return fmt.Errorf("save identity binding: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteIdentityBinding(ctx context.Context, userID, provider string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM identity_bindings WHERE user_id=$1 AND provider=$2`, userID, provider)
	if err != nil {
		return fmt.Errorf("delete identity binding: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertRelease(ctx context.Context, record ReleaseRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO releases (
			id, repo_id, milestone_id, milestone_title, tag, ref_branch,
			release_notes, rolled_over, released_by, archive_key
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, record.ID, record.RepoID, record.MilestoneID, record.MilestoneTitle, record.Tag, record.RefBranch,
		record.ReleaseNotes, record.RolledOver, nullString(record.ReleasedBy), record.ArchiveKey)
	if err != nil {
		return fmt.Errorf("insert release: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListReleases(ctx context.Context, repoID int64, limit int) ([]ReleaseRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, repo_id, milestone_id, milestone_title, tag, ref_branch,
			release_notes, rolled_over, COALESCE(released_by::text, ''), archive_key, created_at
		FROM releases
		WHERE repo_id=$1
		ORDER BY created_at DESC
		LIMIT $2
	`, repoID, limit)
	if err != nil {
		return nil, fmt.Errorf("list releases: %w", err)
	}
	defer rows.Close()

	var out []ReleaseRecord
	for rows.Next() {
		var r ReleaseRecord
		if err := rows.Scan(&r.ID, &r.RepoID, &r.MilestoneID, &r.MilestoneTitle, &r.Tag, &r.RefBranch,
			&r.ReleaseNotes, &r.RolledOver, &r.ReleasedBy, &r.ArchiveKey, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan release: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func nullInt64(value *int64) sql.NullInt64 {
	if value == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *value, Valid: true}
}

func nullString(value string) sql.NullString {
	value = strings.TrimSpace(value)
	return sql.NullString{String: value, Valid: value != ""}
}
