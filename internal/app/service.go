package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"cadence/api/internal/auth"
	"cadence/api/internal/config"
	"cadence/api/internal/model"
	"cadence/api/internal/rbac"
	"cadence/api/internal/store"
	"cadence/api/internal/tracker"
)

type Session struct {
	Token     string
	UserID    string
	UserName  string
	Role      string
	JTI       string
	ExpiresAt time.Time
}

type dataStore interface {
	Ping(context.Context) error
	EnsureUserByName(context.Context, string) (store.User, error)
	GetUserByID(context.Context, string) (store.User, error)
	SetRole(context.Context, string, string) error
	ListRepositories(context.Context) ([]store.Repository, error)
	ListBusinessProjects(context.Context) ([]store.BusinessProject, error)
	UpsertRepository(context.Context, store.Repository) error
	UpsertBusinessProject(context.Context, store.BusinessProject) error
	InsertRelease(context.Context, store.ReleaseRecord) error
	ListReleases(context.Context, int64, int) ([]store.ReleaseRecord, error)
}

type credentials interface {
	Credential(ctx context.Context, userID string) (string, error)
	Bind(ctx context.Context, userID, credential, externalID string) error
	Unbind(ctx context.Context, userID string) error
}

// notesArchive keeps a copy of each release's notes outside the tracker.
type notesArchive interface {
	StoreNotes(ctx context.Context, repoID int64, tag, notes string) (string, error)
}

type Service struct {
	cfg      config.Config
	store    dataStore
	trackers tracker.Factory
	identity credentials
	archive  notesArchive
	now      func() time.Time

	lockMu       sync.Mutex
	releaseLocks map[int64]*sync.Mutex
}

// New wires the service. archive may be nil.
func New(cfg config.Config, dataStore dataStore, trackers tracker.Factory, identity credentials, archive notesArchive) *Service {
	return &Service{
		cfg:          cfg,
		store:        dataStore,
		trackers:     trackers,
		identity:     identity,
		archive:      archive,
		now:          time.Now,
		releaseLocks: make(map[int64]*sync.Mutex),
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

func (s *Service) Login(ctx context.Context, name string) (Session, error) {
	userName := strings.TrimSpace(name)
	if userName == "" {
		userName = "User"
	}
	user, err := s.store.EnsureUserByName(ctx, userName)
	if err != nil {
		return Session{}, err
	}

	token, claims, err := auth.IssueToken([]byte(s.cfg.JWTSecret), user.ID, user.DisplayName, user.Role, s.cfg.AccessTTL)
	if err != nil {
		return Session{}, err
	}
	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		Role:      user.Role,
		JTI:       claims.ID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	user, err := s.store.GetUserByID(ctx, claims.Subject)
	if errors.Is(err, store.ErrNotFound) {
		return Session{}, auth.ErrInvalidToken
	}
	if err != nil {
		return Session{}, err
	}
	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		Role:      user.Role,
		JTI:       claims.ID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// BindIdentity stores the caller's tracker credential. It is the target of the
// bind flow a 403 points to.
func (s *Service) BindIdentity(ctx context.Context, session Session, credential, externalID string) error {
	if strings.TrimSpace(credential) == "" {
		return validationError("token is required")
	}
	return s.identity.Bind(ctx, session.UserID, credential, externalID)
}

func (s *Service) UnbindIdentity(ctx context.Context, session Session) error {
	return s.identity.Unbind(ctx, session.UserID)
}

// trackerFor opens the tracker as the acting user.
func (s *Service) trackerFor(ctx context.Context, session Session) (tracker.Tracker, error) {
	credential, err := s.identity.Credential(ctx, session.UserID)
	if err != nil {
		return nil, s.trackerError("resolve identity", err)
	}
	t, err := s.trackers.ForCredential(credential)
	if err != nil {
		return nil, s.trackerError("open tracker", err)
	}
	return t, nil
}

func (s *Service) ListRepositories(ctx context.Context) ([]model.Repository, error) {
	repos, err := s.store.ListRepositories(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]model.Repository, 0, len(repos))
	for _, repo := range repos {
		out = append(out, toModelRepository(repo))
	}
	return out, nil
}

func (s *Service) ListBusinessProjects(ctx context.Context) ([]model.BusinessProject, error) {
	projects, err := s.store.ListBusinessProjects(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]model.BusinessProject, 0, len(projects))
	for _, project := range projects {
		item := model.BusinessProject{
			ID:           project.ID,
			Name:         project.Name,
			Status:       project.Status,
			RepoCount:    len(project.Repositories),
			LeadRepoID:   project.LeadRepoID,
			Repositories: make([]model.Repository, 0, len(project.Repositories)),
		}
		for _, repo := range project.Repositories {
			item.Repositories = append(item.Repositories, toModelRepository(repo))
		}
		out = append(out, item)
	}
	return out, nil
}

// ListMilestones returns the open milestones ordered by due date. Milestones
// without a due date sort last.
func (s *Service) ListMilestones(ctx context.Context, session Session, repoID int64) ([]model.Milestone, error) {
	t, err := s.trackerFor(ctx, session)
	if err != nil {
		return nil, err
	}
	milestones, err := t.ListMilestones(ctx, repoID)
	if err != nil {
		return nil, s.trackerError("list milestones", err)
	}
	sort.SliceStable(milestones, func(i, j int) bool {
		a, b := milestones[i].DueDate, milestones[j].DueDate
		switch {
		case a == nil && b == nil:
			return false
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return *a < *b
		}
	})
	if milestones == nil {
		milestones = []model.Milestone{}
	}
	return milestones, nil
}

func (s *Service) CreateMilestone(ctx context.Context, session Session, repoID int64, draft model.MilestoneDraft) (model.Milestone, error) {
	draft.Title = strings.TrimSpace(draft.Title)
	if draft.Title == "" {
		return model.Milestone{}, validationError("title is required")
	}
	draft.StartDate = blankToNil(draft.StartDate)
	draft.DueDate = blankToNil(draft.DueDate)
	draft.Description = blankToNil(draft.Description)

	t, err := s.trackerFor(ctx, session)
	if err != nil {
		return model.Milestone{}, err
	}
	milestone, err := t.CreateMilestone(ctx, repoID, draft)
	if err != nil {
		return model.Milestone{}, s.trackerError("create milestone", err)
	}
	log.WithFields(log.Fields{"repo": repoID, "milestone": milestone.Title}).Info("milestone created")
	return milestone, nil
}

// Backlog lists open, unassigned requirement and bug issues, heaviest first
// and then newest first.
func (s *Service) Backlog(ctx context.Context, session Session, repoID int64) ([]model.Issue, error) {
	t, err := s.trackerFor(ctx, session)
	if err != nil {
		return nil, err
	}
	issues, err := t.ListIssues(ctx, repoID, tracker.IssueFilter{State: model.IssueOpened, NoMilestone: true})
	if err != nil {
		return nil, s.trackerError("list backlog", err)
	}

	out := make([]model.Issue, 0, len(issues))
	for _, issue := range issues {
		if issue.Milestone == nil && isPlannable(issue) {
			out = append(out, issue)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Weight != out[j].Weight {
			return out[i].Weight > out[j].Weight
		}
		return createdAt(out[i]).After(createdAt(out[j]))
	})
	return out, nil
}

// Sprint lists every issue, in any state, assigned to the milestone title.
func (s *Service) Sprint(ctx context.Context, session Session, repoID int64, milestoneTitle string) ([]model.Issue, error) {
	milestoneTitle = strings.TrimSpace(milestoneTitle)
	if milestoneTitle == "" {
		return nil, validationError("milestone title is required")
	}
	t, err := s.trackerFor(ctx, session)
	if err != nil {
		return nil, err
	}
	issues, err := t.ListIssues(ctx, repoID, tracker.IssueFilter{Milestone: milestoneTitle})
	if err != nil {
		return nil, s.trackerError("list sprint", err)
	}
	if issues == nil {
		issues = []model.Issue{}
	}
	return issues, nil
}

func (s *Service) Plan(ctx context.Context, session Session, repoID, issueIID, milestoneID int64) error {
	if issueIID <= 0 {
		return validationError("issue_iid is required")
	}
	if milestoneID <= 0 {
		return validationError("milestone_id is required")
	}
	t, err := s.trackerFor(ctx, session)
	if err != nil {
		return err
	}
	if err := t.SetIssueMilestone(ctx, repoID, issueIID, milestoneID); err != nil {
		return s.trackerError(fmt.Sprintf("plan issue #%d", issueIID), err)
	}
	log.WithFields(log.Fields{"repo": repoID, "issue": issueIID, "milestone_id": milestoneID}).Info("issue planned")
	return nil
}

func (s *Service) Remove(ctx context.Context, session Session, repoID, issueIID int64) error {
	if issueIID <= 0 {
		return validationError("issue_iid is required")
	}
	t, err := s.trackerFor(ctx, session)
	if err != nil {
		return err
	}
	if err := t.SetIssueMilestone(ctx, repoID, issueIID, 0); err != nil {
		return s.trackerError(fmt.Sprintf("remove issue #%d", issueIID), err)
	}
	log.WithFields(log.Fields{"repo": repoID, "issue": issueIID}).Info("issue removed from sprint")
	return nil
}

func (s *Service) ListReleases(ctx context.Context, repoID int64, limit int) ([]store.ReleaseRecord, error) {
	return s.store.ListReleases(ctx, repoID, limit)
}

func (s *Service) releaseLock(repoID int64) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.releaseLocks[repoID]
	if !ok {
		lock = &sync.Mutex{}
		s.releaseLocks[repoID] = lock
	}
	return lock
}

func isPlannable(issue model.Issue) bool {
	for _, label := range issue.Labels {
		if label == model.LabelRequirement || label == model.LabelBug {
			return true
		}
	}
	return false
}

func createdAt(issue model.Issue) time.Time {
	if issue.CreatedAt == nil {
		return time.Time{}
	}
	return *issue.CreatedAt
}

func blankToNil(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func toModelRepository(repo store.Repository) model.Repository {
	return model.Repository{ID: repo.ID, Name: repo.Name, Path: repo.Path}
}

func statusOK() model.StatusResponse {
	return model.StatusResponse{Status: "success"}
}
