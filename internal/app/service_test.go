package app

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cadence/api/internal/gitrepo"
	"cadence/api/internal/identity"
	"cadence/api/internal/model"
	"cadence/api/internal/rbac"
	"cadence/api/internal/store"
	"cadence/api/internal/tracker/local"
)

func requireDomainError(t *testing.T, err error, status int, code string) *DomainError {
	t.Helper()
	var domainErr *DomainError
	require.True(t, errors.As(err, &domainErr), "expected DomainError, got %v", err)
	assert.Equal(t, status, domainErr.Status)
	assert.Equal(t, code, domainErr.Code)
	return domainErr
}

func TestLoginAndSessionFromToken(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	session, err := env.svc.SessionFromToken(ctx, env.session.Token)
	require.NoError(t, err)
	assert.Equal(t, env.session.UserID, session.UserID)
	assert.Equal(t, "Avery", session.UserName)
	assert.Equal(t, string(rbac.RoleReleaseManager), session.Role)

	again, err := env.svc.Login(ctx, "  Avery ")
	require.NoError(t, err)
	assert.Equal(t, env.session.UserID, again.UserID, "login is idempotent per display name")

	anonymous, err := env.svc.Login(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "User", anonymous.UserName)
	assert.Equal(t, store.DefaultRole, anonymous.Role)
	assert.False(t, rbac.Can(rbac.Normalize(anonymous.Role), rbac.ActionRelease), "new users cannot release")

	_, err = env.svc.SessionFromToken(ctx, "not-a-token")
	require.Error(t, err)
}

func TestListBusinessProjectsCountsRepositories(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	lead := testRepo
	require.NoError(t, env.store.UpsertBusinessProject(ctx, store.BusinessProject{
		ID:           "shop",
		Name:         "Online Shop",
		LeadRepoID:   &lead,
		Repositories: []store.Repository{{ID: testRepo, Name: "checkout", Path: "shop/checkout"}},
	}))
	require.NoError(t, env.store.UpsertBusinessProject(ctx, store.BusinessProject{ID: "warehouse", Name: "Warehouse"}))

	projects, err := env.svc.ListBusinessProjects(ctx)
	require.NoError(t, err)
	require.Len(t, projects, 2)

	byID := map[string]model.BusinessProject{}
	for _, p := range projects {
		byID[p.ID] = p
	}
	assert.Equal(t, 1, byID["shop"].RepoCount)
	require.NotNil(t, byID["shop"].LeadRepoID)
	assert.Equal(t, testRepo, *byID["shop"].LeadRepoID)
	assert.Equal(t, 0, byID["warehouse"].RepoCount)
	assert.Nil(t, byID["warehouse"].LeadRepoID)
}

func TestListMilestonesSortsByDueDateWithUndatedLast(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.local.CreateMilestone(ctx, testRepo, model.MilestoneDraft{Title: "Someday"})
	require.NoError(t, err)
	early := "2026-10-20"
	_, err = env.local.CreateMilestone(ctx, testRepo, model.MilestoneDraft{Title: "Hotfix", DueDate: &early})
	require.NoError(t, err)

	milestones, err := env.svc.ListMilestones(ctx, env.session, testRepo)
	require.NoError(t, err)

	titles := make([]string, 0, len(milestones))
	for _, m := range milestones {
		titles = append(titles, m.Title)
	}
	assert.Equal(t, []string{"Hotfix", "Sprint-7", "Sprint-8", "Someday"}, titles)
}

func TestCreateMilestoneValidatesAndNormalizes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.CreateMilestone(ctx, env.session, testRepo, model.MilestoneDraft{Title: "   "})
	requireDomainError(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")

	blank := " "
	due := "2026-12-01"
	created, err := env.svc.CreateMilestone(ctx, env.session, testRepo, model.MilestoneDraft{
		Title:       " v1.2.0 ",
		StartDate:   &blank,
		DueDate:     &due,
		Description: &blank,
	})
	require.NoError(t, err)
	assert.Equal(t, "v1.2.0", created.Title)
	assert.Nil(t, created.StartDate)
	assert.Nil(t, created.Description)
	require.NotNil(t, created.DueDate)
	assert.Equal(t, "2026-12-01", *created.DueDate)
	assert.Equal(t, model.MilestoneOpen, created.State)
}

func TestBacklogFiltersAndOrders(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	base := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	at := func(days int) *time.Time {
		v := base.AddDate(0, 0, days)
		return &v
	}

	env.seed(model.Issue{IID: 1, Title: "light old", Weight: 1, Labels: []string{model.LabelRequirement}, CreatedAt: at(0)})
	env.seed(model.Issue{IID: 2, Title: "heavy", Weight: 8, Labels: []string{model.LabelBug}, CreatedAt: at(1)})
	env.seed(model.Issue{IID: 3, Title: "light new", Weight: 1, Labels: []string{model.LabelRequirement}, CreatedAt: at(5)})
	env.seed(model.Issue{IID: 4, Title: "chore", Weight: 9, Labels: []string{"type::chore"}})
	env.seed(model.Issue{IID: 5, Title: "closed", State: model.IssueClosed, Labels: []string{model.LabelBug}})
	env.seed(model.Issue{IID: 6, Title: "planned", Labels: []string{model.LabelBug}, Milestone: env.inSprint()})

	backlog, err := env.svc.Backlog(ctx, env.session, testRepo)
	require.NoError(t, err)

	iids := make([]int64, 0, len(backlog))
	for _, issue := range backlog {
		iids = append(iids, issue.IID)
	}
	assert.Equal(t, []int64{2, 3, 1}, iids)
}

func TestSprintListsEveryStateAndRejectsBlankTitle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seed(model.Issue{IID: 10, State: model.IssueClosed, Milestone: env.inSprint()})
	env.seed(model.Issue{IID: 11, Milestone: env.inSprint()})
	env.seed(model.Issue{IID: 12})

	issues, err := env.svc.Sprint(ctx, env.session, testRepo, "Sprint-7")
	require.NoError(t, err)
	require.Len(t, issues, 2)
	assert.Equal(t, int64(10), issues[0].IID)
	assert.Equal(t, int64(11), issues[1].IID)

	empty, err := env.svc.Sprint(ctx, env.session, testRepo, "Sprint-8")
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)

	_, err = env.svc.Sprint(ctx, env.session, testRepo, " ")
	requireDomainError(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")
}

func TestPlanAndRemove(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seed(model.Issue{IID: 13, Labels: []string{model.LabelRequirement}})

	require.NoError(t, env.svc.Plan(ctx, env.session, testRepo, 13, env.sprint.ID))
	sprint, err := env.svc.Sprint(ctx, env.session, testRepo, "Sprint-7")
	require.NoError(t, err)
	require.Len(t, sprint, 1)
	assert.Equal(t, int64(13), sprint[0].IID)

	require.NoError(t, env.svc.Remove(ctx, env.session, testRepo, 13))
	backlog, err := env.svc.Backlog(ctx, env.session, testRepo)
	require.NoError(t, err)
	require.Len(t, backlog, 1)
	assert.Nil(t, backlog[0].Milestone)

	err = env.svc.Plan(ctx, env.session, testRepo, 999, env.sprint.ID)
	requireDomainError(t, err, http.StatusNotFound, "NOT_FOUND")

	err = env.svc.Plan(ctx, env.session, testRepo, 13, 0)
	requireDomainError(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")
}

func TestUnboundIdentityIsReportedWithBindURL(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.svc.UnbindIdentity(ctx, env.session))

	_, err := env.svc.ListMilestones(ctx, env.session, testRepo)
	domainErr := requireDomainError(t, err, http.StatusForbidden, "IDENTITY_REQUIRED")
	details, ok := domainErr.Details.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "/auth/gitlab/bind", details["bind_url"])

	err = env.svc.BindIdentity(ctx, env.session, "  ", "")
	requireDomainError(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")

	require.NoError(t, env.svc.BindIdentity(ctx, env.session, "gl-token-2", "avery"))
	_, err = env.svc.ListMilestones(ctx, env.session, testRepo)
	require.NoError(t, err)
}

func TestSeedDemoCreatesReleaseManager(t *testing.T) {
	ctx := context.Background()
	memory := store.NewMemoryStore()
	lt := local.New(gitrepo.New(t.TempDir()))
	svc := New(testConfig(), memory, lt, identity.New("gitlab", memory, nil), nil)
	require.NoError(t, svc.SeedDemo(ctx, lt))

	manager, err := svc.Login(ctx, DemoReleaseManager)
	require.NoError(t, err)
	assert.Equal(t, string(rbac.RoleReleaseManager), manager.Role)

	visitor, err := svc.Login(ctx, "Visitor")
	require.NoError(t, err)
	assert.Equal(t, string(rbac.RoleViewer), visitor.Role)

	require.NoError(t, svc.SeedDemo(ctx, lt), "seeding twice is a no-op")
}
