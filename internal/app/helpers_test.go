package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"cadence/api/internal/config"
	"cadence/api/internal/gitrepo"
	"cadence/api/internal/identity"
	"cadence/api/internal/model"
	"cadence/api/internal/rbac"
	"cadence/api/internal/store"
	"cadence/api/internal/tracker"
	"cadence/api/internal/tracker/local"
)

type fakeStore struct {
	*store.MemoryStore
	pingFn          func(context.Context) error
	insertReleaseFn func(context.Context, store.ReleaseRecord) error
}

func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

func (f *fakeStore) InsertRelease(ctx context.Context, record store.ReleaseRecord) error {
	if f.insertReleaseFn != nil {
		return f.insertReleaseFn(ctx, record)
	}
	return f.MemoryStore.InsertRelease(ctx, record)
}

// hookedTracker lets a test fail individual tracker calls.
type hookedTracker struct {
	tracker.Tracker
	createTagFn         func(context.Context, int64, string, string, string) error
	setIssueMilestoneFn func(context.Context, int64, int64, int64) error
	updateMilestoneFn   func(context.Context, int64, int64, tracker.MilestoneUpdate) (model.Milestone, error)
	calls               []string
}

func (h *hookedTracker) ListIssues(ctx context.Context, repoID int64, filter tracker.IssueFilter) ([]model.Issue, error) {
	h.calls = append(h.calls, "list-issues")
	return h.Tracker.ListIssues(ctx, repoID, filter)
}

func (h *hookedTracker) CreateTag(ctx context.Context, repoID int64, name, ref, message string) error {
	h.calls = append(h.calls, "create-tag")
	if h.createTagFn != nil {
		return h.createTagFn(ctx, repoID, name, ref, message)
	}
	return h.Tracker.CreateTag(ctx, repoID, name, ref, message)
}

func (h *hookedTracker) SetIssueMilestone(ctx context.Context, repoID, issueIID, milestoneID int64) error {
	h.calls = append(h.calls, "set-issue-milestone")
	if h.setIssueMilestoneFn != nil {
		return h.setIssueMilestoneFn(ctx, repoID, issueIID, milestoneID)
	}
	return h.Tracker.SetIssueMilestone(ctx, repoID, issueIID, milestoneID)
}

func (h *hookedTracker) UpdateMilestone(ctx context.Context, repoID, milestoneID int64, update tracker.MilestoneUpdate) (model.Milestone, error) {
	switch {
	case update.Title != nil:
		h.calls = append(h.calls, "rename-milestone")
	case update.StateEvent != nil:
		h.calls = append(h.calls, "close-milestone")
	}
	if h.updateMilestoneFn != nil {
		return h.updateMilestoneFn(ctx, repoID, milestoneID, update)
	}
	return h.Tracker.UpdateMilestone(ctx, repoID, milestoneID, update)
}

func (h *hookedTracker) CreateRelease(ctx context.Context, repoID int64, spec tracker.ReleaseSpec) error {
	h.calls = append(h.calls, "create-release")
	return h.Tracker.CreateRelease(ctx, repoID, spec)
}

func (h *hookedTracker) ForCredential(credential string) (tracker.Tracker, error) {
	if credential == "" {
		return nil, tracker.ErrUnauthorized
	}
	return h, nil
}

type fakeArchive struct {
	stored map[string]string
	err    error
}

func (f *fakeArchive) StoreNotes(_ context.Context, repoID int64, tag, notes string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	if f.stored == nil {
		f.stored = map[string]string{}
	}
	key := "releases/" + tag + ".md"
	f.stored[key] = notes
	return key, nil
}

type testEnv struct {
	svc      *Service
	store    *fakeStore
	local    *local.Tracker
	hooks    *hookedTracker
	identity *identity.Service
	archive  *fakeArchive
	session  Session
	sprint   model.Milestone
	next     model.Milestone
}

const testRepo int64 = 42

func testConfig() config.Config {
	return config.Config{
		JWTSecret:       "test-secret",
		AccessTTL:       time.Hour,
		IdentityBindURL: "/auth/gitlab/bind",
		CORSOrigin:      "*",
		Tracker:         config.TrackerLocal,
		DevLogin:        true,
	}
}

// newTestEnv builds a service over the local tracker with repository 42,
// milestones Sprint-7 and Sprint-8, and a bound release manager "Avery".
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	fs := &fakeStore{MemoryStore: store.NewMemoryStore()}
	lt := local.New(gitrepo.New(t.TempDir()))
	hooks := &hookedTracker{Tracker: lt}
	ids := identity.New("gitlab", fs.MemoryStore, nil)
	archive := &fakeArchive{}

	svc := New(testConfig(), fs, hooks, ids, archive)
	require.NoError(t, lt.AddRepository(testRepo))
	require.NoError(t, fs.UpsertRepository(ctx, store.Repository{ID: testRepo, Name: "checkout", Path: "shop/checkout"}))

	due := "2026-11-01"
	sprint, err := lt.CreateMilestone(ctx, testRepo, model.MilestoneDraft{Title: "Sprint-7", DueDate: &due})
	require.NoError(t, err)
	nextDue := "2026-11-15"
	next, err := lt.CreateMilestone(ctx, testRepo, model.MilestoneDraft{Title: "Sprint-8", DueDate: &nextDue})
	require.NoError(t, err)

	session, err := svc.Login(ctx, "Avery")
	require.NoError(t, err)
	require.NoError(t, fs.SetRole(ctx, session.UserID, string(rbac.RoleReleaseManager)))
	session, err = svc.Login(ctx, "Avery")
	require.NoError(t, err)
	require.NoError(t, ids.Bind(ctx, session.UserID, "gl-token", "avery"))

	return &testEnv{
		svc:      svc,
		store:    fs,
		local:    lt,
		hooks:    hooks,
		identity: ids,
		archive:  archive,
		session:  session,
		sprint:   sprint,
		next:     next,
	}
}

func (e *testEnv) seed(issue model.Issue) model.Issue {
	return e.local.SeedIssue(testRepo, issue)
}

func (e *testEnv) inSprint() *model.MilestoneRef {
	return &model.MilestoneRef{ID: e.sprint.ID, Title: e.sprint.Title}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	return doRequest(t, NewHTTPServer(e.svc, "*").Handler(), method, path, e.session.Token, body)
}

func doRequest(t *testing.T, handler http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func decodeResponse(t *testing.T, rr *httptest.ResponseRecorder, target any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), target), "body=%s", rr.Body.String())
}
