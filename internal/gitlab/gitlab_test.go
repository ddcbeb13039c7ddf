package gitlab

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cadence/api/internal/model"
	"cadence/api/internal/tracker"
)

func newTestTracker(t *testing.T, mux *http.ServeMux) tracker.Tracker {
	t.Helper()
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	tr, err := NewFactory(server.URL, server.Client()).ForCredential("oauth-token")
	require.NoError(t, err)
	return tr
}

func TestForCredentialRejectsEmpty(t *testing.T) {
	_, err := NewFactory("https://gitlab.example.com", nil).ForCredential("  ")
	assert.ErrorIs(t, err, tracker.ErrUnauthorized)
}

func TestListMilestonesFollowsPages(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v4/projects/42/milestones", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer oauth-token", r.Header.Get("Authorization"))
		assert.Equal(t, "active", r.URL.Query().Get("state"))
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("page") == "2" {
			_, _ = io.WriteString(w, `[{"id":12,"iid":2,"title":"Sprint-8","state":"active"}]`)
			return
		}
		w.Header().Set("X-Next-Page", "2")
		_, _ = io.WriteString(w, `[{"id":11,"iid":1,"title":"Sprint-7","state":"active","due_date":"2026-11-01","description":"q4"}]`)
	})

	milestones, err := newTestTracker(t, mux).ListMilestones(context.Background(), 42)
	require.NoError(t, err)
	require.Len(t, milestones, 2)
	assert.Equal(t, "Sprint-7", milestones[0].Title)
	assert.Equal(t, model.MilestoneOpen, milestones[0].State)
	require.NotNil(t, milestones[0].DueDate)
	assert.Equal(t, "2026-11-01", *milestones[0].DueDate)
	require.NotNil(t, milestones[0].Description)
	assert.Nil(t, milestones[1].Description)
}

func TestListIssuesWithoutMilestone(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v4/projects/42/issues", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "None", r.URL.Query().Get("milestone"))
		assert.Equal(t, "opened", r.URL.Query().Get("state"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `[{"id":900,"iid":11,"title":"Login","state":"opened","weight":3,
			"labels":["type::bug"],"author":{"id":5,"name":"Avery","username":"avery"}}]`)
	})

	issues, err := newTestTracker(t, mux).ListIssues(context.Background(), 42, tracker.IssueFilter{
		State:       model.IssueOpened,
		NoMilestone: true,
	})
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, int64(11), issues[0].IID)
	assert.True(t, issues[0].IsBug())
	assert.Nil(t, issues[0].Milestone)
	require.NotNil(t, issues[0].Author)
	assert.Equal(t, "avery", issues[0].Author.Username)
}

func TestSetIssueMilestoneZeroUnassigns(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v4/projects/42/issues/11", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.EqualValues(t, 0, body["milestone_id"])
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":900,"iid":11,"state":"opened"}`)
	})

	err := newTestTracker(t, mux).SetIssueMilestone(context.Background(), 42, 11, 0)
	require.NoError(t, err)
}

func TestUpdateMilestoneNotFound(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v4/projects/42/milestones/99", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"message":"404 Milestone Not Found"}`)
	})

	closeEvent := tracker.StateEventClose
	_, err := newTestTracker(t, mux).UpdateMilestone(context.Background(), 42, 99, tracker.MilestoneUpdate{StateEvent: &closeEvent})
	assert.ErrorIs(t, err, tracker.ErrNotFound)
}

func TestCreateReleaseLinksMilestone(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v4/projects/42/releases", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			TagName    string   `json:"tag_name"`
			Ref        string   `json:"ref"`
			Milestones []string `json:"milestones"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "v3.0.0", body.TagName)
		assert.Equal(t, "main", body.Ref)
		assert.Equal(t, []string{"v3.0.0"}, body.Milestones)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"tag_name":"v3.0.0"}`)
	})

	err := newTestTracker(t, mux).CreateRelease(context.Background(), 42, tracker.ReleaseSpec{
		TagName:    "v3.0.0",
		Ref:        "main",
		Name:       "Release v3.0.0",
		Milestones: []string{"v3.0.0"},
	})
	require.NoError(t, err)
}

func TestIsoDateRejectsGarbage(t *testing.T) {
	bad := "next tuesday"
	_, err := isoDate(&bad)
	assert.Error(t, err)

	blank := " "
	got, err := isoDate(&blank)
	require.NoError(t, err)
	assert.Nil(t, got)
}
