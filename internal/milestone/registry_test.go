package milestone

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cadence/api/internal/model"
	"cadence/api/internal/portal"
)

type fakeAPI struct {
	created []model.MilestoneDraft
	listed  int
}

func (f *fakeAPI) ListMilestones(context.Context, int64) ([]model.Milestone, error) {
	f.listed++
	out := []model.Milestone{}
	for i, d := range f.created {
		out = append(out, model.Milestone{ID: int64(i + 1), Title: d.Title, DueDate: d.DueDate})
	}
	return out, nil
}

func (f *fakeAPI) CreateMilestone(_ context.Context, _ int64, draft model.MilestoneDraft) (model.Milestone, error) {
	f.created = append(f.created, draft)
	return model.Milestone{ID: int64(len(f.created)), Title: draft.Title}, nil
}

func strPtr(v string) *string { return &v }

func TestCreateRejectsBlankTitleLocally(t *testing.T) {
	api := &fakeAPI{}
	_, err := NewRegistry(api).Create(context.Background(), 42, model.MilestoneDraft{Title: "  "})
	assert.True(t, portal.IsValidation(err))
	assert.Empty(t, api.created)
}

func TestCreateAndRefreshNormalizesDraft(t *testing.T) {
	api := &fakeAPI{}
	milestones, err := NewRegistry(api).CreateAndRefresh(context.Background(), 42, model.MilestoneDraft{
		Title:       " v1.2.0 ",
		StartDate:   strPtr(""),
		DueDate:     strPtr("2026-12-01"),
		Description: strPtr("   "),
	})
	require.NoError(t, err)
	require.Len(t, api.created, 1)
	sent := api.created[0]
	assert.Equal(t, "v1.2.0", sent.Title)
	assert.Nil(t, sent.StartDate)
	assert.Nil(t, sent.Description)
	require.NotNil(t, sent.DueDate)
	assert.Equal(t, "2026-12-01", *sent.DueDate)

	assert.Equal(t, 1, api.listed)
	require.Len(t, milestones, 1)
	assert.Equal(t, "v1.2.0", milestones[0].Title)
}

func TestDueLabel(t *testing.T) {
	assert.Equal(t, "N/A", DueLabel(model.Milestone{}))
	assert.Equal(t, "N/A", DueLabel(model.Milestone{DueDate: strPtr("")}))
	assert.Equal(t, "2026-11-01", DueLabel(model.Milestone{DueDate: strPtr("2026-11-01")}))
	assert.Equal(t, "2026-11-01", DueLabel(model.Milestone{DueDate: strPtr("2026-11-01T00:00:00Z")}))
}
