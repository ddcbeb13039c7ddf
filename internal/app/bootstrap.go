package app

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"cadence/api/internal/model"
	"cadence/api/internal/rbac"
	"cadence/api/internal/store"
)

// demoSeeder is the part of the local tracker the demo bootstrap needs.
type demoSeeder interface {
	AddRepository(repoID int64) error
	CreateMilestone(ctx context.Context, repoID int64, draft model.MilestoneDraft) (model.Milestone, error)
	SeedIssue(repoID int64, issue model.Issue) model.Issue
}

const demoRepoID int64 = 42

// DemoReleaseManager is the seeded user allowed to plan and release.
const DemoReleaseManager = "Demo Release Manager"

// SeedDemo fills an empty catalog with one business project whose lead
// repository carries a sprint with open and closed work, and creates
// DemoReleaseManager. It does nothing when repositories already exist.
func (s *Service) SeedDemo(ctx context.Context, seeder demoSeeder) error {
	repos, err := s.store.ListRepositories(ctx)
	if err != nil {
		return err
	}
	if len(repos) > 0 {
		return nil
	}

	repo := store.Repository{ID: demoRepoID, Name: "checkout-service", Path: "shop/checkout-service"}
	docs := store.Repository{ID: 43, Name: "checkout-docs", Path: "shop/checkout-docs"}
	for _, r := range []store.Repository{repo, docs} {
		if err := s.store.UpsertRepository(ctx, r); err != nil {
			return err
		}
		if err := seeder.AddRepository(r.ID); err != nil {
			return fmt.Errorf("prepare repository %d: %w", r.ID, err)
		}
	}
	lead := demoRepoID
	if err := s.store.UpsertBusinessProject(ctx, store.BusinessProject{
		ID:           "shop",
		Name:         "Online Shop",
		LeadRepoID:   &lead,
		Repositories: []store.Repository{repo, docs},
	}); err != nil {
		return err
	}
	if err := s.store.UpsertBusinessProject(ctx, store.BusinessProject{
		ID:   "warehouse",
		Name: "Warehouse",
	}); err != nil {
		return err
	}

	due := "2026-11-01"
	sprint, err := seeder.CreateMilestone(ctx, demoRepoID, model.MilestoneDraft{Title: "Sprint-7", DueDate: &due})
	if err != nil {
		return err
	}
	nextDue := "2026-11-15"
	if _, err := seeder.CreateMilestone(ctx, demoRepoID, model.MilestoneDraft{Title: "Sprint-8", DueDate: &nextDue}); err != nil {
		return err
	}

	ref := &model.MilestoneRef{ID: sprint.ID, Title: sprint.Title}
	seeds := []model.Issue{
		{IID: 10, Title: "Checkout totals include tax", State: model.IssueClosed, Weight: 3, Labels: []string{model.LabelRequirement}, Milestone: ref},
		{IID: 11, Title: "Retry declined card payments", State: model.IssueOpened, Weight: 5, Labels: []string{model.LabelRequirement}, Milestone: ref},
		{IID: 12, Title: "Coupon field loses focus", State: model.IssueClosed, Weight: 1, Labels: []string{model.LabelBug}, Milestone: ref},
		{IID: 13, Title: "Guest checkout", State: model.IssueOpened, Weight: 8, Labels: []string{model.LabelRequirement}},
		{IID: 14, Title: "Address autocomplete crashes on Safari", State: model.IssueOpened, Weight: 2, Labels: []string{model.LabelBug}},
		{IID: 15, Title: "Update README badges", State: model.IssueOpened, Weight: 1, Labels: []string{"type::chore"}},
	}
	for _, issue := range seeds {
		seeder.SeedIssue(demoRepoID, issue)
	}

	manager, err := s.store.EnsureUserByName(ctx, DemoReleaseManager)
	if err != nil {
		return err
	}
	if err := s.store.SetRole(ctx, manager.ID, string(rbac.RoleReleaseManager)); err != nil {
		return err
	}

	log.WithFields(log.Fields{"repo": demoRepoID, "user": DemoReleaseManager}).Info("demo catalog seeded")
	return nil
}
