// Package board loads the backlog and sprint partitions of one
// (repository, milestone) selection and runs the planning protocol against
// the portal. The remote tracker is the only source of truth for membership:
// every mutation is followed by a full reload and nothing is patched locally.
package board

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"cadence/api/internal/model"
	"cadence/api/internal/notify"
)

type Partition string

const (
	Backlog Partition = "backlog"
	Sprint  Partition = "sprint"
)

var (
	// ErrNoSelection is returned when no milestone is selected.
	ErrNoSelection = errors.New("no milestone selected")
	// ErrStaleSelection means a load finished after the selection changed and
	// its result was dropped.
	ErrStaleSelection = errors.New("selection changed while loading")

	ErrUnknownPartition = errors.New("unknown partition")
)

type api interface {
	Backlog(context.Context, int64) ([]model.Issue, error)
	Sprint(context.Context, int64, string) ([]model.Issue, error)
	Plan(context.Context, int64, int64, int64) error
	Remove(context.Context, int64, int64) error
}

type Selection struct {
	RepoID         int64
	MilestoneID    int64
	MilestoneTitle string
}

// HasMilestone reports whether the selection is complete enough to load a board.
func (s Selection) HasMilestone() bool {
	return s.RepoID > 0 && s.MilestoneID > 0 && s.MilestoneTitle != ""
}

type Stats struct {
	Total       int
	Closed      int
	Progress    int
	TotalWeight int
}

// ComputeStats derives progress from the sprint set only. An empty sprint has
// zero progress.
func ComputeStats(sprint []model.Issue) Stats {
	stats := Stats{Total: len(sprint)}
	for _, issue := range sprint {
		stats.TotalWeight += issue.Weight
		if issue.State == model.IssueClosed {
			stats.Closed++
		}
	}
	if stats.Total > 0 {
		stats.Progress = int(math.Round(100 * float64(stats.Closed) / float64(stats.Total)))
	}
	return stats
}

type Snapshot struct {
	Selection Selection
	Backlog   []model.Issue
	Sprint    []model.Issue
	Stats     Stats
	Loaded    bool
}

type Controller struct {
	api      api
	notifier notify.Notifier

	mu         sync.Mutex
	selection  Selection
	generation uint64
	backlog    []model.Issue
	sprint     []model.Issue
	loaded     bool

	// busyMu is held across notifier calls so on/off edges stay ordered.
	busyMu sync.Mutex
	busy   int
}

func NewController(client api, notifier notify.Notifier) *Controller {
	return &Controller{api: client, notifier: notifier}
}

// SelectRepository switches the repository and clears the milestone.
func (c *Controller) SelectRepository(repoID int64) {
	c.setSelection(Selection{RepoID: repoID})
}

// SelectMilestone switches the milestone within the current repository.
func (c *Controller) SelectMilestone(milestoneID int64, title string) {
	c.mu.Lock()
	repoID := c.selection.RepoID
	c.mu.Unlock()
	c.setSelection(Selection{RepoID: repoID, MilestoneID: milestoneID, MilestoneTitle: title})
}

func (c *Controller) Select(sel Selection) {
	c.setSelection(sel)
}

// setSelection resets both partitions and invalidates in-flight loads.
func (c *Controller) setSelection(sel Selection) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.selection = sel
	c.generation++
	c.backlog = nil
	c.sprint = nil
	c.loaded = false
}

func (c *Controller) Selection() Selection {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selection
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		Selection: c.selection,
		Backlog:   append([]model.Issue(nil), c.backlog...),
		Sprint:    append([]model.Issue(nil), c.sprint...),
		Stats:     ComputeStats(c.sprint),
		Loaded:    c.loaded,
	}
}

func (c *Controller) LoadBacklog(ctx context.Context, repoID int64) ([]model.Issue, error) {
	issues, err := c.api.Backlog(ctx, repoID)
	if err != nil {
		return nil, fmt.Errorf("load backlog: %w", err)
	}
	return issues, nil
}

func (c *Controller) LoadSprint(ctx context.Context, repoID int64, milestoneTitle string) ([]model.Issue, error) {
	issues, err := c.api.Sprint(ctx, repoID, milestoneTitle)
	if err != nil {
		return nil, fmt.Errorf("load sprint: %w", err)
	}
	return issues, nil
}

// Reload fetches both partitions concurrently and applies them together. The
// result is dropped with ErrStaleSelection if the selection moved meanwhile.
func (c *Controller) Reload(ctx context.Context) error {
	c.mu.Lock()
	sel := c.selection
	token := c.generation
	c.mu.Unlock()

	if !sel.HasMilestone() {
		return ErrNoSelection
	}

	done := c.startBusy("Syncing board")
	defer done()

	var (
		backlog []model.Issue
		sprint  []model.Issue
		g       errgroup.Group
	)
	g.Go(func() error {
		issues, err := c.LoadBacklog(ctx, sel.RepoID)
		backlog = issues
		return err
	})
	g.Go(func() error {
		issues, err := c.LoadSprint(ctx, sel.RepoID, sel.MilestoneTitle)
		sprint = issues
		return err
	})
	if err := g.Wait(); err != nil {
		c.notifier.Notify(notify.Error, "Board load failed: "+err.Error())
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if token != c.generation {
		log.WithFields(log.Fields{
			"repo":      sel.RepoID,
			"milestone": sel.MilestoneTitle,
		}).Debug("board: dropping stale load")
		return ErrStaleSelection
	}
	c.backlog = backlog
	c.sprint = sprint
	c.loaded = true
	return nil
}

// Plan assigns the issue to the milestone and reloads the board. A failure
// is reported to the notifier and the loaded board is left as it was.
func (c *Controller) Plan(ctx context.Context, repoID, issueIID, milestoneID int64) error {
	done := c.startBusy("Planning issue")
	defer done()

	if err := c.api.Plan(ctx, repoID, issueIID, milestoneID); err != nil {
		c.notifier.Notify(notify.Error, fmt.Sprintf("Plan of issue #%d failed: %v", issueIID, err))
		return fmt.Errorf("plan issue #%d: %w", issueIID, err)
	}
	c.notifier.Notify(notify.Success, fmt.Sprintf("Issue #%d moved to %s", issueIID, Sprint))
	return c.reloadAfterMutation(ctx)
}

// Remove clears the issue's milestone and reloads the board. Failures are
// handled as in Plan.
func (c *Controller) Remove(ctx context.Context, repoID, issueIID int64) error {
	done := c.startBusy("Removing issue")
	defer done()

	if err := c.api.Remove(ctx, repoID, issueIID); err != nil {
		c.notifier.Notify(notify.Error, fmt.Sprintf("Remove of issue #%d failed: %v", issueIID, err))
		return fmt.Errorf("remove issue #%d: %w", issueIID, err)
	}
	c.notifier.Notify(notify.Success, fmt.Sprintf("Issue #%d moved to %s", issueIID, Backlog))
	return c.reloadAfterMutation(ctx)
}

// startBusy turns the loading indicator on for the first of any overlapping
// operations. The returned func turns it off when the last one finishes.
func (c *Controller) startBusy(label string) func() {
	c.busyMu.Lock()
	c.busy++
	if c.busy == 1 {
		c.notifier.Loading(label, true)
	}
	c.busyMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.busyMu.Lock()
			defer c.busyMu.Unlock()
			c.busy--
			if c.busy == 0 {
				c.notifier.Loading("", false)
			}
		})
	}
}

func (c *Controller) reloadAfterMutation(ctx context.Context) error {
	err := c.Reload(ctx)
	if errors.Is(err, ErrStaleSelection) || errors.Is(err, ErrNoSelection) {
		return nil
	}
	return err
}

// Move handles a drag between partitions. Dropping on the source partition
// does nothing.
func (c *Controller) Move(ctx context.Context, issueIID int64, from, to Partition) error {
	if from == to {
		return nil
	}
	if to != Backlog && to != Sprint {
		return fmt.Errorf("%w: %q", ErrUnknownPartition, to)
	}
	sel := c.Selection()
	if !sel.HasMilestone() {
		c.notifier.Notify(notify.Warning, "Select a milestone first")
		return ErrNoSelection
	}

	if to == Sprint {
		return c.Plan(ctx, sel.RepoID, issueIID, sel.MilestoneID)
	}
	return c.Remove(ctx, sel.RepoID, issueIID)
}

// PartitionOf reports which loaded partition holds the issue.
func (c *Controller) PartitionOf(issueIID int64) (Partition, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, issue := range c.sprint {
		if issue.IID == issueIID {
			return Sprint, true
		}
	}
	for _, issue := range c.backlog {
		if issue.IID == issueIID {
			return Backlog, true
		}
	}
	return "", false
}
