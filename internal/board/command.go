package board

import (
	"context"
	"fmt"
)

type Action int

const (
	ActionSelectRepository Action = iota + 1
	ActionSelectMilestone
	ActionReload
	ActionMove
)

func (a Action) String() string {
	switch a {
	case ActionSelectRepository:
		return "select-repository"
	case ActionSelectMilestone:
		return "select-milestone"
	case ActionReload:
		return "reload"
	case ActionMove:
		return "move"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// Command is one user intent. Only the fields its Action needs are read.
type Command struct {
	Action         Action
	RepoID         int64
	MilestoneID    int64
	MilestoneTitle string
	IssueIID       int64
	From           Partition
	To             Partition
}

// Dispatch routes a command to the controller. Selecting a milestone loads
// the board.
func (c *Controller) Dispatch(ctx context.Context, cmd Command) error {
	switch cmd.Action {
	case ActionSelectRepository:
		c.SelectRepository(cmd.RepoID)
		return nil
	case ActionSelectMilestone:
		c.SelectMilestone(cmd.MilestoneID, cmd.MilestoneTitle)
		return c.Reload(ctx)
	case ActionReload:
		return c.Reload(ctx)
	case ActionMove:
		return c.Move(ctx, cmd.IssueIID, cmd.From, cmd.To)
	default:
		return fmt.Errorf("unsupported board action %s", cmd.Action)
	}
}
