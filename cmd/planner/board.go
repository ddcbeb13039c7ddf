package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"cadence/api/internal/board"
	"cadence/api/internal/milestone"
	"cadence/api/internal/model"
)

var milestoneFlag string

// openBoard selects the milestone by title and loads both partitions.
func openBoard(ctx context.Context) (*board.Controller, error) {
	if strings.TrimSpace(milestoneFlag) == "" {
		return nil, fmt.Errorf("--milestone is required")
	}
	repoID, err := resolveRepo(ctx)
	if err != nil {
		return nil, err
	}
	milestones, err := milestone.NewRegistry(client).List(ctx, repoID)
	if err != nil {
		return nil, err
	}
	for _, m := range milestones {
		if m.Title != milestoneFlag {
			continue
		}
		controller := board.NewController(client, notifier)
		controller.SelectRepository(repoID)
		if err := controller.Dispatch(ctx, board.Command{
			Action:         board.ActionSelectMilestone,
			MilestoneID:    m.ID,
			MilestoneTitle: m.Title,
		}); err != nil {
			return nil, err
		}
		return controller, nil
	}
	return nil, fmt.Errorf("milestone %q is not open in repository %d", milestoneFlag, repoID)
}

func printBoard(snap board.Snapshot) {
	if jsonOutput {
		printJSON(snap)
		return
	}
	fmt.Printf("%s  %d/%d closed (%d%%), weight %d\n\n",
		snap.Selection.MilestoneTitle, snap.Stats.Closed, snap.Stats.Total, snap.Stats.Progress, snap.Stats.TotalWeight)
	fmt.Println("Sprint")
	printIssues(snap.Sprint)
	fmt.Println("\nBacklog")
	printIssues(snap.Backlog)
}

func printIssues(issues []model.Issue) {
	if len(issues) == 0 {
		fmt.Println("  (empty)")
		return
	}
	for _, issue := range issues {
		kind := "feature"
		if issue.IsBug() {
			kind = "bug"
		}
		fmt.Printf("  #%-5d %-7s %-8s w%-3d %s\n", issue.IID, issue.State, kind, issue.Weight, issue.Title)
	}
}

var boardCmd = &cobra.Command{
	Use:   "board",
	Short: "Show the sprint and backlog of a milestone",
	RunE: func(cmd *cobra.Command, args []string) error {
		controller, err := openBoard(cmd.Context())
		if err != nil {
			return err
		}
		printBoard(controller.Snapshot())
		return nil
	},
}

var planCmd = &cobra.Command{
	Use:   "plan <iid>",
	Short: "Move a backlog issue into the milestone",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return moveIssue(cmd.Context(), args[0], board.Backlog, board.Sprint)
	},
}

var removeCmd = &cobra.Command{
	Use:   "remove <iid>",
	Short: "Move a sprint issue back to the backlog",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return moveIssue(cmd.Context(), args[0], board.Sprint, board.Backlog)
	},
}

var moveCmd = &cobra.Command{
	Use:   "move <iid> <backlog|sprint>",
	Short: "Move an issue to a partition, wherever it currently is",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		iid, err := parseIID(args[0])
		if err != nil {
			return err
		}
		controller, err := openBoard(ctx)
		if err != nil {
			return err
		}
		from, ok := controller.PartitionOf(iid)
		if !ok {
			return fmt.Errorf("issue #%d is on neither partition", iid)
		}
		if err := controller.Move(ctx, iid, from, board.Partition(args[1])); err != nil {
			return err
		}
		printBoard(controller.Snapshot())
		return nil
	},
}

func moveIssue(ctx context.Context, arg string, from, to board.Partition) error {
	iid, err := parseIID(arg)
	if err != nil {
		return err
	}
	controller, err := openBoard(ctx)
	if err != nil {
		return err
	}
	if err := controller.Move(ctx, iid, from, to); err != nil {
		return err
	}
	printBoard(controller.Snapshot())
	return nil
}

func init() {
	for _, cmd := range []*cobra.Command{boardCmd, planCmd, removeCmd, moveCmd} {
		cmd.Flags().StringVarP(&milestoneFlag, "milestone", "m", "", "milestone title")
	}
}
