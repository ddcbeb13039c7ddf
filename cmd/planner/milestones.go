package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"cadence/api/internal/milestone"
	"cadence/api/internal/model"
	"cadence/api/internal/notify"
)

var milestonesCmd = &cobra.Command{
	Use:   "milestones",
	Short: "List open milestones of a repository",
	RunE: func(cmd *cobra.Command, args []string) error {
		repoID, err := resolveRepo(cmd.Context())
		if err != nil {
			return err
		}
		milestones, err := milestone.NewRegistry(client).List(cmd.Context(), repoID)
		if err != nil {
			return err
		}
		printMilestones(milestones)
		return nil
	},
}

var milestoneCreateCmd = &cobra.Command{
	Use:   "create <title>",
	Short: "Create a milestone",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		repoID, err := resolveRepo(cmd.Context())
		if err != nil {
			return err
		}
		start, _ := cmd.Flags().GetString("start")
		due, _ := cmd.Flags().GetString("due")
		description, _ := cmd.Flags().GetString("description")

		milestones, err := milestone.NewRegistry(client).CreateAndRefresh(cmd.Context(), repoID, model.MilestoneDraft{
			Title:       args[0],
			StartDate:   &start,
			DueDate:     &due,
			Description: &description,
		})
		if err != nil {
			return err
		}
		notifier.Notify(notify.Success, fmt.Sprintf("Milestone %q created", args[0]))
		printMilestones(milestones)
		return nil
	},
}

func printMilestones(milestones []model.Milestone) {
	if jsonOutput {
		printJSON(milestones)
		return
	}
	for _, m := range milestones {
		fmt.Printf("%-8d %-24s due %s\n", m.ID, m.Title, milestone.DueLabel(m))
	}
}

func init() {
	milestoneCreateCmd.Flags().String("start", "", "start date (YYYY-MM-DD)")
	milestoneCreateCmd.Flags().String("due", "", "due date (YYYY-MM-DD)")
	milestoneCreateCmd.Flags().String("description", "", "description")
	milestonesCmd.AddCommand(milestoneCreateCmd)
}
