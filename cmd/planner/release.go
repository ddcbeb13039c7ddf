package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"cadence/api/internal/model"
	"cadence/api/internal/portal"
	"cadence/api/internal/release"
)

var releaseCmd = &cobra.Command{
	Use:   "release <milestone>",
	Short: "Close a milestone as a tagged release",
	Long: `Release tags the ref, publishes release notes and closes the milestone.

A milestone that still has open issues is refused. Re-run with --rollover to
unassign the unfinished issues first and release the rest.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		repoID, err := resolveRepo(ctx)
		if err != nil {
			return err
		}
		title, _ := cmd.Flags().GetString("title")
		ref, _ := cmd.Flags().GetString("ref")
		rollover, _ := cmd.Flags().GetBool("rollover")
		if title == "" {
			title = args[0]
		}

		coordinator := release.NewCoordinator(client, nil, release.NotifierRenderer{Notifier: notifier}, clientCfg.BindURL)
		attempt := model.ReleaseAttempt{MilestoneTitle: args[0], NewTitle: title, RefBranch: ref}

		result, err := coordinator.Release(ctx, repoID, attempt)
		switch coordinator.State() {
		case release.Conflicted:
			conflict := coordinator.Conflict()
			if !rollover {
				return fmt.Errorf("%s: %s (re-run with --rollover to move them out)", conflict.Summary(), conflict.Detail())
			}
			result, err = coordinator.Rollover(ctx, repoID, coordinator.Attempt())
			if coordinator.State() == release.Conflicted {
				return fmt.Errorf("still blocked: %s", coordinator.Conflict().Detail())
			}
		case release.IdentityRequired:
			var identityErr *portal.IdentityError
			if errors.As(err, &identityErr) && identityErr.RoleDenied() {
				if cancelErr := coordinator.Cancel(); cancelErr != nil {
					return cancelErr
				}
				return err
			}
			if bindErr := coordinator.BindIdentity(); bindErr != nil {
				return bindErr
			}
			return err
		}
		if err != nil {
			return err
		}

		if jsonOutput {
			printJSON(result)
			return nil
		}
		fmt.Println(result.ReleaseNotes)
		return nil
	},
}

func init() {
	releaseCmd.Flags().String("title", "", "release title and tag (defaults to the milestone title)")
	releaseCmd.Flags().String("ref", "main", "branch or commit to tag")
	releaseCmd.Flags().Bool("rollover", false, "unassign unfinished issues instead of refusing")
}
