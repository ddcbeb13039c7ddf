package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"cadence/api/internal/catalog"
)

var projectsCmd = &cobra.Command{
	Use:   "projects",
	Short: "List business projects and their planning repository",
	RunE: func(cmd *cobra.Command, args []string) error {
		projects, err := catalog.New(client).ListBusinessProjects(cmd.Context())
		if err != nil {
			return err
		}
		if jsonOutput {
			printJSON(projects)
			return nil
		}
		for _, p := range projects {
			lead, ok := catalog.LeadRepository(p)
			if !ok {
				fmt.Printf("%-16s %-28s %d repos  %v\n", p.ID, p.Name, p.RepoCount, catalog.ErrNeedsConfiguration)
				continue
			}
			fmt.Printf("%-16s %-28s %d repos  lead #%d %s\n", p.ID, p.Name, p.RepoCount, lead.ID, lead.Name)
		}
		return nil
	},
}

var reposCmd = &cobra.Command{
	Use:   "repos",
	Short: "List repositories known to the portal",
	RunE: func(cmd *cobra.Command, args []string) error {
		repos, err := client.ListRepositories(cmd.Context())
		if err != nil {
			return err
		}
		if jsonOutput {
			printJSON(repos)
			return nil
		}
		if len(repos) == 0 {
			return errors.New("no repositories")
		}
		for _, r := range repos {
			fmt.Printf("%-6d %-28s %s\n", r.ID, r.Name, r.Path)
		}
		return nil
	},
}

func init() {
	projectsCmd.AddCommand(reposCmd)
}
