// Command planner drives the iteration plan API from a terminal: pick a
// business project, plan a sprint board and cut a release.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"cadence/api/internal/catalog"
	"cadence/api/internal/config"
	"cadence/api/internal/logging"
	"cadence/api/internal/notify"
	"cadence/api/internal/portal"
)

var (
	clientCfg  config.ClientConfig
	client     *portal.Client
	notifier   notify.Notifier = notify.LogNotifier{}
	jsonOutput bool
	repoFlag   int64
	projectArg string
)

var rootCmd = &cobra.Command{
	Use:           "planner",
	Short:         "Plan sprints and cut releases through the iteration plan portal",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		clientCfg = config.LoadClient()
		if v, _ := cmd.Flags().GetString("portal"); v != "" {
			clientCfg.PortalURL = v
		}
		if v, _ := cmd.Flags().GetString("token"); v != "" {
			clientCfg.Token = v
		}
		logging.Setup(os.Stderr, clientCfg.LogLevel, "text")
		client = portal.New(clientCfg.PortalURL, clientCfg.Token, &http.Client{Timeout: clientCfg.Timeout})
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("portal", "", "portal base URL (default PORTAL_URL)")
	rootCmd.PersistentFlags().String("token", "", "portal session token (default PORTAL_TOKEN)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print JSON instead of text")
	rootCmd.PersistentFlags().Int64Var(&repoFlag, "repo", 0, "repository id")
	rootCmd.PersistentFlags().StringVar(&projectArg, "project", "", "business project id; its lead repository is used when --repo is not set")

	rootCmd.AddCommand(whoamiCmd, projectsCmd, milestonesCmd, boardCmd, planCmd, removeCmd, moveCmd, releaseCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// resolveRepo returns --repo, or the lead repository of --project.
func resolveRepo(ctx context.Context) (int64, error) {
	if repoFlag > 0 {
		return repoFlag, nil
	}
	if projectArg == "" {
		return 0, fmt.Errorf("--repo or --project is required")
	}
	projects := catalog.New(client)
	if _, err := projects.ListBusinessProjects(ctx); err != nil {
		return 0, err
	}
	return projects.PlanningRepository(projectArg)
}

func parseIID(arg string) (int64, error) {
	iid, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || iid <= 0 {
		return 0, fmt.Errorf("invalid issue iid %q", arg)
	}
	return iid, nil
}

func printJSON(v any) {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		log.WithError(err).Error("encode output")
	}
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the portal user behind the token",
	RunE: func(cmd *cobra.Command, args []string) error {
		user, err := client.CurrentUser(cmd.Context())
		if err != nil {
			return err
		}
		if jsonOutput {
			printJSON(user)
			return nil
		}
		if !user.Authenticated {
			fmt.Println("Not signed in")
			return nil
		}
		fmt.Printf("%s (%s)\n", user.UserName, user.Role)
		return nil
	},
}
