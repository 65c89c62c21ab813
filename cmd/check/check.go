// Package check implements the check command for validating a GitLab
// credential against a project before storing it for a channel.
package check

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sprintlab/middleware/internal/gitlab"
)

// NewCheckCmd creates and returns the check command
func NewCheckCmd() *cobra.Command {
	var baseURL string
	var token string
	var useOAuth bool

	checkCmd := &cobra.Command{
		Use:   "check <project-id>",
		Short: "Validate a GitLab credential against a project",
		Long: `Verify that a token can read the given GitLab project.
This is the same validation the configure flow performs before a channel
configuration is stored. The project id may be numeric or a group/name path.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cobraCmd *cobra.Command, args []string) error {
			return runCheck(cobraCmd.Context(), baseURL, token, useOAuth, args[0])
		},
	}

	checkCmd.Flags().StringVar(&baseURL, "base-url", "", "GitLab API base URL (defaults to gitlab.com)")
	checkCmd.Flags().StringVar(&token, "token", "", "Credential to validate (defaults to GITLAB_TOKEN)")
	checkCmd.Flags().BoolVar(&useOAuth, "oauth", false, "Send the credential as an OAuth bearer token")

	return checkCmd
}

func runCheck(ctx context.Context, baseURL, token string, useOAuth bool, projectID string) error {
	if token == "" {
		token = os.Getenv("GITLAB_TOKEN")
	}
	if token == "" {
		return fmt.Errorf("no credential provided (use --token or set GITLAB_TOKEN)")
	}

	var client *gitlab.Client
	if useOAuth {
		client = gitlab.NewOAuthClient(ctx, baseURL, token)
	} else {
		client = gitlab.NewClient(baseURL, token)
	}

	project, err := client.GetProject(ctx, projectID)
	if err != nil {
		return fmt.Errorf("credential check failed: %w", err)
	}

	fmt.Printf("OK: credential can read %s (%s)\n", project.Name, project.WebURL)
	return nil
}
