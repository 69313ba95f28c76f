// Package actions queries build status from GitHub Actions workflow runs.
package actions

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"

	"chatbot/internal/build"
	"chatbot/internal/repository"
)

// runsPerPage is how many completed runs are inspected per check. One
// more run than reported is needed to fill in the previous status.
const runsPerPage = 10

// conclusions maps finished run conclusions to build statuses. Runs with
// any other conclusion (skipped, neutral, cancelled, action_required,
// stale) say nothing about the health of the code and are ignored.
var conclusions = map[string]string{
	"success":         build.StatusPassed,
	"failure":         build.StatusFailed,
	"timed_out":       build.StatusErrored,
	"startup_failure": build.StatusErrored,
}

// Client lists finished workflow runs of a repository
type Client struct {
	gh *github.Client
}

// NewClient creates a GitHub Actions client. baseURL may point at a
// GitHub Enterprise API root; an empty token makes unauthenticated calls.
func NewClient(ctx context.Context, baseURL, token string) (*Client, error) {
	var httpClient *http.Client
	if token != "" {
		ts := oauth2.StaticTokenSource(
			&oauth2.Token{AccessToken: token},
		)
		httpClient = oauth2.NewClient(ctx, ts)
	}

	gh := github.NewClient(httpClient)
	if baseURL != "" {
		if !strings.HasSuffix(baseURL, "/") {
			baseURL += "/"
		}
		parsed, err := url.Parse(baseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid GitHub API URL: %w", err)
		}
		gh.BaseURL = parsed
	}

	return &Client{gh: gh}, nil
}

// ListBuilds returns finished workflow runs of slug, newest first. The
// previous status of each run is the status of the next older run.
func (c *Client) ListBuilds(ctx context.Context, slug string) ([]build.Report, error) {
	id := repository.ID(slug)

	runs, _, err := c.gh.Actions.ListRepositoryWorkflowRuns(ctx, id.Owner(), id.Name(), &github.ListWorkflowRunsOptions{
		Status:      "completed",
		ListOptions: github.ListOptions{PerPage: runsPerPage},
	})
	if err != nil {
		var ghErr *github.ErrorResponse
		if errors.As(err, &ghErr) && ghErr.Response != nil && ghErr.Response.StatusCode == http.StatusNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get workflow runs: %w", err)
	}

	var reports []build.Report
	for _, run := range runs.WorkflowRuns {
		status, ok := conclusions[run.GetConclusion()]
		if !ok {
			continue
		}
		if n := len(reports); n > 0 {
			reports[n-1].PreviousStatus = status
		}
		reports = append(reports, convertRun(run, slug, status))
	}

	return reports, nil
}

func convertRun(run *github.WorkflowRun, slug, status string) build.Report {
	commit := run.GetHeadCommit()

	var committedAt string
	if ts := commit.GetTimestamp(); !ts.IsZero() {
		committedAt = ts.Format(time.RFC3339)
	}

	var compareURL string
	if repoURL := run.GetRepository().GetHTMLURL(); repoURL != "" && run.GetHeadSHA() != "" {
		compareURL = repoURL + "/commit/" + run.GetHeadSHA()
	}

	return build.Report{
		RepositorySlug: slug,
		ID:             run.GetID(),
		Number:         fmt.Sprintf("%d", run.GetRunNumber()),
		Status:         status,
		WebURL:         run.GetHTMLURL(),
		Commit: build.Commit{
			SHA:         run.GetHeadSHA(),
			Author:      commit.GetAuthor().GetName(),
			Message:     commit.GetMessage(),
			CompareURL:  compareURL,
			CommittedAt: committedAt,
		},
	}
}
