// Package travis queries build status from the Travis CI v3 API.
package travis

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"chatbot/internal/build"
)

// DefaultTimeout bounds a single API call
const DefaultTimeout = 30 * time.Second

// reportedStates are the terminal states that say something about the code.
// Canceled builds are skipped, as cancelled workflow runs are on GitHub.
var reportedStates = []string{build.StatusPassed, build.StatusFailed, build.StatusErrored}

// HTTPClient is the subset of *http.Client the client needs
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client lists finished Travis builds of a repository
type Client struct {
	baseURL    string
	token      string
	limit      int
	httpClient HTTPClient
}

// NewClient creates a Travis client. A nil httpClient uses a client with
// DefaultTimeout.
func NewClient(baseURL, token string, httpClient HTTPClient) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		limit:      1,
		httpClient: httpClient,
	}
}

type buildsResponse struct {
	Builds []travisBuild `json:"builds"`
}

type travisBuild struct {
	ID            int64        `json:"id"`
	Number        string       `json:"number"`
	State         string       `json:"state"`
	PreviousState string       `json:"previous_state"`
	Repository    travisRepo   `json:"repository"`
	Commit        travisCommit `json:"commit"`
}

type travisRepo struct {
	Slug string `json:"slug"`
}

type travisCommit struct {
	SHA         string `json:"sha"`
	Message     string `json:"message"`
	CompareURL  string `json:"compare_url"`
	CommittedAt string `json:"committed_at"`
	Author      struct {
		Name string `json:"name"`
	} `json:"author"`
}

// ListBuilds returns the most recent passed, failed or errored build of
// slug, or nothing if the repository has no such build or is unknown to
// Travis.
func (c *Client) ListBuilds(ctx context.Context, slug string) ([]build.Report, error) {
	query := url.Values{}
	query.Set("limit", fmt.Sprintf("%d", c.limit))
	query.Set("sort_by", "finished_at:desc")
	query.Set("build.state", strings.Join(reportedStates, ","))

	endpoint := fmt.Sprintf("%s/repo/%s/builds?%s", c.baseURL, url.PathEscape(slug), query.Encode())

	var response buildsResponse
	found, err := c.doRequest(ctx, endpoint, &response)
	if err != nil {
		return nil, fmt.Errorf("failed to get builds: %w", err)
	}
	if !found {
		return nil, nil
	}

	reports := make([]build.Report, 0, len(response.Builds))
	for _, b := range response.Builds {
		if !slices.Contains(reportedStates, b.State) {
			continue
		}
		reports = append(reports, c.convertBuild(b, slug))
	}
	return reports, nil
}

func (c *Client) convertBuild(b travisBuild, slug string) build.Report {
	repositorySlug := b.Repository.Slug
	if repositorySlug == "" {
		repositorySlug = slug
	}

	return build.Report{
		RepositorySlug: repositorySlug,
		ID:             b.ID,
		Number:         b.Number,
		Status:         b.State,
		PreviousStatus: b.PreviousState,
		WebURL:         fmt.Sprintf("https://app.travis-ci.com/%s/builds/%d", repositorySlug, b.ID),
		Commit: build.Commit{
			SHA:         b.Commit.SHA,
			Author:      b.Commit.Author.Name,
			Message:     b.Commit.Message,
			CompareURL:  b.Commit.CompareURL,
			CommittedAt: b.Commit.CommittedAt,
		},
	}
}

// doRequest performs a GET and decodes the JSON body into result.
// A 404 reports found=false instead of an error.
func (c *Client) doRequest(ctx context.Context, endpoint string, result any) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Travis-API-Version", "3")
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "token "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return false, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return false, fmt.Errorf("failed to decode response: %w", err)
	}

	return true, nil
}
