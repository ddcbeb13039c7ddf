// Package portal is the HTTP client for the iteration plan API.
package portal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"

	"cadence/api/internal/model"
)

// BasePath is where the iteration plan routes are mounted.
const BasePath = "/api/iteration-plan"

type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

func New(baseURL, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
	}
}

type errorBody struct {
	Code    string         `json:"code"`
	Error   string         `json:"error"`
	Details map[string]any `json:"details"`
}

func (c *Client) ListRepositories(ctx context.Context) ([]model.Repository, error) {
	var out []model.Repository
	if err := c.do(ctx, http.MethodGet, BasePath+"/projects", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ListBusinessProjects(ctx context.Context) ([]model.BusinessProject, error) {
	var out []model.BusinessProject
	if err := c.do(ctx, http.MethodGet, BasePath+"/business-projects", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ListMilestones(ctx context.Context, repoID int64) ([]model.Milestone, error) {
	var out []model.Milestone
	if err := c.do(ctx, http.MethodGet, repoPath(repoID, "milestones"), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CreateMilestone(ctx context.Context, repoID int64, draft model.MilestoneDraft) (model.Milestone, error) {
	var out model.Milestone
	if err := c.do(ctx, http.MethodPost, repoPath(repoID, "milestones"), draft, &out); err != nil {
		return model.Milestone{}, err
	}
	return out, nil
}

func (c *Client) Backlog(ctx context.Context, repoID int64) ([]model.Issue, error) {
	var out []model.Issue
	if err := c.do(ctx, http.MethodGet, repoPath(repoID, "backlog"), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Sprint(ctx context.Context, repoID int64, milestoneTitle string) ([]model.Issue, error) {
	var out []model.Issue
	path := repoPath(repoID, "sprint") + "/" + url.PathEscape(milestoneTitle)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Plan(ctx context.Context, repoID, issueIID, milestoneID int64) error {
	body := model.PlanRequest{IssueIID: issueIID, MilestoneID: milestoneID}
	var out model.StatusResponse
	return c.do(ctx, http.MethodPost, repoPath(repoID, "plan"), body, &out)
}

func (c *Client) Remove(ctx context.Context, repoID, issueIID int64) error {
	body := model.RemoveRequest{IssueIID: issueIID}
	var out model.StatusResponse
	return c.do(ctx, http.MethodPost, repoPath(repoID, "remove"), body, &out)
}

func (c *Client) Release(ctx context.Context, repoID int64, req model.ReleaseRequest) (model.ReleaseResult, error) {
	var out model.ReleaseResult
	if err := c.do(ctx, http.MethodPost, repoPath(repoID, "release"), req, &out); err != nil {
		return model.ReleaseResult{}, err
	}
	return out, nil
}

// CurrentUser reports the session behind the client's token. It is used for
// gating only; an unauthenticated caller is not an error.
func (c *Client) CurrentUser(ctx context.Context) (model.CurrentUser, error) {
	var out model.CurrentUser
	if err := c.do(ctx, http.MethodGet, "/api/session", nil, &out); err != nil {
		return model.CurrentUser{}, err
	}
	return out, nil
}

func repoPath(repoID int64, suffix string) string {
	return BasePath + "/projects/" + strconv.FormatInt(repoID, 10) + "/" + suffix
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	request, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return &TransportError{Err: fmt.Errorf("create request: %w", err)}
	}
	if c.token != "" {
		request.Header.Set("Authorization", "Bearer "+c.token)
	}
	request.Header.Set("Accept", "application/json")
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return &TransportError{Err: fmt.Errorf("do request: %w", err)}
	}
	defer func() {
		if err := response.Body.Close(); err != nil {
			log.Errorf("close response body: %v", err)
		}
	}()

	raw, err := io.ReadAll(response.Body)
	if err != nil {
		return &TransportError{Status: response.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}

	if response.StatusCode < 200 || response.StatusCode > 299 {
		var parsed errorBody
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &parsed); err != nil {
				parsed.Error = strings.TrimSpace(string(raw))
			}
		}
		log.WithFields(log.Fields{
			"method": method,
			"path":   path,
			"status": response.StatusCode,
		}).Debug("portal: request failed")
		return classify(response.StatusCode, parsed)
	}

	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &TransportError{Status: response.StatusCode, Err: fmt.Errorf("unmarshal response: %w", err)}
	}
	return nil
}
