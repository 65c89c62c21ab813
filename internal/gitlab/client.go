// Package gitlab is a typed client for the subset of the GitLab v4 REST API
// the SprintLab dashboards consume: project metadata, labels, issue boards and
// issues. Credentials are per-channel, so a Client is cheap and constructed
// per request.
package gitlab

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/oauth2"
)

// DefaultBaseURL is the public GitLab API endpoint.
const DefaultBaseURL = "https://gitlab.com/api/v4"

// perPage is the fixed page size for every collection request.
const perPage = 100

// ErrTrackerUnavailable marks any transport failure or non-2xx response from
// GitLab. The aggregation chain aborts on the first occurrence; nothing
// partial is returned.
var ErrTrackerUnavailable = errors.New("gitlab unavailable")

// ErrUnexpectedPayload marks a 2xx response missing a field this service
// requires, e.g. a project without a name.
var ErrUnexpectedPayload = errors.New("unexpected gitlab payload")

// Client issues authenticated requests against one GitLab instance with one
// credential.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient creates a client that authenticates with a private token sent in
// the PRIVATE-TOKEN header.
func NewClient(baseURL, token string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{},
	}
}

// NewOAuthClient creates a client that authenticates with an OAuth access
// token sent as a bearer header, for deployments whose stored credentials are
// OAuth tokens rather than personal access tokens.
func NewOAuthClient(ctx context.Context, baseURL, token string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	ts := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: token},
	)
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    oauth2.NewClient(ctx, ts),
	}
}

// do performs one request and decodes the JSON response into out (skipped
// when out is nil). Any transport failure or non-2xx status maps to
// ErrTrackerUnavailable.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("PRIVATE-TOKEN", c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrTrackerUnavailable, method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: %s %s: reading response: %v", ErrTrackerUnavailable, method, path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: %s %s returned %d: %s", ErrTrackerUnavailable, method, path, resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrUnexpectedPayload, method, path, err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	return c.do(ctx, http.MethodGet, path, query, nil, out)
}

// projectPath builds the /projects/{id} prefix. Project ids may be numeric or
// a "group/name" path, so the id is always escaped.
func projectPath(projectID string) string {
	return "/projects/" + url.PathEscape(projectID)
}

// GetProject fetches project metadata (name and web URL).
func (c *Client) GetProject(ctx context.Context, projectID string) (*Project, error) {
	var project Project
	if err := c.get(ctx, projectPath(projectID), nil, &project); err != nil {
		return nil, err
	}
	if project.Name == "" {
		return nil, fmt.Errorf("%w: project %s has no name", ErrUnexpectedPayload, projectID)
	}
	return &project, nil
}

// ListLabels fetches the project's labels. A single page of 100 is assumed to
// cover the project; projects with more labels get a truncated color map.
func (c *Client) ListLabels(ctx context.Context, projectID string) ([]Label, error) {
	query := url.Values{"per_page": {strconv.Itoa(perPage)}}
	var labels []Label
	if err := c.get(ctx, projectPath(projectID)+"/labels", query, &labels); err != nil {
		return nil, err
	}
	return labels, nil
}

// ListBoards fetches the project's issue board definitions.
func (c *Client) ListBoards(ctx context.Context, projectID string) ([]Board, error) {
	var boards []Board
	if err := c.get(ctx, projectPath(projectID)+"/boards", nil, &boards); err != nil {
		return nil, err
	}
	return boards, nil
}

// ListBoardLists fetches the ordered column templates of one board.
func (c *Client) ListBoardLists(ctx context.Context, projectID, boardID string) ([]BoardList, error) {
	path := projectPath(projectID) + "/boards/" + url.PathEscape(boardID) + "/lists"
	var lists []BoardList
	if err := c.get(ctx, path, nil, &lists); err != nil {
		return nil, err
	}
	return lists, nil
}

// IssueListOptions filter an issue listing. Empty fields are omitted from the
// query string.
type IssueListOptions struct {
	State  string
	Labels string
}

func (o IssueListOptions) query(page int) url.Values {
	query := url.Values{
		"per_page": {strconv.Itoa(perPage)},
		"page":     {strconv.Itoa(page)},
	}
	if o.State != "" {
		query.Set("state", o.State)
	}
	if o.Labels != "" {
		query.Set("labels", o.Labels)
	}
	return query
}

// ListIssuesPage fetches a single page of up to 100 issues. This is the
// capped fetch policy the board path uses: page 1 only, deliberately no drive
// to exhaustion.
func (c *Client) ListIssuesPage(ctx context.Context, projectID string, opts IssueListOptions, page int) ([]Issue, error) {
	var issues []Issue
	if err := c.get(ctx, projectPath(projectID)+"/issues", opts.query(page), &issues); err != nil {
		return nil, err
	}
	return issues, nil
}

// ListAllIssues drives full pagination, concatenating pages from 1 upward
// until a page comes back short. A short page is the only termination signal
// GitLab gives here, so a collection of exactly N*100 issues costs one extra
// empty-page request.
func (c *Client) ListAllIssues(ctx context.Context, projectID string, opts IssueListOptions) ([]Issue, error) {
	var all []Issue
	for page := 1; ; page++ {
		batch, err := c.ListIssuesPage(ctx, projectID, opts, page)
		if err != nil {
			return nil, err
		}
		all = append(all, batch...)
		if len(batch) < perPage {
			return all, nil
		}
	}
}

// GetIssue fetches a single issue by its project-scoped iid.
func (c *Client) GetIssue(ctx context.Context, projectID string, issueIID int) (*Issue, error) {
	var issue Issue
	path := projectPath(projectID) + "/issues/" + strconv.Itoa(issueIID)
	if err := c.get(ctx, path, nil, &issue); err != nil {
		return nil, err
	}
	return &issue, nil
}

// CreateIssueRequest carries the fields accepted when opening an issue.
type CreateIssueRequest struct {
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	DueDate     string   `json:"due_date,omitempty"`
	AssigneeID  *int     `json:"assignee_id,omitempty"`
	MilestoneID *int     `json:"milestone_id,omitempty"`
	Labels      []string `json:"-"`
}

// CreateIssue opens a new issue. Labels go over the wire as a comma-joined
// string, which is what the GitLab issues endpoint expects.
func (c *Client) CreateIssue(ctx context.Context, projectID string, req CreateIssueRequest) (*Issue, error) {
	payload := struct {
		CreateIssueRequest
		Labels string `json:"labels"`
	}{req, strings.Join(req.Labels, ",")}

	var issue Issue
	if err := c.do(ctx, http.MethodPost, projectPath(projectID)+"/issues", nil, payload, &issue); err != nil {
		return nil, err
	}
	return &issue, nil
}

// UpdateIssueRequest carries the fields accepted on issue update. Nil fields
// are left untouched upstream; StateEvent ("close"/"reopen") transitions the
// issue.
type UpdateIssueRequest struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	DueDate     *string `json:"due_date,omitempty"`
	AssigneeID  *int    `json:"assignee_id,omitempty"`
	Labels      *string `json:"labels,omitempty"`
	MilestoneID *int    `json:"milestone_id,omitempty"`
	StateEvent  *string `json:"state_event,omitempty"`
}

// UpdateIssue updates an existing issue by iid.
func (c *Client) UpdateIssue(ctx context.Context, projectID string, issueIID int, req UpdateIssueRequest) (*Issue, error) {
	var issue Issue
	path := projectPath(projectID) + "/issues/" + strconv.Itoa(issueIID)
	if err := c.do(ctx, http.MethodPut, path, nil, req, &issue); err != nil {
		return nil, err
	}
	return &issue, nil
}

// ListUsers fetches the project's members.
func (c *Client) ListUsers(ctx context.Context, projectID string) ([]User, error) {
	var users []User
	if err := c.get(ctx, projectPath(projectID)+"/users", nil, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// ListMilestones fetches the project's milestones.
func (c *Client) ListMilestones(ctx context.Context, projectID string) ([]Milestone, error) {
	var milestones []Milestone
	if err := c.get(ctx, projectPath(projectID)+"/milestones", nil, &milestones); err != nil {
		return nil, err
	}
	return milestones, nil
}

// ListRelatedMergeRequests fetches merge requests referencing an issue.
func (c *Client) ListRelatedMergeRequests(ctx context.Context, projectID string, issueIID int) ([]MergeRequest, error) {
	path := projectPath(projectID) + "/issues/" + strconv.Itoa(issueIID) + "/related_merge_requests"
	var mrs []MergeRequest
	if err := c.get(ctx, path, nil, &mrs); err != nil {
		return nil, err
	}
	return mrs, nil
}
