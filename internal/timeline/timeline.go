// Package timeline flattens a project's issues into date-normalized entries
// for the Gantt dashboard.
package timeline

import (
	"context"
	"fmt"

	"github.com/sprintlab/middleware/internal/gitlab"
)

// noAssignee is the display fallback when an issue has nobody assigned.
const noAssignee = "No Assignee"

// Client is the slice of the tracker client the projector needs.
type Client interface {
	GetProject(ctx context.Context, projectID string) (*gitlab.Project, error)
	ListAllIssues(ctx context.Context, projectID string, opts gitlab.IssueListOptions) ([]gitlab.Issue, error)
}

// MilestoneRef carries only the milestone title; the dashboard needs nothing
// else of the milestone.
type MilestoneRef struct {
	Title string `json:"title"`
}

// Entry is one issue projected onto the timeline. EndDate and ClosedAt are
// explicit nulls when absent so the renderer can draw open-ended bars.
type Entry struct {
	ID        int           `json:"id"`
	IID       int           `json:"iid"`
	Name      string        `json:"name"`
	StartDate string        `json:"startDate"`
	EndDate   *string       `json:"endDate"`
	ClosedAt  *string       `json:"closed_at"`
	Milestone *MilestoneRef `json:"milestone"`
	Assignees []gitlab.User `json:"assignees"`
	Labels    []string      `json:"labels"`
}

// Result is the timeline payload: entries in upstream order plus the project
// web URL used to build issue links.
type Result struct {
	Issues        []Entry `json:"issues"`
	ProjectWebURL string  `json:"projectWebUrl"`
}

// Projector builds timeline results from a tracker client.
type Projector struct {
	client Client
}

// NewProjector creates a Projector backed by the given client.
func NewProjector(client Client) *Projector {
	return &Projector{client: client}
}

// Project fetches the project metadata and every issue (full pagination, no
// cap) and projects each issue onto the timeline. Entries keep upstream
// order; sorting along the date axis is the renderer's concern.
func (p *Projector) Project(ctx context.Context, projectID string) (*Result, error) {
	project, err := p.client.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}

	issues, err := p.client.ListAllIssues(ctx, projectID, gitlab.IssueListOptions{})
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(issues))
	for _, issue := range issues {
		entries = append(entries, projectEntry(issue))
	}

	return &Result{
		Issues:        entries,
		ProjectWebURL: project.WebURL,
	}, nil
}

// projectEntry maps one issue to its timeline entry: created_at falls back to
// updated_at for the start, due_date stays null when unset, and the display
// name carries the first assignee.
func projectEntry(issue gitlab.Issue) Entry {
	start := issue.CreatedAt
	if start == "" {
		start = issue.UpdatedAt
	}

	assigneeName := noAssignee
	if len(issue.Assignees) > 0 {
		assigneeName = issue.Assignees[0].Name
	}

	var milestone *MilestoneRef
	if issue.Milestone != nil {
		milestone = &MilestoneRef{Title: issue.Milestone.Title}
	}

	assignees := issue.Assignees
	if assignees == nil {
		assignees = []gitlab.User{}
	}
	labels := issue.Labels
	if labels == nil {
		labels = []string{}
	}

	return Entry{
		ID:        issue.ID,
		IID:       issue.IID,
		Name:      fmt.Sprintf("%s (%s)", issue.Title, assigneeName),
		StartDate: start,
		EndDate:   issue.DueDate,
		ClosedAt:  issue.ClosedAt,
		Milestone: milestone,
		Assignees: assignees,
		Labels:    labels,
	}
}
