// Package board turns board lists and issue collections into an ordered
// kanban board: the synthetic "Open" column first, the board's own columns in
// upstream order, "Closed" last.
package board

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/sprintlab/middleware/internal/gitlab"
)

// fallbackColumnName labels a board list that carries neither a bound label
// nor a list type. The literal matches the name the web dashboard renders.
const fallbackColumnName = "Sem Nome"

// Column names for the two synthetic buckets.
const (
	openColumn   = "Open"
	closedColumn = "Closed"
)

// Client is the slice of the tracker client the assembler needs.
type Client interface {
	GetProject(ctx context.Context, projectID string) (*gitlab.Project, error)
	ListLabels(ctx context.Context, projectID string) ([]gitlab.Label, error)
	ListBoardLists(ctx context.Context, projectID, boardID string) ([]gitlab.BoardList, error)
	ListIssuesPage(ctx context.Context, projectID string, opts gitlab.IssueListOptions, page int) ([]gitlab.Issue, error)
}

// Column is one named, ordered bucket of issues.
type Column struct {
	Name   string
	Issues []gitlab.Issue
}

// Board is the ordered column sequence. It marshals to a JSON object whose
// key order is the column order, matching what the dashboard expects.
type Board struct {
	Columns []Column
}

// MarshalJSON emits the columns as an object in column order. encoding/json
// would not preserve order for a map, so the object is built by hand.
func (b Board) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, col := range b.Columns {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(col.Name)
		if err != nil {
			return nil, err
		}
		buf.Write(name)
		buf.WriteByte(':')
		issues := col.Issues
		if issues == nil {
			issues = []gitlab.Issue{}
		}
		encoded, err := json.Marshal(issues)
		if err != nil {
			return nil, err
		}
		buf.Write(encoded)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Result is the full board payload: the ordered board plus the presentation
// metadata the dashboard renders around it.
type Result struct {
	ProjectName   string            `json:"project_name"`
	ProjectID     string            `json:"project_id"`
	ProjectWebURL string            `json:"project_web_url"`
	Board         Board             `json:"board"`
	LabelColors   map[string]string `json:"label_colors"`
}

// Assembler builds board results from a tracker client.
type Assembler struct {
	client Client
}

// NewAssembler creates an Assembler backed by the given client.
func NewAssembler(client Client) *Assembler {
	return &Assembler{client: client}
}

// Assemble fetches and composes the board for one project and board id. The
// call chain is strictly sequential: labels, project, lists, one issue query
// per label-bound list, then the opened and closed buckets. The first failure
// aborts the whole assembly.
//
// Issue queries here are capped at one page of 100; only the timeline path
// paginates to exhaustion.
func (a *Assembler) Assemble(ctx context.Context, projectID, boardID string) (*Result, error) {
	labels, err := a.client.ListLabels(ctx, projectID)
	if err != nil {
		return nil, err
	}
	labelColors := make(map[string]string, len(labels))
	for _, label := range labels {
		labelColors[label.Name] = label.Color
	}

	project, err := a.client.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}

	lists, err := a.client.ListBoardLists(ctx, projectID, boardID)
	if err != nil {
		return nil, err
	}
	claimed := claimedLabels(lists)

	listColumns := make([]Column, 0, len(lists))
	for _, list := range lists {
		col := Column{Name: columnName(list), Issues: []gitlab.Issue{}}
		if list.Label != nil {
			issues, err := a.client.ListIssuesPage(ctx, projectID, gitlab.IssueListOptions{
				State:  "opened",
				Labels: list.Label.Name,
			}, 1)
			if err != nil {
				return nil, err
			}
			col.Issues = keepOpened(issues)
		}
		listColumns = append(listColumns, col)
	}

	opened, err := a.client.ListIssuesPage(ctx, projectID, gitlab.IssueListOptions{State: "opened"}, 1)
	if err != nil {
		return nil, err
	}
	unclaimed := partitionOpen(opened, claimed)

	closed, err := a.client.ListIssuesPage(ctx, projectID, gitlab.IssueListOptions{State: "closed"}, 1)
	if err != nil {
		return nil, err
	}

	return &Result{
		ProjectName:   project.Name,
		ProjectID:     projectID,
		ProjectWebURL: project.WebURL,
		Board:         compose(unclaimed, listColumns, closed),
		LabelColors:   labelColors,
	}, nil
}

// claimedLabels derives the set of label names bound to some board list.
// Issues carrying any of these are owned by their list column and excluded
// from the fallback "Open" bucket.
func claimedLabels(lists []gitlab.BoardList) map[string]bool {
	claimed := make(map[string]bool)
	for _, list := range lists {
		if list.Label != nil {
			claimed[list.Label.Name] = true
		}
	}
	return claimed
}

// columnName resolves a list's display name: bound label first, then list
// type, then the unnamed fallback.
func columnName(list gitlab.BoardList) string {
	switch {
	case list.Label != nil && list.Label.Name != "":
		return list.Label.Name
	case list.ListType != "":
		return list.ListType
	default:
		return fallbackColumnName
	}
}

// keepOpened drops anything the label query returned that is not an opened
// issue.
func keepOpened(issues []gitlab.Issue) []gitlab.Issue {
	kept := make([]gitlab.Issue, 0, len(issues))
	for _, issue := range issues {
		if issue.State == "opened" {
			kept = append(kept, issue)
		}
	}
	return kept
}

// partitionOpen returns the opened issues carrying no claimed label at all.
// An issue with even one claimed label is assumed to already sit in that
// label's column and is left out, whatever its other labels are.
func partitionOpen(issues []gitlab.Issue, claimed map[string]bool) []gitlab.Issue {
	var unclaimed []gitlab.Issue
	for _, issue := range issues {
		hasClaimed := false
		for _, label := range issue.Labels {
			if claimed[label] {
				hasClaimed = true
				break
			}
		}
		if !hasClaimed {
			unclaimed = append(unclaimed, issue)
		}
	}
	return unclaimed
}

// compose assembles the final column order: Open first and Closed last, each
// omitted when empty; list columns keep their upstream order and stay even
// when empty.
func compose(open []gitlab.Issue, listColumns []Column, closed []gitlab.Issue) Board {
	columns := make([]Column, 0, len(listColumns)+2)
	if len(open) > 0 {
		columns = append(columns, Column{Name: openColumn, Issues: open})
	}
	columns = append(columns, listColumns...)
	if len(closed) > 0 {
		columns = append(columns, Column{Name: closedColumn, Issues: closed})
	}
	return Board{Columns: columns}
}
