package server

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/sprintlab/middleware/internal/board"
	"github.com/sprintlab/middleware/internal/gitlab"
	"github.com/sprintlab/middleware/internal/store"
	"github.com/sprintlab/middleware/internal/timeline"
)

func errorIsNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}

// writeAggregationError maps a failed upstream chain to a response: shape
// violations get their own message, everything else collapses to a generic
// failure. Detail stays in the log.
func writeAggregationError(w http.ResponseWriter, what string, err error) {
	slog.Error("aggregation failed", "what", what, "error", err)
	if errors.Is(err, gitlab.ErrUnexpectedPayload) {
		writeError(w, http.StatusInternalServerError, "unexpected response shape from tracker")
		return
	}
	writeError(w, http.StatusInternalServerError, "failed to load "+what)
}

// handleBoard serves the assembled kanban board for a channel's project.
func (s *Server) handleBoard(w http.ResponseWriter, r *http.Request) {
	if !requireQuery(w, r, "teamId", "channelId", "boardId") {
		return
	}
	config := s.resolveChannel(w, r)
	if config == nil {
		return
	}

	teamID := r.URL.Query().Get("teamId")
	channelID := r.URL.Query().Get("channelId")
	boardID := r.URL.Query().Get("boardId")

	key := strings.Join([]string{"board", teamID, channelID, boardID}, "|")
	result, err, _ := s.flights.Do(key, func() (any, error) {
		assembler := board.NewAssembler(s.newClient(config.Token))
		return assembler.Assemble(r.Context(), config.ProjectID, boardID)
	})
	if err != nil {
		writeAggregationError(w, "board issues", err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// handleTimeline serves the Gantt projection for a channel's project.
func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	if !requireQuery(w, r, "teamId", "channelId") {
		return
	}
	config := s.resolveChannel(w, r)
	if config == nil {
		return
	}

	teamID := r.URL.Query().Get("teamId")
	channelID := r.URL.Query().Get("channelId")

	key := strings.Join([]string{"timeline", teamID, channelID}, "|")
	result, err, _ := s.flights.Do(key, func() (any, error) {
		projector := timeline.NewProjector(s.newClient(config.Token))
		return projector.Project(r.Context(), config.ProjectID)
	})
	if err != nil {
		writeAggregationError(w, "timeline data", err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// handleBoards lists the project's board definitions.
func (s *Server) handleBoards(w http.ResponseWriter, r *http.Request) {
	if !requireQuery(w, r, "teamId", "channelId") {
		return
	}
	config := s.resolveChannel(w, r)
	if config == nil {
		return
	}

	boards, err := s.newClient(config.Token).ListBoards(r.Context(), config.ProjectID)
	if err != nil {
		writeAggregationError(w, "boards", err)
		return
	}
	writeJSON(w, http.StatusOK, boards)
}

// handleProjectConfig returns the stored channel configuration, which the
// config tab uses to prefill its form.
func (s *Server) handleProjectConfig(w http.ResponseWriter, r *http.Request) {
	if !requireQuery(w, r, "teamId", "channelId") {
		return
	}
	config := s.resolveChannel(w, r)
	if config == nil {
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"gitlab_project_id": config.ProjectID,
		"gitlab_token":      config.Token,
	})
}

// handleProjectName returns just the project name.
func (s *Server) handleProjectName(w http.ResponseWriter, r *http.Request) {
	if !requireQuery(w, r, "teamId", "channelId") {
		return
	}
	config := s.resolveChannel(w, r)
	if config == nil {
		return
	}

	project, err := s.newClient(config.Token).GetProject(r.Context(), config.ProjectID)
	if err != nil {
		writeAggregationError(w, "project name", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"name": project.Name})
}

// handleProjectMetadata returns assignees, labels and milestones, the lookup
// data the issue editing form needs.
func (s *Server) handleProjectMetadata(w http.ResponseWriter, r *http.Request) {
	if !requireQuery(w, r, "teamId", "channelId") {
		return
	}
	config := s.resolveChannel(w, r)
	if config == nil {
		return
	}

	client := s.newClient(config.Token)
	users, err := client.ListUsers(r.Context(), config.ProjectID)
	if err != nil {
		writeAggregationError(w, "project metadata", err)
		return
	}
	labels, err := client.ListLabels(r.Context(), config.ProjectID)
	if err != nil {
		writeAggregationError(w, "project metadata", err)
		return
	}
	milestones, err := client.ListMilestones(r.Context(), config.ProjectID)
	if err != nil {
		writeAggregationError(w, "project metadata", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"assignees":  users,
		"labels":     labels,
		"milestones": milestones,
	})
}

// issueIID extracts the {iid} path value, writing a 400 on garbage.
func issueIID(w http.ResponseWriter, r *http.Request) (int, bool) {
	iid, err := strconv.Atoi(r.PathValue("iid"))
	if err != nil || iid <= 0 {
		writeError(w, http.StatusBadRequest, "invalid issue iid")
		return 0, false
	}
	return iid, true
}

// handleGetIssue returns one issue's details.
func (s *Server) handleGetIssue(w http.ResponseWriter, r *http.Request) {
	if !requireQuery(w, r, "teamId", "channelId") {
		return
	}
	iid, ok := issueIID(w, r)
	if !ok {
		return
	}
	config := s.resolveChannel(w, r)
	if config == nil {
		return
	}

	issue, err := s.newClient(config.Token).GetIssue(r.Context(), config.ProjectID, iid)
	if err != nil {
		writeAggregationError(w, "issue details", err)
		return
	}
	writeJSON(w, http.StatusOK, issue)
}

// handleRelatedMergeRequests lists merge requests referencing an issue.
func (s *Server) handleRelatedMergeRequests(w http.ResponseWriter, r *http.Request) {
	if !requireQuery(w, r, "teamId", "channelId") {
		return
	}
	iid, ok := issueIID(w, r)
	if !ok {
		return
	}
	config := s.resolveChannel(w, r)
	if config == nil {
		return
	}

	mrs, err := s.newClient(config.Token).ListRelatedMergeRequests(r.Context(), config.ProjectID, iid)
	if err != nil {
		writeAggregationError(w, "related merge requests", err)
		return
	}
	writeJSON(w, http.StatusOK, mrs)
}

// handleCreateIssue opens a new issue in the channel's project.
func (s *Server) handleCreateIssue(w http.ResponseWriter, r *http.Request) {
	if !requireQuery(w, r, "teamId", "channelId") {
		return
	}
	config := s.resolveChannel(w, r)
	if config == nil {
		return
	}

	var req struct {
		gitlab.CreateIssueRequest
		Labels []string `json:"labels"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Title == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}
	req.CreateIssueRequest.Labels = req.Labels

	issue, err := s.newClient(config.Token).CreateIssue(r.Context(), config.ProjectID, req.CreateIssueRequest)
	if err != nil {
		writeAggregationError(w, "issue creation", err)
		return
	}
	writeJSON(w, http.StatusOK, issue)
}

// handleUpdateIssue updates an existing issue.
func (s *Server) handleUpdateIssue(w http.ResponseWriter, r *http.Request) {
	if !requireQuery(w, r, "teamId", "channelId") {
		return
	}
	iid, ok := issueIID(w, r)
	if !ok {
		return
	}
	config := s.resolveChannel(w, r)
	if config == nil {
		return
	}

	var req gitlab.UpdateIssueRequest
	if !decodeBody(w, r, &req) {
		return
	}

	issue, err := s.newClient(config.Token).UpdateIssue(r.Context(), config.ProjectID, iid, req)
	if err != nil {
		writeAggregationError(w, "issue update", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "issue updated",
		"data":    issue,
	})
}

// handleConfigureProject validates a channel configuration against GitLab and
// stores it unless the exact mapping already exists.
func (s *Server) handleConfigureProject(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TeamID      string `json:"teamId"`
		ChannelID   string `json:"channelId"`
		ProjectName string `json:"projectName"`
		ProjectID   string `json:"projectId"`
		Token       string `json:"token"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.TeamID == "" || req.ChannelID == "" || req.ProjectName == "" || req.ProjectID == "" || req.Token == "" {
		writeError(w, http.StatusBadRequest, "all fields are required")
		return
	}

	// Prove the credential can read the project before storing anything.
	client := s.newClient(req.Token)
	if _, err := client.ListIssuesPage(r.Context(), req.ProjectID, gitlab.IssueListOptions{}, 1); err != nil {
		slog.Warn("credential validation failed", "team", req.TeamID, "channel", req.ChannelID, "error", err)
		writeError(w, http.StatusForbidden, "invalid token or no access to the GitLab project")
		return
	}

	created, err := s.configs.SaveIfAbsent(r.Context(), store.ChannelConfig{
		TeamID:      req.TeamID,
		ChannelID:   req.ChannelID,
		ProjectName: req.ProjectName,
		ProjectID:   req.ProjectID,
		Token:       req.Token,
	})
	if err != nil {
		slog.Error("failed to save channel config", "team", req.TeamID, "channel", req.ChannelID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save configuration")
		return
	}

	message := "GitLab project connection validated"
	if created {
		message = "configuration saved"
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": message})
}

// decodeBody decodes a JSON request body, writing a 400 on malformed input.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := decodeJSON(r, v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}
