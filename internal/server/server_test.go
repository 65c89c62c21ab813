package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sprintlab/middleware/internal/gitlab"
	"github.com/sprintlab/middleware/internal/store"
)

type fakeResolver struct {
	config *store.ProjectConfig
	err    error
	calls  int
}

func (f *fakeResolver) Resolve(_ context.Context, _, _ string) (*store.ProjectConfig, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.config, nil
}

type fakeConfigurator struct {
	saved   []store.ChannelConfig
	created bool
	err     error
}

func (f *fakeConfigurator) SaveIfAbsent(_ context.Context, config store.ChannelConfig) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	f.saved = append(f.saved, config)
	return f.created, nil
}

// gitlabStub fakes the few GitLab endpoints the aggregations hit for
// project 42 with board 7.
func gitlabStub(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	writeBody := func(w http.ResponseWriter, body string) {
		w.Header().Set("Content-Type", "application/json")
		_, err := w.Write([]byte(body))
		require.NoError(t, err)
	}

	mux.HandleFunc("/projects/42", func(w http.ResponseWriter, _ *http.Request) {
		writeBody(w, `{"id":42,"name":"SprintLab","web_url":"https://gitlab.example/team/sprintlab"}`)
	})
	mux.HandleFunc("/projects/42/labels", func(w http.ResponseWriter, _ *http.Request) {
		writeBody(w, `[{"id":1,"name":"Doing","color":"#f00"}]`)
	})
	mux.HandleFunc("/projects/42/boards", func(w http.ResponseWriter, _ *http.Request) {
		writeBody(w, `[{"id":7,"name":"Development"}]`)
	})
	mux.HandleFunc("/projects/42/boards/7/lists", func(w http.ResponseWriter, _ *http.Request) {
		writeBody(w, `[{"id":1,"label":{"name":"Doing","color":"#f00"},"position":0}]`)
	})
	mux.HandleFunc("/projects/42/issues", func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Query().Get("labels") == "Doing":
			writeBody(w, `[{"id":1,"iid":1,"title":"Claimed","state":"opened","labels":["Doing"],"created_at":"2024-01-01"}]`)
		case r.URL.Query().Get("state") == "opened":
			writeBody(w, `[
				{"id":1,"iid":1,"title":"Claimed","state":"opened","labels":["Doing"],"created_at":"2024-01-01"},
				{"id":2,"iid":2,"title":"Loose","state":"opened","labels":[],"created_at":"2024-01-02"}
			]`)
		case r.URL.Query().Get("state") == "closed":
			writeBody(w, `[{"id":3,"iid":3,"title":"Done","state":"closed","labels":[],"created_at":"2024-01-03"}]`)
		default:
			writeBody(w, `[
				{"id":1,"iid":1,"title":"Claimed","state":"opened","labels":["Doing"],"created_at":"2024-01-01"},
				{"id":2,"iid":2,"title":"Loose","state":"opened","labels":[],"created_at":"2024-01-02"},
				{"id":3,"iid":3,"title":"Done","state":"closed","labels":[],"created_at":"2024-01-03"}
			]`)
		}
	})

	return httptest.NewServer(mux)
}

func newTestServer(t *testing.T, resolver *fakeResolver, configs *fakeConfigurator, trackerURL string) *Server {
	t.Helper()
	return New(resolver, configs, func(token string) *gitlab.Client {
		return gitlab.NewClient(trackerURL, token)
	})
}

func doRequest(t *testing.T, s *Server, method, target string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHandleBoard_MissingParams(t *testing.T) {
	resolver := &fakeResolver{}
	s := newTestServer(t, resolver, &fakeConfigurator{}, "http://unused")

	rec := doRequest(t, s, http.MethodGet, "/gitlab-issues?teamId=t&channelId=c", "")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	// Parameter validation runs before any store or tracker access.
	assert.Zero(t, resolver.calls)
}

func TestHandleBoard_ConfigNotFound(t *testing.T) {
	resolver := &fakeResolver{err: store.ErrNotFound}
	s := newTestServer(t, resolver, &fakeConfigurator{}, "http://unused")

	rec := doRequest(t, s, http.MethodGet, "/gitlab-issues?teamId=t&channelId=c&boardId=7", "")

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleBoard_Success(t *testing.T) {
	tracker := gitlabStub(t)
	defer tracker.Close()

	resolver := &fakeResolver{config: &store.ProjectConfig{ProjectID: "42", Token: "tok"}}
	s := newTestServer(t, resolver, &fakeConfigurator{}, tracker.URL)

	rec := doRequest(t, s, http.MethodGet, "/gitlab-issues?teamId=t&channelId=c&boardId=7", "")

	require.Equal(t, http.StatusOK, rec.Code)

	var result struct {
		ProjectName   string                       `json:"project_name"`
		ProjectWebURL string                       `json:"project_web_url"`
		Board         map[string][]json.RawMessage `json:"board"`
		LabelColors   map[string]string            `json:"label_colors"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))

	assert.Equal(t, "SprintLab", result.ProjectName)
	assert.Equal(t, "https://gitlab.example/team/sprintlab", result.ProjectWebURL)
	assert.Equal(t, map[string]string{"Doing": "#f00"}, result.LabelColors)
	assert.Len(t, result.Board["Doing"], 1)
	assert.Len(t, result.Board["Open"], 1)
	assert.Len(t, result.Board["Closed"], 1)
}

func TestHandleBoard_TrackerFailureIsGeneric(t *testing.T) {
	tracker := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"message":"boom with secret detail"}`, http.StatusBadGateway)
	}))
	defer tracker.Close()

	resolver := &fakeResolver{config: &store.ProjectConfig{ProjectID: "42", Token: "tok"}}
	s := newTestServer(t, resolver, &fakeConfigurator{}, tracker.URL)

	rec := doRequest(t, s, http.MethodGet, "/gitlab-issues?teamId=t&channelId=c&boardId=7", "")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	// Upstream detail stays in the log, not the response.
	assert.NotContains(t, rec.Body.String(), "secret detail")
}

func TestHandleTimeline_Success(t *testing.T) {
	tracker := gitlabStub(t)
	defer tracker.Close()

	resolver := &fakeResolver{config: &store.ProjectConfig{ProjectID: "42", Token: "tok"}}
	s := newTestServer(t, resolver, &fakeConfigurator{}, tracker.URL)

	rec := doRequest(t, s, http.MethodGet, "/gitlab-dashboards/gantt-data?teamId=t&channelId=c", "")

	require.Equal(t, http.StatusOK, rec.Code)

	var result struct {
		Issues []struct {
			IID       int     `json:"iid"`
			Name      string  `json:"name"`
			StartDate string  `json:"startDate"`
			EndDate   *string `json:"endDate"`
		} `json:"issues"`
		ProjectWebURL string `json:"projectWebUrl"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))

	assert.Equal(t, "https://gitlab.example/team/sprintlab", result.ProjectWebURL)
	require.Len(t, result.Issues, 3)
	assert.Equal(t, "Claimed (No Assignee)", result.Issues[0].Name)
	assert.Equal(t, "2024-01-01", result.Issues[0].StartDate)
	assert.Nil(t, result.Issues[0].EndDate)
}

func TestHandleUpdateIssue_InvalidIID(t *testing.T) {
	s := newTestServer(t, &fakeResolver{}, &fakeConfigurator{}, "http://unused")

	rec := doRequest(t, s, http.MethodPut, "/gitlab-issues/abc?teamId=t&channelId=c", `{"title":"x"}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleConfigureProject_MissingFields(t *testing.T) {
	configs := &fakeConfigurator{}
	s := newTestServer(t, &fakeResolver{}, configs, "http://unused")

	rec := doRequest(t, s, http.MethodPost, "/configure-project",
		`{"teamId":"t","channelId":"c","projectId":"42"}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, configs.saved)
}

func TestHandleConfigureProject_InvalidCredential(t *testing.T) {
	tracker := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"message":"401 Unauthorized"}`, http.StatusUnauthorized)
	}))
	defer tracker.Close()

	configs := &fakeConfigurator{}
	s := newTestServer(t, &fakeResolver{}, configs, tracker.URL)

	rec := doRequest(t, s, http.MethodPost, "/configure-project",
		`{"teamId":"t","channelId":"c","projectName":"SprintLab","projectId":"42","token":"bad"}`)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	// Nothing is stored for a credential that cannot read the project.
	assert.Empty(t, configs.saved)
}

func TestHandleConfigureProject_SavesValidConfig(t *testing.T) {
	tracker := gitlabStub(t)
	defer tracker.Close()

	configs := &fakeConfigurator{created: true}
	s := newTestServer(t, &fakeResolver{}, configs, tracker.URL)

	rec := doRequest(t, s, http.MethodPost, "/configure-project",
		`{"teamId":"t","channelId":"c","projectName":"SprintLab","projectId":"42","token":"tok"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, configs.saved, 1)
	assert.Equal(t, "42", configs.saved[0].ProjectID)
	assert.Equal(t, "tok", configs.saved[0].Token)
	assert.Contains(t, rec.Body.String(), "configuration saved")
}

func TestHandleProjectName(t *testing.T) {
	tracker := gitlabStub(t)
	defer tracker.Close()

	resolver := &fakeResolver{config: &store.ProjectConfig{ProjectID: "42", Token: "tok"}}
	s := newTestServer(t, resolver, &fakeConfigurator{}, tracker.URL)

	rec := doRequest(t, s, http.MethodGet, "/gitlab-issues/project-name?teamId=t&channelId=c", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"name":"SprintLab"}`, rec.Body.String())
}

func TestHandleBoards(t *testing.T) {
	tracker := gitlabStub(t)
	defer tracker.Close()

	resolver := &fakeResolver{config: &store.ProjectConfig{ProjectID: "42", Token: "tok"}}
	s := newTestServer(t, resolver, &fakeConfigurator{}, tracker.URL)

	for _, target := range []string{
		"/gitlab-boards?teamId=t&channelId=c",
		"/gitlab-issues/boards?teamId=t&channelId=c",
	} {
		rec := doRequest(t, s, http.MethodGet, target, "")
		require.Equal(t, http.StatusOK, rec.Code, target)
		assert.Contains(t, rec.Body.String(), "Development")
	}
}

func TestHandleStoreFailure(t *testing.T) {
	resolver := &fakeResolver{err: errors.New("connection refused")}
	s := newTestServer(t, resolver, &fakeConfigurator{}, "http://unused")

	rec := doRequest(t, s, http.MethodGet, "/gitlab-issues/project-config?teamId=t&channelId=c", "")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
