package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"sshpublish/pkg/logger"
	"sshpublish/pkg/results"
	"sshpublish/pkg/upload"
)

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) PublishUploadBatch(localPaths []string) (string, error) {
	args := m.Called(localPaths)
	return args.String(0), args.Error(1)
}

func (m *mockPublisher) Close() {}

type mapLoader map[string]*upload.Summary

func (l mapLoader) Load(ctx context.Context, id string) (*upload.Summary, error) {
	if id == "broken" {
		return nil, errors.New("redis down")
	}
	s, ok := l[id]
	if !ok {
		return nil, results.ErrNotFound
	}
	return s, nil
}

func newTestServer(pub *mockPublisher, loader mapLoader) *httptest.Server {
	h := NewHTTPHandler(pub, loader)
	h.logger = logger.New(io.Discard)
	mux := http.NewServeMux()
	h.Routes(mux)
	return httptest.NewServer(mux)
}

func TestPublishHandler(t *testing.T) {
	pub := &mockPublisher{}
	pub.On("PublishUploadBatch", []string{"/proj/a.ts"}).Return("task-1", nil).Once()
	srv := newTestServer(pub, nil)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/publish", "application/json", strings.NewReader(`{"local_paths":["/proj/a.ts"]}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var body PublishResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.True(t, body.Success)
	assert.Equal(t, "task-1", body.TaskID)
	pub.AssertExpectations(t)
}

func TestPublishHandlerRejectsBadRequests(t *testing.T) {
	srv := newTestServer(&mockPublisher{}, nil)
	defer srv.Close()

	tests := []struct {
		name   string
		method string
		body   string
		status int
	}{
		{name: "wrong method", method: http.MethodGet, status: http.StatusMethodNotAllowed},
		{name: "bad json", method: http.MethodPost, body: "{", status: http.StatusBadRequest},
		{name: "no paths", method: http.MethodPost, body: `{"local_paths":[]}`, status: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(tt.method, srv.URL+"/publish", strings.NewReader(tt.body))
			require.NoError(t, err)
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

func TestResultsHandler(t *testing.T) {
	loader := mapLoader{"task-1": {Total: 3, Success: 2, Failed: 1}}
	srv := newTestServer(&mockPublisher{}, loader)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/results/task-1")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var summary upload.Summary
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&summary))
	assert.Equal(t, 3, summary.Total)

	for path, status := range map[string]int{
		"/results/unknown": http.StatusNotFound,
		"/results/broken":  http.StatusInternalServerError,
		"/results/":        http.StatusBadRequest,
	} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, status, resp.StatusCode, path)
	}
}
