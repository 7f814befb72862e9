package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"sshpublish/pkg/logger"
	"sshpublish/pkg/results"
	"sshpublish/pkg/upload"
)

type BatchPublisher interface {
	PublishUploadBatch(localPaths []string) (string, error)
	Close()
}

type SummaryLoader interface {
	Load(ctx context.Context, id string) (*upload.Summary, error)
}

type HTTPHandler struct {
	publisher BatchPublisher
	results   SummaryLoader
	logger    *logger.Logger
}

type PublishRequest struct {
	LocalPaths []string `json:"local_paths"`
}

type PublishResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	TaskID  string `json:"task_id,omitempty"`
	Error   string `json:"error,omitempty"`
}

func NewHTTPHandler(publisher BatchPublisher, results SummaryLoader) *HTTPHandler {
	return &HTTPHandler{
		publisher: publisher,
		results:   results,
		logger:    logger.NewDefault(),
	}
}

func (h *HTTPHandler) Close() {
	if h.publisher != nil {
		h.publisher.Close()
	}
}

// Routes registers the handler's endpoints on mux.
func (h *HTTPHandler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/publish", h.PublishHandler)
	mux.HandleFunc("/results/", h.ResultsHandler)
}

func (h *HTTPHandler) PublishHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.sendErrorResponse(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req PublishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendErrorResponse(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}

	if len(req.LocalPaths) == 0 {
		h.sendErrorResponse(w, http.StatusBadRequest, "local_paths is required")
		return
	}

	taskID, err := h.publisher.PublishUploadBatch(req.LocalPaths)
	if err != nil {
		h.logger.Error("failed to publish task", err, map[string]any{
			"files": len(req.LocalPaths),
		})
		h.sendErrorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.logger.Info("task published via HTTP", map[string]any{
		"task_id": taskID,
		"files":   len(req.LocalPaths),
	})

	h.sendJSON(w, http.StatusOK, PublishResponse{
		Success: true,
		Message: "task published successfully",
		TaskID:  taskID,
	})
}

func (h *HTTPHandler) ResultsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.sendErrorResponse(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/results/")
	if id == "" || strings.Contains(id, "/") {
		h.sendErrorResponse(w, http.StatusBadRequest, "task id is required")
		return
	}

	summary, err := h.results.Load(r.Context(), id)
	if err != nil {
		if errors.Is(err, results.ErrNotFound) {
			h.sendErrorResponse(w, http.StatusNotFound, "summary not found")
			return
		}
		h.logger.Error("failed to load summary", err, map[string]any{"task_id": id})
		h.sendErrorResponse(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.sendJSON(w, http.StatusOK, summary)
}

func (h *HTTPHandler) sendErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	h.sendJSON(w, statusCode, PublishResponse{
		Success: false,
		Error:   message,
	})
}

func (h *HTTPHandler) sendJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("failed to encode response", err, nil)
	}
}
