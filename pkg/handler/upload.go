package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"

	"sshpublish/pkg/config"
	"sshpublish/pkg/logger"
	"sshpublish/pkg/task"
	"sshpublish/pkg/upload"
)

type BatchUploader interface {
	Upload(ctx context.Context, localPaths []string, cfg *config.SyncConfig) (*upload.Summary, error)
}

type SummaryStore interface {
	Save(ctx context.Context, id string, summary *upload.Summary) error
}

type CommandTrigger interface {
	Trigger(ctx context.Context) error
}

// UploadHandler runs published batches. Per-file failures end up in the
// stored summary and do not fail the task; asynq retries would otherwise
// resend the whole batch.
type UploadHandler struct {
	uploader BatchUploader
	store    SummaryStore
	trigger  CommandTrigger
	config   *config.Config
	logger   *logger.Logger
}

func NewUploadHandler(uploader BatchUploader, store SummaryStore, trigger CommandTrigger, config *config.Config) *UploadHandler {
	return &UploadHandler{
		uploader: uploader,
		store:    store,
		trigger:  trigger,
		config:   config,
		logger:   logger.NewDefault(),
	}
}

func (h *UploadHandler) Handle(ctx context.Context, asynqTask *asynq.Task) error {
	var payload task.UploadBatchPayload
	if err := json.Unmarshal(asynqTask.Payload(), &payload); err != nil {
		h.logger.Error("failed to unmarshal payload", err, nil)
		return fmt.Errorf("unmarshal payload: %w: %w", err, asynq.SkipRetry)
	}

	paths := payload.LocalPaths
	if len(paths) == 0 {
		paths = h.config.Sync.Files
	}

	taskID, _ := asynq.GetTaskID(ctx)
	h.logger.Info("starting upload batch", map[string]any{
		"task_id": taskID,
		"files":   len(paths),
	})

	summary, err := h.uploader.Upload(ctx, paths, &h.config.Sync)
	if err != nil {
		h.logger.Error("upload batch could not start", err, map[string]any{"task_id": taskID})
		var cfgErr *config.ConfigError
		if errors.As(err, &cfgErr) {
			return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
		}
		return err
	}

	if taskID != "" && h.store != nil {
		if err := h.store.Save(ctx, taskID, summary); err != nil {
			h.logger.Error("failed to store summary", err, map[string]any{"task_id": taskID})
		}
	}

	for _, r := range summary.Failures() {
		h.logger.Warn("file failed", map[string]any{
			"task_id": taskID,
			"file":    r.FilePath,
			"server":  r.Server,
			"error":   r.Error,
		})
	}

	if summary.Success > 0 && h.trigger != nil {
		if err := h.trigger.Trigger(ctx); err != nil {
			h.logger.Error("failed to trigger post-upload command", err, map[string]any{"task_id": taskID})
		}
	}

	return nil
}
