package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"sshpublish/pkg/config"
	"sshpublish/pkg/logger"
	"sshpublish/pkg/storage"
	"sshpublish/pkg/task"
)

type CommandRunner interface {
	Run(ctx context.Context, cmd string) (string, error)
	Close() error
}

// RemoteDialer opens a command session to one server.
type RemoteDialer func(ctx context.Context, server *config.ServerConfig) (CommandRunner, error)

func DialRemote(ctx context.Context, server *config.ServerConfig) (CommandRunner, error) {
	t, err := storage.DialSFTP(ctx, server)
	if err != nil {
		return nil, err
	}
	return t, nil
}

type CommandDebouncer interface {
	ShouldExecute(ctx context.Context) (bool, error)
	Schedule(command string) error
	MarkTaskCompleted(ctx context.Context) error
}

// CommandHandler runs the post-upload command on every SFTP server once
// the debounce window is quiet.
type CommandHandler struct {
	config    *config.Config
	debouncer CommandDebouncer
	dial      RemoteDialer
	logger    *logger.Logger
}

func NewCommandHandler(config *config.Config, debouncer CommandDebouncer, dial RemoteDialer, logger *logger.Logger) *CommandHandler {
	if dial == nil {
		dial = DialRemote
	}
	return &CommandHandler{
		config:    config,
		debouncer: debouncer,
		dial:      dial,
		logger:    logger,
	}
}

func (h *CommandHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload task.RemoteCommandPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal remote command payload: %w", err)
	}
	if payload.Command == "" {
		return fmt.Errorf("empty remote command: %w", asynq.SkipRetry)
	}

	shouldExecute, err := h.debouncer.ShouldExecute(ctx)
	if err != nil {
		return fmt.Errorf("failed to check remote command condition: %w", err)
	}
	if !shouldExecute {
		if err := h.debouncer.Schedule(payload.Command); err != nil {
			h.logger.Error("failed to reschedule remote command", err, nil)
			return fmt.Errorf("failed to reschedule remote command: %w", err)
		}
		h.logger.Info("remote command rescheduled due to debounce", map[string]any{
			"delay_seconds": h.config.Daemon.CommandDebounceSeconds,
		})
		return nil
	}

	timeout := time.Duration(h.config.Daemon.CommandTimeoutMinutes) * time.Minute
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var errs []error
	for i := range h.config.Sync.Servers {
		server := &h.config.Sync.Servers[i]
		if server.Kind() != config.ServerTypeSFTP {
			continue
		}
		if err := h.runOn(timeoutCtx, server, payload.Command); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", server.Label(), err))
		}
	}

	if markErr := h.debouncer.MarkTaskCompleted(ctx); markErr != nil {
		h.logger.Error("failed to mark remote command as completed", markErr, nil)
	}

	if len(errs) > 0 {
		return fmt.Errorf("remote command execution failed: %w", errors.Join(errs...))
	}
	return nil
}

func (h *CommandHandler) runOn(ctx context.Context, server *config.ServerConfig, command string) error {
	startTime := time.Now()

	runner, err := h.dial(ctx, server)
	if err != nil {
		h.logger.Error("failed to connect for remote command", err, map[string]any{
			"server": server.Label(),
		})
		return err
	}
	defer func() { _ = runner.Close() }()

	output, err := runner.Run(ctx, command)
	duration := time.Since(startTime)
	if err != nil {
		errorType := "command_error"
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			errorType = "timeout"
		}
		h.logger.Error("remote command failed", err, map[string]any{
			"server":     server.Label(),
			"command":    command,
			"output":     output,
			"duration":   duration.String(),
			"error_type": errorType,
		})
		return err
	}

	h.logger.Info("remote command executed successfully", map[string]any{
		"server":   server.Label(),
		"command":  command,
		"output":   output,
		"duration": duration.String(),
	})
	return nil
}
