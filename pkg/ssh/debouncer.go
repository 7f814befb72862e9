// Package ssh coalesces post-upload remote command requests.
package ssh

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"sshpublish/pkg/config"
	"sshpublish/pkg/logger"
	"sshpublish/pkg/task"
)

const (
	debounceStateKey = "remote_command_debounce_state"
)

// Enqueuer is the part of *asynq.Client the debouncer needs.
type Enqueuer interface {
	Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

type DebounceState struct {
	LastRequestTime   int64 `json:"last_request_time"`
	PendingTaskExists bool  `json:"pending_task_exists"`
}

// Debouncer makes a burst of finished batches run the post-upload command
// once, after the burst has been quiet for the debounce window.
type Debouncer struct {
	redisClient redis.Cmdable
	asyncClient Enqueuer
	config      *config.DaemonConfig
	logger      *logger.Logger
	now         func() time.Time
}

func NewDebouncer(redisClient redis.Cmdable, asyncClient Enqueuer, config *config.DaemonConfig, logger *logger.Logger) *Debouncer {
	return &Debouncer{
		redisClient: redisClient,
		asyncClient: asyncClient,
		config:      config,
		logger:      logger,
		now:         time.Now,
	}
}

func (d *Debouncer) window() time.Duration {
	return time.Duration(d.config.CommandDebounceSeconds) * time.Second
}

// Trigger records a request and schedules the command task if none is
// pending yet.
func (d *Debouncer) Trigger(ctx context.Context) error {
	if d.config.PostUploadCommand == "" {
		return nil
	}

	state, err := d.getDebounceState(ctx)
	if err != nil {
		return fmt.Errorf("failed to get debounce state: %w", err)
	}

	state.LastRequestTime = d.now().Unix()

	if state.PendingTaskExists {
		if err := d.saveDebounceState(ctx, state); err != nil {
			return fmt.Errorf("failed to save debounce state: %w", err)
		}
		d.logger.Info("remote command debounce request updated", map[string]any{
			"pending_task_exists": true,
		})
		return nil
	}

	state.PendingTaskExists = true
	if err := d.saveDebounceState(ctx, state); err != nil {
		return fmt.Errorf("failed to save debounce state: %w", err)
	}

	if err := d.Schedule(d.config.PostUploadCommand); err != nil {
		return err
	}

	d.logger.Info("remote command debounce task created", map[string]any{
		"delay_seconds": d.config.CommandDebounceSeconds,
	})
	return nil
}

// Schedule enqueues the command task to run after the debounce window.
func (d *Debouncer) Schedule(command string) error {
	payload, err := json.Marshal(task.RemoteCommandPayload{Command: command})
	if err != nil {
		return fmt.Errorf("failed to marshal remote command payload: %w", err)
	}

	t := asynq.NewTask(task.TaskTypeRemoteCommand, payload)
	if _, err := d.asyncClient.Enqueue(t, asynq.ProcessIn(d.window())); err != nil {
		return fmt.Errorf("failed to enqueue remote command task: %w", err)
	}
	return nil
}

func (d *Debouncer) getDebounceState(ctx context.Context) (*DebounceState, error) {
	result, err := d.redisClient.Get(ctx, debounceStateKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return &DebounceState{}, nil
		}
		return nil, err
	}

	var state DebounceState
	if err := json.Unmarshal([]byte(result), &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal debounce state: %w", err)
	}

	return &state, nil
}

func (d *Debouncer) saveDebounceState(ctx context.Context, state *DebounceState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal debounce state: %w", err)
	}

	return d.redisClient.Set(ctx, debounceStateKey, data, 2*d.window()).Err()
}

func (d *Debouncer) MarkTaskCompleted(ctx context.Context) error {
	state, err := d.getDebounceState(ctx)
	if err != nil {
		return fmt.Errorf("failed to get debounce state: %w", err)
	}

	state.PendingTaskExists = false
	if err := d.saveDebounceState(ctx, state); err != nil {
		return fmt.Errorf("failed to save debounce state: %w", err)
	}
	return nil
}

// ShouldExecute reports whether the window has passed since the last
// request.
func (d *Debouncer) ShouldExecute(ctx context.Context) (bool, error) {
	state, err := d.getDebounceState(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to get debounce state: %w", err)
	}

	elapsed := d.now().Unix() - state.LastRequestTime
	return elapsed >= int64(d.config.CommandDebounceSeconds), nil
}
