package publisher

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"sshpublish/pkg/config"
	"sshpublish/pkg/logger"
	"sshpublish/pkg/task"
)

// Enqueuer is the part of *asynq.Client the publisher needs.
type Enqueuer interface {
	Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

type Publisher struct {
	client Enqueuer
	config *config.Config
}

func NewPublisher(config *config.Config) (*Publisher, error) {
	redisOpt := asynq.RedisClientOpt{
		Addr:     config.Redis.Addr,
		Password: config.Redis.Password,
		DB:       config.Redis.DB,
	}

	return NewPublisherWithClient(asynq.NewClient(redisOpt), config), nil
}

func NewPublisherWithClient(client Enqueuer, config *config.Config) *Publisher {
	return &Publisher{
		client: client,
		config: config,
	}
}

func (p *Publisher) Close() {
	_ = p.client.Close()
}

// PublishUploadBatch enqueues localPaths for the daemon and returns the
// task id under which its summary will be stored.
func (p *Publisher) PublishUploadBatch(localPaths []string) (string, error) {
	paths := make([]string, 0, len(localPaths))
	for _, lp := range localPaths {
		if lp != "" {
			paths = append(paths, lp)
		}
	}
	if len(paths) == 0 {
		return "", fmt.Errorf("at least one local path is required")
	}

	payloadBytes, err := json.Marshal(task.UploadBatchPayload{LocalPaths: paths})
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	t := asynq.NewTask(task.TaskTypeUploadBatch, payloadBytes)
	info, err := p.client.Enqueue(
		t,
		asynq.MaxRetry(p.config.Publish.MaxRetry),
		asynq.Timeout(time.Duration(p.config.Publish.TimeoutMinutes)*time.Minute),
	)
	if err != nil {
		return "", fmt.Errorf("enqueue task: %w", err)
	}

	logger.Info("task enqueued successfully", map[string]any{
		"task_id": info.ID,
		"queue":   info.Queue,
		"files":   len(paths),
	})
	return info.ID, nil
}
