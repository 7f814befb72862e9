package ssh

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"sshpublish/pkg/config"
	"sshpublish/pkg/logger"
	"sshpublish/pkg/task"
)

type memRedis struct {
	redis.Cmdable
	mu   sync.Mutex
	data map[string]string
}

func (m *memRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (m *memRedis) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = string(value.([]byte))
	return redis.NewStatusResult("OK", nil)
}

type mockEnqueuer struct {
	mock.Mock
}

func (m *mockEnqueuer) Enqueue(t *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	args := m.Called(t.Type(), opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*asynq.TaskInfo), args.Error(1)
}

func newTestDebouncer(client Enqueuer, now *time.Time) *Debouncer {
	d := NewDebouncer(
		&memRedis{data: map[string]string{}},
		client,
		&config.DaemonConfig{PostUploadCommand: "systemctl reload nginx", CommandDebounceSeconds: 30},
		logger.New(io.Discard),
	)
	d.now = func() time.Time { return *now }
	return d
}

func TestDebouncerCoalescesRequests(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	client := &mockEnqueuer{}
	client.On("Enqueue", task.TaskTypeRemoteCommand, mock.Anything).Return(&asynq.TaskInfo{ID: "cmd"}, nil).Once()

	d := newTestDebouncer(client, &now)
	ctx := context.Background()

	require.NoError(t, d.Trigger(ctx))
	now = now.Add(10 * time.Second)
	require.NoError(t, d.Trigger(ctx))
	client.AssertNumberOfCalls(t, "Enqueue", 1)

	ok, err := d.ShouldExecute(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	now = now.Add(30 * time.Second)
	ok, err = d.ShouldExecute(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	// after completion the next request schedules a new task
	require.NoError(t, d.MarkTaskCompleted(ctx))
	client.On("Enqueue", task.TaskTypeRemoteCommand, mock.Anything).Return(&asynq.TaskInfo{ID: "cmd2"}, nil).Once()
	require.NoError(t, d.Trigger(ctx))
	client.AssertNumberOfCalls(t, "Enqueue", 2)
}

func TestDebouncerDisabledWithoutCommand(t *testing.T) {
	now := time.Now()
	client := &mockEnqueuer{}
	d := newTestDebouncer(client, &now)
	d.config.PostUploadCommand = ""

	require.NoError(t, d.Trigger(context.Background()))
	client.AssertNotCalled(t, "Enqueue", mock.Anything, mock.Anything)
}
