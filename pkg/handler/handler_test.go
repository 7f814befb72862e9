package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"sshpublish/pkg/config"
	"sshpublish/pkg/logger"
	"sshpublish/pkg/task"
	"sshpublish/pkg/upload"
)

type mockUploader struct {
	mock.Mock
}

func (m *mockUploader) Upload(ctx context.Context, localPaths []string, cfg *config.SyncConfig) (*upload.Summary, error) {
	args := m.Called(localPaths)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*upload.Summary), args.Error(1)
}

type mockStore struct {
	mock.Mock
}

func (m *mockStore) Save(ctx context.Context, id string, summary *upload.Summary) error {
	return m.Called(id, summary).Error(0)
}

type mockTrigger struct {
	mock.Mock
}

func (m *mockTrigger) Trigger(ctx context.Context) error {
	return m.Called().Error(0)
}

func uploadTask(t *testing.T, paths ...string) *asynq.Task {
	t.Helper()
	payload, err := json.Marshal(task.UploadBatchPayload{LocalPaths: paths})
	require.NoError(t, err)
	return asynq.NewTask(task.TaskTypeUploadBatch, payload)
}

func TestUploadHandlerUsesPresetFiles(t *testing.T) {
	cfg := &config.Config{Sync: config.SyncConfig{Files: []string{"index.html"}}}
	summary := &upload.Summary{Total: 1, Success: 1}

	uploader := &mockUploader{}
	uploader.On("Upload", []string{"index.html"}).Return(summary, nil).Once()
	trigger := &mockTrigger{}
	trigger.On("Trigger").Return(nil).Once()

	h := NewUploadHandler(uploader, nil, trigger, cfg)
	h.logger = logger.New(io.Discard)

	require.NoError(t, h.Handle(context.Background(), uploadTask(t)))
	uploader.AssertExpectations(t)
	trigger.AssertExpectations(t)
}

func TestUploadHandlerSkipsTriggerWithoutSuccess(t *testing.T) {
	summary := &upload.Summary{Total: 1, Failed: 1, Results: []upload.Result{{FilePath: "/proj/a.ts", Status: upload.StatusFail, Error: "boom"}}}

	uploader := &mockUploader{}
	uploader.On("Upload", []string{"/proj/a.ts"}).Return(summary, nil).Once()
	trigger := &mockTrigger{}

	h := NewUploadHandler(uploader, nil, trigger, &config.Config{})
	h.logger = logger.New(io.Discard)

	require.NoError(t, h.Handle(context.Background(), uploadTask(t, "/proj/a.ts")))
	trigger.AssertNotCalled(t, "Trigger")
}

func TestUploadHandlerConfigErrorSkipsRetry(t *testing.T) {
	uploader := &mockUploader{}
	uploader.On("Upload", mock.Anything).Return(nil, &config.ConfigError{Field: "sync.servers", Reason: "required"}).Once()

	h := NewUploadHandler(uploader, &mockStore{}, nil, &config.Config{})
	h.logger = logger.New(io.Discard)

	err := h.Handle(context.Background(), uploadTask(t, "/proj/a.ts"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, asynq.SkipRetry))
}

func TestUploadHandlerBadPayload(t *testing.T) {
	h := NewUploadHandler(&mockUploader{}, nil, nil, &config.Config{})
	h.logger = logger.New(io.Discard)

	err := h.Handle(context.Background(), asynq.NewTask(task.TaskTypeUploadBatch, []byte("{")))
	assert.True(t, errors.Is(err, asynq.SkipRetry))
}

type mockDebouncer struct {
	mock.Mock
}

func (m *mockDebouncer) ShouldExecute(ctx context.Context) (bool, error) {
	args := m.Called()
	return args.Bool(0), args.Error(1)
}

func (m *mockDebouncer) Schedule(command string) error {
	return m.Called(command).Error(0)
}

func (m *mockDebouncer) MarkTaskCompleted(ctx context.Context) error {
	return m.Called().Error(0)
}

type fakeRunner struct {
	ran    []string
	err    error
	closed bool
}

func (f *fakeRunner) Run(ctx context.Context, cmd string) (string, error) {
	f.ran = append(f.ran, cmd)
	return "ok", f.err
}

func (f *fakeRunner) Close() error {
	f.closed = true
	return nil
}

func commandTask(t *testing.T, cmd string) *asynq.Task {
	t.Helper()
	payload, err := json.Marshal(task.RemoteCommandPayload{Command: cmd})
	require.NoError(t, err)
	return asynq.NewTask(task.TaskTypeRemoteCommand, payload)
}

func commandConfig() *config.Config {
	return &config.Config{
		Daemon: config.DaemonConfig{CommandTimeoutMinutes: 1, CommandDebounceSeconds: 30},
		Sync: config.SyncConfig{Servers: []config.ServerConfig{
			{Name: "web1", Host: "10.0.0.1"},
			{Name: "bucket", Type: config.ServerTypeS3, Bucket: "assets"},
			{Name: "web2", Host: "10.0.0.2"},
		}},
	}
}

func TestCommandHandlerRunsOnSFTPServers(t *testing.T) {
	runners := map[string]*fakeRunner{}
	dial := func(ctx context.Context, server *config.ServerConfig) (CommandRunner, error) {
		r := &fakeRunner{}
		runners[server.Label()] = r
		return r, nil
	}

	debouncer := &mockDebouncer{}
	debouncer.On("ShouldExecute").Return(true, nil).Once()
	debouncer.On("MarkTaskCompleted").Return(nil).Once()

	h := NewCommandHandler(commandConfig(), debouncer, dial, logger.New(io.Discard))
	require.NoError(t, h.ProcessTask(context.Background(), commandTask(t, "systemctl reload nginx")))

	require.Len(t, runners, 2)
	for _, name := range []string{"web1", "web2"} {
		assert.Equal(t, []string{"systemctl reload nginx"}, runners[name].ran)
		assert.True(t, runners[name].closed)
	}
	debouncer.AssertExpectations(t)
}

func TestCommandHandlerReschedulesDuringWindow(t *testing.T) {
	debouncer := &mockDebouncer{}
	debouncer.On("ShouldExecute").Return(false, nil).Once()
	debouncer.On("Schedule", "reload").Return(nil).Once()

	dial := func(ctx context.Context, server *config.ServerConfig) (CommandRunner, error) {
		t.Fatal("dial must not be called")
		return nil, nil
	}

	h := NewCommandHandler(commandConfig(), debouncer, dial, logger.New(io.Discard))
	require.NoError(t, h.ProcessTask(context.Background(), commandTask(t, "reload")))
	debouncer.AssertExpectations(t)
}

func TestCommandHandlerReportsFailures(t *testing.T) {
	dial := func(ctx context.Context, server *config.ServerConfig) (CommandRunner, error) {
		if server.Label() == "web2" {
			return nil, errors.New("dial refused")
		}
		return &fakeRunner{err: errors.New("exit status 1")}, nil
	}

	debouncer := &mockDebouncer{}
	debouncer.On("ShouldExecute").Return(true, nil).Once()
	debouncer.On("MarkTaskCompleted").Return(nil).Once()

	h := NewCommandHandler(commandConfig(), debouncer, dial, logger.New(io.Discard))
	err := h.ProcessTask(context.Background(), commandTask(t, "reload"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "web1: exit status 1")
	assert.Contains(t, err.Error(), "web2: dial refused")
	debouncer.AssertExpectations(t)
}
