package daemon

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"sshpublish/pkg/config"
	"sshpublish/pkg/handler"
	httpHandler "sshpublish/pkg/http"
	"sshpublish/pkg/logger"
	"sshpublish/pkg/progress"
	"sshpublish/pkg/publisher"
	"sshpublish/pkg/results"
	"sshpublish/pkg/ssh"
	"sshpublish/pkg/storage"
	"sshpublish/pkg/task"
	"sshpublish/pkg/upload"
)

type DaemonService struct {
	server         *asynq.Server
	httpServer     *http.Server
	redisClient    *redis.Client
	asyncClient    *asynq.Client
	uploadHandler  *handler.UploadHandler
	commandHandler *handler.CommandHandler
	httpHandler    *httpHandler.HTTPHandler
	config         *config.Config
}

func NewDaemonService(config *config.Config) (*DaemonService, error) {
	redisOpt := asynq.RedisClientOpt{
		Addr:     config.Redis.Addr,
		Password: config.Redis.Password,
		DB:       config.Redis.DB,
	}

	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: config.Daemon.Concurrency,
		Queues: map[string]int{
			"default": 6,
		},
	})

	redisClient := redis.NewClient(&redis.Options{
		Addr:     config.Redis.Addr,
		Password: config.Redis.Password,
		DB:       config.Redis.DB,
	})

	asyncClient := asynq.NewClient(redisOpt)

	log := logger.NewDefault()
	debouncer := ssh.NewDebouncer(redisClient, asyncClient, &config.Daemon, log)
	store := results.NewStore(redisClient, time.Duration(config.Daemon.ResultsTTLHours)*time.Hour)

	orchestrator := upload.NewOrchestrator(
		storage.NewDialer(),
		config.Upload,
		upload.WithLogger(log),
		upload.WithProgress(progress.NewLogSink(log, 25)),
	)

	uploadHandler := handler.NewUploadHandler(orchestrator, store, debouncer, config)
	commandHandler := handler.NewCommandHandler(config, debouncer, handler.DialRemote, log)

	pub, err := publisher.NewPublisher(config)
	if err != nil {
		return nil, fmt.Errorf("create publisher: %w", err)
	}
	httpHandler := httpHandler.NewHTTPHandler(pub, store)

	mux := http.NewServeMux()
	httpHandler.Routes(mux)

	httpServer := &http.Server{
		Addr:    config.HTTP.Addr,
		Handler: mux,
	}

	return &DaemonService{
		server:         server,
		httpServer:     httpServer,
		redisClient:    redisClient,
		asyncClient:    asyncClient,
		uploadHandler:  uploadHandler,
		commandHandler: commandHandler,
		httpHandler:    httpHandler,
		config:         config,
	}, nil
}

func (d *DaemonService) Start() error {
	go func() {
		logger.Info("starting HTTP server", map[string]any{
			"addr": d.config.HTTP.Addr,
		})

		if err := d.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server failed", err, nil)
		}
	}()

	logger.Info("starting Asynq server", map[string]any{
		"servers":     len(d.config.Sync.Servers),
		"concurrency": d.config.Daemon.Concurrency,
	})
	mux := asynq.NewServeMux()
	mux.HandleFunc(task.TaskTypeUploadBatch, d.uploadHandler.Handle)
	mux.HandleFunc(task.TaskTypeRemoteCommand, d.commandHandler.ProcessTask)
	return d.server.Run(mux)
}

func (d *DaemonService) Shutdown(ctx context.Context) error {
	logger.Info("initiating graceful shutdown", nil)

	if d.httpHandler != nil {
		d.httpHandler.Close()
	}

	if err := d.httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown failed", err, nil)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		d.server.Shutdown()
		_ = d.asyncClient.Close()
		_ = d.redisClient.Close()
	}()

	select {
	case <-done:
		logger.Info("all tasks completed, shutdown successful", nil)
		return nil
	case <-ctx.Done():
		logger.Warn("shutdown timeout, forcing exit", nil)
		return ctx.Err()
	}
}
