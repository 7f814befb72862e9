// Package upload drives a batch of local files to every configured server.
package upload

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"sshpublish/pkg/config"
	"sshpublish/pkg/logger"
	"sshpublish/pkg/pathmap"
	"sshpublish/pkg/progress"
	"sshpublish/pkg/provision"
	"sshpublish/pkg/storage"
)

const dirCacheEntries = 10_000

type Orchestrator struct {
	dialer   storage.Dialer
	cfg      config.UploadConfig
	fs       afero.Fs
	mapper   *pathmap.Mapper
	progress progress.Sink
	logger   *logger.Logger
}

type Option func(*Orchestrator)

// WithFs sets the local filesystem used for directory expansion, compiled
// output checks and the error log.
func WithFs(fs afero.Fs) Option {
	return func(o *Orchestrator) {
		o.fs = fs
	}
}

func WithProgress(sink progress.Sink) Option {
	return func(o *Orchestrator) {
		o.progress = sink
	}
}

func WithLogger(l *logger.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = l
	}
}

func NewOrchestrator(dialer storage.Dialer, cfg config.UploadConfig, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		dialer:   dialer,
		cfg:      cfg,
		fs:       afero.NewOsFs(),
		progress: progress.Nop{},
		logger:   logger.NewDefault(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.cfg.MaxAttempts < 1 {
		o.cfg.MaxAttempts = 1
	}
	if o.cfg.Concurrency < 1 {
		o.cfg.Concurrency = 1
	}
	o.mapper = pathmap.NewMapper(o.fs)
	return o
}

// plan is a local file after path mapping, shared by all servers. A plan
// with err set could not be read locally and fails on every server.
type plan struct {
	localPath string
	resolved  pathmap.Resolved
	size      int64
	err       error
}

// Upload sends localPaths to every server in cfg and returns the summary.
// An error is only returned when the batch could not start at all.
// Cancelling ctx stops new transfers from starting; the partial summary is
// still returned.
func (o *Orchestrator) Upload(ctx context.Context, localPaths []string, cfg *config.SyncConfig) (*Summary, error) {
	if err := config.ValidateSync(cfg); err != nil {
		return nil, err
	}
	startedAt := time.Now()

	errLog, err := OpenErrorLog(o.fs, o.cfg.ErrorLogPath)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := errLog.Close(); err != nil {
			o.logger.Warn("failed to close error log", map[string]any{"error": err.Error()})
		}
	}()

	agg := NewAggregator()
	plans := o.plan(localPaths, cfg, agg)

	dirCache, err := provision.NewDirCache(dirCacheEntries)
	if err != nil {
		o.logger.Warn("directory cache disabled", map[string]any{"error": err.Error()})
		dirCache = nil
	}
	defer dirCache.Close()

	p := newPool(o.dialer, dirCache, o.logger)
	defer func() {
		closed := p.closeAll()
		o.logger.Debug("connection pool drained", map[string]any{"closed": closed})
	}()

	var g errgroup.Group
	for i := range cfg.Servers {
		server := &cfg.Servers[i]
		g.Go(func() error {
			o.runServer(ctx, server, plans, p, agg, errLog)
			return nil
		})
	}
	_ = g.Wait()

	summary := agg.Summary()
	summary.Cancelled = ctx.Err() != nil
	summary.StartedAt = startedAt
	summary.Duration = time.Since(startedAt).String()

	o.logger.Info("upload batch finished", map[string]any{
		"total":     summary.Total,
		"success":   summary.Success,
		"failed":    summary.Failed,
		"skipped":   summary.Skipped,
		"cancelled": summary.Cancelled,
		"duration":  summary.Duration,
	})
	return summary, nil
}

// plan normalizes, expands and resolves the inputs once for all servers.
// Problems with one input never stop the others.
func (o *Orchestrator) plan(localPaths []string, cfg *config.SyncConfig, agg *Aggregator) []plan {
	normalized := make([]string, 0, len(localPaths))
	for _, p := range localPaths {
		p = pathmap.Normalize(p)
		if !filepath.IsAbs(p) {
			p = filepath.Join(cfg.LocalBasePath, p)
		}
		normalized = append(normalized, p)
	}

	files, missing, unreadable := pathmap.Expand(o.fs, normalized)
	for _, skip := range missing {
		o.skip(agg, Skip{FilePath: skip.Path, Reason: skip.Reason})
	}

	plans := make([]plan, 0, len(files)+len(unreadable))
	for _, e := range unreadable {
		plans = append(plans, plan{localPath: e.Path, err: e})
	}
	for _, f := range files {
		resolved, err := o.mapper.Resolve(f, cfg)
		if err != nil {
			var skipErr *pathmap.SkipError
			if errors.As(err, &skipErr) {
				o.skip(agg, Skip{FilePath: f, Reason: skipErr.Reason})
				continue
			}
			plans = append(plans, plan{localPath: f, err: err})
			continue
		}

		var size int64
		if info, err := o.fs.Stat(resolved.ContentPath); err == nil {
			size = info.Size()
		}
		plans = append(plans, plan{localPath: f, resolved: resolved, size: size})
	}
	return plans
}

// fail records a file that could not be read locally as failed on server.
func (o *Orchestrator) fail(agg *Aggregator, errLog *ErrorLog, server *config.ServerConfig, pl plan) {
	result := Result{
		FilePath:  pl.localPath,
		Server:    server.Label(),
		Status:    StatusFail,
		Error:     pl.err.Error(),
		Timestamp: time.Now(),
	}
	agg.Record(result)
	o.logger.Error("local file unreadable", pl.err, map[string]any{
		"file":   pl.localPath,
		"server": server.Label(),
	})
	if err := errLog.Write(pl.localPath, hostOf(server), 0, result.Error); err != nil {
		o.logger.Warn("failed to write error log", map[string]any{"error": err.Error()})
	}
}

func (o *Orchestrator) skip(agg *Aggregator, s Skip) {
	agg.RecordSkip(s)
	fields := map[string]any{"path": s.FilePath, "reason": s.Reason}
	if s.Server != "" {
		fields["server"] = s.Server
	}
	o.logger.Warn("skipping file", fields)
}

func (o *Orchestrator) runServer(ctx context.Context, server *config.ServerConfig, plans []plan, p *pool, agg *Aggregator, errLog *ErrorLog) {
	var (
		tasks   []Task
		skipped int
		failed  int
	)
	for _, pl := range plans {
		if pl.err != nil {
			o.fail(agg, errLog, server, pl)
			failed++
			continue
		}
		targets := pathmap.Fanout(pl.resolved.ContentPath, pl.resolved.Base, server.RemoteDirPaths)
		if len(targets) == 0 {
			o.skip(agg, Skip{FilePath: pl.localPath, Server: server.Label(), Reason: pathmap.ReasonOutsideBase})
			skipped++
			continue
		}
		tasks = append(tasks, Task{
			LocalPath:     pl.localPath,
			ContentPath:   pl.resolved.ContentPath,
			Server:        server,
			RemoteTargets: targets,
			SizeBytes:     pl.size,
		})
	}

	var (
		mu      sync.Mutex
		success int
	)

	var g errgroup.Group
	g.SetLimit(o.cfg.Concurrency)
	for _, task := range tasks {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			result := o.runTask(ctx, p, task)
			agg.Record(result)

			mu.Lock()
			defer mu.Unlock()
			if result.Status == StatusSuccess {
				success++
				return nil
			}
			failed++
			if err := errLog.Write(task.LocalPath, hostOf(server), result.Attempts, result.Error); err != nil {
				o.logger.Warn("failed to write error log", map[string]any{"error": err.Error()})
			}
			return nil
		})
	}
	_ = g.Wait()

	o.logger.Info("server upload finished", map[string]any{
		"server":  server.Label(),
		"planned": len(tasks),
		"success": success,
		"failed":  failed,
		"skipped": skipped,
	})
}

// runTask transfers one file to every remote directory of its server. Once
// started it runs to completion even if ctx is cancelled.
func (o *Orchestrator) runTask(ctx context.Context, p *pool, task Task) Result {
	result := Result{
		FilePath:      task.LocalPath,
		Server:        task.Server.Label(),
		RemoteTargets: task.RemoteTargets,
		Status:        StatusSuccess,
	}
	if task.ContentPath != task.LocalPath {
		result.CompiledPath = task.ContentPath
	}

	xferCtx := context.WithoutCancel(ctx)

	transport, provisioner, err := p.get(xferCtx, task.Server)
	if err != nil {
		result.Status = StatusFail
		result.Error = fmt.Sprintf("connect %s: %v", task.Server.Key(), err)
		result.Timestamp = time.Now()
		return result
	}

	var errs []string
	for _, remote := range task.RemoteTargets {
		attempts, err := o.transfer(ctx, xferCtx, transport, provisioner, task, remote)
		result.Attempts = max(result.Attempts, attempts)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", remote, err))
			o.logger.Error("upload failed", err, map[string]any{
				"file":     task.LocalPath,
				"server":   task.Server.Label(),
				"remote":   remote,
				"attempts": attempts,
			})
			continue
		}
		o.logger.Info("uploaded file", map[string]any{
			"file":   task.ContentPath,
			"server": task.Server.Label(),
			"remote": remote,
		})
	}

	if len(errs) > 0 {
		result.Status = StatusFail
		result.Error = strings.Join(errs, "; ")
	}
	result.Timestamp = time.Now()
	return result
}

// transfer provisions the parent of remote and puts the file, retrying
// retryable failures up to MaxAttempts. ctx only interrupts the wait
// between attempts.
func (o *Orchestrator) transfer(ctx, xferCtx context.Context, transport storage.Transport, provisioner *provision.Provisioner, task Task, remote string) (int, error) {
	label := fmt.Sprintf("%s -> %s:%s", task.LocalPath, task.Server.Label(), remote)
	onProgress := func(n int64) {
		o.progress.Report(label, progress.Percent(n, task.SizeBytes))
	}

	var (
		attempts int
		lastErr  error
	)
	operation := func() (struct{}, error) {
		attempts++
		if err := provisioner.EnsureDir(xferCtx, remote); err != nil {
			lastErr = err
			return struct{}{}, retryable(err)
		}
		if err := transport.Put(xferCtx, task.ContentPath, remote, onProgress); err != nil {
			lastErr = err
			if storage.TypeOf(err) == storage.ErrorTypeParentMissing {
				provisioner.Forget(remote)
			}
			return struct{}{}, retryable(err)
		}
		return struct{}{}, nil
	}

	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewConstantBackOff(o.cfg.RetryDelay())),
		backoff.WithMaxTries(uint(o.cfg.MaxAttempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			o.logger.Warn("retrying upload", map[string]any{
				"file":    task.LocalPath,
				"server":  task.Server.Label(),
				"remote":  remote,
				"attempt": attempts,
				"delay":   next.String(),
				"error":   err.Error(),
			})
		}),
	)
	if err == nil {
		return attempts, nil
	}
	if lastErr != nil {
		return attempts, lastErr
	}
	return attempts, err
}

func retryable(err error) error {
	if storage.IsRetryableError(err) {
		return err
	}
	return backoff.Permanent(err)
}

func hostOf(server *config.ServerConfig) string {
	if server.Host != "" {
		return server.Host
	}
	return server.Label()
}
