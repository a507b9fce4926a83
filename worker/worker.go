package worker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zero-day-ai/stixgraph/config"
	"github.com/zero-day-ai/stixgraph/importer"
	"github.com/zero-day-ai/stixgraph/queue"
)

// Defaults applied to zero Options fields.
const (
	DefaultConcurrency       = 4
	DefaultShutdownTimeout   = 30 * time.Second
	DefaultHeartbeatInterval = 10 * time.Second
	DefaultPollInterval      = time.Second
)

// Importer is the part of importer.Importer the worker needs.
type Importer interface {
	ImportReader(ctx context.Context, r io.Reader, updateExisting bool) (*importer.Result, error)
}

// Options configures the worker behavior.
type Options struct {
	// Queue is the Redis list jobs are popped from.
	Queue string

	// ResultsChannel is the pub/sub channel results are published on.
	ResultsChannel string

	// Concurrency is the number of worker goroutines to start.
	Concurrency int

	// JobTimeout bounds a single import. Zero leaves it to the importer.
	JobTimeout time.Duration

	// ShutdownTimeout is the time to wait for running jobs after ctx is done.
	ShutdownTimeout time.Duration

	// HeartbeatInterval is the interval between health heartbeats.
	HeartbeatInterval time.Duration

	// PollInterval is how long a single BRPOP waits before checking ctx again.
	PollInterval time.Duration

	// WorkerID identifies this process in results. Generated if empty.
	WorkerID string

	// Logger is the structured logger for worker operations.
	Logger *slog.Logger
}

// OptionsFromConfig builds Options from a loaded configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Queue:           cfg.Queue.Name,
		ResultsChannel:  cfg.Queue.ResultsChannel,
		Concurrency:     cfg.Queue.Workers,
		JobTimeout:      cfg.Queue.GetJobTimeout(cfg.GetTimeout()),
		ShutdownTimeout: cfg.Queue.GetShutdownTimeout(),
	}
}

func (o Options) withDefaults() Options {
	if o.Queue == "" {
		o.Queue = config.DefaultQueueName
	}
	if o.ResultsChannel == "" {
		o.ResultsChannel = config.DefaultResultsChannel
	}
	if o.Concurrency <= 0 {
		o.Concurrency = DefaultConcurrency
	}
	if o.ShutdownTimeout <= 0 {
		o.ShutdownTimeout = DefaultShutdownTimeout
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.WorkerID == "" {
		o.WorkerID = generateWorkerID()
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Run starts Concurrency goroutines that pop jobs from the queue, import
// them and publish the results. It blocks until ctx is cancelled.
//
// Each worker goroutine:
//  1. Pops a job from the queue
//  2. Imports the bundle it carries
//  3. Publishes the result on the results channel
//
// Run returns an error if the running jobs do not finish within
// ShutdownTimeout after ctx is done.
func Run(ctx context.Context, imp Importer, client queue.Client, opts Options) error {
	opts = opts.withDefaults()

	logger := opts.Logger.With(
		slog.String("queue", opts.Queue),
		slog.String("worker_id", opts.WorkerID),
	)
	logger.Info("worker starting", slog.Int("concurrency", opts.Concurrency))

	if err := client.IncrementWorkerCount(ctx, opts.Queue); err != nil {
		logger.Error("failed to increment worker count", slog.Any("error", err))
	}
	defer func() {
		// ctx is done by now
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.DecrementWorkerCount(cleanupCtx, opts.Queue); err != nil {
			logger.Error("failed to decrement worker count", slog.Any("error", err))
		}
	}()

	heartbeatCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()
	go runHeartbeat(heartbeatCtx, client, opts, logger)

	var wg sync.WaitGroup
	for i := 0; i < opts.Concurrency; i++ {
		wg.Add(1)
		go func(workerNum int) {
			defer wg.Done()
			workerLoop(ctx, workerNum, imp, client, opts, logger)
		}(i)
	}

	logger.Info("worker started", slog.Int("workers", opts.Concurrency))

	<-ctx.Done()
	logger.Info("context done, initiating graceful shutdown")

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("worker shutdown complete")
		return nil
	case <-time.After(opts.ShutdownTimeout):
		logger.Warn("worker shutdown timeout exceeded", slog.Duration("timeout", opts.ShutdownTimeout))
		return fmt.Errorf("worker shutdown timed out after %s", opts.ShutdownTimeout)
	}
}

func runHeartbeat(ctx context.Context, client queue.Client, opts Options, logger *slog.Logger) {
	ticker := time.NewTicker(opts.HeartbeatInterval)
	defer ticker.Stop()

	if err := client.Heartbeat(ctx, opts.Queue, opts.WorkerID); err != nil {
		logger.Debug("heartbeat failed", slog.Any("error", err))
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := client.Heartbeat(ctx, opts.Queue, opts.WorkerID); err != nil {
				// Transient; the next tick retries.
				logger.Debug("heartbeat failed", slog.Any("error", err))
			}
		}
	}
}

func workerLoop(ctx context.Context, workerNum int, imp Importer, client queue.Client, opts Options, logger *slog.Logger) {
	logger = logger.With(slog.Int("worker_num", workerNum))
	logger.Debug("worker loop started")

	for {
		if ctx.Err() != nil {
			logger.Debug("worker loop stopped")
			return
		}

		job, err := client.Pop(ctx, opts.Queue, opts.PollInterval)
		if err != nil {
			if ctx.Err() != nil {
				logger.Debug("worker loop stopped")
				return
			}
			logger.Error("failed to pop job", slog.Any("error", err))
			continue
		}
		if job == nil {
			continue
		}

		logger.Info("received job",
			slog.String("job_id", job.JobID),
			slog.String("source", job.Source),
			slog.Duration("age", job.Age()),
		)

		result := processJob(ctx, imp, *job, opts, logger)

		// Publish even when ctx was cancelled mid-job.
		if err := client.Publish(context.WithoutCancel(ctx), opts.ResultsChannel, result); err != nil {
			logger.Error("failed to publish result", slog.String("job_id", job.JobID), slog.Any("error", err))
		}
	}
}

// processJob imports one job and always returns a result.
func processJob(ctx context.Context, imp Importer, job queue.Job, opts Options, logger *slog.Logger) queue.JobResult {
	result := queue.JobResult{
		JobID:     job.JobID,
		WorkerID:  opts.WorkerID,
		StartedAt: time.Now().UnixMilli(),
	}

	if err := job.IsValid(); err != nil {
		result.Status = string(importer.StatusAborted)
		result.Error = fmt.Sprintf("invalid job: %v", err)
		result.CompletedAt = time.Now().UnixMilli()
		logger.Error("invalid job", slog.String("job_id", job.JobID), slog.Any("error", err))
		return result
	}

	if opts.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.JobTimeout)
		defer cancel()
	}

	res, err := imp.ImportReader(ctx, strings.NewReader(job.BundleJSON), job.UpdateExisting)
	result.CompletedAt = time.Now().UnixMilli()
	if res != nil {
		result.Status = string(res.Status)
		result.Created = len(res.CreatedIDs)
		result.Updated = len(res.UpdatedIDs)
		result.SkippedRefs = len(res.SkippedRefs)
		for _, f := range res.Failures {
			result.Failures = append(result.Failures, fmt.Sprintf("%s: %s", f.StixID, f.Reason))
		}
	}
	if err != nil {
		if result.Status == "" {
			result.Status = string(importer.StatusAborted)
		}
		result.Error = err.Error()
		logger.Error("job failed",
			slog.String("job_id", job.JobID),
			slog.String("status", result.Status),
			slog.Any("error", err),
		)
		return result
	}

	logger.Info("job completed",
		slog.String("job_id", job.JobID),
		slog.String("status", result.Status),
		slog.Int("created", result.Created),
		slog.Int("updated", result.Updated),
		slog.Int("failures", len(result.Failures)),
		slog.Int64("duration_ms", result.CompletedAt-result.StartedAt),
	)
	return result
}

// generateWorkerID returns hostname-pid-<8 hex chars>.
func generateWorkerID() string {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return fmt.Sprintf("%s-%d-%s", hostname, os.Getpid(), uuid.NewString()[:8])
}
