package cli

import (
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/zero-day-ai/stixgraph/queue"
	"github.com/zero-day-ai/stixgraph/worker"
)

// QueueOptions holds flags for enqueue and worker.
type QueueOptions struct {
	*RootOptions
	Update      bool
	Source      string
	Concurrency int
}

// NewEnqueueCommand creates the enqueue command.
func NewEnqueueCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueueOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "enqueue <file|->",
		Short: "Submit a STIX bundle to the import queue",
		Long: `Submit a STIX bundle to the Redis import queue. A running
"stixgraph worker" picks it up and publishes the result on the results
channel.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEnqueue(opts, args[0], cmd)
		},
	}
	cmd.Flags().BoolVar(&opts.Update, "update", false, "overwrite objects that already exist")
	cmd.Flags().StringVar(&opts.Source, "source", "cli", "producer name recorded on the job")

	return cmd
}

// NewWorkerCommand creates the worker command.
func NewWorkerCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueueOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Import bundles from the Redis queue until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker(opts, cmd)
		},
	}
	cmd.Flags().IntVar(&opts.Concurrency, "concurrency", 0, "concurrent jobs (default from config)")

	return cmd
}

func runEnqueue(opts *QueueOptions, path string, cmd *cobra.Command) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}

	r, closeFn, err := openInput(cmd, path)
	if err != nil {
		return err
	}
	defer closeFn()

	data, err := io.ReadAll(r)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read bundle", err)
	}
	job, err := queue.NewJob(data, opts.Update)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid bundle", err)
	}
	job.Source = opts.Source

	client, err := queue.NewRedisClient(queue.RedisOptions{URL: cfg.Queue.RedisURL})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to connect to queue", err)
	}
	defer client.Close()

	if err := client.Push(cmd.Context(), cfg.Queue.Name, job); err != nil {
		return err
	}
	pending, err := client.Len(cmd.Context(), cfg.Queue.Name)
	if err != nil {
		return err
	}

	summary := map[string]any{"job_id": job.JobID, "queue": cfg.Queue.Name, "pending": pending}
	return opts.formatter(cmd).Success(summary, func(w io.Writer) {
		fmt.Fprintf(w, "Queued job %s on %s (%d pending)\n", job.JobID, cfg.Queue.Name, pending)
	})
}

func runWorker(opts *QueueOptions, cmd *cobra.Command) error {
	client, err := opts.client(cmd)
	if err != nil {
		return err
	}
	defer client.Close()
	cfg := client.Config()

	redisClient, err := queue.NewRedisClient(queue.RedisOptions{URL: cfg.Queue.RedisURL})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to connect to queue", err)
	}
	defer redisClient.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	wopts := worker.OptionsFromConfig(cfg)
	wopts.Logger = opts.logger(cmd)
	if opts.Concurrency > 0 {
		wopts.Concurrency = opts.Concurrency
	}
	return worker.Run(ctx, client.Importer(), redisClient, wopts)
}
