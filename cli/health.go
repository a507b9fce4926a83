package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"github.com/zero-day-ai/stixgraph/health"
	"github.com/zero-day-ai/stixgraph/queue"
)

// HealthOptions holds flags for the health command.
type HealthOptions struct {
	*RootOptions
	Timeout time.Duration
}

// HealthReport is the output of the health command.
type HealthReport struct {
	Status health.Status            `json:"status"`
	Checks map[string]health.Status `json:"checks"`
}

// NewHealthCommand creates the health command.
func NewHealthCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HealthOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check the graph store and the import queue",
		Long: `Check that the configured graph store and the Redis import queue are
reachable. An unreachable queue degrades the result; direct imports still work.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHealth(opts, cmd)
		},
	}

	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 5*time.Second, "timeout for each check")

	return cmd
}

func runHealth(opts *HealthOptions, cmd *cobra.Command) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), opts.Timeout)
	defer cancel()

	report := HealthReport{Checks: make(map[string]health.Status)}
	if opts.ConfigPath != "" {
		report.Checks["config"] = health.FileCheck(opts.ConfigPath)
	}

	client, err := opts.client(cmd)
	if err != nil {
		return err
	}
	defer client.Close()
	cfg := client.Config()

	report.Checks["store"] = health.StoreCheck(ctx, client.Store())
	report.Checks["queue"] = health.Degrade(queueCheck(ctx, cfg.Queue.RedisURL, cfg.Queue.Name, opts.Timeout))

	checks := make([]health.Status, 0, len(report.Checks))
	for _, c := range report.Checks {
		checks = append(checks, c)
	}
	report.Status = health.Combine(checks...)

	if err := opts.formatter(cmd).Success(report, func(w io.Writer) {
		printHealth(w, report)
	}); err != nil {
		return err
	}
	if report.Status.IsUnhealthy() {
		return NewExitError(ExitFailure, report.Status.Message)
	}
	return nil
}

func queueCheck(ctx context.Context, redisURL, name string, timeout time.Duration) health.Status {
	client, err := queue.NewRedisClient(queue.RedisOptions{URL: redisURL, ConnectTimeout: timeout})
	if err != nil {
		return health.Unhealthy("queue is unreachable", map[string]any{"error": err.Error()})
	}
	defer client.Close()

	status := health.PingCheck(ctx, "queue", client)
	if !status.IsHealthy() {
		return status
	}
	pending, err := client.Len(ctx, name)
	if err != nil {
		return health.Unhealthy("failed to read queue length", map[string]any{"error": err.Error()})
	}
	workers, err := client.GetWorkerCount(ctx, name)
	if err != nil {
		return health.Unhealthy("failed to read worker count", map[string]any{"error": err.Error()})
	}
	status.Details = map[string]any{"pending": pending, "workers": workers}
	return status
}

func printHealth(w io.Writer, report HealthReport) {
	for _, name := range []string{"config", "store", "queue"} {
		c, ok := report.Checks[name]
		if !ok {
			continue
		}
		fmt.Fprintf(w, "%-7s %-9s %s\n", name, c.Status, c.Message)
		if e, ok := c.Details["error"]; ok {
			fmt.Fprintf(w, "        error: %v\n", e)
		}
	}
	fmt.Fprintf(w, "overall %s\n", report.Status.Status)
}
