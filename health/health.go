package health

import (
	"context"
	"fmt"
	"os"

	"github.com/zero-day-ai/stixgraph/graph"
)

// Pinger is implemented by dependencies that can verify their connection.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck pings a named dependency.
func PingCheck(ctx context.Context, name string, p Pinger) Status {
	if p == nil {
		return Unhealthy(fmt.Sprintf("%s is not configured", name), nil)
	}
	if err := p.Ping(ctx); err != nil {
		return Unhealthy(
			fmt.Sprintf("%s ping failed", name),
			map[string]any{"error": err.Error()},
		)
	}
	return Healthy(fmt.Sprintf("%s is reachable", name))
}

// StoreCheck verifies a graph store. Stores without a connection (the
// in-memory store) are always healthy.
func StoreCheck(ctx context.Context, store graph.Reader) Status {
	if store == nil {
		return Unhealthy("graph store is not configured", nil)
	}
	p, ok := store.(Pinger)
	if !ok {
		return Healthy(fmt.Sprintf("graph store %T needs no connection", store))
	}
	return PingCheck(ctx, "graph store", p)
}

// FileCheck verifies that a file or directory exists at the specified path.
func FileCheck(path string) Status {
	if path == "" {
		return Unhealthy("path cannot be empty", nil)
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Unhealthy(
				fmt.Sprintf("path '%s' does not exist", path),
				map[string]any{"path": path},
			)
		}
		return Unhealthy(
			fmt.Sprintf("failed to stat path '%s'", path),
			map[string]any{"path": path, "error": err.Error()},
		)
	}

	fileType := "file"
	if info.IsDir() {
		fileType = "directory"
	}
	return Healthy(fmt.Sprintf("%s '%s' exists", fileType, path))
}

// Combine aggregates multiple health checks into a single status.
// The result follows this priority:
//   - If any check is unhealthy, the result is unhealthy
//   - If any check is degraded (and none unhealthy), the result is degraded
//   - If all checks are healthy, the result is healthy
func Combine(checks ...Status) Status {
	if len(checks) == 0 {
		return Healthy("no checks provided")
	}

	var unhealthy, degraded []string
	var healthyCount int

	for _, check := range checks {
		msg := check.Message
		if msg == "" {
			msg = "unnamed check"
		}
		switch check.Status {
		case StatusUnhealthy:
			unhealthy = append(unhealthy, msg)
		case StatusDegraded:
			degraded = append(degraded, msg)
		case StatusHealthy:
			healthyCount++
		}
	}

	if len(unhealthy) > 0 {
		return Unhealthy(
			fmt.Sprintf("%d check(s) failed", len(unhealthy)),
			map[string]any{
				"total":         len(checks),
				"unhealthy":     len(unhealthy),
				"degraded":      len(degraded),
				"healthy":       healthyCount,
				"failed_checks": unhealthy,
			},
		)
	}

	if len(degraded) > 0 {
		return Degraded(
			fmt.Sprintf("%d check(s) degraded", len(degraded)),
			map[string]any{
				"total":           len(checks),
				"degraded":        len(degraded),
				"healthy":         healthyCount,
				"degraded_checks": degraded,
			},
		)
	}

	return Healthy(fmt.Sprintf("all %d check(s) passed", len(checks)))
}
