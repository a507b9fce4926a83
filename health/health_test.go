package health

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/zero-day-ai/stixgraph/graph/memstore"
	"github.com/zero-day-ai/stixgraph/graph/sqlstore"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestPingCheck(t *testing.T) {
	ctx := context.Background()

	ok := PingCheck(ctx, "redis", pingFunc(func(context.Context) error { return nil }))
	assert.True(t, ok.IsHealthy())
	assert.Equal(t, "redis is reachable", ok.Message)

	down := PingCheck(ctx, "redis", pingFunc(func(context.Context) error { return errors.New("connection refused") }))
	assert.True(t, down.IsUnhealthy())
	assert.Equal(t, "connection refused", down.Details["error"])

	assert.True(t, PingCheck(ctx, "redis", nil).IsUnhealthy())
}

func TestStoreCheck(t *testing.T) {
	ctx := context.Background()

	assert.True(t, StoreCheck(ctx, memstore.New()).IsHealthy())
	assert.True(t, StoreCheck(ctx, nil).IsUnhealthy())

	s, err := sqlstore.Open(":memory:")
	assert.NoError(t, err)
	assert.True(t, StoreCheck(ctx, s).IsHealthy())

	s.Close()
	assert.True(t, StoreCheck(ctx, s).IsUnhealthy())
}

func TestFileCheck(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "graph.db")
	assert.NoError(t, os.WriteFile(file, nil, 0o644))

	assert.Contains(t, FileCheck(file).Message, "file")
	assert.Contains(t, FileCheck(dir).Message, "directory")
	assert.True(t, FileCheck(filepath.Join(dir, "missing")).IsUnhealthy())
	assert.True(t, FileCheck("").IsUnhealthy())
}

func TestCombine(t *testing.T) {
	tests := []struct {
		name   string
		checks []Status
		want   string
	}{
		{"none", nil, StatusHealthy},
		{"all healthy", []Status{Healthy("a"), Healthy("b")}, StatusHealthy},
		{"one degraded", []Status{Healthy("a"), Degraded("b", nil)}, StatusDegraded},
		{"unhealthy wins", []Status{Degraded("a", nil), Unhealthy("b", nil)}, StatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Combine(tt.checks...).Status)
		})
	}

	failed := Combine(Healthy("a"), Unhealthy("", nil))
	assert.Equal(t, []string{"unnamed check"}, failed.Details["failed_checks"])
}

func TestDegrade(t *testing.T) {
	assert.True(t, Degrade(Unhealthy("redis down", nil)).IsDegraded())
	assert.True(t, Degrade(Healthy("ok")).IsHealthy())
}
