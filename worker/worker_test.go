package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zero-day-ai/stixgraph/config"
	"github.com/zero-day-ai/stixgraph/graph/memstore"
	"github.com/zero-day-ai/stixgraph/importer"
	"github.com/zero-day-ai/stixgraph/queue"
	"github.com/zero-day-ai/stixgraph/stixerr"
)

// importFunc adapts a function to the Importer interface.
type importFunc func(ctx context.Context, r io.Reader, update bool) (*importer.Result, error)

func (f importFunc) ImportReader(ctx context.Context, r io.Reader, update bool) (*importer.Result, error) {
	return f(ctx, r, update)
}

// newTestLogger creates a logger that discards output for tests.
func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// setupTestQueue creates a miniredis instance and a connected client.
func setupTestQueue(t *testing.T) (*queue.RedisClient, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := queue.NewRedisClient(queue.RedisOptions{URL: fmt.Sprintf("redis://%s", mr.Addr())})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

func testOptions() Options {
	return Options{
		Queue:             "test:import",
		ResultsChannel:    "test:results",
		Concurrency:       2,
		PollInterval:      time.Second,
		HeartbeatInterval: 50 * time.Millisecond,
		ShutdownTimeout:   5 * time.Second,
		WorkerID:          "worker-test",
		Logger:            newTestLogger(),
	}
}

func pushBundle(t *testing.T, client queue.Client, q, bundle string) queue.Job {
	t.Helper()
	job, err := queue.NewJob([]byte(bundle), false)
	require.NoError(t, err)
	require.NoError(t, client.Push(context.Background(), q, job))
	return job
}

func TestRun_ImportsJobs(t *testing.T) {
	client, mr := setupTestQueue(t)
	store := memstore.New()
	imp, err := importer.New(store, importer.WithLogger(newTestLogger()))
	require.NoError(t, err)

	opts := testOptions()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	results, err := client.Subscribe(ctx, opts.ResultsChannel)
	require.NoError(t, err)

	good := pushBundle(t, client, opts.Queue, `{"type":"bundle","id":"bundle--1","objects":[
		{"type":"relationship","id":"relationship--1","relationship_type":"uses",
		 "source_ref":"intrusion-set--1","target_ref":"malware--1"},
		{"type":"intrusion-set","id":"intrusion-set--1","name":"APT28"},
		{"type":"malware","id":"malware--1","name":"X-Agent"}
	]}`)
	partial := pushBundle(t, client, opts.Queue, `{"type":"bundle","id":"bundle--2","objects":[
		{"type":"relationship","id":"relationship--2","relationship_type":"uses",
		 "source_ref":"intrusion-set--missing","target_ref":"tool--missing"}
	]}`)
	malformed := pushBundle(t, client, opts.Queue, `{"type":"not-a-bundle","objects":[]}`)

	runErr := make(chan error, 1)
	go func() { runErr <- Run(ctx, imp, client, opts) }()

	got := make(map[string]queue.JobResult)
	for len(got) < 3 {
		select {
		case r := <-results:
			got[r.JobID] = r
		case <-time.After(10 * time.Second):
			t.Fatalf("timeout waiting for results, got %d", len(got))
		}
	}

	goodRes := got[good.JobID]
	assert.Equal(t, "complete", goodRes.Status)
	assert.Equal(t, 3, goodRes.Created)
	assert.Equal(t, "worker-test", goodRes.WorkerID)
	assert.NoError(t, goodRes.IsValid())

	partialRes := got[partial.JobID]
	assert.Equal(t, "partial", partialRes.Status)
	assert.Equal(t, 2, partialRes.SkippedRefs)
	assert.False(t, partialRes.HasError())

	malformedRes := got[malformed.JobID]
	assert.Equal(t, "aborted", malformedRes.Status)
	assert.True(t, malformedRes.HasError())

	assert.Equal(t, 2, store.EntityCount())
	assert.Equal(t, 1, store.RelationshipCount())

	count, err := client.GetWorkerCount(context.Background(), opts.Queue)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.True(t, mr.Exists("test:import:health:worker-test"))

	cancel()
	select {
	case err := <-runErr:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	count, err = client.GetWorkerCount(context.Background(), opts.Queue)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestRun_ShutdownTimeout(t *testing.T) {
	client, _ := setupTestQueue(t)

	started := make(chan struct{})
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	imp := importFunc(func(context.Context, io.Reader, bool) (*importer.Result, error) {
		close(started)
		<-release
		return &importer.Result{Status: importer.StatusComplete}, nil
	})

	opts := testOptions()
	opts.Concurrency = 1
	opts.ShutdownTimeout = 50 * time.Millisecond
	pushBundle(t, client, opts.Queue, `{}`)

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- Run(ctx, imp, client, opts) }()

	select {
	case <-started:
	case <-time.After(10 * time.Second):
		t.Fatal("job never started")
	}
	cancel()

	select {
	case err := <-runErr:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "shutdown timed out")
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestProcessJob(t *testing.T) {
	job, err := queue.NewJob([]byte(`{"type":"bundle"}`), true)
	require.NoError(t, err)

	t.Run("success", func(t *testing.T) {
		var gotUpdate atomic.Bool
		imp := importFunc(func(_ context.Context, r io.Reader, update bool) (*importer.Result, error) {
			gotUpdate.Store(update)
			data, err := io.ReadAll(r)
			require.NoError(t, err)
			assert.Equal(t, `{"type":"bundle"}`, string(data))
			return &importer.Result{
				Status:     importer.StatusPartial,
				CreatedIDs: []string{"a", "b"},
				UpdatedIDs: []string{"c"},
				Failures: []importer.Failure{
					{StixID: "malware--1", Reason: "write failed"},
				},
			}, nil
		})

		res := processJob(context.Background(), imp, job, testOptions(), newTestLogger())
		assert.True(t, gotUpdate.Load())
		assert.Equal(t, job.JobID, res.JobID)
		assert.Equal(t, "partial", res.Status)
		assert.Equal(t, 2, res.Created)
		assert.Equal(t, 1, res.Updated)
		assert.Equal(t, []string{"malware--1: write failed"}, res.Failures)
		assert.Empty(t, res.Error)
		assert.NoError(t, res.IsValid())
	})

	t.Run("timeout keeps importer status", func(t *testing.T) {
		opts := testOptions()
		opts.JobTimeout = time.Minute
		imp := importFunc(func(ctx context.Context, _ io.Reader, _ bool) (*importer.Result, error) {
			_, ok := ctx.Deadline()
			assert.True(t, ok, "job timeout should set a deadline")
			return &importer.Result{Status: importer.StatusTimeout},
				stixerr.NewTimeoutError("Importer.ImportBundle", context.DeadlineExceeded)
		})

		res := processJob(context.Background(), imp, job, opts, newTestLogger())
		assert.Equal(t, "timeout", res.Status)
		assert.Contains(t, res.Error, "deadline exceeded")
	})

	t.Run("error without result", func(t *testing.T) {
		imp := importFunc(func(context.Context, io.Reader, bool) (*importer.Result, error) {
			return nil, errors.New("boom")
		})

		res := processJob(context.Background(), imp, job, testOptions(), newTestLogger())
		assert.Equal(t, "aborted", res.Status)
		assert.Equal(t, "boom", res.Error)
	})

	t.Run("invalid job", func(t *testing.T) {
		imp := importFunc(func(context.Context, io.Reader, bool) (*importer.Result, error) {
			t.Fatal("importer should not be called")
			return nil, nil
		})

		res := processJob(context.Background(), imp, queue.Job{JobID: "j"}, testOptions(), newTestLogger())
		assert.Equal(t, "aborted", res.Status)
		assert.Contains(t, res.Error, "invalid job")
	})
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Queue.Workers = 3
	cfg.Queue.JobTimeout = "45s"

	opts := OptionsFromConfig(cfg)
	assert.Equal(t, "stixgraph:import", opts.Queue)
	assert.Equal(t, "stixgraph:results", opts.ResultsChannel)
	assert.Equal(t, 3, opts.Concurrency)
	assert.Equal(t, 45*time.Second, opts.JobTimeout)
	assert.Equal(t, 30*time.Second, opts.ShutdownTimeout)
}

func TestOptions_WithDefaults(t *testing.T) {
	opts := Options{}.withDefaults()
	assert.Equal(t, DefaultConcurrency, opts.Concurrency)
	assert.Equal(t, DefaultShutdownTimeout, opts.ShutdownTimeout)
	assert.Equal(t, DefaultPollInterval, opts.PollInterval)
	assert.NotEmpty(t, opts.WorkerID)
	assert.NotNil(t, opts.Logger)
}
