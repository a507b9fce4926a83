package stixgraph_test

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zero-day-ai/stixgraph"
	"github.com/zero-day-ai/stixgraph/config"
	"github.com/zero-day-ai/stixgraph/exporter"
	"github.com/zero-day-ai/stixgraph/graph"
	"github.com/zero-day-ai/stixgraph/graph/memstore"
	"github.com/zero-day-ai/stixgraph/graph/sqlstore"
	"github.com/zero-day-ai/stixgraph/importer"
	"github.com/zero-day-ai/stixgraph/stixerr"
)

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func memoryConfig() *config.Config {
	cfg := config.Default()
	cfg.Store = config.StoreConfig{Driver: "memory"}
	return cfg
}

func seed(t *testing.T, store graph.Store) string {
	t.Helper()
	ctx := context.Background()

	mal, err := store.UpsertEntity(ctx, graph.EntityInput{
		StixID:     "malware--11111111-1111-4111-8111-111111111111",
		Type:       graph.TypeMalware,
		Attributes: graph.Attributes{"name": "X-Agent", "is_family": true},
	}, graph.CreateIfAbsent)
	require.NoError(t, err)

	set, err := store.UpsertEntity(ctx, graph.EntityInput{
		StixID:     "intrusion-set--22222222-2222-4222-8222-222222222222",
		Type:       graph.TypeIntrusionSet,
		Attributes: graph.Attributes{"name": "APT28", "aliases": []string{"Sofacy"}},
	}, graph.CreateIfAbsent)
	require.NoError(t, err)

	rel := graph.NewRelationship(set.ID, mal.ID, graph.RelUses).
		WithStixID("relationship--33333333-3333-4333-8333-333333333333")
	_, err = store.CreateRelationship(ctx, graph.RelationshipInput{Relationship: *rel}, graph.CreateIfAbsent)
	require.NoError(t, err)
	return set.ID
}

// TestClient_RoundTrip exports from one client and imports into another.
func TestClient_RoundTrip(t *testing.T) {
	ctx := context.Background()

	src, err := stixgraph.New(stixgraph.WithConfig(memoryConfig()), stixgraph.WithLogger(quiet()))
	require.NoError(t, err)
	defer src.Close()
	rootID := seed(t, src.Store())

	bundle, err := src.ExportEntity(ctx, rootID, exporter.ModeFull)
	require.NoError(t, err)
	assert.Len(t, bundle.Objects, 3)

	var buf bytes.Buffer
	require.NoError(t, bundle.Encode(&buf, false))

	dstStore := memstore.New()
	dst, err := stixgraph.New(
		stixgraph.WithConfig(memoryConfig()),
		stixgraph.WithStore(dstStore),
		stixgraph.WithLogger(quiet()),
	)
	require.NoError(t, err)

	res, err := dst.Import(ctx, &buf, false)
	require.NoError(t, err)
	assert.Equal(t, importer.StatusComplete, res.Status)
	assert.Len(t, res.CreatedIDs, 3)
	assert.Equal(t, src.Store().(*memstore.Store).StixIDs(), dstStore.StixIDs())

	again, err := dst.ExportEntityByStixID(ctx, "intrusion-set--22222222-2222-4222-8222-222222222222", exporter.ModeSimple)
	require.NoError(t, err)
	assert.Equal(t, "APT28", again.Objects[0]["name"])
}

// TestClient_SQLiteFromConfigFile opens the store named in a config file.
func TestClient_SQLiteFromConfigFile(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "graph.db")
	cfgPath := filepath.Join(dir, "stixgraph.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("store:\n  driver: sqlite\n  dsn: "+dbPath+"\nspec_version: \"2.0\"\n"), 0o644))

	client, err := stixgraph.New(stixgraph.WithConfigFile(cfgPath), stixgraph.WithLogger(quiet()))
	require.NoError(t, err)
	defer client.Close()

	_, ok := client.Store().(*sqlstore.Store)
	require.True(t, ok)
	assert.Equal(t, "2.0", string(client.Mapper().SpecVersion()))

	rootID := seed(t, client.Store())
	bundle, err := client.ExportEntity(context.Background(), rootID, exporter.ModeSimple)
	require.NoError(t, err)
	assert.Equal(t, "2.0", bundle.SpecVersion)

	list, err := client.ExportList(context.Background(), graph.TypeMalware, graph.Filter{})
	require.NoError(t, err)
	assert.Len(t, list.Objects, 1)
}

// TestNew_InvalidConfig tests that configuration problems are reported as such.
func TestNew_InvalidConfig(t *testing.T) {
	cfg := memoryConfig()
	cfg.SpecVersion = "3.0"
	_, err := stixgraph.New(stixgraph.WithConfig(cfg))
	assert.Equal(t, stixerr.KindConfiguration, stixerr.KindOf(err))

	_, err = stixgraph.New(stixgraph.WithConfigFile(filepath.Join(t.TempDir(), "missing.yaml")))
	assert.Equal(t, stixerr.KindConfiguration, stixerr.KindOf(err))
}

// TestExportEntityByStixID_NotFound tests the lookup error.
func TestExportEntityByStixID_NotFound(t *testing.T) {
	client, err := stixgraph.New(stixgraph.WithConfig(memoryConfig()), stixgraph.WithLogger(quiet()))
	require.NoError(t, err)

	_, err = client.ExportEntityByStixID(context.Background(), "malware--nope", exporter.ModeSimple)
	assert.ErrorIs(t, err, stixerr.ErrNotFound)
}

func TestOpenStore(t *testing.T) {
	store, closer, err := stixgraph.OpenStore(config.StoreConfig{Driver: "memory"})
	require.NoError(t, err)
	assert.NotNil(t, store)
	assert.Nil(t, closer)

	_, _, err = stixgraph.OpenStore(config.StoreConfig{Driver: "postgres"})
	assert.ErrorContains(t, err, "unknown store driver")
}
