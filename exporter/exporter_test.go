package exporter_test

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zero-day-ai/stixgraph/exporter"
	"github.com/zero-day-ai/stixgraph/graph"
	"github.com/zero-day-ai/stixgraph/graph/memstore"
	"github.com/zero-day-ai/stixgraph/mapping"
	"github.com/zero-day-ai/stixgraph/stix"
	"github.com/zero-day-ai/stixgraph/stixerr"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// fixture is a small graph:
//
//	identity <-created_by- intrusion-set(APT28) -uses-> malware(X-Agent) -uses-> tool(Mimikatz)
//	marking  <-marking----/        \-targets-> identity(victim)
//
// plus an unrelated malware.
type fixture struct {
	store *memstore.Store
	ids   map[string]string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{store: memstore.New(), ids: map[string]string{}}

	put := func(stixID string, typ graph.EntityType, name string, refs map[graph.RefField][]string) {
		res, err := f.store.UpsertEntity(ctx, graph.EntityInput{
			StixID:     stixID,
			Type:       typ,
			Attributes: graph.Attributes{"name": name},
			Refs:       refs,
		}, graph.CreateIfAbsent)
		require.NoError(t, err)
		f.ids[stixID] = res.ID
	}
	link := func(src, tgt, relType, stixID string) {
		rel := graph.NewRelationship(f.ids[src], f.ids[tgt], relType).WithStixID(stixID)
		_, err := f.store.CreateRelationship(ctx, graph.RelationshipInput{Relationship: *rel}, graph.CreateIfAbsent)
		require.NoError(t, err)
	}

	put("identity--author", graph.TypeIdentity, "CERT", nil)
	put("marking-definition--tlp", graph.TypeMarkingDefinition, "TLP:GREEN", nil)
	put("intrusion-set--apt28", graph.TypeIntrusionSet, "APT28", map[graph.RefField][]string{
		graph.RefCreatedBy:     {f.ids["identity--author"]},
		graph.RefObjectMarking: {f.ids["marking-definition--tlp"]},
	})
	put("malware--xagent", graph.TypeMalware, "X-Agent", nil)
	put("tool--mimikatz", graph.TypeTool, "Mimikatz", nil)
	put("identity--victim", graph.TypeIdentity, "Victim Corp", nil)
	put("malware--other", graph.TypeMalware, "Other", nil)

	link("intrusion-set--apt28", "malware--xagent", graph.RelUses, "relationship--1")
	link("malware--xagent", "tool--mimikatz", graph.RelUses, "relationship--2")
	link("intrusion-set--apt28", "identity--victim", graph.RelTargets, "relationship--3")
	return f
}

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func ids(b *stix.Bundle) []string {
	return b.ObjectIDs()
}

func indexOf(b *stix.Bundle, id string) int {
	for i, obj := range b.Objects {
		if obj.ID() == id {
			return i
		}
	}
	return -1
}

func TestExportEntity_Simple(t *testing.T) {
	f := newFixture(t)
	x := exporter.New(f.store, exporter.WithLogger(quiet()))

	b, err := x.ExportEntity(context.Background(), f.ids["intrusion-set--apt28"], exporter.ModeSimple)
	require.NoError(t, err)

	assert.Equal(t, "bundle", b.Type)
	assert.Equal(t, "bundle", stix.TypeOfID(b.ID))
	require.Len(t, b.Objects, 1)

	obj := b.Objects[0]
	assert.Equal(t, "intrusion-set--apt28", obj.ID())
	assert.Equal(t, "APT28", obj["name"])
	assert.Equal(t, "identity--author", obj["created_by_ref"])
	assert.Equal(t, []string{"marking-definition--tlp"}, obj["object_marking_refs"])
}

func TestExportEntity_Full(t *testing.T) {
	f := newFixture(t)
	x := exporter.New(f.store, exporter.WithLogger(quiet()))

	b, err := x.ExportEntity(context.Background(), f.ids["intrusion-set--apt28"], exporter.ModeFull)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{
		"identity--author",
		"marking-definition--tlp",
		"intrusion-set--apt28",
		"malware--xagent",
		"tool--mimikatz",
		"identity--victim",
		"relationship--1",
		"relationship--2",
		"relationship--3",
	}, ids(b))
	assert.Equal(t, -1, indexOf(b, "malware--other"))

	// References precede referrers; relationships come after every entity.
	assert.Less(t, indexOf(b, "identity--author"), indexOf(b, "intrusion-set--apt28"))
	assert.Less(t, indexOf(b, "marking-definition--tlp"), indexOf(b, "intrusion-set--apt28"))
	for _, obj := range b.Objects[:6] {
		assert.NotEqual(t, "relationship", obj.Type())
	}

	rel := b.Objects[indexOf(b, "relationship--1")]
	assert.Equal(t, "intrusion-set--apt28", rel["source_ref"])
	assert.Equal(t, "malware--xagent", rel["target_ref"])
	assert.Equal(t, "uses", rel["relationship_type"])
}

func TestExportEntity_RelationshipRefs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.store.UpsertEntity(ctx, graph.EntityInput{
		StixID: "identity--analyst", Type: graph.TypeIdentity, Attributes: graph.Attributes{"name": "Analyst"},
	}, graph.CreateIfAbsent)
	require.NoError(t, err)
	analyst, err := f.store.FindEntityByStixID(ctx, "identity--analyst")
	require.NoError(t, err)

	rel := graph.NewRelationship(f.ids["malware--other"], f.ids["tool--mimikatz"], graph.RelUses).
		WithStixID("relationship--other").
		WithRef(graph.RefCreatedBy, analyst.ID).
		WithRef(graph.RefObjectMarking, f.ids["marking-definition--tlp"])
	_, err = f.store.CreateRelationship(ctx, graph.RelationshipInput{Relationship: *rel}, graph.CreateIfAbsent)
	require.NoError(t, err)

	x := exporter.New(f.store, exporter.WithLogger(quiet()))
	b, err := x.ExportEntity(ctx, f.ids["malware--other"], exporter.ModeFull)
	require.NoError(t, err)

	// The referenced entities are exported and precede the relationship.
	relIdx := indexOf(b, "relationship--other")
	require.NotEqual(t, -1, relIdx)
	assert.Less(t, indexOf(b, "identity--analyst"), relIdx)
	assert.Less(t, indexOf(b, "marking-definition--tlp"), relIdx)

	obj := b.Objects[relIdx]
	assert.Equal(t, "identity--analyst", obj["created_by_ref"])
	assert.Equal(t, []string{"marking-definition--tlp"}, obj["object_marking_refs"])
}

func TestExportEntity_NoDuplicates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// A second path to the tool and a relationship back to the root.
	rel := graph.NewRelationship(f.ids["intrusion-set--apt28"], f.ids["tool--mimikatz"], graph.RelUses).WithStixID("relationship--4")
	_, err := f.store.CreateRelationship(ctx, graph.RelationshipInput{Relationship: *rel}, graph.CreateIfAbsent)
	require.NoError(t, err)
	rel = graph.NewRelationship(f.ids["tool--mimikatz"], f.ids["intrusion-set--apt28"], graph.RelAttributedTo).WithStixID("relationship--5")
	_, err = f.store.CreateRelationship(ctx, graph.RelationshipInput{Relationship: *rel}, graph.CreateIfAbsent)
	require.NoError(t, err)

	b, err := exporter.New(f.store, exporter.WithLogger(quiet())).ExportEntity(ctx, f.ids["intrusion-set--apt28"], exporter.ModeFull)
	require.NoError(t, err)

	seen := map[string]int{}
	for _, id := range ids(b) {
		seen[id]++
	}
	for id, n := range seen {
		assert.Equal(t, 1, n, "duplicate %s", id)
	}
	assert.Contains(t, seen, "relationship--4")
	assert.Contains(t, seen, "relationship--5")
}

func TestExportEntity_Repeatable(t *testing.T) {
	f := newFixture(t)
	x := exporter.New(f.store, exporter.WithLogger(quiet()))
	ctx := context.Background()

	first, err := x.ExportEntity(ctx, f.ids["intrusion-set--apt28"], exporter.ModeFull)
	require.NoError(t, err)
	second, err := x.ExportEntity(ctx, f.ids["intrusion-set--apt28"], exporter.ModeFull)
	require.NoError(t, err)

	assert.Equal(t, ids(first), ids(second))
	assert.NotEqual(t, first.ID, second.ID)
}

func TestExportEntity_MaxDepth(t *testing.T) {
	f := newFixture(t)
	x := exporter.New(f.store, exporter.WithLogger(quiet()), exporter.WithMaxDepth(1))

	b, err := x.ExportEntity(context.Background(), f.ids["intrusion-set--apt28"], exporter.ModeFull)
	require.NoError(t, err)

	assert.NotEqual(t, -1, indexOf(b, "malware--xagent"))
	assert.Equal(t, -1, indexOf(b, "tool--mimikatz"))
	assert.Equal(t, -1, indexOf(b, "relationship--2"))
}

func TestExportEntity_Errors(t *testing.T) {
	f := newFixture(t)
	x := exporter.New(f.store, exporter.WithLogger(quiet()))
	ctx := context.Background()

	_, err := x.ExportEntity(ctx, "does-not-exist", exporter.ModeFull)
	require.Error(t, err)
	assert.Equal(t, stixerr.KindNotFound, stixerr.KindOf(err))
	assert.ErrorIs(t, err, stixerr.ErrNotFound)

	_, err = x.ExportEntity(ctx, f.ids["intrusion-set--apt28"], exporter.Mode("deep"))
	assert.Equal(t, stixerr.KindConfiguration, stixerr.KindOf(err))
}

func TestExportEntity_MappingPolicy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// A table without tools.
	reg := mapping.NewRegistry()
	for _, typ := range []graph.EntityType{graph.TypeIdentity, graph.TypeMarkingDefinition, graph.TypeIntrusionSet, graph.TypeMalware} {
		require.NoError(t, reg.Register(mapping.TypeMapping{Type: typ}))
	}
	m := mapping.New(mapping.WithRegistry(reg))

	skip := exporter.New(f.store, exporter.WithLogger(quiet()), exporter.WithMapper(m))
	b, err := skip.ExportEntity(ctx, f.ids["intrusion-set--apt28"], exporter.ModeFull)
	require.NoError(t, err)
	assert.Equal(t, -1, indexOf(b, "tool--mimikatz"))
	assert.Equal(t, -1, indexOf(b, "relationship--2"), "relationship to an unmapped entity is left out")
	assert.NotEqual(t, -1, indexOf(b, "relationship--1"))

	fail := exporter.New(f.store, exporter.WithLogger(quiet()), exporter.WithMapper(m), exporter.WithMappingPolicy(exporter.MappingFail))
	_, err = fail.ExportEntity(ctx, f.ids["intrusion-set--apt28"], exporter.ModeFull)
	require.Error(t, err)
	assert.Equal(t, stixerr.KindMapping, stixerr.KindOf(err))

	// The root is never silently dropped.
	_, err = skip.ExportEntity(ctx, f.ids["tool--mimikatz"], exporter.ModeSimple)
	assert.ErrorIs(t, err, stixerr.ErrUnknownType)
}

func TestExportList(t *testing.T) {
	f := newFixture(t)
	x := exporter.New(f.store, exporter.WithLogger(quiet()))
	ctx := context.Background()

	b, err := x.ExportList(ctx, graph.TypeMalware, graph.Filter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"malware--xagent", "malware--other"}, ids(b))

	b, err = x.ExportList(ctx, graph.TypeMalware, graph.Filter{
		Conditions: []graph.Condition{{Key: "name", Values: []string{"X-Agent", "Nope"}}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"malware--xagent"}, ids(b))

	b, err = x.ExportList(ctx, graph.TypeIdentity, graph.Filter{Where: `attrs.name.startsWith("Victim")`})
	require.NoError(t, err)
	assert.Equal(t, []string{"identity--victim"}, ids(b))

	// References are written as ids, but the objects are not pulled in.
	b, err = x.ExportList(ctx, graph.TypeIntrusionSet, graph.Filter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"intrusion-set--apt28"}, ids(b))
	assert.Equal(t, "identity--author", b.Objects[0]["created_by_ref"])
}

func TestExportList_Errors(t *testing.T) {
	f := newFixture(t)
	x := exporter.New(f.store, exporter.WithLogger(quiet()))
	ctx := context.Background()

	_, err := x.ExportList(ctx, "sighting", graph.Filter{})
	assert.ErrorIs(t, err, stixerr.ErrUnknownType)

	_, err = x.ExportList(ctx, graph.TypeMalware, graph.Filter{Where: "attrs.name +"})
	assert.Equal(t, stixerr.KindConfiguration, stixerr.KindOf(err))
}

func TestExport_SpecVersion20(t *testing.T) {
	f := newFixture(t)
	x := exporter.New(f.store,
		exporter.WithLogger(quiet()),
		exporter.WithMapper(mapping.New(mapping.WithSpecVersion(stix.SpecVersion20))),
	)

	b, err := x.ExportEntity(context.Background(), f.ids["malware--other"], exporter.ModeSimple)
	require.NoError(t, err)
	assert.Equal(t, "2.0", b.SpecVersion)
	require.NotEmpty(t, b.Objects)
	for _, obj := range b.Objects {
		assert.Equal(t, "2.0", obj["spec_version"], obj.ID())
	}
}

func TestExport_Tracing(t *testing.T) {
	f := newFixture(t)
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	x := exporter.New(f.store, exporter.WithLogger(quiet()), exporter.WithTracer(tp.Tracer("test")))
	_, err := x.ExportEntity(context.Background(), f.ids["intrusion-set--apt28"], exporter.ModeFull)
	require.NoError(t, err)
	_, err = x.ExportEntity(context.Background(), "missing", exporter.ModeFull)
	require.Error(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "stixgraph.export_entity", spans[0].Name())
	assert.Equal(t, "Ok", spans[0].Status().Code.String())
	assert.Equal(t, "Error", spans[1].Status().Code.String())
}

func TestParseMode(t *testing.T) {
	m, err := exporter.ParseMode("full")
	require.NoError(t, err)
	assert.Equal(t, exporter.ModeFull, m)
	_, err = exporter.ParseMode("")
	assert.Error(t, err)

	p, err := exporter.ParseMappingPolicy("fail")
	require.NoError(t, err)
	assert.Equal(t, exporter.MappingFail, p)
	_, err = exporter.ParseMappingPolicy("ignore")
	assert.Error(t, err)
}
