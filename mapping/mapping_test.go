package mapping_test

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zero-day-ai/stixgraph/graph"
	"github.com/zero-day-ai/stixgraph/mapping"
	"github.com/zero-day-ai/stixgraph/stix"
	"github.com/zero-day-ai/stixgraph/stixerr"
)

var created = time.Date(2019, 3, 4, 5, 6, 7, 0, time.UTC)

// viaJSON pushes obj through a bundle encode/decode cycle.
func viaJSON(t *testing.T, obj stix.Object) stix.Object {
	t.Helper()
	b := stix.NewBundle(stix.SpecVersion21)
	b.Add(obj)

	var buf bytes.Buffer
	require.NoError(t, b.Encode(&buf, false))
	decoded, err := stix.Decode(&buf)
	require.NoError(t, err)
	require.Len(t, decoded.Objects, 1)
	return decoded.Objects[0]
}

func intrusionSet() *graph.Entity {
	return graph.NewEntity(graph.TypeIntrusionSet).
		WithStixID("intrusion-set--1").
		WithAttribute("name", "APT28").
		WithAttribute("description", "Russian state actor").
		WithAttribute("created", created).
		WithAttribute("confidence", 80).
		WithAttribute("aliases", []string{"Sofacy", "Fancy Bear"}).
		WithAttribute("goals", []string{"espionage"}).
		WithAttribute("score", 42).
		WithAttribute("x_mitre_id", "G0007").
		WithAttribute("external_references", []map[string]any{
			{"source_name": "mitre-attack", "external_id": "G0007"},
		}).
		WithLabels("russia", "apt").
		WithRef(graph.RefCreatedBy, "identity--1").
		WithRef(graph.RefObjectMarking, "marking-definition--1", "marking-definition--2")
}

// TestNewDefaultRegistry verifies every entity type of the graph model has a mapping.
func TestNewDefaultRegistry(t *testing.T) {
	r := mapping.NewDefaultRegistry()
	assert.Equal(t, graph.AllEntityTypes(), r.Types())
	assert.Equal(t, []string{"modified"}, r.Lossy(graph.TypeMarkingDefinition))
	assert.Empty(t, r.Lossy(graph.TypeMalware))

	err := r.Register(mapping.TypeMapping{Type: graph.TypeMalware})
	assert.True(t, errors.Is(err, mapping.ErrDuplicateMapping))
}

func TestRegistry_RegisterValidation(t *testing.T) {
	r := mapping.NewRegistry()
	assert.Error(t, r.Register(mapping.TypeMapping{}))
	assert.Error(t, r.Register(mapping.TypeMapping{
		Type:   "x-custom",
		Fields: []mapping.Field{{Attr: "name", Kind: mapping.KindString}},
	}), "name is a common field")
	assert.Error(t, r.Register(mapping.TypeMapping{Type: "x-custom", Refs: []graph.RefField{"sighting_of"}}))

	require.NoError(t, r.Register(mapping.TypeMapping{
		Type:   "x-custom",
		Fields: []mapping.Field{{Attr: "severity", Stix: "x_severity", Kind: mapping.KindInt}},
	}))
	assert.True(t, r.IsRegistered("x-custom"))
	assert.False(t, r.IsRegistered(graph.TypeMalware))
}

func TestToStix(t *testing.T) {
	m := mapping.New()
	obj, err := m.ToStix(intrusionSet())
	require.NoError(t, err)

	assert.Equal(t, "intrusion-set", obj.Type())
	assert.Equal(t, "intrusion-set--1", obj.ID())
	assert.Equal(t, "2.1", obj["spec_version"])
	assert.Equal(t, "APT28", obj["name"])
	assert.Equal(t, "2019-03-04T05:06:07Z", obj["created"])
	assert.Equal(t, 80, obj["confidence"])
	assert.Equal(t, []string{"Sofacy", "Fancy Bear"}, obj["aliases"])
	assert.Equal(t, 42, obj["x_opencti_score"])
	assert.Equal(t, "G0007", obj["x_mitre_id"])
	assert.Equal(t, "identity--1", obj["created_by_ref"])
	assert.Equal(t, []string{"marking-definition--1", "marking-definition--2"}, obj["object_marking_refs"])
	assert.Equal(t, []string{"russia", "apt"}, obj["labels"])
	assert.NotContains(t, obj, "score")
}

func TestToStix_OmitsEmptyValues(t *testing.T) {
	e := graph.NewEntity(graph.TypeMalware).
		WithStixID("malware--1").
		WithAttribute("name", "").
		WithAttribute("aliases", []string{}).
		WithAttribute("note", "")

	obj, err := mapping.New().ToStix(e)
	require.NoError(t, err)
	assert.NotContains(t, obj, "name")
	assert.NotContains(t, obj, "aliases")
	assert.NotContains(t, obj, "x_opencti_note")
	assert.NotContains(t, obj, "labels")
}

func TestToStix_Errors(t *testing.T) {
	m := mapping.New()

	tests := []struct {
		name   string
		entity *graph.Entity
		unknwn bool
	}{
		{
			name:   "unknown type",
			entity: graph.NewEntity("x-unknown").WithStixID("x-unknown--1"),
			unknwn: true,
		},
		{
			name:   "missing stix id",
			entity: graph.NewEntity(graph.TypeMalware),
		},
		{
			name:   "wrong kind",
			entity: graph.NewEntity(graph.TypeMalware).WithStixID("malware--1").WithAttribute("is_family", "yes"),
		},
		{
			name:   "bad timestamp string",
			entity: graph.NewEntity(graph.TypeMalware).WithStixID("malware--1").WithAttribute("created", "yesterday"),
		},
		{
			name:   "object refs on a type without the slot",
			entity: graph.NewEntity(graph.TypeMalware).WithStixID("malware--1").WithRef(graph.RefObject, "tool--1"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.ToStix(tt.entity)
			require.Error(t, err)
			assert.Equal(t, stixerr.KindMapping, stixerr.KindOf(err))
			assert.Equal(t, tt.unknwn, errors.Is(err, stixerr.ErrUnknownType))
		})
	}
}

func TestFromStix(t *testing.T) {
	obj := stix.Object{
		"type":                "malware",
		"id":                  "malware--1",
		"spec_version":        "2.1",
		"name":                "X-Agent",
		"is_family":           true,
		"malware_types":       []any{"backdoor"},
		"created":             "2019-03-04T05:06:07Z",
		"created_by_ref":      "identity--1",
		"object_marking_refs": []any{"marking-definition--1", "marking-definition--1"},
		"labels":              []any{"russia"},
		"x_opencti_score":     "high",
		"x_vendor_flag":       true,
		"granular_markings":   []any{},
	}

	rec, err := mapping.New().FromStix(obj)
	require.NoError(t, err)

	assert.Equal(t, graph.TypeMalware, rec.Type)
	assert.Equal(t, "malware--1", rec.StixID)
	assert.Equal(t, "X-Agent", rec.Attributes["name"])
	assert.Equal(t, true, rec.Attributes["is_family"])
	assert.Equal(t, []string{"backdoor"}, rec.Attributes["malware_types"])
	assert.Equal(t, created, rec.Attributes["created"])
	assert.Equal(t, "high", rec.Attributes["score"])
	assert.Equal(t, true, rec.Attributes["x_vendor_flag"])
	assert.Equal(t, []string{"russia"}, rec.Labels)
	assert.Equal(t, []string{"identity--1"}, rec.Refs[graph.RefCreatedBy])
	assert.Equal(t, []string{"marking-definition--1"}, rec.Refs[graph.RefObjectMarking])
	assert.Equal(t, []string{"granular_markings"}, rec.Unmapped)
	assert.Equal(t, []string{"identity--1", "marking-definition--1"}, rec.RefStixIDs())
}

func TestFromStix_Errors(t *testing.T) {
	m := mapping.New()

	tests := []struct {
		name   string
		obj    stix.Object
		unknwn bool
	}{
		{name: "unknown type", obj: stix.Object{"type": "x-custom-thing", "id": "x-custom-thing--1"}, unknwn: true},
		{name: "sighting", obj: stix.Object{"type": "sighting", "id": "sighting--1"}, unknwn: true},
		{name: "missing id", obj: stix.Object{"type": "malware"}},
		{name: "id type mismatch", obj: stix.Object{"type": "malware", "id": "tool--1"}},
		{name: "bad timestamp", obj: stix.Object{"type": "malware", "id": "malware--1", "created": "not-a-time"}},
		{name: "bad list", obj: stix.Object{"type": "malware", "id": "malware--1", "aliases": []any{1, 2}}},
		{name: "bad single ref", obj: stix.Object{"type": "malware", "id": "malware--1", "created_by_ref": []any{"identity--1"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.FromStix(tt.obj)
			require.Error(t, err)
			assert.Equal(t, stixerr.KindMapping, stixerr.KindOf(err))
			assert.Equal(t, tt.unknwn, errors.Is(err, stixerr.ErrUnknownType))
		})
	}
}

// TestRoundTrip verifies FromStix(ToStix(e)) reproduces e through a JSON
// encode/decode cycle for every registered type.
func TestRoundTrip(t *testing.T) {
	m := mapping.New()

	entities := []*graph.Entity{
		intrusionSet(),
		graph.NewEntity(graph.TypeIndicator).
			WithStixID("indicator--1").
			WithAttribute("name", "bad domain").
			WithAttribute("pattern", "[domain-name:value = 'evil.example']").
			WithAttribute("pattern_type", "stix").
			WithAttribute("valid_from", created).
			WithAttribute("kill_chain_phases", []map[string]any{
				{"kill_chain_name": "mitre-attack", "phase_name": "command-and-control"},
			}),
		graph.NewEntity(graph.TypeReport).
			WithStixID("report--1").
			WithAttribute("name", "Quarterly").
			WithAttribute("published", created).
			WithAttribute("report_types", []string{"threat-report"}).
			WithRef(graph.RefObject, "malware--1", "intrusion-set--1"),
		graph.NewEntity(graph.TypeMarkingDefinition).
			WithStixID("marking-definition--1").
			WithAttribute("definition_type", "tlp").
			WithAttribute("definition", map[string]any{"tlp": "green"}),
		graph.NewEntity(graph.TypeVulnerability).
			WithStixID("vulnerability--1").
			WithAttribute("name", "CVE-2017-0144").
			WithAttribute("revoked", false).
			WithAttribute("cvss", 8),
	}

	for _, e := range entities {
		t.Run(string(e.Type), func(t *testing.T) {
			obj, err := m.ToStix(e)
			require.NoError(t, err)

			rec, err := m.FromStix(viaJSON(t, obj))
			require.NoError(t, err)
			assert.Empty(t, rec.Unmapped)

			got := rec.Entity()
			assert.Equal(t, e.Type, got.Type)
			assert.Equal(t, e.StixID, got.StixID)
			assert.Equal(t, e.Attributes, got.Attributes)
			assert.Equal(t, e.Labels, got.Labels)
			for field, ids := range e.Refs {
				assert.Equal(t, ids, got.Refs[field], "ref %s", field)
			}
		})
	}
}

func TestRoundTrip_PrefixedAttribute(t *testing.T) {
	m := mapping.New()
	e := graph.NewEntity(graph.TypeMalware).
		WithStixID("malware--1").
		WithAttribute("name", "X-Agent").
		WithAttribute("x_opencti_score", 70).
		WithAttribute("score", 40).
		WithAttribute("x_mitre_platforms", []string{"Windows"})

	obj, err := m.ToStix(e)
	require.NoError(t, err)
	assert.Contains(t, obj, "x_opencti_x_opencti_score")
	assert.Contains(t, obj, "x_opencti_score")
	assert.Contains(t, obj, "x_mitre_platforms")

	rec, err := m.FromStix(viaJSON(t, obj))
	require.NoError(t, err)
	assert.Empty(t, rec.Unmapped)
	assert.Equal(t, e.Attributes, rec.Entity().Attributes)
}

// TestRoundTrip_Lossy documents the enumerated lossy cases.
func TestRoundTrip_Lossy(t *testing.T) {
	assert.NotEmpty(t, mapping.LossyRules)
	m := mapping.New()

	e := graph.NewEntity(graph.TypeMarkingDefinition).
		WithStixID("marking-definition--1").
		WithAttribute("modified", created).
		WithAttribute("seen_at", created)

	obj, err := m.ToStix(e)
	require.NoError(t, err)
	assert.Equal(t, "2019-03-04T05:06:07Z", obj["x_opencti_seen_at"])
	assert.Equal(t, "2019-03-04T05:06:07Z", obj["x_opencti_modified"])
	assert.NotContains(t, obj, "modified")

	rec, err := m.FromStix(viaJSON(t, obj))
	require.NoError(t, err)
	assert.Equal(t, "2019-03-04T05:06:07Z", rec.Attributes["modified"], "omitted for marking definitions")
	assert.Equal(t, "2019-03-04T05:06:07Z", rec.Attributes["seen_at"], "extension times come back as strings")
}

func TestMapper_Options(t *testing.T) {
	m := mapping.New(
		mapping.WithSpecVersion(stix.SpecVersion20),
		mapping.WithExtensionPrefix("x_acme_"),
	)
	assert.Equal(t, stix.SpecVersion20, m.SpecVersion())
	assert.True(t, m.Supports("tool"))
	assert.False(t, m.Supports("sighting"))

	obj, err := m.ToStix(graph.NewEntity(graph.TypeTool).WithStixID("tool--1").WithAttribute("owner", "blue"))
	require.NoError(t, err)
	assert.Equal(t, "2.0", obj["spec_version"])
	assert.Equal(t, "blue", obj["x_acme_owner"])

	rec, err := m.FromStix(obj)
	require.NoError(t, err)
	assert.Equal(t, "blue", rec.Attributes["owner"])
}

func TestRelationshipRoundTrip(t *testing.T) {
	m := mapping.New()
	start := created
	stop := created.Add(24 * time.Hour)

	rel := graph.NewRelationship("e1", "e2", graph.RelUses).
		WithStixID("relationship--1").
		WithConfidence(70).
		WithTimes(start, stop).
		WithAttribute("description", "uses in the wild").
		WithAttribute("created", created).
		WithAttribute("weight", 3)

	obj, err := m.RelationshipToStix(rel, "intrusion-set--1", "malware--1")
	require.NoError(t, err)
	assert.Equal(t, "relationship", obj.Type())
	assert.Equal(t, "uses", obj["relationship_type"])
	assert.Equal(t, "intrusion-set--1", obj["source_ref"])
	assert.Equal(t, "malware--1", obj["target_ref"])
	assert.Equal(t, 3, obj["x_opencti_weight"])

	rec, err := m.RelationshipFromStix(viaJSON(t, obj))
	require.NoError(t, err)
	assert.Equal(t, "relationship--1", rec.StixID)
	assert.Equal(t, "uses", rec.Type)
	assert.Equal(t, "intrusion-set--1", rec.SourceRef)
	assert.Equal(t, "malware--1", rec.TargetRef)
	require.NotNil(t, rec.Confidence)
	assert.Equal(t, 70, *rec.Confidence)
	require.NotNil(t, rec.StartTime)
	assert.Equal(t, start, *rec.StartTime)
	require.NotNil(t, rec.StopTime)
	assert.Equal(t, stop, *rec.StopTime)
	assert.Equal(t, rel.Attributes, rec.Attributes)

	back := rec.Relationship("e1", "e2")
	assert.Equal(t, rel.StixID, back.StixID)
	assert.Equal(t, rel.Type, back.Type)
}

func TestRelationshipRefs(t *testing.T) {
	m := mapping.New()
	rel := graph.NewRelationship("e1", "e2", graph.RelUses).
		WithStixID("relationship--1").
		WithRef(graph.RefCreatedBy, "identity--1").
		WithRef(graph.RefObjectMarking, "marking-definition--1", "marking-definition--1", "marking-definition--2")

	obj, err := m.RelationshipToStix(rel, "malware--1", "tool--1")
	require.NoError(t, err)
	assert.Equal(t, "identity--1", obj["created_by_ref"])
	assert.Equal(t, []string{"marking-definition--1", "marking-definition--2"}, obj["object_marking_refs"])

	rec, err := m.RelationshipFromStix(viaJSON(t, obj))
	require.NoError(t, err)
	assert.Empty(t, rec.Unmapped)
	assert.Equal(t, []string{"identity--1"}, rec.Refs[graph.RefCreatedBy])
	assert.Equal(t, []string{"marking-definition--1", "marking-definition--2"}, rec.Refs[graph.RefObjectMarking])

	withObjects := graph.NewRelationship("e1", "e2", graph.RelUses).WithRef(graph.RefObject, "report--1")
	_, err = m.RelationshipToStix(withObjects, "malware--1", "tool--1")
	assert.Equal(t, stixerr.KindMapping, stixerr.KindOf(err))

	rec, err = m.RelationshipFromStix(stix.Object{
		"type": "relationship", "id": "relationship--2", "relationship_type": "uses",
		"source_ref": "malware--1", "target_ref": "tool--1",
		"object_refs": []any{"report--1"}, "labels": []any{"x"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"labels", "object_refs"}, rec.Unmapped)
}

func TestRelationshipToStix_DerivesMissingID(t *testing.T) {
	m := mapping.New()
	rel := graph.NewRelationship("e1", "e2", graph.RelTargets)

	a, err := m.RelationshipToStix(rel, "intrusion-set--1", "identity--1")
	require.NoError(t, err)
	b, err := m.RelationshipToStix(rel, "intrusion-set--1", "identity--1")
	require.NoError(t, err)
	assert.Equal(t, a.ID(), b.ID())
	assert.Equal(t, stix.DeterministicID("relationship", "intrusion-set--1", "identity--1", "targets"), a.ID())

	_, err = m.RelationshipToStix(rel, "", "identity--1")
	assert.Error(t, err)
}

func TestRelationshipFromStix_Errors(t *testing.T) {
	m := mapping.New()

	_, err := m.RelationshipFromStix(stix.Object{"type": "malware", "id": "malware--1"})
	assert.True(t, errors.Is(err, stixerr.ErrUnknownType))

	_, err = m.RelationshipFromStix(stix.Object{"type": "relationship", "id": "relationship--1", "source_ref": "a--1"})
	assert.Equal(t, stixerr.KindMapping, stixerr.KindOf(err))

	_, err = m.RelationshipFromStix(stix.Object{
		"type": "relationship", "relationship_type": "uses",
		"source_ref": "a--1", "target_ref": "b--1", "confidence": "high",
	})
	assert.Error(t, err)
}
