package graph

import "sort"

// EntityType is the closed set of domain object kinds stored in the graph.
// Values are the STIX2 object type names.
type EntityType string

// Entity types.
const (
	TypeAttackPattern     EntityType = "attack-pattern"
	TypeCampaign          EntityType = "campaign"
	TypeCourseOfAction    EntityType = "course-of-action"
	TypeIdentity          EntityType = "identity"
	TypeIncident          EntityType = "incident"
	TypeIndicator         EntityType = "indicator"
	TypeIntrusionSet      EntityType = "intrusion-set"
	TypeMalware           EntityType = "malware"
	TypeMarkingDefinition EntityType = "marking-definition"
	TypeReport            EntityType = "report"
	TypeThreatActor       EntityType = "threat-actor"
	TypeTool              EntityType = "tool"
	TypeVulnerability     EntityType = "vulnerability"
)

var entityTypes = map[EntityType]struct{}{
	TypeAttackPattern:     {},
	TypeCampaign:          {},
	TypeCourseOfAction:    {},
	TypeIdentity:          {},
	TypeIncident:          {},
	TypeIndicator:         {},
	TypeIntrusionSet:      {},
	TypeMalware:           {},
	TypeMarkingDefinition: {},
	TypeReport:            {},
	TypeThreatActor:       {},
	TypeTool:              {},
	TypeVulnerability:     {},
}

// IsValid returns true if the type belongs to the closed set.
func (t EntityType) IsValid() bool {
	_, ok := entityTypes[t]
	return ok
}

// String returns the string representation of the type.
func (t EntityType) String() string {
	return string(t)
}

// AllEntityTypes returns every entity type, sorted.
func AllEntityTypes() []EntityType {
	types := make([]EntityType, 0, len(entityTypes))
	for t := range entityTypes {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// RefField names a reference-bearing slot of an entity.
type RefField string

// Reference fields.
const (
	// RefCreatedBy points at the identity that authored the entity (single valued).
	RefCreatedBy RefField = "created_by"

	// RefObjectMarking points at marking definitions applied to the entity.
	RefObjectMarking RefField = "object_marking"

	// RefObject points at the entities a container (report) refers to.
	RefObject RefField = "object"
)

// IsSingle reports whether the field holds at most one reference.
func (f RefField) IsSingle() bool {
	return f == RefCreatedBy
}

// Common relationship types. The relationship type is an open vocabulary in
// STIX2; these are the ones produced by the platform.
const (
	RelUses          = "uses"
	RelTargets       = "targets"
	RelAttributedTo  = "attributed-to"
	RelIndicates     = "indicates"
	RelMitigates     = "mitigates"
	RelVariantOf     = "variant-of"
	RelLocalizedIn   = "localization"
	RelRelatedTo     = "related-to"
	RelDerivedFrom   = "derived-from"
	RelDuplicateOf   = "duplicate-of"
	RelCompromises   = "compromises"
	RelAuthoredBy    = "authored-by"
	RelBelongsTo     = "belongs-to"
	RelPartOf        = "part-of"
	RelImpersonates  = "impersonates"
	RelBasedOn       = "based-on"
	RelCommunicateTo = "communicates-with"
)
