package mapping

import "github.com/zero-day-ai/stixgraph/graph"

var (
	fieldAliases      = Field{Attr: "aliases", Kind: KindStringList}
	fieldFirstSeen    = Field{Attr: "first_seen", Kind: KindTimestamp}
	fieldLastSeen     = Field{Attr: "last_seen", Kind: KindTimestamp}
	fieldKillChain    = Field{Attr: "kill_chain_phases", Kind: KindNested}
	fieldGoals        = Field{Attr: "goals", Kind: KindStringList}
	fieldObjective    = Field{Attr: "objective", Kind: KindString}
	fieldResource     = Field{Attr: "resource_level", Kind: KindString}
	fieldPrimaryMotiv = Field{Attr: "primary_motivation", Kind: KindString}
	fieldSecondMotiv  = Field{Attr: "secondary_motivations", Kind: KindStringList}
	fieldRoles        = Field{Attr: "roles", Kind: KindStringList}
)

func defaultMappings() []TypeMapping {
	return []TypeMapping{
		{
			Type:   graph.TypeAttackPattern,
			Fields: []Field{fieldAliases, fieldKillChain},
		},
		{
			Type:   graph.TypeCampaign,
			Fields: []Field{fieldAliases, fieldFirstSeen, fieldLastSeen, fieldObjective},
		},
		{
			Type: graph.TypeCourseOfAction,
		},
		{
			Type: graph.TypeIdentity,
			Fields: []Field{
				{Attr: "identity_class", Kind: KindString},
				{Attr: "sectors", Kind: KindStringList},
				{Attr: "contact_information", Kind: KindString},
				fieldRoles,
			},
		},
		{
			Type:   graph.TypeIncident,
			Fields: []Field{fieldAliases, fieldFirstSeen, fieldLastSeen, fieldObjective},
		},
		{
			Type: graph.TypeIndicator,
			Fields: []Field{
				{Attr: "pattern", Kind: KindString},
				{Attr: "pattern_type", Kind: KindString},
				{Attr: "pattern_version", Kind: KindString},
				{Attr: "valid_from", Kind: KindTimestamp},
				{Attr: "valid_until", Kind: KindTimestamp},
				{Attr: "indicator_types", Kind: KindStringList},
				fieldKillChain,
			},
		},
		{
			Type: graph.TypeIntrusionSet,
			Fields: []Field{
				fieldAliases, fieldFirstSeen, fieldLastSeen, fieldGoals,
				fieldResource, fieldPrimaryMotiv, fieldSecondMotiv,
			},
		},
		{
			Type: graph.TypeMalware,
			Fields: []Field{
				{Attr: "malware_types", Kind: KindStringList},
				{Attr: "is_family", Kind: KindBool},
				fieldAliases, fieldKillChain, fieldFirstSeen, fieldLastSeen,
				{Attr: "architecture_execution_envs", Kind: KindStringList},
				{Attr: "implementation_languages", Kind: KindStringList},
				{Attr: "capabilities", Kind: KindStringList},
			},
		},
		{
			Type: graph.TypeMarkingDefinition,
			Fields: []Field{
				{Attr: "definition_type", Kind: KindString},
				{Attr: "definition", Kind: KindNested},
			},
			// Marking definitions are immutable and have no modified field.
			Omit:  []string{"modified"},
			Lossy: []string{"modified"},
		},
		{
			Type: graph.TypeReport,
			Fields: []Field{
				{Attr: "report_types", Kind: KindStringList},
				{Attr: "published", Kind: KindTimestamp},
			},
			Refs: []graph.RefField{graph.RefObject},
		},
		{
			Type: graph.TypeThreatActor,
			Fields: []Field{
				{Attr: "threat_actor_types", Kind: KindStringList},
				fieldAliases, fieldFirstSeen, fieldLastSeen, fieldRoles, fieldGoals,
				{Attr: "sophistication", Kind: KindString},
				fieldResource, fieldPrimaryMotiv, fieldSecondMotiv,
				{Attr: "personal_motivations", Kind: KindStringList},
			},
		},
		{
			Type: graph.TypeTool,
			Fields: []Field{
				{Attr: "tool_types", Kind: KindStringList},
				fieldAliases, fieldKillChain,
				{Attr: "tool_version", Kind: KindString},
			},
		},
		{
			Type: graph.TypeVulnerability,
		},
	}
}
