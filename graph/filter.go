package graph

import (
	"fmt"
	"slices"

	"github.com/google/cel-go/cel"
)

// Condition matches entities whose attribute Key equals any of Values.
// Key may also be one of the pseudo-keys "id", "stix_id" or "labels".
type Condition struct {
	Key    string   `json:"key" yaml:"key"`
	Values []string `json:"values" yaml:"values"`
}

// Filter selects entities for Reader.ListEntities.
//
// All Conditions must match. Where, when set, is a CEL expression evaluated
// with the variables:
//
//   - attrs (map): the entity attributes
//   - labels (list of string)
//   - stix_id (string)
//   - entity_type (string)
//
// Example:
//
//	graph.Filter{
//	    Conditions: []graph.Condition{{Key: "name", Values: []string{"APT28"}}},
//	    Where:      `"Sofacy" in attrs.aliases`,
//	}
type Filter struct {
	Conditions []Condition `json:"conditions,omitempty" yaml:"conditions,omitempty"`
	Where      string      `json:"where,omitempty" yaml:"where,omitempty"`
}

// IsEmpty reports whether the filter matches everything.
func (f Filter) IsEmpty() bool {
	return len(f.Conditions) == 0 && f.Where == ""
}

// Matcher is a compiled Filter.
type Matcher struct {
	conditions []Condition
	program    cel.Program
}

// Compile validates the filter and compiles its CEL expression.
func (f Filter) Compile() (*Matcher, error) {
	m := &Matcher{conditions: f.Conditions}
	if f.Where == "" {
		return m, nil
	}

	env, err := cel.NewEnv(
		cel.Variable("attrs", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("labels", cel.ListType(cel.StringType)),
		cel.Variable("stix_id", cel.StringType),
		cel.Variable("entity_type", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build filter environment: %w", err)
	}
	ast, issues := env.Compile(f.Where)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("invalid filter expression %q: %w", f.Where, issues.Err())
	}
	if t := ast.OutputType(); !t.IsExactType(cel.BoolType) && !t.IsExactType(cel.DynType) {
		return nil, fmt.Errorf("filter expression %q must evaluate to bool, got %v", f.Where, t)
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to compile filter expression: %w", err)
	}
	m.program = prg
	return m, nil
}

// Match reports whether e satisfies the filter.
func (m *Matcher) Match(e *Entity) (bool, error) {
	for _, c := range m.conditions {
		if !matchCondition(c, e) {
			return false, nil
		}
	}
	if m.program == nil {
		return true, nil
	}

	labels := e.Labels
	if labels == nil {
		labels = []string{}
	}
	attrs := map[string]any(e.Attributes)
	if attrs == nil {
		attrs = map[string]any{}
	}
	out, _, err := m.program.Eval(map[string]any{
		"attrs":       attrs,
		"labels":      labels,
		"stix_id":     e.StixID,
		"entity_type": string(e.Type),
	})
	if err != nil {
		return false, fmt.Errorf("failed to evaluate filter on %s: %w", e.StixID, err)
	}
	b, ok := out.Value().(bool)
	return ok && b, nil
}

func matchCondition(c Condition, e *Entity) bool {
	var candidates []string
	switch c.Key {
	case "id":
		candidates = []string{e.ID}
	case "stix_id":
		candidates = []string{e.StixID}
	case "labels":
		candidates = e.Labels
	default:
		candidates = e.Attributes.Strings(c.Key)
	}
	for _, v := range candidates {
		if slices.Contains(c.Values, v) {
			return true
		}
	}
	return false
}
