package importer

import (
	"sort"

	"github.com/zero-day-ai/stixgraph/stixerr"
)

// Status summarizes how an import ended.
type Status string

const (
	// StatusComplete means every object was applied.
	StatusComplete Status = "complete"

	// StatusPartial means the import ran to the end but recorded failures
	// or skipped references.
	StatusPartial Status = "partial"

	// StatusTimeout means the deadline passed before every object was processed.
	StatusTimeout Status = "timeout"

	// StatusAborted means a fatal error stopped the import.
	StatusAborted Status = "aborted"
)

// Failure is a per-object problem.
type Failure struct {
	StixID string       `json:"stix_id"`
	Type   string       `json:"type"`
	Kind   stixerr.Kind `json:"kind"`
	Reason string       `json:"reason"`
}

// SkippedRef is a reference that pointed at an object found neither in the
// bundle nor in the store.
type SkippedRef struct {
	// StixID is the object holding the reference.
	StixID string `json:"stix_id"`

	// Field is the STIX field of the reference (e.g. "target_ref").
	Field string `json:"field"`

	// Ref is the unresolved STIX id.
	Ref string `json:"ref"`
}

// UnmappedFields lists the top-level fields of one object that have no slot
// in the graph model and were not imported.
type UnmappedFields struct {
	StixID string   `json:"stix_id"`
	Fields []string `json:"fields"`
}

// Result enumerates everything an import did.
type Result struct {
	// CreatedIDs are the internal ids of entities and relationships created.
	CreatedIDs []string `json:"created_ids"`

	// UpdatedIDs are the internal ids of records that already existed and
	// were overwritten.
	UpdatedIDs []string `json:"updated_ids"`

	// SkippedRefs are references left out because their target is unknown.
	SkippedRefs []SkippedRef `json:"skipped_refs"`

	// Failures are the objects that could not be applied.
	Failures []Failure `json:"failures"`

	// Unmapped are the fields dropped per object.
	Unmapped []UnmappedFields `json:"unmapped"`

	// IDs maps every STIX id settled during the call to its internal id.
	IDs map[string]string `json:"ids"`

	// Status summarizes the outcome.
	Status Status `json:"status"`
}

func newResult() *Result {
	return &Result{
		CreatedIDs:  []string{},
		UpdatedIDs:  []string{},
		SkippedRefs: []SkippedRef{},
		Failures:    []Failure{},
		Unmapped:    []UnmappedFields{},
		IDs:         map[string]string{},
	}
}

// Unchanged returns the number of settled STIX ids that were neither
// created nor updated.
func (r *Result) Unchanged() int {
	n := len(r.IDs) - len(r.CreatedIDs) - len(r.UpdatedIDs)
	if n < 0 {
		return 0
	}
	return n
}

// FailureFor returns the failure recorded for stixID.
func (r *Result) FailureFor(stixID string) (Failure, bool) {
	for _, f := range r.Failures {
		if f.StixID == stixID {
			return f, true
		}
	}
	return Failure{}, false
}

// finish sorts the slices so results are stable regardless of scheduling
// and sets the status if nothing set it before.
func (r *Result) finish() {
	sort.Strings(r.CreatedIDs)
	sort.Strings(r.UpdatedIDs)
	sort.Slice(r.SkippedRefs, func(i, j int) bool {
		a, b := r.SkippedRefs[i], r.SkippedRefs[j]
		if a.StixID != b.StixID {
			return a.StixID < b.StixID
		}
		if a.Field != b.Field {
			return a.Field < b.Field
		}
		return a.Ref < b.Ref
	})
	sort.SliceStable(r.Failures, func(i, j int) bool { return r.Failures[i].StixID < r.Failures[j].StixID })
	sort.SliceStable(r.Unmapped, func(i, j int) bool { return r.Unmapped[i].StixID < r.Unmapped[j].StixID })

	if r.Status != "" {
		return
	}
	if len(r.Failures) > 0 || len(r.SkippedRefs) > 0 {
		r.Status = StatusPartial
	} else {
		r.Status = StatusComplete
	}
}
