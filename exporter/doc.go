// Package exporter builds STIX2 bundles from the graph store.
//
// Two entry points mirror the client workflows:
//
//   - ExportEntity emits one entity (ModeSimple) or the entity plus its
//     relationship neighbourhood (ModeFull), walked breadth-first.
//   - ExportList emits every entity of a type that matches a filter, each
//     mapped independently, with no traversal.
//
// Bundles never contain two objects with the same STIX id. Entities appear
// before the relationships that reference them, and objects pulled in
// through created_by, object_marking and object references appear before
// their referrers.
//
// Export is read-only: the Exporter never calls graph.Writer.
package exporter
