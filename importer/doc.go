// Package importer writes STIX2 bundles into the graph store.
//
// ImportBundle accepts bundles in any object order, including bundles with
// reference cycles, and applies them as idempotent upserts:
//
//  1. The bundle shape is validated; a malformed bundle aborts the call.
//  2. Objects are split into entities and relationships and mapped through
//     the mapping.Mapper. Unknown types follow the UnknownTypePolicy.
//  3. Entities are ordered by their created_by, object_marking and object
//     references (Kahn's algorithm, bundle order breaks ties) and written
//     in waves. Members of a wave are independent and run concurrently.
//     When only cycles remain, the earliest remaining object is written
//     without its unresolved references, which are patched in afterwards.
//  4. Relationships are written once every entity is settled. An endpoint
//     found neither in the bundle nor in the store is reported in
//     Result.SkippedRefs and the relationship is left out.
//
// Per-object problems are accumulated in the Result, never dropped. Only
// malformed bundles, fatal store errors (see stixerr.IsFatal) and the
// UnknownTypeFail policy abort the call. When the context deadline passes,
// ImportBundle returns the partial Result with StatusTimeout; writes that
// already happened are not rolled back.
package importer
