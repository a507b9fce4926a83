// Package resolve provides the per-operation reference resolution cache.
//
// A Cache memoizes the mapping from a STIX id to the internal id of the
// graph entity it denotes. One Cache is created per export or import call
// and discarded when the call returns; nothing is shared across operations.
//
// Concurrent lookups of the same STIX id are collapsed with singleflight so
// that the resolver function runs at most once per id, even when several
// import workers hit the same reference at the same time.
package resolve
