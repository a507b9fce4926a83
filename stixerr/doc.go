// Package stixerr provides the error taxonomy shared by the STIX2 bundle
// importer and exporter.
//
// # Overview
//
// Every failure surfaced by stixgraph is an *Error carrying the operation that
// failed, a Kind from the closed taxonomy below, the STIX id involved (when
// one is known) and the underlying cause:
//
//   - KindNotFound: export root or referenced entity is missing
//   - KindMalformedBundle: the bundle structure is invalid, the import aborts
//   - KindMapping: an object has no STIX2 representation (or vice versa)
//   - KindUnresolvedReference: a relationship endpoint or ref cannot be resolved
//   - KindWriteFailure: the graph store rejected a write
//   - KindTimeout: the caller's deadline expired, results are partial
//   - KindPermission: the store refused the caller, always fatal
//   - KindConfiguration: invalid options or configuration file
//
// # Classification
//
// Each error also carries an ErrorClass. The importer consults IsFatal to
// decide whether a per-object failure aborts the remaining work:
//
//	if stixerr.IsFatal(err) {
//	    return result, err
//	}
//	result.AddFailure(obj, err)
//
// # Integration with errors package
//
// Error implements Unwrap and Is, so both the sentinel errors and kind
// templates work with errors.Is:
//
//	if errors.Is(err, stixerr.ErrNotFound) { ... }
//	if errors.Is(err, &stixerr.Error{Kind: stixerr.KindTimeout}) { ... }
package stixerr
