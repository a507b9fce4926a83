// Package stix defines the STIX2 wire types exchanged with external systems:
// bundles, generic objects and identifiers.
//
// A bundle is a JSON object:
//
//	{"type": "bundle", "id": "bundle--<uuid>", "objects": [...]}
//
// Each object carries "type", "id" ("<type>--<uuid>") and, for STIX 2.1,
// "spec_version". Objects are kept as generic maps (Object) so that fields
// this package does not know about survive a decode/encode cycle; the
// mapping package owns the per-type interpretation.
package stix
