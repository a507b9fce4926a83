// Package graph defines the internal threat-intelligence graph model and the
// store collaborator interfaces the importer and exporter talk to.
//
// # Core Types
//
//   - Entity: a domain object (malware, intrusion set, identity, ...) with a
//     closed EntityType, a stable STIX id, free-form Attributes, Labels and
//     typed references (created_by, object_marking, object) to other entities
//   - Relationship: a typed directed edge between two entities
//   - Filter: OpenCTI-style key/values conditions plus an optional CEL
//     expression used by Reader.ListEntities
//
// Entities are stored as an arena indexed by id and STIX id with an explicit
// edge list; nothing in the model owns another entity, so cyclic graphs need
// no special handling.
//
// # Creating Entities
//
//	e := graph.NewEntity(graph.TypeIntrusionSet).
//	    WithStixID("intrusion-set--...").
//	    WithAttribute("name", "APT28").
//	    WithAttribute("aliases", []string{"Sofacy", "Fancy Bear"}).
//	    WithRef(graph.RefCreatedBy, identityID)
//
// # Store Collaborators
//
// Reader and Writer are implemented by the graph store. Two reference
// implementations live in the memstore (in-memory) and sqlstore (SQLite)
// sub-packages.
package graph
