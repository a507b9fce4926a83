// Package stixgraph exchanges threat-intelligence graphs as STIX 2 bundles.
//
// A Client pairs a graph store with an exporter, which turns an entity and
// its neighbourhood into a bundle, and an importer, which applies a bundle to
// the store in dependency order.
//
// # Core Concepts
//
//   - Entities: typed nodes of the graph (intrusion-set, malware, report, ...)
//     with attributes, labels and references to other entities
//   - Relationships: typed edges between two entities
//   - STIX ids: stable external identifiers ("malware--<uuid>") preserved
//     across export and import
//   - Mapping: the table-driven translation between entities and STIX objects
//
// # Getting Started
//
//	client, err := stixgraph.New(stixgraph.WithConfigFile("stixgraph.yaml"))
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer client.Close()
//
//	bundle, err := client.ExportEntity(ctx, entityID, exporter.ModeFull)
//
//	res, err := client.Import(ctx, file, false)
//	fmt.Println(res.Status, len(res.CreatedIDs))
//
// # Packages
//
//   - graph, graph/memstore, graph/sqlstore: the graph model and its stores
//   - stix: bundle and object wire types
//   - mapping: entity to STIX translation
//   - resolve: the per-call STIX id resolution cache
//   - exporter, importer: the two directions of exchange
//   - queue, worker: asynchronous imports over Redis
//   - health: store and queue checks
//   - config, cli: configuration files and the command line
//
// # Error Handling
//
// Errors are *stixerr.Error values carrying an operation and a Kind. Use
// errors.Is with the stixerr sentinels, or stixerr.KindOf, to branch on them.
//
// # Observability
//
// Exporter and importer emit OpenTelemetry spans and the importer records
// metrics. Both default to no-op providers; pass real ones with WithTracer
// and WithMeterProvider.
package stixgraph
