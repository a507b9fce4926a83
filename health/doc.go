// Package health provides health checks for the stores and services a
// stixgraph deployment depends on.
//
// # Health Check Functions
//
//   - PingCheck: Verify a dependency answers a ping (SQLite, Redis)
//   - StoreCheck: Verify a graph store is reachable
//   - FileCheck: Verify a file or directory exists
//   - Combine: Aggregate multiple checks into a single status
//
// # Usage Example
//
//	status := health.Combine(
//	    health.StoreCheck(ctx, store),
//	    health.Degrade(health.PingCheck(ctx, "redis", queueClient)),
//	)
//	if status.IsUnhealthy() {
//	    log.Fatal(status.Message)
//	}
//
// # Status Semantics
//
//   - Healthy: the dependency is fully operational
//   - Degraded: operational with reduced capability (e.g. no queue, direct
//     imports still work)
//   - Unhealthy: not operational
package health
