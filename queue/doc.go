// Package queue provides a Redis-backed job queue for bundle imports.
//
// Producers push Jobs holding a serialized STIX bundle, import workers pop
// them, and each worker publishes a JobResult on a pub/sub channel when the
// import finishes.
//
// # Redis Key Schema
//
//   - <queue> - List of pending jobs (LPUSH/BRPOP)
//   - <queue>:workers - Integer counter of running worker processes
//   - <queue>:health:<worker_id> - String with a 30s TTL refreshed by heartbeats
//   - <results_channel> - Pub/Sub channel carrying JobResults
//
// # Usage
//
// Creating a queue client:
//
//	client, err := queue.NewRedisClient(queue.RedisOptions{
//		URL: "redis://localhost:6379",
//	})
//
// Submitting a bundle:
//
//	job, err := queue.NewJob(bundleJSON, false)
//	err = client.Push(ctx, "stixgraph:import", job)
//
// Waiting for results:
//
//	results, err := client.Subscribe(ctx, "stixgraph:results")
//	for result := range results {
//		fmt.Printf("%s: %s (%d created)\n", result.JobID, result.Status, result.Created)
//	}
//
// RedisClient is safe for concurrent use by multiple goroutines.
package queue
