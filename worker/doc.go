// Package worker runs bundle imports pulled from a Redis queue.
//
// # Architecture
//
// Workers operate in a producer-consumer pattern:
//   - Producers (stixgraph enqueue, feeds): push queue.Jobs holding a bundle
//   - Workers: pop Jobs, import the bundle, publish a queue.JobResult
//   - Collectors: subscribe to the results channel
//
// # Usage
//
//	imp, _ := importer.New(store)
//	client, _ := queue.NewRedisClient(queue.RedisOptions{URL: "redis://localhost:6379"})
//
//	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
//	defer stop()
//
//	err := worker.Run(ctx, imp, client, worker.Options{
//	    Queue:          "stixgraph:import",
//	    ResultsChannel: "stixgraph:results",
//	    Concurrency:    4,
//	})
//
// # Concurrency
//
// Concurrency goroutines pop from the same queue. Each job runs one import;
// the importer bounds parallel writes within that import on its own.
//
// # Shutdown
//
// Run returns after ctx is cancelled and every goroutine has finished its
// current job, or after ShutdownTimeout, whichever comes first. A job that is
// interrupted by the cancellation still publishes a result with status
// "aborted".
package worker
