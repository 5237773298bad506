// Package dispatch implements the dispatch queue: a single-consumer,
// multi-producer queue bound to one service.
//
// Producers call Enqueue concurrently. Calls accumulate in a pending batch
// that is handed to the consumer goroutine when one of three triggers fires:
//   - the batch reaches Config.BatchSize
//   - Config.FlushInterval elapses with no new calls
//   - FlushSends is called explicitly
//
// The consumer is the only goroutine that ever executes the bound service,
// so calls to one service run strictly in enqueue order and never
// concurrently with each other.
//
// Backpressure:
//   - Handed-off batches wait in a bounded buffer (Config.Capacity batches)
//   - Enqueue never blocks; when a full batch cannot be handed off it fails
//     with message.ErrQueueFull
//   - After Stop, Enqueue fails with message.ErrQueueClosed
//
// Error handling:
//   - An error or panic from one call becomes an error Response when a reply
//     is expected, otherwise it is logged and dropped
//   - Failures never stop the consumer or skip the rest of the batch
//
// Batch-boundary hooks:
//   - OnLimit runs after a batch that reached BatchSize
//   - OnEmpty runs whenever the queue drains to empty
//
// Both hooks run on the consumer goroutine, so a service can flush its own
// outbound event channels from them without extra locking.
package dispatch
