// Package engine runs the bot core: it pulls items from the submission and
// comment streams, dispatches each one to every registered handler and fires
// deferred updates on a schedule.
//
// Three goroutine groups live for the lifetime of an Engine: one Ingestor per
// stream and the Scheduler. An Ingestor splits into a puller, which moves
// items from Stream.Next into an unbounded FIFO, and a dispatcher, which
// drains that FIFO one item at a time. Dispatch of one item across handlers is
// sequential and in registration order.
//
// Handler faults never escape a dispatch or a tick. Errors and panics are
// classified (absorbable, permission, transient, other), logged as
// DispatchError values and counted. Transient failures are retried under a
// RetryPolicy first.
//
// The Scheduler holds its mutex for the whole of a tick. Ingestion never takes
// it, so a long tick delays only the next tick.
package engine
