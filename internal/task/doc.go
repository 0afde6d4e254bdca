// Package task runs queued image work.
//
// A Handler performs the transformation for one task type. The Executor is
// the single claim-and-execute path: it wins the queued to processing
// compare-and-swap, runs the handler under a deadline and records the
// outcome. The WorkerPool drains the broker queues and feeds task IDs to
// the Executor; the gateway's poll fallback calls the same Executor.
package task
