// Package service implements the request gateway use cases: creating tasks
// from uploads, starting them, polling their progress and reporting health.
//
// TaskService is the only writer on the request path. Status changes go
// through store.Transition, so a task is pushed to its queue at most once,
// and a poll that finds a queued task hands it to the Dispatcher, which
// runs the same claim-and-execute path as the worker pool. That keeps
// tasks moving even when no worker process is running.
package service
