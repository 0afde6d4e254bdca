// Package memory provides process-local implementations of the task store and
// the queue broker. They back tests and single-process deployments, and the
// task store doubles as the fallback used while the shared store is down.
package memory
