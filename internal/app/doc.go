// Package app assembles the runtime components shared by the gateway and
// worker binaries from configuration: task store, queue broker, artifact
// store, processing handlers and the executor.
package app
