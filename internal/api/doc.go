// Package api binds the task gateway to HTTP. It parses uploads and start
// requests, validates them, calls the task service and maps its errors to
// status codes and safe client messages. Artifacts are served straight from
// the artifact directories.
package api
