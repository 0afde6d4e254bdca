// Package domain contains the core entities of the task orchestration core:
// the Task record, its lifecycle statuses and the rules that govern status
// transitions. It is independent of any storage or delivery mechanism.
package domain
