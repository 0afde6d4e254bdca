// Package events carries task lifecycle notifications between components.
//
// The executor and the task service emit a TaskEvent for every committed
// status transition; handlers such as Stats observe them without the
// emitters knowing who listens.
package events
