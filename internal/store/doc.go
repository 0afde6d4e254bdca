// Package store defines the persistence contract for task records.
// Implementations live under internal/platform (redis, postgres, memory);
// this package only holds the interface, the shared errors and the
// helpers built on top of the interface, such as the status
// compare-and-swap used for every lifecycle transition.
package store
