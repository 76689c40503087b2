// Package binbuilder owns live media graphs.
//
// A graph is reached only through its Handle. Handle.Do runs a function with
// the graph lock held and hands it a Builder, which adds nodes, links ports,
// publishes boundary ports and schedules timed actions. Callbacks coming from
// the media runtime are posted to the shared event loop and re-enter the
// graph through the handle, so every mutation is serialized by the same lock.
//
// ConstructionError, NotFoundError and LinkError are fatal: when one escapes
// Handle.Do the graph is torn down before the lock is released.
package binbuilder
