// Package queue provides the job dispatcher that runs store operations.
//
// This package is internal to itemstore and serializes the asynchronous
// operations of the item store onto a worker pool. With the default single
// worker, every operation runs to completion before the next one starts.
//
// The main components are:
//
//   - [Dispatcher]: Worker pool with Start/Stop lifecycle and panic recovery
//   - [Job]: A unit of work submitted to the dispatcher
//   - [Outcome]: Result of a finished job
//
// Users of the itemstore library should not need to interact with this
// package directly. Concurrency is configured through the root package.
package queue
