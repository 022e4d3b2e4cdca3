// Package store holds the item list state and publishes it to observers.
//
// This package is internal to itemstore and owns the data model and the
// state transitions. It implements a publish-subscribe pattern so that
// every change is pushed to connected observers (SSE and WebSocket clients,
// SDK subscribers).
//
// The main components are:
//
//   - [Item], [State], [Event]: the data model
//   - [Reduce]: pure state transition function over [Action] values
//   - [Store]: Interface defining state access and subscription operations
//   - [MemoryStore]: In-memory implementation of Store with pub/sub
//
// The store is designed for concurrent access with proper synchronization.
// Subscribers receive snapshots via channels with non-blocking sends (slow
// subscribers will miss snapshots rather than block the system).
//
// Users of the itemstore library should not need to interact with this
// package directly. The root package re-exports the data model.
package store
