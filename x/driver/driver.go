// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package driver defines the abstract interfaces the topology, selector,
// and retry components are built against: Deployment (something that can be
// asked for a server), Server (something that can hand out a connection),
// and Connection (a single checked-out transport-level connection). Keeping
// these as interfaces, rather than concrete topology.* types, is what lets
// the retry driver (component H) reselect a server without knowing whether
// it is talking to a real topology or a single-connection test double.
package driver

import (
	"context"

	"github.com/orcadb/godriver/description"
)

// Connection is a single, checked-out, handshake-completed transport-level
// connection.
type Connection interface {
	// Description returns the server description in effect when this
	// connection was handshaked.
	Description() description.Server
	// Close releases this connection back to its owning pool (or discards
	// it, if it is no longer usable). Equivalent to CloseWithError(nil).
	Close() error
	// CloseWithError implements release(conn, outcome) (spec.md §4.E): a
	// non-nil err marks the connection as failed, forcing the pool to
	// discard it outright instead of returning it to the idle list.
	CloseWithError(err error) error
	// ID returns a string uniquely (enough, for logging) identifying this
	// connection: address plus a per-pool sequence number.
	ID() string
	// Stale reports whether this connection's pool generation no longer
	// matches the pool's current generation (spec.md §3: PooledConnection
	// "tagged with the pool generation at which it was created").
	Stale() bool
}

// Server is a single member of a deployment, capable of handing out
// connections from its pool.
type Server interface {
	Connection(ctx context.Context) (Connection, error)
	Description() description.Server
	// ProcessError folds an error observed on an operation connection into
	// this server's description, per spec.md §7: a NetworkError,
	// NotWritablePrimaryError, or NodeRecoveringError marks the server
	// Unknown, requests an immediate recheck, and clears its pool. Any other
	// error (or nil) is a no-op.
	ProcessError(err error, conn Connection)
}

// Subscription is a channel of topology description updates, pre-populated
// with the current description (spec.md §4.C: "a phase signal on which
// selectors are blocked").
type Subscription struct {
	Updates <-chan description.Topology
	ID      uint64
}

// Subscriber is implemented by a Deployment that supports phase-signal-style
// blocking waits for topology changes.
type Subscriber interface {
	Subscribe() (*Subscription, error)
	Unsubscribe(*Subscription) error
}

// Deployment is the caller-facing abstraction the selector (component G)
// consumes: the current topology description, plus the ability to look up
// the concrete Server behind one of its ServerDescription entries.
type Deployment interface {
	Description() description.Topology
	FindServer(description.Server) (Server, error)
}

// Connector is implemented by deployments that need an explicit start.
type Connector interface {
	Connect() error
}

// Disconnector is implemented by deployments that need an explicit,
// graceful shutdown.
type Disconnector interface {
	Disconnect(context.Context) error
}
