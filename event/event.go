// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package event defines the listener interfaces a host application can
// supply to observe topology, server, pool, connection, and command
// lifecycle activity. Topology and server events carry the TopologyID of
// their deployment; heartbeat, pool and command events carry no deployment
// id. Command events carry a RequestID correlation id (see NextRequestID).
package event

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/orcadb/godriver/address"
)

// nextRequestID backs NextRequestID: a process-wide monotonically increasing
// correlation id, used to pair command-started events with their matching
// succeeded/failed event.
var nextRequestID = newCounter()

// NextRequestID returns the next monotonically increasing command
// correlation id.
func NextRequestID() int64 { return nextRequestID() }

func newCounter() func() int64 {
	var n int64
	return func() int64 {
		return atomic.AddInt64(&n, 1)
	}
}

// TopologyOpeningEvent fires once, when a Topology begins monitoring.
type TopologyOpeningEvent struct {
	TopologyID uuid.UUID
}

// TopologyClosedEvent fires once, when a Topology stops monitoring.
type TopologyClosedEvent struct {
	TopologyID uuid.UUID
}

// TopologyDescriptionChangedEvent fires whenever apply() produces a
// TopologyDescription that is not Equal to the previous one (spec.md §4.C).
type TopologyDescriptionChangedEvent struct {
	TopologyID          uuid.UUID
	PreviousDescription interface{}
	NewDescription      interface{}
}

// ServerOpeningEvent fires when the topology begins monitoring a server.
type ServerOpeningEvent struct {
	Address    address.Address
	TopologyID uuid.UUID
}

// ServerClosedEvent fires when the topology stops monitoring a server.
type ServerClosedEvent struct {
	Address    address.Address
	TopologyID uuid.UUID
}

// ServerDescriptionChangedEvent fires whenever a server's description
// changes in a way that is not RTT/timestamp-only (spec.md §4.B).
type ServerDescriptionChangedEvent struct {
	Address             address.Address
	TopologyID          uuid.UUID
	PreviousDescription interface{}
	NewDescription      interface{}
}

// HeartbeatStartedEvent fires immediately before a monitor issues a health
// check.
type HeartbeatStartedEvent struct {
	Address   address.Address
	Awaited   bool
	ConnID    int64
}

// HeartbeatSucceededEvent fires after a health check succeeds.
type HeartbeatSucceededEvent struct {
	Duration time.Duration
	Address  address.Address
	Awaited  bool
	ConnID   int64
}

// HeartbeatFailedEvent fires after a health check fails.
type HeartbeatFailedEvent struct {
	Duration time.Duration
	Address  address.Address
	Failure  error
	Awaited  bool
	ConnID   int64
}

// ServerMonitor groups the server-monitoring callbacks a host may supply.
// Any field left nil is simply not invoked.
type ServerMonitor struct {
	ServerDescriptionChanged func(*ServerDescriptionChangedEvent)
	ServerOpening            func(*ServerOpeningEvent)
	ServerClosed             func(*ServerClosedEvent)
	TopologyOpening          func(*TopologyOpeningEvent)
	TopologyClosed           func(*TopologyClosedEvent)
	TopologyDescriptionChanged func(*TopologyDescriptionChangedEvent)
	ServerHeartbeatStarted   func(*HeartbeatStartedEvent)
	ServerHeartbeatSucceeded func(*HeartbeatSucceededEvent)
	ServerHeartbeatFailed    func(*HeartbeatFailedEvent)
}

// PoolEvent is the base shape for connection-pool lifecycle events.
type PoolEvent struct {
	Type       string
	Address    address.Address
	ConnID     int64
	PoolOptions interface{}
	Reason     string
	Error      error
}

// The recognized PoolEvent.Type values.
const (
	PoolCreated             = "PoolCreated"
	PoolReady               = "PoolReady"
	PoolCleared             = "PoolCleared"
	PoolClosedEvent         = "PoolClosed"
	ConnectionCreated       = "ConnectionCreated"
	ConnectionReady         = "ConnectionReady"
	ConnectionClosed        = "ConnectionClosed"
	ConnectionCheckOutStarted  = "ConnectionCheckOutStarted"
	ConnectionCheckedOut    = "ConnectionCheckedOut"
	ConnectionCheckOutFailed  = "ConnectionCheckOutFailed"
	ConnectionCheckedIn    = "ConnectionCheckedIn"
)

// PoolMonitor receives PoolEvent values as they occur.
type PoolMonitor struct {
	Event func(*PoolEvent)
}

// CommandStartedEvent fires when an operation sends a command.
type CommandStartedEvent struct {
	Command      interface{}
	DatabaseName string
	CommandName  string
	RequestID    int64
	ConnectionID string
}

// CommandSucceededEvent fires when an operation's command completes
// successfully.
type CommandSucceededEvent struct {
	Duration     time.Duration
	CommandName  string
	Reply        interface{}
	RequestID    int64
	ConnectionID string
}

// CommandFailedEvent fires when an operation's command fails.
type CommandFailedEvent struct {
	Duration     time.Duration
	CommandName  string
	Failure      error
	RequestID    int64
	ConnectionID string
}

// CommandMonitor groups the command-monitoring callbacks a host may supply.
type CommandMonitor struct {
	Started   func(*CommandStartedEvent)
	Succeeded func(*CommandSucceededEvent)
	Failed    func(*CommandFailedEvent)
}
