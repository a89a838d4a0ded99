// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package driver

import (
	"errors"
	"fmt"

	"github.com/orcadb/godriver/description"
)

// The sentinel error kinds named in spec.md §7. They are deliberately plain
// values/types, matching the teacher's own style of exported errors
// (topology.go: ErrServerClosed, ErrTopologyClosed, ...) rather than a
// hand-rolled error-code enum.
var (
	// ErrServerSelectionTimeout is wrapped by ServerSelectionError; kept as
	// a distinct sentinel so callers can errors.Is against it without
	// depending on ServerSelectionError's shape.
	ErrServerSelectionTimeout = errors.New("server selection timeout")

	// ErrPoolCleared indicates the connection pool was cleared while a
	// checkout was in flight or queued. Retryable (spec.md §7).
	ErrPoolCleared = errors.New("connection pool was cleared")

	// ErrPoolClosed indicates an acquire was attempted on (or outlived) a
	// closed pool. Not retryable.
	ErrPoolClosed = errors.New("connection pool is closed")

	// ErrWaitQueueTimeout indicates an acquire's deadline expired while
	// queued for a connection.
	ErrWaitQueueTimeout = errors.New("timed out while checking out a connection")

	// ErrAuthenticationFailure indicates a handshake authentication step
	// failed. Not retried on the same server without a topology change.
	ErrAuthenticationFailure = errors.New("authentication failed")
)

// ServerSelectionError is the specialization of Timeout the selector raises
// with a snapshot of the topology description attached (spec.md §7).
type ServerSelectionError struct {
	Wrapped error
	Desc    description.Topology
}

func (e ServerSelectionError) Error() string {
	return fmt.Sprintf("server selection error: %s, current topology: %s", e.Wrapped, e.Desc)
}

func (e ServerSelectionError) Unwrap() error { return e.Wrapped }

// IncompatibleDeploymentError is returned when the topology contains a
// server whose wire-version range does not overlap the driver's.
type IncompatibleDeploymentError struct {
	Reason string
}

func (e *IncompatibleDeploymentError) Error() string {
	return fmt.Sprintf("incompatible deployment: %s", e.Reason)
}

// NetworkError wraps a socket-level read/write failure. Retryable exactly
// once per operation (spec.md §7).
type NetworkError struct {
	Wrapped error
}

func (e NetworkError) Error() string { return fmt.Sprintf("network error: %s", e.Wrapped) }
func (e NetworkError) Unwrap() error { return e.Wrapped }

// NotWritablePrimaryError signals a role-change protocol error class:
// the targeted server is no longer (or never was) primary.
type NotWritablePrimaryError struct {
	Addr string
}

func (e *NotWritablePrimaryError) Error() string {
	return fmt.Sprintf("server %s is not writable primary", e.Addr)
}

// NodeRecoveringError signals the targeted server is in recovery and
// temporarily cannot serve the operation.
type NodeRecoveringError struct {
	Addr string
}

func (e *NodeRecoveringError) Error() string {
	return fmt.Sprintf("server %s is recovering", e.Addr)
}

// IsRetryable classifies err as one of the "retryable" kinds named in
// spec.md §7: PoolCleared, NetworkError, NotWritablePrimaryError, and
// NodeRecoveringError. Timeout-family errors are never retryable: they
// already represent the operation having used its entire budget.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrPoolCleared) {
		return true
	}
	var netErr NetworkError
	if errors.As(err, &netErr) {
		return true
	}
	var notPrimary *NotWritablePrimaryError
	if errors.As(err, &notPrimary) {
		return true
	}
	var recovering *NodeRecoveringError
	if errors.As(err, &recovering) {
		return true
	}
	return false
}
