// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package driver

import (
	"context"
	"sync/atomic"

	"github.com/orcadb/godriver/address"
	"github.com/orcadb/godriver/description"
	"github.com/orcadb/godriver/internal/csot"
)

// RetryMode controls whether an operation may be retried.
type RetryMode uint8

// The available retry modes.
const (
	RetryNone RetryMode = iota
	RetryOncePerCommand
)

// OperationContext is the per-logical-operation scratch value: a unique id,
// a deprioritization set of failed server addresses (meaningful only when
// the deployment is Sharded), and a borrowed reference to the caller's
// TimeoutContext. It is intentionally a small, value-typed, short-lived
// object distinct from the immutable topology — deprioritization is
// operation-local and short-lived, so it belongs here rather than on any
// shared state.
type OperationContext struct {
	ID      int64
	Timeout *csot.Context

	deprioritized map[address.Address]struct{}
}

var nextOperationID int64

// NewOperationContext returns a fresh OperationContext borrowing timeout.
func NewOperationContext(timeout *csot.Context) *OperationContext {
	return &OperationContext{
		ID:      atomic.AddInt64(&nextOperationID, 1),
		Timeout: timeout,
	}
}

// Deprioritize records addr as having just failed this operation. This is
// only meaningful for Sharded deployments; the selector's filter
// (DeprioritizationSelector) is a no-op for any other topology kind, so
// callers may call this unconditionally.
func (oc *OperationContext) Deprioritize(addr address.Address) {
	if oc.deprioritized == nil {
		oc.deprioritized = make(map[address.Address]struct{}, 1)
	}
	oc.deprioritized[addr] = struct{}{}
}

// IsDeprioritized reports whether addr failed earlier in this operation.
func (oc *OperationContext) IsDeprioritized(addr address.Address) bool {
	if len(oc.deprioritized) == 0 {
		return false
	}
	_, ok := oc.deprioritized[addr]
	return ok
}

// DeprioritizationSelector wraps sel so that, when deployment is Sharded and
// the deprioritized set is non-empty after the wrapped selector's filtering,
// candidates are narrowed to the complement of the deprioritized set. If
// that would leave no candidates, deprioritization is ignored for this
// attempt.
func (oc *OperationContext) DeprioritizationSelector(sel description.ServerSelector) description.ServerSelector {
	return description.ServerSelectorFunc(func(t description.Topology, candidates []description.Server) ([]description.Server, error) {
		candidates, err := sel.SelectServer(t, candidates)
		if err != nil {
			return nil, err
		}
		if t.Kind != description.Sharded || len(oc.deprioritized) == 0 {
			return candidates, nil
		}
		var preferred []description.Server
		for _, c := range candidates {
			if !oc.IsDeprioritized(c.Addr) {
				preferred = append(preferred, c)
			}
		}
		if len(preferred) == 0 {
			return candidates, nil
		}
		return preferred, nil
	})
}

// Retryer drives the at-most-once retry policy: the retry driver issues at
// most two protocol-level attempts per logical operation. Execute calls
// attempt once per try; attempt is responsible for selecting a server,
// doing the actual I/O and returning an error classified by IsRetryable. Deprioritization between attempts is handled by the caller's
// OperationContext/DeprioritizationSelector (it already knows the
// deployment kind from the topology snapshot each selection attempt reads),
// so Retryer itself carries no deployment-kind field.
type Retryer struct {
	Mode RetryMode
}

// Execute runs attempt, retrying exactly once if Mode is RetryOncePerCommand
// and the first attempt's error is retryable. Before the retry, failedAddr
// is called with that error; an address it reports is recorded with
// oc.Deprioritize, so a DeprioritizationSelector-wrapped selector can route
// around it.
func (r Retryer) Execute(ctx context.Context, oc *OperationContext, failedAddr func(error) (address.Address, bool), attempt func(ctx context.Context, isRetry bool) error) error {
	err := attempt(ctx, false)
	if err == nil {
		return nil
	}
	if r.Mode != RetryOncePerCommand || !IsRetryable(err) {
		return err
	}

	if addr, ok := failedAddr(err); ok {
		oc.Deprioritize(addr)
	}

	return attempt(ctx, true)
}
