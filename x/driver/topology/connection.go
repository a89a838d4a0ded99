// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package topology

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/orcadb/godriver/address"
	"github.com/orcadb/godriver/description"
)

// rawConnection is a single dialed, not-yet-pooled transport connection. It
// is wrapped by pooledConnection once a handshake succeeds, per spec.md §3:
// "PooledConnection: a rawConnection plus pool bookkeeping (generation,
// last-checked-out time)."
type rawConnection struct {
	addr address.Address
	nc   net.Conn

	readTimeout  time.Duration
	writeTimeout time.Duration

	connID int64
}

var nextRawConnID int64

// dial opens a new transport connection to addr, optionally wrapping it in
// TLS, and returns it unhandshaked.
func dial(ctx context.Context, dialer Dialer, addr address.Address, tlsCfg *tls.Config) (*rawConnection, error) {
	nc, err := dialer.DialContext(ctx, "tcp", string(addr))
	if err != nil {
		return nil, fmt.Errorf("topology: dialing %s: %w", addr, err)
	}
	if tlsCfg != nil {
		tlsConn := tls.Client(nc, tlsCfg)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			nc.Close()
			return nil, fmt.Errorf("topology: tls handshake with %s: %w", addr, err)
		}
		nc = tlsConn
	}
	return &rawConnection{
		addr:   addr,
		nc:     nc,
		connID: atomic.AddInt64(&nextRawConnID, 1),
	}, nil
}

// roundTrip writes a single command document and returns its decoded reply.
// The wire codec itself is out of scope (spec.md Non-goals: "the bulk of the
// wire protocol, command construction... are out of scope"); this method is
// the seam a real codec would plug into. This package's tests never reach
// it: they supply a fake Handshaker instead.
func (c *rawConnection) roundTrip(ctx context.Context, dbName string, cmd interface{}) (map[string]interface{}, error) {
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.nc.SetDeadline(deadline)
	}
	return nil, fmt.Errorf("topology: roundTrip requires a wire codec, not wired in this build")
}

func (c *rawConnection) close() error {
	if c.nc == nil {
		return nil
	}
	return c.nc.Close()
}

// pooledConnection is a rawConnection tagged with the pool generation that
// created it (spec.md §3) plus the cached description produced by its
// handshake.
type pooledConnection struct {
	*rawConnection
	generation uint64
	pool       *pool
	desc       description.Server

	checkedInAt time.Time
	perished    bool
}

// Description implements driver.Connection.
func (c *pooledConnection) Description() description.Server { return c.desc }

// ID implements driver.Connection.
func (c *pooledConnection) ID() string {
	return fmt.Sprintf("%s[%d]", c.addr, c.connID)
}

// Stale implements driver.Connection: a connection is stale once the pool's
// generation counter has advanced past the generation it was created under
// (spec.md §4.E: "Clear invalidates all pooled connections of a given
// generation.").
func (c *pooledConnection) Stale() bool {
	return c.pool != nil && c.pool.currentGeneration() != c.generation
}

// Close returns the connection to its pool on a successful outcome, which
// will perish it outright if it is stale or the pool itself is no longer
// Ready. Equivalent to CloseWithError(nil).
func (c *pooledConnection) Close() error {
	return c.CloseWithError(nil)
}

// CloseWithError implements driver.Connection: release(conn, outcome)
// (spec.md §4.E). A non-nil err marks the connection perished so the pool
// discards it outright at check-in, regardless of pool generation, instead
// of returning it to the idle list for reuse.
func (c *pooledConnection) CloseWithError(err error) error {
	if err != nil {
		c.perished = true
	}
	if c.pool == nil {
		return c.rawConnection.close()
	}
	return c.pool.checkIn(c)
}
