// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package mongo is a thin user-facing facade over the driver core: it shows
// how a caller wires a connection string into a topology, builds a read
// preference into a selector, and runs a logical operation through the
// retry driver. The document codec, aggregation pipeline builder, GridFS,
// and CRUD verbs themselves are out of scope (spec.md §1) and are not
// implemented here; Ping is the one operation kept, because it is the
// smallest possible exercise of server selection, checkout, and retry.
package mongo

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/orcadb/godriver/address"
	"github.com/orcadb/godriver/description"
	"github.com/orcadb/godriver/event"
	"github.com/orcadb/godriver/internal/connstring"
	"github.com/orcadb/godriver/internal/csot"
	"github.com/orcadb/godriver/readpref"
	"github.com/orcadb/godriver/x/driver"
	"github.com/orcadb/godriver/x/driver/auth"
	"github.com/orcadb/godriver/x/driver/topology"
)

// Client is a handle to one deployment: a parsed connection string, its
// topology monitor, and the caller-level defaults (read preference, retry
// policy, operation timeout) every operation inherits unless overridden.
//
// A Client is safe for concurrent use by multiple goroutines: every method
// below either reads immutable fields set at construction or delegates to
// the topology, which owns its own locking.
type Client struct {
	id  uuid.UUID
	cs  *connstring.ConnString
	top *topology.Topology

	readPreference *readpref.ReadPref
	retryReads     bool
	retryWrites    bool
	timeout        time.Duration
}

// config accumulates the Options applied before the topology is built, so
// a caller-supplied event listener or authenticator can still override what
// the connection string would otherwise derive.
type config struct {
	cs             *connstring.ConnString
	readPreference *readpref.ReadPref
	serverMonitor  *event.ServerMonitor
	authenticator  auth.Authenticator
}

// Option customizes a Client beyond what the connection string encodes.
type Option func(*config)

// WithServerMonitor installs the host's SDAM event listener.
func WithServerMonitor(m *event.ServerMonitor) Option {
	return func(cfg *config) { cfg.serverMonitor = m }
}

// WithAuthenticator overrides the handshake authenticator that would
// otherwise be derived from the connection string's authMechanism,
// authSource, and credentials.
func WithAuthenticator(a auth.Authenticator) Option {
	return func(cfg *config) { cfg.authenticator = a }
}

// WithReadPreference overrides the connection string's (or default primary)
// read preference.
func WithReadPreference(rp *readpref.ReadPref) Option {
	return func(cfg *config) { cfg.readPreference = rp }
}

// Connect parses uri, builds a Client, and starts its topology monitor. It
// mirrors the teacher's Connect/NewClient split collapsed into one call,
// since this facade has no options struct worth separating construction
// from connection for.
func Connect(ctx context.Context, uri string, opts ...Option) (*Client, error) {
	cs, err := connstring.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("mongo: %w", err)
	}

	rp, err := cs.ReadPref()
	if err != nil {
		return nil, fmt.Errorf("mongo: %w", err)
	}
	cfg := &config{cs: cs, readPreference: rp}
	for _, o := range opts {
		o(cfg)
	}

	if cfg.authenticator == nil && (cs.AuthMechanism != "" || cs.Username != "") {
		props := make(map[string]interface{}, len(cs.AuthMechanismProperties))
		for k, v := range cs.AuthMechanismProperties {
			props[k] = v
		}
		a, err := auth.NewAuthenticator(auth.Cred{
			Source:              cs.AuthSource,
			Username:            cs.Username,
			Password:            cs.Password,
			Mechanism:           cs.AuthMechanism,
			MechanismProperties: props,
		})
		if err != nil {
			return nil, fmt.Errorf("mongo: building authenticator for %q: %w", cs.AuthMechanism, err)
		}
		cfg.authenticator = a
	}

	top, err := topology.New(topologyOptions(cfg)...)
	if err != nil {
		return nil, fmt.Errorf("mongo: building topology: %w", err)
	}

	c := &Client{
		id:             uuid.New(),
		cs:             cs,
		top:            top,
		readPreference: cfg.readPreference,
		retryReads:     cs.RetryReads,
		retryWrites:    cs.RetryWrites,
		timeout:        cs.Timeout,
	}

	if err := c.top.Connect(); err != nil {
		return nil, fmt.Errorf("mongo: connecting topology: %w", err)
	}
	return c, nil
}

func topologyOptions(cfg *config) []topology.Option {
	cs := cfg.cs
	opts := []topology.Option{
		topology.WithSeedList(cs.Hosts...),
		topology.WithReplicaSetName(cs.ReplicaSet),
		topology.WithLoadBalanced(cs.LoadBalanced),
		topology.WithAppName(cs.AppName),
	}
	if cs.DirectConnection {
		opts = append(opts, topology.WithMode(topology.SingleMode))
	}
	if cs.ServerSelectionTimeout > 0 {
		opts = append(opts, topology.WithServerSelectionTimeout(cs.ServerSelectionTimeout))
	}
	if cs.LocalThreshold > 0 {
		opts = append(opts, topology.WithLocalThreshold(cs.LocalThreshold))
	}
	if cs.HeartbeatInterval > 0 {
		opts = append(opts, topology.WithHeartbeatInterval(cs.HeartbeatInterval))
	}
	if cs.ConnectTimeout > 0 {
		opts = append(opts, topology.WithConnectTimeout(cs.ConnectTimeout))
	}
	if cs.SocketTimeout > 0 {
		opts = append(opts, topology.WithSocketTimeout(cs.SocketTimeout))
	}
	if cs.MaxPoolSize > 0 {
		opts = append(opts, topology.WithMaxPoolSize(cs.MaxPoolSize))
	}
	if cs.MinPoolSize > 0 {
		opts = append(opts, topology.WithMinPoolSize(cs.MinPoolSize))
	}
	if cs.MaxIdleTime > 0 {
		opts = append(opts, topology.WithMaxIdleTime(cs.MaxIdleTime))
	}
	if cs.MaxConnecting > 0 {
		opts = append(opts, topology.WithMaxConnecting(cs.MaxConnecting))
	}
	if cs.WaitQueueTimeout > 0 {
		opts = append(opts, topology.WithWaitQueueTimeout(cs.WaitQueueTimeout))
	}
	if len(cs.Compressors) > 0 {
		opts = append(opts, topology.WithCompressors(cs.Compressors...))
	}
	if cfg.serverMonitor != nil {
		opts = append(opts, topology.WithServerMonitor(cfg.serverMonitor))
	}
	if cfg.authenticator != nil {
		opts = append(opts, topology.WithAuthenticator(cfg.authenticator))
	}
	return opts
}

// Disconnect stops the topology's monitors and closes every pool.
func (c *Client) Disconnect(ctx context.Context) error {
	return c.top.Disconnect(ctx)
}

// Ping selects a server consistent with rp (or the client's default read
// preference) and checks out a connection from it: the smallest possible
// operation that exercises selection, pooling, and the handshake end to
// end. A real driver would issue a "ping" command over the checked-out
// connection; that final wire round trip is the one piece this facade
// leaves to the out-of-scope command layer (spec.md §1).
func (c *Client) Ping(ctx context.Context, rp *readpref.ReadPref) error {
	if rp == nil {
		rp = c.readPreference
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	timeout := csot.WithTimeout(c.timeout)
	oc := driver.NewOperationContext(timeout)

	topDesc := c.top.Description()
	sel := description.CompositeSelector([]description.ServerSelector{
		description.ReadPrefSelector(rp.Mode().String(), rp.TagSets(), rp.MaxStaleness(), topDesc.HeartbeatInterval),
		description.LatencySelector(topDesc.LocalThreshold),
	})
	sel = oc.DeprioritizationSelector(sel)

	retryer := driver.Retryer{Mode: driver.RetryNone}
	if c.retryReads {
		retryer.Mode = driver.RetryOncePerCommand
	}

	var lastAddr address.Address
	return retryer.Execute(ctx, oc,
		func(err error) (address.Address, bool) {
			return lastAddr, driver.IsRetryable(err) && lastAddr != ""
		},
		func(ctx context.Context, isRetry bool) error {
			srv, err := c.top.SelectServer(ctx, sel)
			if err != nil {
				return err
			}
			lastAddr = srv.Description().Addr

			conn, err := srv.Connection(ctx)
			if err != nil {
				srv.ProcessError(err, nil)
				return err
			}
			defer func() { _ = conn.CloseWithError(nil) }()
			return nil
		})
}

// ID returns the random id Connect generated for this client. Events raised
// by its topology carry the topology's own id (TopologyID), which is
// generated separately and differs from this one.
func (c *Client) ID() uuid.UUID { return c.id }
