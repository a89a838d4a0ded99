// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package topology implements the topology monitor, server selector,
// connection pool, and handshake driver: the core client-side engine that
// discovers deployment members, tracks their reachability and role, and
// hands out ready-to-use connections to the server a selector picked.
package topology

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/orcadb/godriver/address"
	"github.com/orcadb/godriver/description"
	"github.com/orcadb/godriver/event"
	"github.com/orcadb/godriver/internal/logctx"
	"github.com/orcadb/godriver/internal/randutil"
	"github.com/orcadb/godriver/x/driver"
)

var errServerSelectionTimeout = fmt.Errorf("%w: no server available matched the read preference within the selection timeout", driver.ErrServerSelectionTimeout)

// ErrTopologyClosed is returned by Topology methods called after Disconnect.
var ErrTopologyClosed = errors.New("topology is closed")

type topologySubscription struct {
	id      uint64
	updates chan description.Topology
}

// Topology is the deployment-wide discovery and selection engine: it owns
// one server per known address, folds their description updates through the
// fsm to produce the next deployment-wide description, and blocks
// SelectServer callers on a subscription until a matching server appears.
type Topology struct {
	id  uuid.UUID
	cfg Config
	fsm *fsm
	rnd *randutil.LockedRand

	mu      sync.RWMutex
	desc    description.Topology
	servers map[address.Address]*server

	subMu       sync.Mutex
	subscribers map[uint64]chan description.Topology
	nextSubID   uint64

	connected bool
}

// New builds a Topology from cfg, wiring a server per seed-list address, but
// does not begin monitoring until Connect is called.
func New(opts ...Option) (*Topology, error) {
	cfg := NewConfig(opts...)
	if len(cfg.SeedList) == 0 {
		return nil, fmt.Errorf("topology: at least one seed address is required")
	}

	kind := description.ReplicaSetNoPrimary
	if cfg.Mode == SingleMode {
		kind = description.Single
	}
	if cfg.LoadBalanced {
		kind = description.LoadBalanced
	}

	t := &Topology{
		id:  uuid.New(),
		cfg: cfg,
		fsm: newFSM(cfg.ReplicaSetName),
		rnd: randutil.NewLockedRand(rand.NewSource(time.Now().UnixNano())),
		desc: description.Topology{
			Kind:           kind,
			Servers:        make(map[address.Address]description.Server),
			HeartbeatInterval: cfg.ServerConfig.HeartbeatInterval,
			LocalThreshold: cfg.LocalThreshold,
		},
		servers:     make(map[address.Address]*server),
		subscribers: make(map[uint64]chan description.Topology),
	}

	for _, host := range cfg.SeedList {
		addr := address.Address(host)
		srv, err := newServer(addr, cfg.ServerConfig, t.apply)
		if err != nil {
			return nil, err
		}
		t.servers[addr] = srv
		t.desc.Servers[addr] = description.NewDefaultServer(addr)
	}
	t.desc = t.desc.WithCompatibility()

	return t, nil
}

// Connect starts monitoring every known server.
func (t *Topology) Connect() error {
	t.mu.Lock()
	if t.connected {
		t.mu.Unlock()
		return nil
	}
	t.connected = true
	servers := make([]*server, 0, len(t.servers))
	for _, s := range t.servers {
		servers = append(servers, s)
	}
	t.mu.Unlock()

	t.publishTopologyOpening()
	for _, s := range servers {
		t.publishServerOpening(s.addr)
		s.connect()
	}
	return nil
}

// Disconnect stops monitoring every server and closes their pools.
func (t *Topology) Disconnect(ctx context.Context) error {
	t.mu.Lock()
	if !t.connected {
		t.mu.Unlock()
		return nil
	}
	t.connected = false
	servers := make([]*server, 0, len(t.servers))
	for _, s := range t.servers {
		servers = append(servers, s)
	}
	t.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range servers {
		wg.Add(1)
		go func(s *server) {
			defer wg.Done()
			s.disconnect(ctx)
			t.publishServerClosed(s.addr)
		}(s)
	}
	wg.Wait()

	t.subMu.Lock()
	for id, c := range t.subscribers {
		close(c)
		delete(t.subscribers, id)
	}
	t.subMu.Unlock()

	t.publishTopologyClosed()
	return nil
}

// Description returns the current deployment-wide description.
func (t *Topology) Description() description.Topology {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.desc
}

// apply is the onDescriptionChanged callback handed to every server: it
// folds desc through the fsm and stores the result; if the result differs
// from the previous description, it also publishes the change events, fans
// it out to subscribers, and reconciles the
// set of monitored servers against the fsm's newly discovered or pruned
// membership (spec.md §1 item 1, §4.C).
func (t *Topology) apply(desc description.Server) {
	t.mu.Lock()
	prev := t.desc
	next := t.fsm.apply(prev, desc)
	changed := !prev.Equal(next)

	var toStart, toStop []*server
	t.desc = next
	if changed {
		for addr := range next.Servers {
			if _, tracked := t.servers[addr]; !tracked {
				srv, err := newServer(addr, t.cfg.ServerConfig, t.apply)
				if err != nil {
					logctx.Errorf("topology %s: building monitor for newly discovered server %s: %v", t.id, addr, err)
					continue
				}
				t.servers[addr] = srv
				toStart = append(toStart, srv)
			}
		}
		for addr, srv := range t.servers {
			if _, stillMember := next.Servers[addr]; !stillMember {
				delete(t.servers, addr)
				toStop = append(toStop, srv)
			}
		}
	}
	connected := t.connected
	t.mu.Unlock()

	if changed {
		if old, cur := prev.Servers[desc.Addr], next.Servers[desc.Addr]; !old.Equal(cur) && t.cfg.ServerMonitor != nil && t.cfg.ServerMonitor.ServerDescriptionChanged != nil {
			t.cfg.ServerMonitor.ServerDescriptionChanged(&event.ServerDescriptionChangedEvent{Address: desc.Addr, TopologyID: t.id, PreviousDescription: old, NewDescription: cur})
		}
		t.publishDescriptionChanged(prev, next)
		t.broadcast(next)
	}

	if connected {
		for _, srv := range toStart {
			t.publishServerOpening(srv.addr)
			srv.connect()
		}
	}
	for _, srv := range toStop {
		go func(srv *server) {
			srv.disconnect(context.Background())
			t.publishServerClosed(srv.addr)
		}(srv)
	}
}

func (t *Topology) broadcast(desc description.Topology) {
	t.subMu.Lock()
	defer t.subMu.Unlock()
	for _, c := range t.subscribers {
		select {
		case <-c:
		default:
		}
		c <- desc
	}
}

// subscribe returns a channel pre-populated with the current description.
func (t *Topology) subscribe() (*topologySubscription, func(), error) {
	t.mu.RLock()
	if !t.connected {
		t.mu.RUnlock()
		return nil, nil, ErrTopologyClosed
	}
	current := t.desc
	t.mu.RUnlock()

	ch := make(chan description.Topology, 1)
	ch <- current

	t.subMu.Lock()
	id := t.nextSubID
	t.nextSubID++
	t.subscribers[id] = ch
	t.subMu.Unlock()

	cancel := func() {
		t.subMu.Lock()
		delete(t.subscribers, id)
		t.subMu.Unlock()
	}
	return &topologySubscription{id: id, updates: ch}, cancel, nil
}

// SelectServer blocks until a server matching sel is found, ctx is done, or
// the configured ServerSelectionTimeout elapses, whichever comes first.
func (t *Topology) SelectServer(ctx context.Context, sel description.ServerSelector) (driver.Server, error) {
	if t.cfg.ServerSelectionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.cfg.ServerSelectionTimeout)
		defer cancel()
	}

	desc, err := t.selectionLoop(ctx, sel)
	if err != nil {
		var incompatible *incompatibleError
		if errors.As(err, &incompatible) {
			return nil, &driver.IncompatibleDeploymentError{Reason: incompatible.Error()}
		}
		return nil, &driver.ServerSelectionError{Wrapped: err, Desc: t.Description()}
	}

	srv, err := t.FindServer(desc)
	if err != nil {
		return nil, err
	}
	return srv, nil
}

// FindServer looks up the live *server backing a description.Server.
func (t *Topology) FindServer(desc description.Server) (driver.Server, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.servers[desc.Addr]
	if !ok {
		return nil, fmt.Errorf("topology: no server known at %s", desc.Addr)
	}
	return s, nil
}

// inFlightCount feeds the selector's power-of-two-choices tie-break
// (spec.md §4.G step 7): the number of connections a candidate's pool
// currently has checked out, lower being preferred.
func (t *Topology) inFlightCount(desc description.Server) int {
	t.mu.RLock()
	s, ok := t.servers[desc.Addr]
	t.mu.RUnlock()
	if !ok {
		return 0
	}
	return s.pool.inFlight()
}

func (t *Topology) publishTopologyOpening() {
	if t.cfg.ServerMonitor == nil || t.cfg.ServerMonitor.TopologyOpening == nil {
		return
	}
	t.cfg.ServerMonitor.TopologyOpening(&event.TopologyOpeningEvent{TopologyID: t.id})
}

func (t *Topology) publishTopologyClosed() {
	if t.cfg.ServerMonitor == nil || t.cfg.ServerMonitor.TopologyClosed == nil {
		return
	}
	t.cfg.ServerMonitor.TopologyClosed(&event.TopologyClosedEvent{TopologyID: t.id})
}

func (t *Topology) publishDescriptionChanged(prev, next description.Topology) {
	logctx.Debugf("topology %s changed: %s -> %s", t.id, prev.Kind, next.Kind)
	if t.cfg.ServerMonitor == nil || t.cfg.ServerMonitor.TopologyDescriptionChanged == nil {
		return
	}
	t.cfg.ServerMonitor.TopologyDescriptionChanged(&event.TopologyDescriptionChangedEvent{
		TopologyID:          t.id,
		PreviousDescription: prev,
		NewDescription:       next,
	})
}

func (t *Topology) publishServerOpening(addr address.Address) {
	if t.cfg.ServerMonitor == nil || t.cfg.ServerMonitor.ServerOpening == nil {
		return
	}
	t.cfg.ServerMonitor.ServerOpening(&event.ServerOpeningEvent{Address: addr, TopologyID: t.id})
}

func (t *Topology) publishServerClosed(addr address.Address) {
	if t.cfg.ServerMonitor == nil || t.cfg.ServerMonitor.ServerClosed == nil {
		return
	}
	t.cfg.ServerMonitor.ServerClosed(&event.ServerClosedEvent{Address: addr, TopologyID: t.id})
}
