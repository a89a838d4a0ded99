// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package topology

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/orcadb/godriver/address"
	"github.com/orcadb/godriver/description"
	"github.com/orcadb/godriver/event"
	"github.com/orcadb/godriver/internal/logctx"
	"github.com/orcadb/godriver/x/driver"
	"golang.org/x/sync/errgroup"
)

// rttAlpha is the smoothing factor for the round-trip-time exponential
// moving average: newAvg = alpha*sample + (1-alpha)*oldAvg.
const rttAlpha = 0.2

// server is a single monitored deployment member: a background heartbeat
// goroutine feeding description updates to subscribers, plus the connection
// pool operations drawn from it.
type server struct {
	addr address.Address
	cfg  ServerConfig

	handshaker Handshaker

	onDescriptionChanged func(description.Server)

	pool *pool

	mu          sync.Mutex
	desc        description.Server
	subscribers map[uint64]chan description.Server
	nextSubID   uint64
	closed      bool

	checkNow chan struct{}
	done     chan struct{}
	wg       sync.WaitGroup
	eg       errgroup.Group
}

// newServer constructs a server in its default Unknown state; it does not
// begin monitoring until Connect is called, mirroring the teacher's
// Server.Connect/Server.update split.
func newServer(addr address.Address, cfg ServerConfig, onDescriptionChanged func(description.Server)) (*server, error) {
	handshaker := cfg.Handshaker
	if handshaker == nil {
		var err error
		handshaker, err = NewHandshaker(cfg)
		if err != nil {
			return nil, err
		}
	}

	s := &server{
		addr:                 addr,
		cfg:                  cfg,
		handshaker:           handshaker,
		onDescriptionChanged: onDescriptionChanged,
		desc:                 description.NewDefaultServer(addr),
		subscribers:          make(map[uint64]chan description.Server),
		checkNow:             make(chan struct{}, 1),
		done:                 make(chan struct{}),
	}
	s.pool = newPool(addr, cfg.Pool, cfg.Dialer, handshaker)
	return s, nil
}

// connect starts the background heartbeat loop and readies the pool. Both
// background goroutines run under s.eg so a panic in either becomes an
// error observable from disconnect, instead of silently killing the
// process.
func (s *server) connect() {
	s.pool.ready()
	s.wg.Add(1)
	s.eg.Go(func() error {
		defer s.wg.Done()
		return s.runSupervised(s.monitorLoop)
	})
	if s.cfg.Pool.MaxIdleTime > 0 {
		s.wg.Add(1)
		s.eg.Go(func() error {
			defer s.wg.Done()
			return s.runSupervised(s.idleEvictionLoop)
		})
	}
}

// runSupervised wraps fn so a panic in a background goroutine is turned
// into an error rather than crashing the process, observable via
// s.eg.Wait() (called from disconnect).
func (s *server) runSupervised(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("topology: %s: panic: %v", s.addr, r)
		}
	}()
	fn()
	return nil
}

// disconnect stops monitoring and closes the pool.
func (s *server) disconnect(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.done)

	doneCh := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(doneCh)
	}()
	select {
	case <-doneCh:
		if err := s.eg.Wait(); err != nil {
			logctx.Errorf("server %s: background monitor goroutine failed: %v", s.addr, err)
		}
	case <-ctx.Done():
	}

	s.pool.closePool()
	if err := s.pool.eg.Wait(); err != nil {
		logctx.Errorf("server %s: background pool goroutine failed: %v", s.addr, err)
	}
	return nil
}

// requestImmediateCheck wakes the heartbeat loop early, used after a socket
// error on an operation connection to re-check the server sooner than the
// next scheduled heartbeat.
func (s *server) requestImmediateCheck() {
	select {
	case s.checkNow <- struct{}{}:
	default:
	}
}

// monitorLoop is the heartbeat scheduler: wait for the next heartbeat
// interval or an immediate-check request, rate-limited by
// MinHeartbeatInterval, then run one check.
func (s *server) monitorLoop() {
	interval := s.cfg.HeartbeatInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	minInterval := s.cfg.MinHeartbeatInterval
	if minInterval <= 0 {
		minInterval = 500 * time.Millisecond
	}

	heartbeatTicker := time.NewTicker(interval)
	defer heartbeatTicker.Stop()
	rateLimiter := time.NewTicker(minInterval)
	defer rateLimiter.Stop()

	s.runCheck(nil)

	for {
		select {
		case <-s.done:
			return
		default:
		}

		select {
		case <-heartbeatTicker.C:
		case <-s.checkNow:
		case <-s.done:
			return
		}

		select {
		case <-rateLimiter.C:
		case <-s.done:
			return
		}

		s.runCheck(nil)
	}
}

// idleEvictionLoop periodically asks the pool to close connections that
// have sat idle past MaxIdleTime.
func (s *server) idleEvictionLoop() {
	interval := s.cfg.Pool.MaxIdleTime / 4
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.pool.evictIdle(time.Now())
		}
	}
}

// runCheck performs one heartbeat: every check dials and handshakes a fresh
// connection (conn is not used) and takes its RTT sample from that
// exchange. There is no streaming (awaitable) check and no separate RTT
// probe connection.
func (s *server) runCheck(conn *rawConnection) {
	ctx, cancel := context.WithTimeout(context.Background(), s.heartbeatTimeout())
	defer cancel()

	s.publishHeartbeatStarted(false)
	start := time.Now()

	newConn, err := s.dialAndHandshake(ctx, conn)
	elapsed := time.Since(start)

	var desc description.Server
	if err != nil {
		s.publishHeartbeatFailed(elapsed, err)
		desc = description.NewServerFromError(s.addr, err)
		s.pool.clear("heartbeat failure", false)
	} else {
		s.publishHeartbeatSucceeded(elapsed)
		desc = newConn.desc.SetAverageRTT(s.updateAverageRTT(elapsed))
	}

	s.updateDescription(desc)
}

func (s *server) heartbeatTimeout() time.Duration {
	if s.cfg.HeartbeatTimeout > 0 {
		return s.cfg.HeartbeatTimeout
	}
	return 10 * time.Second
}

// monitorConnection is the handshake-complete connection used purely for
// heartbeat checks, kept outside the pool's accounting.
type monitorConnection struct {
	raw  *rawConnection
	desc description.Server
}

func (s *server) dialAndHandshake(ctx context.Context, _ *rawConnection) (*monitorConnection, error) {
	raw, err := dial(ctx, s.cfg.Dialer, s.addr, s.cfg.TLSConfig)
	if err != nil {
		return nil, err
	}
	desc, err := s.handshaker.Handshake(ctx, raw)
	if err != nil {
		raw.close()
		return nil, err
	}
	return &monitorConnection{raw: raw, desc: desc}, nil
}

func (s *server) updateAverageRTT(sample time.Duration) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.desc.RoundTripTimeSet {
		return sample
	}
	return time.Duration(rttAlpha*float64(sample) + (1-rttAlpha)*float64(s.desc.RoundTripTime))
}

// updateDescription stores desc, notifies the owning topology (which may
// rewrite it per the FSM), and fans it out to subscribers.
func (s *server) updateDescription(desc description.Server) {
	if s.onDescriptionChanged != nil {
		s.onDescriptionChanged(desc)
	}

	s.mu.Lock()
	prev := s.desc
	s.desc = desc
	subs := make([]chan description.Server, 0, len(s.subscribers))
	for _, c := range s.subscribers {
		subs = append(subs, c)
	}
	s.mu.Unlock()

	if !prev.Equal(desc) {
		logctx.Debugf("server %s description changed: %s -> %s", s.addr, prev.Kind, desc.Kind)
	}

	for _, c := range subs {
		select {
		case <-c:
		default:
		}
		c <- desc
	}
}

// subscribe returns a channel pre-populated with the current description,
// matching the phase-signal subscription pattern used by the selector.
func (s *server) subscribe() (*driver.Subscription, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, nil, &driver.NetworkError{}
	}
	ch := make(chan description.Server, 1)
	ch <- s.desc
	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = ch

	cancel := func() {
		s.mu.Lock()
		delete(s.subscribers, id)
		s.mu.Unlock()
	}
	return &driver.Subscription{ID: id}, cancel, nil
}

// description returns the server's most recently observed description.
func (s *server) description() description.Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.desc
}

// Connection checks out a pooled connection, implementing driver.Server.
func (s *server) Connection(ctx context.Context) (driver.Connection, error) {
	return s.pool.checkOut(ctx)
}

// Description implements driver.Server.
func (s *server) Description() description.Server { return s.description() }

// ProcessError implements driver.Server: classifies err per spec.md §7 and,
// for the state-changing kinds, marks this server Unknown, requests an
// immediate recheck, and clears its pool. Any other error (including nil)
// is a no-op, so callers may invoke it unconditionally on every operation
// error.
func (s *server) ProcessError(err error, conn driver.Connection) {
	if !isStateChangingError(err) {
		return
	}
	s.processError(err, conn)
}

// isStateChangingError reports whether err is one of the kinds spec.md §7
// says must force a server description update: NetworkError,
// NotWritablePrimaryError, or NodeRecoveringError.
func isStateChangingError(err error) bool {
	if err == nil {
		return false
	}
	var netErr driver.NetworkError
	if errors.As(err, &netErr) {
		return true
	}
	var notPrimary *driver.NotWritablePrimaryError
	if errors.As(err, &notPrimary) {
		return true
	}
	var recovering *driver.NodeRecoveringError
	if errors.As(err, &recovering) {
		return true
	}
	return false
}

// processError marks the server Unknown, wakes the heartbeat loop early so
// the real state is rediscovered sooner, and clears the pool. A
// NotWritablePrimaryError means the server just stepped down: connections
// already checked out by other callers are no longer talking to a primary,
// so they are interrupted immediately rather than left to be discarded
// lazily at check-in (spec.md §4.E "clear(interrupt_in_use)").
func (s *server) processError(err error, conn driver.Connection) {
	var notPrimary *driver.NotWritablePrimaryError
	interruptInUse := errors.As(err, &notPrimary)

	s.requestImmediateCheck()
	s.updateDescription(description.NewServerFromError(s.addr, err))
	s.pool.clear("operation error: "+err.Error(), interruptInUse)
}

func (s *server) publishHeartbeatStarted(awaited bool) {
	if s.cfg.ServerMonitor == nil || s.cfg.ServerMonitor.ServerHeartbeatStarted == nil {
		return
	}
	s.cfg.ServerMonitor.ServerHeartbeatStarted(&event.HeartbeatStartedEvent{Address: s.addr, Awaited: awaited})
}

func (s *server) publishHeartbeatSucceeded(d time.Duration) {
	if s.cfg.ServerMonitor == nil || s.cfg.ServerMonitor.ServerHeartbeatSucceeded == nil {
		return
	}
	s.cfg.ServerMonitor.ServerHeartbeatSucceeded(&event.HeartbeatSucceededEvent{Address: s.addr, Duration: d})
}

func (s *server) publishHeartbeatFailed(d time.Duration, err error) {
	if s.cfg.ServerMonitor == nil || s.cfg.ServerMonitor.ServerHeartbeatFailed == nil {
		return
	}
	s.cfg.ServerMonitor.ServerHeartbeatFailed(&event.HeartbeatFailedEvent{Address: s.addr, Duration: d, Failure: err})
}

// parseHelloReply decodes a raw hello command reply into a description.Server.
// Wire decoding proper belongs to a command/wire package outside this scope;
// this function takes the already-decoded map a connected wire codec would
// hand back.
func parseHelloReply(addr address.Address, reply map[string]interface{}) description.Server {
	desc := description.Server{Addr: addr, LastUpdateTime: time.Now()}

	kind, ok := reply["kind"].(string)
	if !ok {
		if isPrimary, _ := reply["ismaster"].(bool); isPrimary {
			kind = "RSPrimary"
		}
	}
	desc.Kind = parseServerKind(kind, reply)

	if v, ok := reply["minWireVersion"].(int32); ok {
		desc.MinWireVersion = v
	}
	if v, ok := reply["maxWireVersion"].(int32); ok {
		desc.MaxWireVersion = v
	}
	if v, ok := reply["setName"].(string); ok {
		desc.SetName = v
	}
	if v, ok := reply["setVersion"].(int64); ok {
		desc.SetVersion = &v
	}
	if v, ok := reply["primary"].(string); ok {
		desc.Primary = address.Address(v)
	}
	if v, ok := reply["electionId"].(uint64); ok {
		desc.ElectionID = &v
	}
	if v, ok := reply["tags"].(map[string]string); ok {
		desc.Tags = description.TagSet(v)
	}
	if v, ok := reply["compression"].([]string); ok {
		desc.Compressors = v
	}
	desc.Hosts = parseHostList(reply)

	return desc
}

// parseHostList combines a hello reply's "hosts", "passives", and
// "arbiters" arrays into one membership list, the set the topology FSM
// diffs against what it already tracks to discover new peers and prune
// members a primary no longer reports.
func parseHostList(reply map[string]interface{}) []address.Address {
	var hosts []address.Address
	for _, key := range []string{"hosts", "passives", "arbiters"} {
		v, ok := reply[key].([]string)
		if !ok {
			continue
		}
		for _, h := range v {
			hosts = append(hosts, address.Address(h))
		}
	}
	return hosts
}

func parseServerKind(kind string, reply map[string]interface{}) description.ServerKind {
	switch kind {
	case "RSPrimary":
		return description.RSPrimary
	case "RSSecondary":
		return description.RSSecondary
	case "RSArbiter":
		return description.RSArbiter
	case "RSOther":
		return description.RSOther
	case "RSGhost":
		return description.RSGhost
	case "Mongos":
		return description.Mongos
	case "LoadBalancer":
		return description.LoadBalancer
	default:
		if msg, ok := reply["msg"].(string); ok && msg == "isdbgrid" {
			return description.Mongos
		}
		if isSecondary, _ := reply["secondary"].(bool); isSecondary {
			return description.RSSecondary
		}
		if _, hasSetName := reply["setName"]; hasSetName {
			return description.RSOther
		}
		return description.Standalone
	}
}
