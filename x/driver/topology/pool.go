// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package topology

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/orcadb/godriver/address"
	"github.com/orcadb/godriver/event"
	"github.com/orcadb/godriver/x/driver"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// poolState is the connection pool's lifecycle state machine.
type poolState uint8

const (
	poolPaused poolState = iota
	poolReady
	poolClosed
)

// pool implements the per-server connection pool: generation-based
// invalidation, a Paused/Ready/Closed state machine, a FIFO wait queue, a
// background minPoolSize filler, and maxIdleTime eviction. Lifecycle
// transitions are published as event.PoolEvent values for observability.
type pool struct {
	addr address.Address
	cfg  PoolConfig

	dialer     Dialer
	handshaker Handshaker

	mu          sync.Mutex
	state       poolState
	generation  uint64
	idle        *list.List // of *pooledConnection, front = most recently returned
	totalConns  uint64
	pending     uint64
	waiters     *list.List // of chan waitResult

	// checkedOut tracks every connection currently handed out to a caller,
	// keyed by connID, so clear(interruptInUse=true) can reach in and close
	// them directly instead of waiting for a lazy discard at check-in time
	// (spec.md §4.E: "clear(interrupt_in_use)").
	checkedOut map[int64]*pooledConnection

	connecting *semaphore.Weighted

	minSizeDone chan struct{}
	closeOnce   sync.Once

	eg errgroup.Group
}

type waitResult struct {
	conn *pooledConnection
	err  error
}

func newPool(addr address.Address, cfg PoolConfig, dialer Dialer, handshaker Handshaker) *pool {
	maxConnecting := cfg.MaxConnecting
	if maxConnecting == 0 {
		maxConnecting = 2
	}
	return &pool{
		addr:        addr,
		cfg:         cfg,
		dialer:      dialer,
		handshaker:  handshaker,
		state:       poolPaused,
		idle:        list.New(),
		waiters:     list.New(),
		checkedOut:  make(map[int64]*pooledConnection),
		connecting:  semaphore.NewWeighted(int64(maxConnecting)),
		minSizeDone: make(chan struct{}),
	}
}

// runSupervised wraps fn so a panic in a pool background goroutine becomes
// an error observable via p.eg.Wait() (called from Server.disconnect),
// rather than silently killing the process.
func (p *pool) runSupervised(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("topology: %s: panic in pool background goroutine: %v", p.addr, r)
		}
	}()
	fn()
	return nil
}

func (p *pool) currentGeneration() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.generation
}

// markCheckedOut records c as handed out to a caller, so a subsequent
// clear(interruptInUse=true) can find and interrupt it.
func (p *pool) markCheckedOut(c *pooledConnection) {
	p.mu.Lock()
	p.checkedOut[c.connID] = c
	p.mu.Unlock()
}

// unmarkCheckedOut removes c from the checked-out set, called as soon as it
// is returned to the pool regardless of whether it is then reused, idled,
// or discarded.
func (p *pool) unmarkCheckedOut(c *pooledConnection) {
	p.mu.Lock()
	delete(p.checkedOut, c.connID)
	p.mu.Unlock()
}

// inFlight returns the number of connections currently checked out (total
// minus idle), the load signal the selector's power-of-two-choices tie-break
// reads from (spec.md §4.G step 7).
func (p *pool) inFlight() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := int(p.totalConns) - p.idle.Len()
	if n < 0 {
		return 0
	}
	return n
}

// ready transitions the pool from Paused to Ready and starts the
// minPoolSize background filler.
func (p *pool) ready() {
	p.mu.Lock()
	if p.state == poolClosed {
		p.mu.Unlock()
		return
	}
	wasPaused := p.state == poolPaused
	p.state = poolReady
	p.mu.Unlock()

	p.publish(event.PoolReady, 0, "")

	if wasPaused && p.cfg.MinPoolSize > 0 {
		p.eg.Go(func() error { return p.runSupervised(p.fillToMinSize) })
	}
}

// clear invalidates every currently-pooled-and-outstanding connection by
// advancing the generation counter and pausing the pool. Idle connections
// are closed immediately. interruptInUse, set on a primary step-down
// (spec.md §4.E: "clear(interrupt_in_use)"), additionally closes the raw
// socket of every connection currently checked out, instead of merely
// marking it stale and leaving it to be discarded whenever its caller
// eventually checks it back in. Checkouts queued for a connection fail with
// driver.ErrPoolCleared.
func (p *pool) clear(reason string, interruptInUse bool) {
	p.mu.Lock()
	if p.state == poolClosed {
		p.mu.Unlock()
		return
	}
	p.generation++
	p.state = poolPaused
	var toClose []*pooledConnection
	for e := p.idle.Front(); e != nil; e = e.Next() {
		toClose = append(toClose, e.Value.(*pooledConnection))
	}
	p.idle.Init()
	p.totalConns -= uint64(len(toClose))

	var waiters []chan waitResult
	for e := p.waiters.Front(); e != nil; {
		next := e.Next()
		waiters = append(waiters, p.waiters.Remove(e).(chan waitResult))
		e = next
	}

	var interrupted []*pooledConnection
	if interruptInUse {
		for _, c := range p.checkedOut {
			c.perished = true
			interrupted = append(interrupted, c)
		}
	}
	p.mu.Unlock()

	for _, ch := range waiters {
		ch <- waitResult{err: driver.ErrPoolCleared}
	}
	for _, c := range toClose {
		c.rawConnection.close()
		p.publish(event.ConnectionClosed, c.connID, reason)
	}
	for _, c := range interrupted {
		c.rawConnection.close()
		p.publish(event.ConnectionClosed, c.connID, reason+" (interrupted in use)")
	}
	p.publish(event.PoolCleared, 0, reason)
}

// closePool closes the pool permanently: no further checkouts are possible.
func (p *pool) closePool() {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.state = poolClosed
		var toClose []*pooledConnection
		for e := p.idle.Front(); e != nil; e = e.Next() {
			toClose = append(toClose, e.Value.(*pooledConnection))
		}
		p.idle.Init()
		var waiters []*list.Element
		for e := p.waiters.Front(); e != nil; e = e.Next() {
			waiters = append(waiters, e)
		}
		p.mu.Unlock()

		for _, c := range toClose {
			c.rawConnection.close()
		}
		for _, e := range waiters {
			ch := e.Value.(chan waitResult)
			select {
			case ch <- waitResult{err: driver.ErrPoolClosed}:
			default:
			}
		}
		p.publish(event.PoolClosedEvent, 0, "")
	})
}

// checkOut acquires a connection: try the idle list first; if empty and
// under maxPoolSize, establish a new connection (throttled by
// maxConnecting); otherwise queue FIFO until one is returned or ctx's
// deadline (or the pool-specific WaitQueueTimeout) elapses.
func (p *pool) checkOut(ctx context.Context) (*pooledConnection, error) {
	if p.cfg.WaitQueueTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.WaitQueueTimeout)
		defer cancel()
	}

	p.publish(event.ConnectionCheckOutStarted, 0, "")

	for {
		p.mu.Lock()
		switch p.state {
		case poolClosed:
			p.mu.Unlock()
			p.publish(event.ConnectionCheckOutFailed, 0, "poolClosed")
			return nil, driver.ErrPoolClosed
		case poolPaused:
			p.mu.Unlock()
			p.publish(event.ConnectionCheckOutFailed, 0, "poolCleared")
			return nil, driver.ErrPoolCleared
		}

		if e := p.idle.Front(); e != nil {
			p.idle.Remove(e)
			conn := e.Value.(*pooledConnection)
			p.mu.Unlock()
			if conn.Stale() {
				conn.rawConnection.close()
				p.mu.Lock()
				p.totalConns--
				p.mu.Unlock()
				continue
			}
			p.markCheckedOut(conn)
			p.publish(event.ConnectionCheckedOut, conn.connID, "")
			return conn, nil
		}

		if p.cfg.MaxPoolSize == 0 || p.totalConns+p.pending < p.cfg.MaxPoolSize {
			p.pending++
			generation := p.generation
			p.mu.Unlock()

			conn, err := p.establish(ctx, generation)

			p.mu.Lock()
			p.pending--
			if err == nil {
				p.totalConns++
			}
			p.mu.Unlock()

			if err != nil {
				p.publish(event.ConnectionCheckOutFailed, 0, err.Error())
				return nil, err
			}
			p.markCheckedOut(conn)
			p.publish(event.ConnectionCheckedOut, conn.connID, "")
			return conn, nil
		}

		ch := make(chan waitResult, 1)
		elem := p.waiters.PushBack(ch)
		p.mu.Unlock()

		select {
		case res := <-ch:
			if res.err != nil {
				p.publish(event.ConnectionCheckOutFailed, 0, res.err.Error())
				return nil, res.err
			}
			p.markCheckedOut(res.conn)
			p.publish(event.ConnectionCheckedOut, res.conn.connID, "")
			return res.conn, nil
		case <-ctx.Done():
			p.mu.Lock()
			p.waiters.Remove(elem)
			p.mu.Unlock()
			p.publish(event.ConnectionCheckOutFailed, 0, "timeout")
			return nil, driver.ErrWaitQueueTimeout
		}
	}
}

// establish dials and handshakes a brand new connection, throttled by the
// maxConnecting semaphore: at most maxConnecting connections may be
// mid-establishment at once, pool-wide.
func (p *pool) establish(ctx context.Context, generation uint64) (*pooledConnection, error) {
	if err := p.connecting.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("topology: waiting to establish connection: %w", err)
	}
	defer p.connecting.Release(1)

	raw, err := dial(ctx, p.dialer, p.addr, nil)
	if err != nil {
		return nil, driver.NetworkError{Wrapped: err}
	}
	p.publish(event.ConnectionCreated, raw.connID, "")

	desc, err := p.handshaker.Handshake(ctx, raw)
	if err != nil {
		raw.close()
		return nil, driver.NetworkError{Wrapped: fmt.Errorf("topology: handshake with %s: %w", p.addr, err)}
	}
	p.publish(event.ConnectionReady, raw.connID, "")

	return &pooledConnection{
		rawConnection: raw,
		generation:    generation,
		pool:          p,
		desc:          desc,
	}, nil
}

// checkIn returns a connection to the pool: handed straight to the oldest
// FIFO waiter if one exists, otherwise pushed onto the idle list, unless it
// is stale or perished, in which case it is closed outright.
func (p *pool) checkIn(c *pooledConnection) error {
	p.publish(event.ConnectionCheckedIn, c.connID, "")
	p.unmarkCheckedOut(c)

	if c.Stale() || c.perished {
		c.rawConnection.close()
		p.mu.Lock()
		p.totalConns--
		p.mu.Unlock()
		p.publish(event.ConnectionClosed, c.connID, "stale")
		return nil
	}

	p.mu.Lock()
	if p.state != poolReady {
		p.mu.Unlock()
		c.rawConnection.close()
		p.publish(event.ConnectionClosed, c.connID, "poolCleared")
		return nil
	}

	if e := p.waiters.Front(); e != nil {
		p.waiters.Remove(e)
		ch := e.Value.(chan waitResult)
		p.mu.Unlock()
		ch <- waitResult{conn: c}
		return nil
	}

	c.checkedInAt = time.Now()
	p.idle.PushFront(c)
	p.mu.Unlock()
	return nil
}

// fillToMinSize runs once per Ready transition, establishing connections up
// to MinPoolSize in the background (spec.md §4.E step 2).
func (p *pool) fillToMinSize() {
	for {
		p.mu.Lock()
		if p.state != poolReady || p.totalConns+p.pending >= p.cfg.MinPoolSize {
			p.mu.Unlock()
			return
		}
		p.pending++
		generation := p.generation
		p.mu.Unlock()

		conn, err := p.establish(context.Background(), generation)

		p.mu.Lock()
		p.pending--
		if err != nil {
			p.mu.Unlock()
			return
		}
		p.totalConns++
		p.mu.Unlock()

		p.checkIn(conn)
	}
}

// evictIdle closes idle connections that have sat unused longer than
// MaxIdleTime (spec.md §4.E step 6), invoked periodically by the owning
// server's background loop.
func (p *pool) evictIdle(now time.Time) {
	if p.cfg.MaxIdleTime <= 0 {
		return
	}

	p.mu.Lock()
	var toClose []*pooledConnection
	for e := p.idle.Back(); e != nil; {
		c := e.Value.(*pooledConnection)
		if now.Sub(c.checkedInAt) < p.cfg.MaxIdleTime {
			break
		}
		prev := e.Prev()
		p.idle.Remove(e)
		toClose = append(toClose, c)
		p.totalConns--
		e = prev
	}
	p.mu.Unlock()

	for _, c := range toClose {
		c.rawConnection.close()
		p.publish(event.ConnectionClosed, c.connID, "idle")
	}
}

func (p *pool) publish(eventType string, connID int64, reason string) {
	if p.cfg.PoolMonitor == nil || p.cfg.PoolMonitor.Event == nil {
		return
	}
	p.cfg.PoolMonitor.Event(&event.PoolEvent{
		Type:    eventType,
		Address: p.addr,
		ConnID:  connID,
		Reason:  reason,
	})
}
