// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package topology

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/orcadb/godriver/address"
	"github.com/orcadb/godriver/description"
	"github.com/orcadb/godriver/x/driver"
	"github.com/stretchr/testify/require"
)

type fakeDialer struct{}

func (fakeDialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	client, server := net.Pipe()
	go func() {
		buf := make([]byte, 1)
		for {
			if _, err := server.Read(buf); err != nil {
				return
			}
		}
	}()
	return client, nil
}

type fakeHandshaker struct{ fail bool }

func (h fakeHandshaker) Handshake(ctx context.Context, conn *rawConnection) (description.Server, error) {
	if h.fail {
		return description.Server{}, context.DeadlineExceeded
	}
	return description.NewDefaultServer(conn.addr), nil
}

func newTestPool(t *testing.T, cfg PoolConfig) *pool {
	t.Helper()
	p := newPool(address.Address("a:1"), cfg, fakeDialer{}, fakeHandshaker{})
	p.ready()
	t.Cleanup(p.closePool)
	return p
}

func TestPoolCheckOutAndCheckIn(t *testing.T) {
	p := newTestPool(t, PoolConfig{MaxPoolSize: 2, MaxConnecting: 2})

	conn, err := p.checkOut(context.Background())
	require.NoError(t, err)
	require.NotNil(t, conn)

	require.NoError(t, conn.Close())

	again, err := p.checkOut(context.Background())
	require.NoError(t, err)
	require.Equal(t, conn.connID, again.connID)
}

func TestPoolCheckOutFailsWhenPaused(t *testing.T) {
	p := newPool(address.Address("a:1"), PoolConfig{MaxPoolSize: 1}, fakeDialer{}, fakeHandshaker{})
	_, err := p.checkOut(context.Background())
	require.ErrorIs(t, err, driver.ErrPoolCleared)
}

func TestPoolCheckOutFailsWhenClosed(t *testing.T) {
	p := newPool(address.Address("a:1"), PoolConfig{MaxPoolSize: 1}, fakeDialer{}, fakeHandshaker{})
	p.ready()
	p.closePool()
	_, err := p.checkOut(context.Background())
	require.ErrorIs(t, err, driver.ErrPoolClosed)
}

func TestPoolClearInvalidatesOutstandingGeneration(t *testing.T) {
	p := newTestPool(t, PoolConfig{MaxPoolSize: 2, MaxConnecting: 2})

	conn, err := p.checkOut(context.Background())
	require.NoError(t, err)

	p.clear("test", false)

	require.True(t, conn.Stale())
	require.NoError(t, conn.Close())
}

func TestPoolClearInterruptsInUseConnections(t *testing.T) {
	p := newTestPool(t, PoolConfig{MaxPoolSize: 2, MaxConnecting: 2})

	conn, err := p.checkOut(context.Background())
	require.NoError(t, err)
	require.Len(t, p.checkedOut, 1)

	p.clear("primary step down", true)

	require.True(t, conn.perished)
	require.NoError(t, conn.Close())
}

func TestPoolCheckInUnmarksCheckedOut(t *testing.T) {
	p := newTestPool(t, PoolConfig{MaxPoolSize: 2, MaxConnecting: 2})

	conn, err := p.checkOut(context.Background())
	require.NoError(t, err)
	require.Len(t, p.checkedOut, 1)

	require.NoError(t, conn.Close())
	require.Len(t, p.checkedOut, 0)
}

func TestPoolCloseWithErrorDiscardsConnection(t *testing.T) {
	p := newTestPool(t, PoolConfig{MaxPoolSize: 2, MaxConnecting: 2})

	conn, err := p.checkOut(context.Background())
	require.NoError(t, err)

	require.NoError(t, conn.CloseWithError(fmt.Errorf("operation failed")))
	require.True(t, conn.perished)

	again, err := p.checkOut(context.Background())
	require.NoError(t, err)
	require.NotEqual(t, conn.connID, again.connID)
}

func TestPoolWaitQueueTimeout(t *testing.T) {
	p := newTestPool(t, PoolConfig{MaxPoolSize: 1, MaxConnecting: 1, WaitQueueTimeout: 20 * time.Millisecond})

	conn, err := p.checkOut(context.Background())
	require.NoError(t, err)
	defer conn.Close()

	_, err = p.checkOut(context.Background())
	require.ErrorIs(t, err, driver.ErrWaitQueueTimeout)
}

func TestPoolFIFOHandoffToWaiter(t *testing.T) {
	p := newTestPool(t, PoolConfig{MaxPoolSize: 1, MaxConnecting: 1})

	conn, err := p.checkOut(context.Background())
	require.NoError(t, err)

	resultCh := make(chan error, 1)
	go func() {
		c, err := p.checkOut(context.Background())
		if err == nil {
			c.Close()
		}
		resultCh <- err
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, conn.Close())

	select {
	case err := <-resultCh:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("waiter never received handed-off connection")
	}
}
