// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package driver

import (
	"context"
	"errors"
	"testing"

	"github.com/orcadb/godriver/address"
	"github.com/orcadb/godriver/description"
	"github.com/stretchr/testify/require"
)

func TestRetryerNoRetryOnSuccess(t *testing.T) {
	r := Retryer{Mode: RetryOncePerCommand}
	oc := NewOperationContext(nil)
	calls := 0

	err := r.Execute(context.Background(), oc, func(error) (address.Address, bool) { return "", false },
		func(ctx context.Context, isRetry bool) error {
			calls++
			return nil
		})
	require.NoError(t, err)
	require.Equal(t, 1, calls)
}

func TestRetryerRetriesOnceOnRetryableError(t *testing.T) {
	r := Retryer{Mode: RetryOncePerCommand}
	oc := NewOperationContext(nil)
	calls := 0

	err := r.Execute(context.Background(), oc, func(error) (address.Address, bool) { return "a:1", true },
		func(ctx context.Context, isRetry bool) error {
			calls++
			if !isRetry {
				return NetworkError{Wrapped: errors.New("reset")}
			}
			return nil
		})
	require.NoError(t, err)
	require.Equal(t, 2, calls)
	require.True(t, oc.IsDeprioritized("a:1"))
}

func TestRetryerDoesNotRetryNonRetryableError(t *testing.T) {
	r := Retryer{Mode: RetryOncePerCommand}
	oc := NewOperationContext(nil)
	calls := 0
	sentinel := errors.New("boom")

	err := r.Execute(context.Background(), oc, func(error) (address.Address, bool) { return "", false },
		func(ctx context.Context, isRetry bool) error {
			calls++
			return sentinel
		})
	require.ErrorIs(t, err, sentinel)
	require.Equal(t, 1, calls)
}

func TestRetryerModeNoneNeverRetries(t *testing.T) {
	r := Retryer{Mode: RetryNone}
	oc := NewOperationContext(nil)
	calls := 0

	err := r.Execute(context.Background(), oc, func(error) (address.Address, bool) { return "", false },
		func(ctx context.Context, isRetry bool) error {
			calls++
			return NetworkError{Wrapped: errors.New("reset")}
		})
	require.Error(t, err)
	require.Equal(t, 1, calls)
}

func TestDeprioritizationSelectorOnlyAppliesWhenSharded(t *testing.T) {
	oc := NewOperationContext(nil)
	oc.Deprioritize("a:1")

	candidates := []description.Server{{Addr: "a:1"}, {Addr: "b:1"}}
	base := description.ServerSelectorFunc(func(_ description.Topology, c []description.Server) ([]description.Server, error) {
		return c, nil
	})

	shardedTopo := description.Topology{Kind: description.Sharded}
	out, err := oc.DeprioritizationSelector(base).SelectServer(shardedTopo, candidates)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, address.Address("b:1"), out[0].Addr)

	rsTopo := description.Topology{Kind: description.ReplicaSetWithPrimary}
	out, err = oc.DeprioritizationSelector(base).SelectServer(rsTopo, candidates)
	require.NoError(t, err)
	require.Len(t, out, 2)
}

func TestIsRetryableClassification(t *testing.T) {
	require.True(t, IsRetryable(ErrPoolCleared))
	require.True(t, IsRetryable(NetworkError{Wrapped: errors.New("x")}))
	require.True(t, IsRetryable(&NotWritablePrimaryError{Addr: "a:1"}))
	require.True(t, IsRetryable(&NodeRecoveringError{Addr: "a:1"}))
	require.False(t, IsRetryable(errors.New("unrelated")))
	require.False(t, IsRetryable(nil))
}
