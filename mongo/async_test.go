// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package mongo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFutureWaitReturnsResult(t *testing.T) {
	f := goAsync(func() (int, error) { return 42, nil })
	v, err := f.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, 42, v)
}

func TestFutureWaitPropagatesError(t *testing.T) {
	sentinel := errors.New("boom")
	f := goAsync(func() (int, error) { return 0, sentinel })
	_, err := f.Wait(context.Background())
	require.ErrorIs(t, err, sentinel)
}

func TestFutureWaitRespectsContextCancellation(t *testing.T) {
	release := make(chan struct{})
	f := goAsync(func() (int, error) {
		<-release
		return 1, nil
	})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := f.Wait(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFutureDoneReportsCompletion(t *testing.T) {
	release := make(chan struct{})
	f := goAsync(func() (int, error) {
		<-release
		return 1, nil
	})
	require.False(t, f.Done())
	close(release)
	_, _ = f.Wait(context.Background())
	require.True(t, f.Done())
}
