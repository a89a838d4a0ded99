// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package csot

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInfiniteWhenNoDeadline(t *testing.T) {
	c := &Context{}
	st := c.StartSubTimeout(StageRead, 0)
	outcome, _, err := st.Observe(0)
	require.NoError(t, err)
	assert.Equal(t, Unbounded, outcome)
}

func TestSubTimeoutIsMinimumOfNominalAndRemaining(t *testing.T) {
	c := WithTimeout(10 * time.Millisecond)
	st := c.StartSubTimeout(StageRead, time.Hour)
	outcome, remaining, err := st.Observe(0)
	require.NoError(t, err)
	assert.Equal(t, HasRemaining, outcome)
	assert.LessOrEqual(t, remaining, 10*time.Millisecond)
}

func TestSubTimeoutNominalSmallerThanRemaining(t *testing.T) {
	c := WithTimeout(time.Hour)
	st := c.StartSubTimeout(StageRead, 10*time.Millisecond)
	outcome, remaining, err := st.Observe(0)
	require.NoError(t, err)
	assert.Equal(t, HasRemaining, outcome)
	assert.Equal(t, 10*time.Millisecond, remaining)
}

func TestSecondObserveByPanics(t *testing.T) {
	c := WithTimeout(time.Second)
	st := c.StartSubTimeout(StageRead, 0)
	_, _, err := st.Observe(0)
	require.NoError(t, err)

	assert.Panics(t, func() {
		_, _, _ = st.Observe(0)
	})
}

func TestRoundTripExceedsRemaining(t *testing.T) {
	c := WithTimeout(time.Millisecond)
	st := c.StartSubTimeout(StageRead, 0)
	_, _, err := st.Observe(time.Hour)
	assert.ErrorIs(t, err, ErrRoundTripExceedsRemaining)
}

func TestExpiredDeadlineExpiresSubTimeoutImmediately(t *testing.T) {
	c := WithDeadline(time.Now().Add(-time.Second))
	assert.True(t, c.Expired())
	st := c.StartSubTimeout(StageWrite, time.Minute)
	outcome, _, err := st.Observe(0)
	require.NoError(t, err)
	assert.Equal(t, ExpiredOutcome, outcome)
}

func TestMaintenanceResetRearmsDeadline(t *testing.T) {
	c := NewMaintenance()
	c.Reset(10 * time.Millisecond)
	remaining, ok := c.Remaining()
	require.True(t, ok)
	assert.Greater(t, remaining, time.Duration(0))

	time.Sleep(15 * time.Millisecond)
	assert.True(t, c.Expired())

	c.Reset(time.Hour)
	assert.False(t, c.Expired())
}

func TestResetOnNonMaintenancePanics(t *testing.T) {
	c := WithTimeout(time.Second)
	assert.Panics(t, func() {
		c.Reset(time.Second)
	})
}

func TestSubTimeoutDeadlineDoesNotDrift(t *testing.T) {
	c := WithTimeout(50 * time.Millisecond)
	st := c.StartSubTimeout(StageConnection, 0)
	d1, ok := st.Deadline()
	require.True(t, ok)
	time.Sleep(5 * time.Millisecond)
	d2, _ := st.Deadline()
	assert.Equal(t, d1, d2)
}
