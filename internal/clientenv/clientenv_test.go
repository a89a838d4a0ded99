// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package clientenv

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDetectUnknownWhenNothingSet(t *testing.T) {
	info := Detect()
	require.Equal(t, Unknown, info.Name)
}

func TestDetectGCPFunc(t *testing.T) {
	t.Setenv("K_SERVICE", "my-service")
	t.Setenv("FUNCTION_REGION", "us-central1")

	info := Detect()
	require.Equal(t, GCPFunc, info.Name)
	require.Equal(t, "us-central1", info.Region)
}

func TestDetectAmbiguousReportsUnknown(t *testing.T) {
	t.Setenv("K_SERVICE", "my-service")
	t.Setenv("VERCEL", "1")

	info := Detect()
	require.Equal(t, Unknown, info.Name)
}
