// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package topology

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCompressorRoundTrip(t *testing.T) {
	payload := []byte("the quick brown fox jumps over the lazy dog, repeated: the quick brown fox jumps over the lazy dog")

	for _, name := range []string{"snappy", "zlib", "zstd"} {
		t.Run(name, func(t *testing.T) {
			c, err := newCompressor(name)
			require.NoError(t, err)
			require.Equal(t, name, c.Name())

			compressed, err := c.Compress(payload)
			require.NoError(t, err)

			out, err := c.Decompress(compressed, int32(len(payload)))
			require.NoError(t, err)
			require.Equal(t, payload, out)
		})
	}
}

func TestNewCompressorRejectsUnknownName(t *testing.T) {
	_, err := newCompressor("lz4")
	require.Error(t, err)
}

func TestNegotiateCompressorPrefersClientOrder(t *testing.T) {
	c, ok := negotiateCompressor([]string{"zstd", "snappy"}, []string{"snappy", "zstd", "zlib"})
	require.True(t, ok)
	require.Equal(t, "zstd", c.Name())
}

func TestNegotiateCompressorNoOverlap(t *testing.T) {
	_, ok := negotiateCompressor([]string{"zstd"}, []string{"snappy"})
	require.False(t, ok)
}

func TestNegotiateCompressorEmptyPreferenceLeavesUncompressed(t *testing.T) {
	_, ok := negotiateCompressor(nil, []string{"snappy", "zstd"})
	require.False(t, ok)
}
