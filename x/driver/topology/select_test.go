// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package topology

import (
	"math/rand"
	"testing"

	"github.com/orcadb/godriver/address"
	"github.com/orcadb/godriver/description"
	"github.com/orcadb/godriver/internal/randutil"
	"github.com/stretchr/testify/require"
)

func TestSelectServerReturnsSoleCandidate(t *testing.T) {
	topo := description.Topology{
		Kind: description.Single,
		Servers: map[address.Address]description.Server{
			"a:1": {Addr: "a:1", Kind: description.Standalone},
		},
	}
	rnd := randutil.NewLockedRand(rand.NewSource(1))

	s, ok, err := selectServer(topo, description.WriteSelector(), rnd, nil)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, address.Address("a:1"), s.Addr)
}

func TestSelectServerReturnsFalseWhenNothingSurvivesFilter(t *testing.T) {
	topo := description.Topology{Kind: description.ReplicaSetNoPrimary}
	rnd := randutil.NewLockedRand(rand.NewSource(1))

	_, ok, err := selectServer(topo, description.WriteSelector(), rnd, nil)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSelectServerPowerOfTwoChoicesPrefersLowerInFlight(t *testing.T) {
	servers := map[address.Address]description.Server{
		"a:1": {Addr: "a:1", Kind: description.Mongos},
		"b:1": {Addr: "b:1", Kind: description.Mongos},
		"c:1": {Addr: "c:1", Kind: description.Mongos},
	}
	topo := description.Topology{Kind: description.Sharded, Servers: servers}
	load := map[address.Address]int{"a:1": 100, "b:1": 0, "c:1": 50}
	inFlight := func(s description.Server) int { return load[s.Addr] }

	// Over many draws with a fixed, varied seed, the highest-load server
	// ("a:1") must never be picked: any pair drawn that includes it also
	// includes a lower-load peer.
	for seed := int64(0); seed < 200; seed++ {
		rnd := randutil.NewLockedRand(rand.NewSource(seed))
		s, ok, err := selectServer(topo, description.ServerSelectorFunc(
			func(t description.Topology, candidates []description.Server) ([]description.Server, error) {
				return candidates, nil
			}), rnd, inFlight)
		require.NoError(t, err)
		require.True(t, ok)
		require.NotEqual(t, address.Address("a:1"), s.Addr, "highest-load candidate must never win a two-way draw against a lower-load peer")
	}
}
