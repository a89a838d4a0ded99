// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package description

import (
	"testing"
	"time"

	"github.com/orcadb/godriver/address"
	"github.com/stretchr/testify/require"
)

func rsTopology(servers ...Server) Topology {
	m := make(map[address.Address]Server, len(servers))
	for _, s := range servers {
		m[s.Addr] = s
	}
	return Topology{Kind: ReplicaSetWithPrimary, Servers: m}
}

func TestReadPrefSelectorPrimaryMode(t *testing.T) {
	primary := Server{Addr: "a:1", Kind: RSPrimary}
	secondary := Server{Addr: "b:1", Kind: RSSecondary}
	topo := rsTopology(primary, secondary)

	sel := ReadPrefSelector("primary", nil, 0, time.Second)
	out, err := sel.SelectServer(topo, []Server{primary, secondary})
	require.NoError(t, err)
	require.Equal(t, []Server{primary}, out)
}

func TestReadPrefSelectorSecondaryMode(t *testing.T) {
	primary := Server{Addr: "a:1", Kind: RSPrimary}
	secondary := Server{Addr: "b:1", Kind: RSSecondary}
	topo := rsTopology(primary, secondary)

	sel := ReadPrefSelector("secondary", nil, 0, time.Second)
	out, err := sel.SelectServer(topo, []Server{primary, secondary})
	require.NoError(t, err)
	require.Equal(t, []Server{secondary}, out)
}

func TestWriteSelectorReplicaSetOnlyPrimary(t *testing.T) {
	primary := Server{Addr: "a:1", Kind: RSPrimary}
	secondary := Server{Addr: "b:1", Kind: RSSecondary}
	topo := rsTopology(primary, secondary)

	out, err := WriteSelector().SelectServer(topo, []Server{primary, secondary})
	require.NoError(t, err)
	require.Equal(t, []Server{primary}, out)
}

func TestWriteSelectorNoPrimaryYieldsEmpty(t *testing.T) {
	topo := Topology{Kind: ReplicaSetNoPrimary, Servers: map[address.Address]Server{}}
	out, err := WriteSelector().SelectServer(topo, nil)
	require.NoError(t, err)
	require.Empty(t, out)
}

func TestLatencySelectorWindow(t *testing.T) {
	fast := Server{Addr: "a:1", RoundTripTime: 5 * time.Millisecond}
	mid := Server{Addr: "b:1", RoundTripTime: 10 * time.Millisecond}
	slow := Server{Addr: "c:1", RoundTripTime: 50 * time.Millisecond}

	sel := LatencySelector(10 * time.Millisecond)
	out, err := sel.SelectServer(Topology{}, []Server{fast, mid, slow})
	require.NoError(t, err)
	require.ElementsMatch(t, []Server{fast, mid}, out)
}

func TestFilterByStalenessWithPrimary(t *testing.T) {
	now := time.Now()
	primary := Server{
		Addr:           "a:1",
		Kind:           RSPrimary,
		LastWriteDate:  now,
		LastUpdateTime: now,
	}
	fresh := Server{
		Addr:           "b:1",
		Kind:           RSSecondary,
		LastWriteDate:  now,
		LastUpdateTime: now,
	}
	stale := Server{
		Addr:           "c:1",
		Kind:           RSSecondary,
		LastWriteDate:  now.Add(-time.Hour),
		LastUpdateTime: now,
	}
	topo := rsTopology(primary, fresh, stale)

	out := filterByStaleness(topo, []Server{primary, fresh, stale}, time.Second, 0)
	var addrs []address.Address
	for _, s := range out {
		addrs = append(addrs, s.Addr)
	}
	require.Contains(t, addrs, primary.Addr)
	require.Contains(t, addrs, fresh.Addr)
	require.NotContains(t, addrs, stale.Addr)
}
