// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package topology

import (
	"testing"

	"github.com/orcadb/godriver/address"
	"github.com/orcadb/godriver/description"
	"github.com/stretchr/testify/require"
)

func sv(v int64) *int64  { return &v }
func eid(v uint64) *uint64 { return &v }

func newTopologyFixture(addrs ...address.Address) description.Topology {
	servers := make(map[address.Address]description.Server, len(addrs))
	for _, a := range addrs {
		servers[a] = description.NewDefaultServer(a)
	}
	return description.Topology{Kind: description.ReplicaSetNoPrimary, Servers: servers}
}

func TestFSMDiscoversPrimary(t *testing.T) {
	f := newFSM("rs0")
	prev := newTopologyFixture("a:1", "b:1")

	primaryDesc := description.Server{
		Addr:       "a:1",
		Kind:       description.RSPrimary,
		SetName:    "rs0",
		SetVersion: sv(1),
		ElectionID: eid(1),
	}

	next := f.apply(prev, primaryDesc)
	require.Equal(t, description.ReplicaSetWithPrimary, next.Kind)
	require.Equal(t, description.RSPrimary, next.Servers["a:1"].Kind)
}

func TestFSMDemotesOldPrimaryOnNewElection(t *testing.T) {
	f := newFSM("rs0")
	prev := newTopologyFixture("a:1", "b:1")

	first := description.Server{Addr: "a:1", Kind: description.RSPrimary, SetVersion: sv(1), ElectionID: eid(1)}
	prev = f.apply(prev, first)
	require.Equal(t, description.RSPrimary, prev.Servers["a:1"].Kind)

	second := description.Server{Addr: "b:1", Kind: description.RSPrimary, SetVersion: sv(1), ElectionID: eid(2)}
	next := f.apply(prev, second)

	require.Equal(t, description.RSPrimary, next.Servers["b:1"].Kind)
	require.Equal(t, description.Unknown, next.Servers["a:1"].Kind)
}

func TestFSMIgnoresStaleElection(t *testing.T) {
	f := newFSM("rs0")
	prev := newTopologyFixture("a:1", "b:1")

	current := description.Server{Addr: "a:1", Kind: description.RSPrimary, SetVersion: sv(2), ElectionID: eid(5)}
	prev = f.apply(prev, current)

	stale := description.Server{Addr: "b:1", Kind: description.RSPrimary, SetVersion: sv(1), ElectionID: eid(1)}
	next := f.apply(prev, stale)

	require.Equal(t, prev, next)
}

func TestFSMIgnoresUntrackedAddress(t *testing.T) {
	f := newFSM("rs0")
	prev := newTopologyFixture("a:1")

	desc := description.Server{Addr: "c:1", Kind: description.RSSecondary}
	next := f.apply(prev, desc)

	require.Equal(t, prev, next)
}

func TestFSMDiscoversNewHostsFromPrimary(t *testing.T) {
	f := newFSM("rs0")
	prev := newTopologyFixture("a:1")

	primaryDesc := description.Server{
		Addr:       "a:1",
		Kind:       description.RSPrimary,
		SetVersion: sv(1),
		ElectionID: eid(1),
		Hosts:      []address.Address{"a:1", "b:1", "c:1"},
	}

	next := f.apply(prev, primaryDesc)
	require.Contains(t, next.Servers, address.Address("b:1"))
	require.Contains(t, next.Servers, address.Address("c:1"))
	require.Equal(t, description.Unknown, next.Servers["b:1"].Kind)
	require.Equal(t, description.Unknown, next.Servers["c:1"].Kind)
}

func TestFSMDiscoversNewHostsFromSecondary(t *testing.T) {
	f := newFSM("rs0")
	prev := newTopologyFixture("a:1")

	secondaryDesc := description.Server{
		Addr:  "a:1",
		Kind:  description.RSSecondary,
		Hosts: []address.Address{"a:1", "b:1"},
	}

	next := f.apply(prev, secondaryDesc)
	require.Contains(t, next.Servers, address.Address("b:1"))
}

func TestFSMPrunesNonMemberReportedByPrimary(t *testing.T) {
	f := newFSM("rs0")
	prev := newTopologyFixture("a:1", "b:1", "stale:1")

	primaryDesc := description.Server{
		Addr:       "a:1",
		Kind:       description.RSPrimary,
		SetVersion: sv(1),
		ElectionID: eid(1),
		Hosts:      []address.Address{"a:1", "b:1"},
	}

	next := f.apply(prev, primaryDesc)
	require.NotContains(t, next.Servers, address.Address("stale:1"))
	require.Contains(t, next.Servers, address.Address("b:1"))
}

func TestFSMPrimaryWithNoHostListDoesNotPruneMembers(t *testing.T) {
	f := newFSM("rs0")
	prev := newTopologyFixture("a:1", "b:1")

	primaryDesc := description.Server{
		Addr:       "a:1",
		Kind:       description.RSPrimary,
		SetVersion: sv(1),
		ElectionID: eid(1),
	}

	next := f.apply(prev, primaryDesc)
	require.Contains(t, next.Servers, address.Address("b:1"))
}

func TestComputeTopologyKindSingleNeverChanges(t *testing.T) {
	servers := map[address.Address]description.Server{
		"a:1": {Addr: "a:1", Kind: description.RSPrimary},
	}
	require.Equal(t, description.Single, computeTopologyKind(description.Single, servers))
}

func TestComputeTopologyKindShardedWinsOverReplicaSet(t *testing.T) {
	servers := map[address.Address]description.Server{
		"a:1": {Addr: "a:1", Kind: description.Mongos},
	}
	require.Equal(t, description.Sharded, computeTopologyKind(description.ReplicaSetNoPrimary, servers))
}
