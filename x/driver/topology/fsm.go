// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package topology

import (
	"github.com/orcadb/godriver/address"
	"github.com/orcadb/godriver/description"
)

// fsm holds the accumulated state the apply transition needs beyond what a
// single incoming description carries: the highest (setVersion, electionId)
// pair seen from any server that has claimed to be primary. setName records
// the replica set name given at construction (if any); apply does not
// compare incoming descriptions' SetName against it.
type fsm struct {
	setName       string
	maxSetVersion *int64
	maxElectionID *uint64
}

func newFSM(setName string) *fsm {
	return &fsm{setName: setName}
}

// apply computes the next topology description given the previous one and a
// single freshly observed server description, implementing the discovery
// rules: stale setVersion/electionId reports from a claimed primary are
// ignored, a newly discovered primary demotes any previously recorded
// primary to Unknown, and compatibility is recomputed from the full set of
// member descriptions on every call.
func (f *fsm) apply(prev description.Topology, desc description.Server) description.Topology {
	if description.StaleSetVersionElection(f.maxSetVersion, f.maxElectionID, desc) {
		return prev
	}

	if _, tracked := prev.Servers[desc.Addr]; !tracked {
		return prev
	}

	servers := make(map[address.Address]description.Server, len(prev.Servers))
	for addr, s := range prev.Servers {
		servers[addr] = s
	}

	if desc.Kind == description.RSPrimary {
		f.recordElection(desc)
		for addr, existing := range servers {
			if addr != desc.Addr && existing.Kind == description.RSPrimary {
				servers[addr] = description.NewDefaultServer(addr)
			}
		}
	}

	servers[desc.Addr] = desc

	// Discovery: any replica set member's hello reply names the full
	// membership it knows about; an address not yet tracked gets a default
	// Unknown entry so the topology starts monitoring it (spec.md §1 item 1,
	// §4.C).
	if isReplicaSetMember(desc.Kind) {
		for _, host := range desc.Hosts {
			if _, tracked := servers[host]; !tracked {
				servers[host] = description.NewDefaultServer(host)
			}
		}
	}

	next := prev
	next.Servers = servers
	next.Kind = computeTopologyKind(prev.Kind, servers)
	next = next.WithCompatibility()

	// A primary's host list is authoritative membership: a report from a
	// non-member address marks that address for removal (spec.md §4.C).
	// Guarded on a non-empty Hosts list so a primary description built
	// without membership info (as in a direct-connection or hand-built
	// test fixture) never prunes the deployment it was never told about.
	if desc.Kind == description.RSPrimary && len(desc.Hosts) > 0 {
		members := make(map[address.Address]struct{}, len(desc.Hosts)+1)
		members[desc.Addr] = struct{}{}
		for _, h := range desc.Hosts {
			members[h] = struct{}{}
		}
		for addr := range next.Servers {
			if _, ok := members[addr]; !ok {
				next = removeNonMember(next, addr)
			}
		}
		next.Kind = computeTopologyKind(next.Kind, next.Servers)
	}

	return next
}

// isReplicaSetMember reports whether k is a kind that participates in (and
// therefore reports) replica set membership.
func isReplicaSetMember(k description.ServerKind) bool {
	switch k {
	case description.RSPrimary, description.RSSecondary, description.RSArbiter, description.RSOther:
		return true
	default:
		return false
	}
}

func (f *fsm) recordElection(desc description.Server) {
	if desc.SetVersion == nil || desc.ElectionID == nil {
		return
	}
	if f.maxSetVersion == nil || *desc.SetVersion > *f.maxSetVersion ||
		(*desc.SetVersion == *f.maxSetVersion && *desc.ElectionID > *f.maxElectionID) {
		sv := *desc.SetVersion
		eid := *desc.ElectionID
		f.maxSetVersion = &sv
		f.maxElectionID = &eid
	}
}

// computeTopologyKind re-derives the deployment's kind from the full set of
// known server descriptions: a Single-mode deployment never changes kind; a
// ReplicaSetNoPrimary deployment becomes ReplicaSetWithPrimary the instant
// any member reports RSPrimary, and vice versa when the last primary is
// demoted.
func computeTopologyKind(existing description.TopologyKind, servers map[address.Address]description.Server) description.TopologyKind {
	if existing == description.Single {
		return description.Single
	}

	hasPrimary := false
	hasMongos := false
	hasRSMember := false
	for _, s := range servers {
		switch s.Kind {
		case description.RSPrimary:
			hasPrimary = true
			hasRSMember = true
		case description.RSSecondary, description.RSArbiter, description.RSOther, description.RSGhost:
			hasRSMember = true
		case description.Mongos:
			hasMongos = true
		}
	}

	switch {
	case hasMongos:
		return description.Sharded
	case hasPrimary:
		return description.ReplicaSetWithPrimary
	case hasRSMember:
		return description.ReplicaSetNoPrimary
	case existing == description.ReplicaSetWithPrimary:
		return description.ReplicaSetNoPrimary
	default:
		return existing
	}
}

// removeNonMember marks addr for removal from the topology: used when a
// primary's reported replica set membership no longer includes addr.
func removeNonMember(t description.Topology, addr address.Address) description.Topology {
	servers := make(map[address.Address]description.Server, len(t.Servers))
	for a, s := range t.Servers {
		if a != addr {
			servers[a] = s
		}
	}
	next := t
	next.Servers = servers
	return next.WithCompatibility()
}
