// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package description

import (
	"fmt"
	"time"

	"github.com/orcadb/godriver/address"
)

// TopologyKind represents the kind of a deployment.
type TopologyKind uint32

// The possible kinds of a deployment.
const (
	TopologyUnknown TopologyKind = iota
	Single
	ReplicaSetNoPrimary
	ReplicaSetWithPrimary
	Sharded
	LoadBalanced
)

func (k TopologyKind) String() string {
	switch k {
	case Single:
		return "Single"
	case ReplicaSetNoPrimary:
		return "ReplicaSetNoPrimary"
	case ReplicaSetWithPrimary:
		return "ReplicaSetWithPrimary"
	case Sharded:
		return "Sharded"
	case LoadBalanced:
		return "LoadBalanced"
	default:
		return "Unknown"
	}
}

// Topology is an immutable snapshot of the deployment: its kind, the set of
// servers currently known, and whether the deployment is wire-version
// compatible with this driver. A new value replaces the old one wholesale;
// nothing here is ever mutated in place.
type Topology struct {
	Kind    TopologyKind
	Servers map[address.Address]Server

	Compatible          bool
	CompatibilityErr    error
	HeartbeatInterval   time.Duration
	LocalThreshold      time.Duration
	MaxSetVersion       *int64
	MaxElectionID       *uint64
	SessionTimeoutMinutes int64
}

// ErrIncompatible is wrapped into CompatibilityErr when a server's wire
// version range does not overlap the driver's supported range.
type ErrIncompatible struct {
	Reason string
}

func (e *ErrIncompatible) Error() string { return e.Reason }

// DriverSupportedWireRange is the range of wire versions this driver
// implementation supports. It is intentionally generous, matching the
// teacher's own broad range at the time of the protocol operations it keeps
// as reference (insert/count/createIndexes/distinct/dropIndexes accept wire
// versions back to the original 3.x line).
var DriverSupportedWireRange = NewVersionRange(0, 21)

// computeCompatible recomputes the Compatible/CompatibilityErr fields for a
// candidate server set: every known server's wire version range must
// overlap this driver's supported range, or the deployment as a whole is
// marked incompatible.
func computeCompatible(servers map[address.Address]Server) (bool, error) {
	for _, s := range servers {
		if s.Kind == Unknown {
			continue
		}
		if s.MaxWireVersion < DriverSupportedWireRange.Min {
			return false, &ErrIncompatible{Reason: fmt.Sprintf(
				"server at %s reports wire version max %d, but this driver requires min wire version %d; the driver is too new for the server",
				s.Addr, s.MaxWireVersion, DriverSupportedWireRange.Min)}
		}
		if s.MinWireVersion > DriverSupportedWireRange.Max {
			return false, &ErrIncompatible{Reason: fmt.Sprintf(
				"server at %s requires wire version min %d, but this driver only supports up to wire version %d; the driver is too old for the server",
				s.Addr, s.MinWireVersion, DriverSupportedWireRange.Max)}
		}
	}
	return true, nil
}

// WithCompatibility returns a copy of t with Compatible/CompatibilityErr
// recomputed from its current Servers map.
func (t Topology) WithCompatibility() Topology {
	ok, err := computeCompatible(t.Servers)
	t.Compatible = ok
	t.CompatibilityErr = err
	return t
}

// Equal reports whether two topology descriptions are equivalent: same
// kind and, for every address, an Equal server description. Used to decide
// whether a TopologyDescriptionChanged event should fire: the topology
// stores every new description, but an event only publishes to listeners
// when the new one is not Equal to the previous one.
func (t Topology) Equal(other Topology) bool {
	if t.Kind != other.Kind {
		return false
	}
	if len(t.Servers) != len(other.Servers) {
		return false
	}
	for addr, s := range t.Servers {
		os, ok := other.Servers[addr]
		if !ok || !s.Equal(os) {
			return false
		}
	}
	return true
}

// DataBearingServers returns every server in the topology that can serve
// reads or writes directly.
func (t Topology) DataBearingServers() []Server {
	var out []Server
	for _, s := range t.Servers {
		if s.Kind.DataBearing() {
			out = append(out, s)
		}
	}
	return out
}

// Primary returns the current primary, if any, and whether one was found.
func (t Topology) Primary() (Server, bool) {
	for _, s := range t.Servers {
		if s.Kind == RSPrimary {
			return s, true
		}
	}
	return Server{}, false
}

func (t Topology) String() string {
	return fmt.Sprintf("Topology{Kind: %s, Servers: %d, Compatible: %v}", t.Kind, len(t.Servers), t.Compatible)
}
