// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package description

import (
	"slices"
	"time"

	"github.com/orcadb/godriver/address"
)

// ServerKind represents the kind of a single server, as classified by the
// monitor from its most recent hello reply.
type ServerKind uint32

// The possible kinds of a single server.
const (
	Unknown ServerKind = iota
	Standalone
	RSPrimary
	RSSecondary
	RSArbiter
	RSOther
	RSGhost
	Mongos
	LoadBalancer
)

func (k ServerKind) String() string {
	switch k {
	case Standalone:
		return "Standalone"
	case RSPrimary:
		return "RSPrimary"
	case RSSecondary:
		return "RSSecondary"
	case RSArbiter:
		return "RSArbiter"
	case RSOther:
		return "RSOther"
	case RSGhost:
		return "RSGhost"
	case Mongos:
		return "Mongos"
	case LoadBalancer:
		return "LoadBalancer"
	default:
		return "Unknown"
	}
}

// DataBearing reports whether a server of this kind can serve reads/writes
// directly (as opposed to RSArbiter, RSGhost, RSOther, or Unknown).
func (k ServerKind) DataBearing() bool {
	switch k {
	case Standalone, RSPrimary, RSSecondary, Mongos, LoadBalancer:
		return true
	default:
		return false
	}
}

// Server is an immutable snapshot of a single server, produced by the
// monitor from one successful (or failed) health-check reply. A Server value
// is never mutated after construction; a new check produces a wholly new
// value.
type Server struct {
	Addr address.Address
	Kind ServerKind

	// RoundTripTime is the current exponentially-weighted-average RTT.
	RoundTripTime time.Duration
	// RoundTripTimeSet is false for the very first, not-yet-measured
	// description of a server (NewDefaultServer).
	RoundTripTimeSet bool

	MinWireVersion int32
	MaxWireVersion int32

	Tags TagSet

	LastWriteDate time.Time
	// LastUpdateTime is the monitor's local clock reading at the moment
	// this description was produced, used by the maximum-staleness
	// calculation during server selection.
	LastUpdateTime time.Time

	ElectionID *uint64 // abstracted election id ordinal; nil if not reported
	SetName    string
	SetVersion *int64
	Primary    address.Address // this server's view of who is primary

	HeartbeatInterval time.Duration

	// Compressors is the set of compressor names this server advertised in
	// its hello reply, in the server's own preference order.
	Compressors []string

	// Hosts is the full replica-set membership (hosts + passives + arbiters)
	// this server's hello reply named, used by the topology FSM to discover
	// peers it is not yet monitoring and to prune members a primary no
	// longer reports. Empty for a standalone, mongos, or a reply that
	// carried no membership list.
	Hosts []address.Address

	Err error
}

// NewDefaultServer returns the default, Unknown description for an address
// that has not yet been checked.
func NewDefaultServer(addr address.Address) Server {
	return Server{
		Addr:           addr,
		Kind:           Unknown,
		LastUpdateTime: time.Now(),
	}
}

// NewServerFromError returns an Unknown description carrying err, as
// produced by a failed health check.
func NewServerFromError(addr address.Address, err error) Server {
	return Server{
		Addr:           addr,
		Kind:           Unknown,
		LastUpdateTime: time.Now(),
		Err:            err,
	}
}

// WireVersionRange returns the server's advertised wire version span.
func (s Server) WireVersionRange() VersionRange {
	return NewVersionRange(s.MinWireVersion, s.MaxWireVersion)
}

// Equal reports whether two descriptions are equivalent for the purpose of
// event suppression: every field except RoundTripTime (with its
// RoundTripTimeSet flag) and LastUpdateTime must match. Kept as a predicate function, not a fixed field list, so new
// suppressed fields can be added without touching call sites.
func (s Server) Equal(other Server) bool {
	if s.Addr != other.Addr || s.Kind != other.Kind {
		return false
	}
	if s.MinWireVersion != other.MinWireVersion || s.MaxWireVersion != other.MaxWireVersion {
		return false
	}
	if !s.Tags.Equal(other.Tags) {
		return false
	}
	if !s.LastWriteDate.Equal(other.LastWriteDate) {
		return false
	}
	if !electionIDEqual(s.ElectionID, other.ElectionID) {
		return false
	}
	if s.SetName != other.SetName {
		return false
	}
	if !setVersionEqual(s.SetVersion, other.SetVersion) {
		return false
	}
	if s.Primary != other.Primary {
		return false
	}
	if s.HeartbeatInterval != other.HeartbeatInterval {
		return false
	}
	if !slices.Equal(s.Compressors, other.Compressors) || !slices.Equal(s.Hosts, other.Hosts) {
		return false
	}
	if (s.Err == nil) != (other.Err == nil) {
		return false
	}
	if s.Err != nil && other.Err != nil && s.Err.Error() != other.Err.Error() {
		return false
	}
	return true
}

func electionIDEqual(a, b *uint64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func setVersionEqual(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// SetAverageRTT returns a copy of s with the RTT fields set, used by the
// monitor after computing the exponential moving average.
func (s Server) SetAverageRTT(rtt time.Duration) Server {
	s.RoundTripTime = rtt
	s.RoundTripTimeSet = true
	return s
}

// StaleSetVersionElection reports whether desc carries a setVersion/electionID
// pair that is older than the maximum this topology has already observed
// from a claimed primary. Such stale claims from a claimed primary are
// ignored by the topology state machine.
func StaleSetVersionElection(maxSetVersion *int64, maxElectionID *uint64, desc Server) bool {
	if desc.Kind != RSPrimary {
		return false
	}
	if desc.SetVersion == nil || desc.ElectionID == nil {
		return false
	}
	if maxSetVersion == nil || maxElectionID == nil {
		return false
	}
	if *desc.SetVersion < *maxSetVersion {
		return true
	}
	if *desc.SetVersion == *maxSetVersion && *desc.ElectionID < *maxElectionID {
		return true
	}
	return false
}
