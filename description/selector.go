// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package description

import (
	"time"
)

// ServerSelector filters a candidate server list down to the servers that
// satisfy some selection criterion. Selectors are pure functions of the
// topology description and its already-computed candidate set; they never
// touch pools or perform I/O, hold no locks across suspension, and never
// block — the caller owns waiting on topology change notifications.
type ServerSelector interface {
	SelectServer(Topology, []Server) ([]Server, error)
}

// ServerSelectorFunc adapts a function to the ServerSelector interface.
type ServerSelectorFunc func(Topology, []Server) ([]Server, error)

// SelectServer implements ServerSelector.
func (f ServerSelectorFunc) SelectServer(t Topology, candidates []Server) ([]Server, error) {
	return f(t, candidates)
}

// CompositeSelector combines several selectors, applying each in turn to the
// output of the last.
func CompositeSelector(selectors []ServerSelector) ServerSelector {
	return ServerSelectorFunc(func(t Topology, candidates []Server) ([]Server, error) {
		var err error
		for _, sel := range selectors {
			candidates, err = sel.SelectServer(t, candidates)
			if err != nil {
				return nil, err
			}
		}
		return candidates, nil
	})
}

// WriteSelector returns the data-bearing servers eligible to receive writes:
// for non-replica-set topologies, any data-bearing server is fine (the
// server itself rejects a write it cannot serve); for a replica set, only
// the primary.
func WriteSelector() ServerSelector {
	return ServerSelectorFunc(func(t Topology, candidates []Server) ([]Server, error) {
		switch t.Kind {
		case ReplicaSetWithPrimary:
			var out []Server
			for _, c := range candidates {
				if c.Kind == RSPrimary {
					out = append(out, c)
				}
			}
			return out, nil
		case ReplicaSetNoPrimary:
			return nil, nil
		default:
			return candidates, nil
		}
	})
}

// modeCandidates narrows candidates to those matching mode for a replica
// set topology: primary only, secondary only, or any data-bearing node,
// depending on the read preference mode.
func modeCandidates(mode string, candidates []Server) []Server {
	var out []Server
	for _, c := range candidates {
		switch mode {
		case "primary":
			if c.Kind == RSPrimary {
				out = append(out, c)
			}
		case "secondary":
			if c.Kind == RSSecondary {
				out = append(out, c)
			}
		case "primaryPreferred", "secondaryPreferred", "nearest":
			if c.Kind == RSPrimary || c.Kind == RSSecondary {
				out = append(out, c)
			}
		}
	}
	return out
}

// ReadPrefSelector builds a ServerSelector from a read preference's mode,
// tag sets, and maximum staleness. The caller passes primitive values rather
// than *readpref.ReadPref to avoid an import cycle between this package and
// readpref.
func ReadPrefSelector(mode string, tagSets TagSetList, maxStaleness time.Duration, heartbeatInterval time.Duration) ServerSelector {
	return ServerSelectorFunc(func(t Topology, candidates []Server) ([]Server, error) {
		switch t.Kind {
		case Single, Sharded, LoadBalanced:
			// step 2: non-replica-set topologies — every data-bearing
			// candidate is eligible for reads regardless of mode.
		case ReplicaSetNoPrimary, ReplicaSetWithPrimary:
			candidates = modeCandidates(mode, candidates)
			if mode == "primary" {
				// primary mode never falls back to tag/staleness
				// filtering: there is exactly one acceptable server.
				return candidates, nil
			}
		default:
			return nil, nil
		}

		// step 3: tag sets.
		if len(tagSets) > 0 {
			candidates = tagSets.FirstMatching(candidates)
		}

		// step 4: maximum staleness.
		if maxStaleness > 0 {
			candidates = filterByStaleness(t, candidates, maxStaleness, heartbeatInterval)
		}

		return candidates, nil
	})
}

// filterByStaleness applies the two maximum-staleness formulas: one for a
// replica set with a known primary (comparing each secondary's lag against
// the primary), and one for a replica-set-no-primary topology (comparing
// against the freshest secondary observed).
func filterByStaleness(t Topology, candidates []Server, maxStaleness, heartbeatInterval time.Duration) []Server {
	primary, hasPrimary := t.Primary()

	var maxSecondaryLastWrite time.Time
	if !hasPrimary {
		for _, s := range t.Servers {
			if s.Kind == RSSecondary && s.LastWriteDate.After(maxSecondaryLastWrite) {
				maxSecondaryLastWrite = s.LastWriteDate
			}
		}
	}

	var out []Server
	for _, c := range candidates {
		var staleness time.Duration
		if hasPrimary {
			if c.Addr == primary.Addr {
				out = append(out, c)
				continue
			}
			staleness = primary.LastWriteDate.Sub(c.LastWriteDate) +
				c.LastUpdateTime.Sub(primary.LastUpdateTime) + heartbeatInterval
		} else {
			staleness = maxSecondaryLastWrite.Sub(c.LastWriteDate) + heartbeatInterval
		}
		if staleness <= maxStaleness {
			out = append(out, c)
		}
	}
	return out
}

// LatencySelector restricts candidates to the local-threshold window:
// servers whose RTT is within min(candidateRTT)+localThreshold of the
// fastest candidate. localThreshold=0 collapses to picking the minimum-RTT
// candidate only.
func LatencySelector(localThreshold time.Duration) ServerSelector {
	return ServerSelectorFunc(func(_ Topology, candidates []Server) ([]Server, error) {
		if len(candidates) == 0 {
			return nil, nil
		}
		min := candidates[0].RoundTripTime
		for _, c := range candidates[1:] {
			if c.RoundTripTime < min {
				min = c.RoundTripTime
			}
		}
		var out []Server
		for _, c := range candidates {
			if c.RoundTripTime-min <= localThreshold {
				out = append(out, c)
			}
		}
		return out, nil
	})
}
