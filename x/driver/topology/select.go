// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package topology

import (
	"context"
	"fmt"

	"github.com/orcadb/godriver/description"
	"github.com/orcadb/godriver/internal/randutil"
)

// selectServer runs one pass of server selection against desc: filter
// candidates through sel, and if at least one survives, draw one by
// power-of-two-choices (drawing two at random and keeping whichever has
// fewer in-flight operations, breaking ties arbitrarily), matching the
// teacher's own random draw seeded from randutil.LockedRand.
func selectServer(desc description.Topology, sel description.ServerSelector, rnd *randutil.LockedRand, inFlight func(description.Server) int) (description.Server, bool, error) {
	candidates := make([]description.Server, 0, len(desc.Servers))
	for _, s := range desc.Servers {
		if s.Kind != description.Unknown {
			candidates = append(candidates, s)
		}
	}

	filtered, err := sel.SelectServer(desc, candidates)
	if err != nil {
		return description.Server{}, false, err
	}
	if len(filtered) == 0 {
		return description.Server{}, false, nil
	}
	if len(filtered) == 1 {
		return filtered[0], true, nil
	}

	// Partial Fisher-Yates: draw up to two distinct candidates without
	// shuffling (or even touching) the rest of the slice (spec.md §4.G step
	// 7: "must not evaluate all candidates; it draws up to two non-null
	// entries").
	i := rnd.Intn(len(filtered))
	filtered[0], filtered[i] = filtered[i], filtered[0]
	j := 1 + rnd.Intn(len(filtered)-1)
	filtered[1], filtered[j] = filtered[j], filtered[1]

	a, b := filtered[0], filtered[1]
	if inFlight == nil {
		return a, true, nil
	}
	if inFlight(b) < inFlight(a) {
		return b, true, nil
	}
	return a, true, nil
}

// selectionLoop blocks on t's subscription until sel matches a candidate
// server or ctx's deadline elapses, per the blocking server-selection
// algorithm: snapshot the topology, attempt a selection, and if nothing
// matched, wait for the next description change and retry.
func (t *Topology) selectionLoop(ctx context.Context, sel description.ServerSelector) (description.Server, error) {
	sub, cancel, err := t.subscribe()
	if err != nil {
		return description.Server{}, err
	}
	defer cancel()

	for {
		desc := t.Description()
		if !desc.Compatible {
			return description.Server{}, &incompatibleError{err: desc.CompatibilityErr}
		}

		s, ok, err := selectServer(desc, sel, t.rnd, t.inFlightCount)
		if err != nil {
			return description.Server{}, err
		}
		if ok {
			return s, nil
		}

		select {
		case <-sub.updates:
		case <-ctx.Done():
			return description.Server{}, fmt.Errorf("topology: %w: %s", errServerSelectionTimeout, desc)
		}
	}
}

type incompatibleError struct{ err error }

func (e *incompatibleError) Error() string { return e.err.Error() }
func (e *incompatibleError) Unwrap() error { return e.err }
