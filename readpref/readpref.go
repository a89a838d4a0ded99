// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package readpref describes a caller's read intent: which kind of server
// is acceptable, optional tag-set preferences, and an optional maximum
// staleness bound. See spec.md §4.G.
package readpref

import (
	"fmt"
	"time"

	"github.com/orcadb/godriver/description"
)

// Mode represents a read preference mode.
type Mode uint8

// The read preference modes.
const (
	PrimaryMode Mode = iota
	PrimaryPreferredMode
	SecondaryMode
	SecondaryPreferredMode
	NearestMode
)

func (m Mode) String() string {
	switch m {
	case PrimaryMode:
		return "primary"
	case PrimaryPreferredMode:
		return "primaryPreferred"
	case SecondaryMode:
		return "secondary"
	case SecondaryPreferredMode:
		return "secondaryPreferred"
	case NearestMode:
		return "nearest"
	default:
		return "unknown"
	}
}

// ModeFromString parses the readPreference connection-string option value.
func ModeFromString(s string) (Mode, error) {
	switch s {
	case "primary":
		return PrimaryMode, nil
	case "primaryPreferred":
		return PrimaryPreferredMode, nil
	case "secondary":
		return SecondaryMode, nil
	case "secondaryPreferred":
		return SecondaryPreferredMode, nil
	case "nearest":
		return NearestMode, nil
	default:
		return 0, fmt.Errorf("unknown read preference mode %q", s)
	}
}

// ReadPref is a read preference: a mode plus the optional modifiers
// spec.md §4.G names (tag sets, maximum staleness).
type ReadPref struct {
	mode          Mode
	tagSets       description.TagSetList
	maxStaleness  time.Duration
	hedgeEnabled  *bool
}

// New constructs a ReadPref with the given mode and no modifiers.
func New(mode Mode, opts ...Option) *ReadPref {
	rp := &ReadPref{mode: mode}
	for _, o := range opts {
		o(rp)
	}
	return rp
}

// Primary returns the "primary" read preference.
func Primary() *ReadPref { return New(PrimaryMode) }

// PrimaryPreferred returns the "primaryPreferred" read preference.
func PrimaryPreferred(opts ...Option) *ReadPref { return New(PrimaryPreferredMode, opts...) }

// Secondary returns the "secondary" read preference.
func Secondary(opts ...Option) *ReadPref { return New(SecondaryMode, opts...) }

// SecondaryPreferred returns the "secondaryPreferred" read preference.
func SecondaryPreferred(opts ...Option) *ReadPref { return New(SecondaryPreferredMode, opts...) }

// Nearest returns the "nearest" read preference.
func Nearest(opts ...Option) *ReadPref { return New(NearestMode, opts...) }

// Mode returns the configured mode.
func (rp *ReadPref) Mode() Mode { return rp.mode }

// TagSets returns the configured tag-set preference list, if any.
func (rp *ReadPref) TagSets() description.TagSetList { return rp.tagSets }

// MaxStaleness returns the configured maximum staleness, or 0 if unset
// ("maximumStalenessMs = 0 disables the staleness filter", spec.md §8).
func (rp *ReadPref) MaxStaleness() time.Duration { return rp.maxStaleness }

// Option configures a ReadPref.
type Option func(*ReadPref)

// WithTagSets sets the ordered tag-set preference list.
func WithTagSets(tagSets ...description.TagSet) Option {
	return func(rp *ReadPref) { rp.tagSets = tagSets }
}

// WithMaxStaleness sets the maximum staleness bound.
func WithMaxStaleness(d time.Duration) Option {
	return func(rp *ReadPref) { rp.maxStaleness = d }
}

// IsValid enforces spec.md §4.G step 4: "Staleness must be at least twice
// the heartbeat frequency — lower values are a configuration error."
func (rp *ReadPref) IsValid(heartbeatInterval time.Duration) error {
	if rp.maxStaleness == 0 {
		return nil
	}
	if rp.maxStaleness < 2*heartbeatInterval {
		return fmt.Errorf("max staleness (%s) must be at least twice the heartbeat interval (%s)", rp.maxStaleness, heartbeatInterval)
	}
	return nil
}
