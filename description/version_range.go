// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package description

import "fmt"

// VersionRange represents a range of valid wire versions, inclusive on both
// ends, as advertised by a single server in its hello reply.
type VersionRange struct {
	Min int32
	Max int32
}

// NewVersionRange creates a new VersionRange given a min and a max.
func NewVersionRange(min, max int32) VersionRange {
	return VersionRange{Min: min, Max: max}
}

// Includes returns whether the given version is included in this range.
func (vr VersionRange) Includes(v int32) bool {
	return v >= vr.Min && v <= vr.Max
}

// Intersect returns the overlap of two version ranges: the max of the two
// minimums and the min of the two maximums. The returned bool is false when
// that intersection is empty, meaning the two ranges are incompatible.
func Intersect(a, b VersionRange) (VersionRange, bool) {
	min := a.Min
	if b.Min > min {
		min = b.Min
	}
	max := a.Max
	if b.Max < max {
		max = b.Max
	}
	if min > max {
		return VersionRange{}, false
	}
	return VersionRange{Min: min, Max: max}, true
}

func (vr VersionRange) String() string {
	return fmt.Sprintf("[%d, %d]", vr.Min, vr.Max)
}
