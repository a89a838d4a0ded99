// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package description

// TagSet is an unordered key-value map attached to a replica-set member,
// matched against a caller-supplied list to influence selection.
type TagSet map[string]string

// ContainsAll reports whether ts has every key/value pair in other.
func (ts TagSet) ContainsAll(other TagSet) bool {
	for k, v := range other {
		if ts[k] != v {
			return false
		}
	}
	return true
}

// Equal reports whether two tag sets have identical contents.
func (ts TagSet) Equal(other TagSet) bool {
	if len(ts) != len(other) {
		return false
	}
	for k, v := range ts {
		if other[k] != v {
			return false
		}
	}
	return true
}

// TagSetList is an ordered list of tag sets; the first set with at least one
// matching candidate wins.
type TagSetList []TagSet

// FirstMatching returns the candidates that match the first tag set in the
// list matched by at least one candidate, or nil if no tag set matches any
// candidate. If the list is empty, all candidates are returned unfiltered.
func (l TagSetList) FirstMatching(candidates []Server) []Server {
	if len(l) == 0 {
		return candidates
	}
	for _, ts := range l {
		var matched []Server
		for _, c := range candidates {
			if c.Tags.ContainsAll(ts) {
				matched = append(matched, c)
			}
		}
		if len(matched) > 0 {
			return matched
		}
	}
	return nil
}
