// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package address provides the Address type used to identify a single
// server endpoint within a deployment.
package address

import (
	"net"
	"strings"
)

// Address is the host:port (or unix socket path) that identifies a server.
// It is canonicalized before being used as a map key anywhere in this
// module, so that "localhost" and "localhost:27017" agree.
type Address string

// DefaultPort is used when an address carries no explicit port.
const DefaultPort = "27017"

// Canonicalize lower-cases the host portion and appends the default port
// if one was not supplied. Unix domain socket paths (anything containing a
// "/") are returned unchanged aside from trimming whitespace.
func (a Address) Canonicalize() Address {
	s := strings.TrimSpace(string(a))
	if s == "" {
		return a
	}
	if strings.Contains(s, "/") {
		return Address(s)
	}

	host, port, err := net.SplitHostPort(s)
	if err != nil {
		// no port present
		host = s
		port = DefaultPort
	}
	host = strings.ToLower(strings.TrimSpace(host))
	if port == "" {
		port = DefaultPort
	}
	return Address(net.JoinHostPort(host, port))
}

// String implements fmt.Stringer.
func (a Address) String() string {
	return string(a)
}
