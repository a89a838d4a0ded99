// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package connstring parses the URI-style connection string: scheme,
// optional credentials, comma-separated host list, default authentication
// source, and a key=value option set.
package connstring

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/orcadb/godriver/description"
	"github.com/orcadb/godriver/readpref"
)

// ConnString is the parsed result of a connection string.
type ConnString struct {
	Original string

	Hosts    []string
	Username string
	Password string

	AuthSource              string
	AuthMechanism           string
	AuthMechanismProperties map[string]string

	ReplicaSet     string
	AppName        string
	Compressors    []string
	TLS            bool
	DirectConnection bool
	LoadBalanced   bool

	ReadPreferenceMode string
	ReadPreferenceTags description.TagSetList
	MaxStaleness       time.Duration

	LocalThreshold         time.Duration
	HeartbeatInterval      time.Duration
	ServerSelectionTimeout time.Duration
	ConnectTimeout         time.Duration
	SocketTimeout          time.Duration
	Timeout                time.Duration

	MaxPoolSize      uint64
	MinPoolSize      uint64
	MaxIdleTime      time.Duration
	MaxConnecting    uint64
	WaitQueueTimeout time.Duration

	RetryReads  bool
	RetryWrites bool
}

// Parse parses a MongoDB-style connection string URI into a ConnString. Per
// the option list the core recognizes: replicaSet, readPreference,
// readPreferenceTags, maxStalenessSeconds, localThresholdMS,
// heartbeatFrequencyMS, serverSelectionTimeoutMS, connectTimeoutMS,
// socketTimeoutMS, maxPoolSize, minPoolSize, maxIdleTimeMS, maxConnecting,
// waitQueueTimeoutMS, retryReads, retryWrites, authMechanism, authSource,
// authMechanismProperties, appName, compressors, tls, directConnection,
// loadBalanced, timeoutMS. Keys are matched case-insensitively.
func Parse(uri string) (*ConnString, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("connstring: parsing uri: %w", err)
	}
	if u.Scheme != "mongodb" && u.Scheme != "mongodb+srv" {
		return nil, fmt.Errorf("connstring: unsupported scheme %q", u.Scheme)
	}

	cs := &ConnString{
		Original:                uri,
		RetryReads:              true,
		RetryWrites:             true,
		AuthMechanismProperties: map[string]string{},
	}

	if u.User != nil {
		cs.Username = u.User.Username()
		cs.Password, _ = u.User.Password()
	}

	hostSpec := u.Host
	cs.Hosts = strings.Split(hostSpec, ",")

	if len(u.Path) > 1 {
		cs.AuthSource = strings.TrimPrefix(u.Path, "/")
	}

	q := u.Query()
	for key := range q {
		if err := cs.applyOption(strings.ToLower(key), q.Get(key)); err != nil {
			return nil, err
		}
	}

	if cs.AuthSource == "" {
		cs.AuthSource = "admin"
	}

	return cs, nil
}

func (cs *ConnString) applyOption(key, value string) error {
	switch key {
	case "replicaset":
		cs.ReplicaSet = value
	case "appname":
		cs.AppName = value
	case "compressors":
		cs.Compressors = strings.Split(value, ",")
	case "tls", "ssl":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("connstring: tls: %w", err)
		}
		cs.TLS = b
	case "directconnection":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("connstring: directConnection: %w", err)
		}
		cs.DirectConnection = b
	case "loadbalanced":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("connstring: loadBalanced: %w", err)
		}
		cs.LoadBalanced = b
	case "authmechanism":
		cs.AuthMechanism = value
	case "authsource":
		cs.AuthSource = value
	case "authmechanismproperties":
		for _, pair := range strings.Split(value, ",") {
			kv := strings.SplitN(pair, ":", 2)
			if len(kv) == 2 {
				cs.AuthMechanismProperties[kv[0]] = kv[1]
			}
		}
	case "readpreference":
		cs.ReadPreferenceMode = value
	case "readpreferencetags":
		tagSet := description.TagSet{}
		for _, pair := range strings.Split(value, ",") {
			kv := strings.SplitN(pair, ":", 2)
			if len(kv) == 2 {
				tagSet[kv[0]] = kv[1]
			}
		}
		cs.ReadPreferenceTags = append(cs.ReadPreferenceTags, tagSet)
	case "maxstalenessseconds":
		secs, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("connstring: maxStalenessSeconds: %w", err)
		}
		cs.MaxStaleness = time.Duration(secs) * time.Second
	case "localthresholdms":
		return cs.setMillis(&cs.LocalThreshold, value, "localThresholdMS")
	case "heartbeatfrequencyms":
		return cs.setMillis(&cs.HeartbeatInterval, value, "heartbeatFrequencyMS")
	case "serverselectiontimeoutms":
		return cs.setMillis(&cs.ServerSelectionTimeout, value, "serverSelectionTimeoutMS")
	case "connecttimeoutms":
		return cs.setMillis(&cs.ConnectTimeout, value, "connectTimeoutMS")
	case "sockettimeoutms":
		return cs.setMillis(&cs.SocketTimeout, value, "socketTimeoutMS")
	case "timeoutms":
		return cs.setMillis(&cs.Timeout, value, "timeoutMS")
	case "maxidletimems":
		return cs.setMillis(&cs.MaxIdleTime, value, "maxIdleTimeMS")
	case "waitqueuetimeoutms":
		return cs.setMillis(&cs.WaitQueueTimeout, value, "waitQueueTimeoutMS")
	case "maxpoolsize":
		return cs.setUint(&cs.MaxPoolSize, value, "maxPoolSize")
	case "minpoolsize":
		return cs.setUint(&cs.MinPoolSize, value, "minPoolSize")
	case "maxconnecting":
		return cs.setUint(&cs.MaxConnecting, value, "maxConnecting")
	case "retryreads":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("connstring: retryReads: %w", err)
		}
		cs.RetryReads = b
	case "retrywrites":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("connstring: retryWrites: %w", err)
		}
		cs.RetryWrites = b
	}
	return nil
}

func (cs *ConnString) setMillis(dst *time.Duration, value, name string) error {
	ms, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("connstring: %s: %w", name, err)
	}
	*dst = time.Duration(ms) * time.Millisecond
	return nil
}

func (cs *ConnString) setUint(dst *uint64, value, name string) error {
	n, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return fmt.Errorf("connstring: %s: %w", name, err)
	}
	*dst = n
	return nil
}

// defaultHeartbeatInterval is the fallback used to validate maxStaleness
// when a connection string does not set heartbeatFrequencyMS, matching the
// topology monitor's own default (x/driver/topology/server.go).
const defaultHeartbeatInterval = 10 * time.Second

// ReadPref builds a readpref.ReadPref from the parsed read-preference
// fields, defaulting to Primary when none was specified. It rejects a
// maxStalenessSeconds that violates spec.md §4.G step 4 ("staleness must be
// at least twice the heartbeat frequency") as a configuration error.
func (cs *ConnString) ReadPref() (*readpref.ReadPref, error) {
	opts := []readpref.Option{}
	if len(cs.ReadPreferenceTags) > 0 {
		opts = append(opts, readpref.WithTagSets(cs.ReadPreferenceTags...))
	}
	if cs.MaxStaleness > 0 {
		opts = append(opts, readpref.WithMaxStaleness(cs.MaxStaleness))
	}

	var rp *readpref.ReadPref
	switch strings.ToLower(cs.ReadPreferenceMode) {
	case "", "primary":
		rp = readpref.Primary()
	case "primarypreferred":
		rp = readpref.PrimaryPreferred(opts...)
	case "secondary":
		rp = readpref.Secondary(opts...)
	case "secondarypreferred":
		rp = readpref.SecondaryPreferred(opts...)
	case "nearest":
		rp = readpref.Nearest(opts...)
	default:
		return nil, fmt.Errorf("connstring: unknown read preference mode %q", cs.ReadPreferenceMode)
	}

	heartbeatInterval := cs.HeartbeatInterval
	if heartbeatInterval <= 0 {
		heartbeatInterval = defaultHeartbeatInterval
	}
	if err := rp.IsValid(heartbeatInterval); err != nil {
		return nil, fmt.Errorf("connstring: %w", err)
	}
	return rp, nil
}
