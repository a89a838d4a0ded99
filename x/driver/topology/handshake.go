// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package topology

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/orcadb/godriver/description"
	"github.com/orcadb/godriver/internal/metadata"
	"github.com/orcadb/godriver/x/driver/auth"
)

// Handshaker runs the two-phase handshake of spec.md §4.F over a freshly
// dialed, not-yet-usable rawConnection: first the hello/capability exchange
// (with an optional speculative-auth payload folded in), then, if the hello
// reply did not already complete authentication, the full mechanism
// negotiation.
type Handshaker interface {
	Handshake(ctx context.Context, conn *rawConnection) (description.Server, error)
}

type defaultHandshaker struct {
	appName          string
	compressors      []string
	loadBalanced     bool
	authenticator    auth.Authenticator
	serverAPIVersion string
	clientDoc        []byte

	negotiated Compressor
}

// NewHandshaker builds the standard two-phase Handshaker described in
// spec.md §4.F, grounded on the teacher's topology.Server connection setup
// and the official driver's operation/hello-style command building.
func NewHandshaker(cfg ServerConfig) (Handshaker, error) {
	doc, err := metadata.BuildClientDocument(cfg.AppName)
	if err != nil {
		return nil, fmt.Errorf("topology: building client metadata: %w", err)
	}
	return &defaultHandshaker{
		appName:          cfg.AppName,
		compressors:      cfg.Compressors,
		loadBalanced:     cfg.LoadBalanced,
		authenticator:    cfg.Authenticator,
		serverAPIVersion: cfg.ServerAPIVersion,
		clientDoc:        doc,
	}, nil
}

func (h *defaultHandshaker) Handshake(ctx context.Context, conn *rawConnection) (description.Server, error) {
	helloCmd := map[string]interface{}{
		"hello":          1,
		"client":         h.clientDoc,
		"compression":    h.compressors,
		"loadBalanced":   h.loadBalanced,
	}

	var speculativeAuth auth.SpeculativeAuthenticator
	if h.authenticator != nil {
		helloCmd["saslSupportedMechs"] = fmt.Sprintf("%s", h.authenticator.Mechanism())
		if sa, ok := h.authenticator.(auth.SpeculativeAuthenticator); ok {
			doc, err := sa.SpeculativeAuthDocument()
			if err != nil {
				return description.Server{}, fmt.Errorf("topology: building speculative auth document: %w", err)
			}
			helloCmd["speculativeAuthenticate"] = doc
			speculativeAuth = sa
		}
	}
	if h.serverAPIVersion != "" {
		helloCmd["apiVersion"] = h.serverAPIVersion
	}

	start := time.Now()
	reply, err := conn.roundTrip(ctx, "admin", helloCmd)
	rtt := time.Since(start)
	if err != nil {
		return description.Server{}, fmt.Errorf("topology: hello round trip: %w", err)
	}

	desc := parseHelloReply(conn.addr, reply).SetAverageRTT(rtt)

	if c, ok := negotiateCompressor(h.compressors, desc.Compressors); ok {
		h.negotiated = c
	}

	// Full auth only runs if speculative auth was not taken or failed
	// (spec.md §4.F): a hello reply carrying a speculativeAuthenticate
	// document means the server engaged with the embedded first message, and
	// ContinueFromSpeculative finishes that conversation without a separate
	// saslStart round trip.
	authCompleted := false
	if speculativeAuth != nil {
		if specReply, ok := reply["speculativeAuthenticate"].(map[string]interface{}); ok {
			speaker := &connSpeaker{conn: conn}
			done, err := speculativeAuth.ContinueFromSpeculative(ctx, speaker, specReply)
			if err != nil {
				return description.Server{}, fmt.Errorf("topology: speculative authentication: %w", err)
			}
			authCompleted = done
		}
	}

	if h.authenticator != nil && !authCompleted {
		speaker := &connSpeaker{conn: conn}
		if err := h.authenticator.Auth(ctx, speaker); err != nil {
			return description.Server{}, fmt.Errorf("topology: authentication: %w", err)
		}
	}

	return desc, nil
}

// NegotiatedCompressor returns the OP_COMPRESSED codec this handshake agreed
// on with the server, or nil if neither side named a usable compressor in
// common. A wire codec (out of scope here) would call Compress/Decompress on
// it for every message after the handshake completes.
func (h *defaultHandshaker) NegotiatedCompressor() Compressor {
	return h.negotiated
}

// connSpeaker adapts a rawConnection to the auth.Speaker interface so
// mechanism implementations never touch wire framing directly.
type connSpeaker struct {
	conn       *rawConnection
	lastReply  map[string]interface{}
}

// Host implements auth.Speaker: the hostname (no port) of the connection's
// address, used by the OIDC mechanism's allow-list check.
func (s *connSpeaker) Host() string {
	host, _, err := net.SplitHostPort(string(s.conn.addr))
	if err != nil {
		return string(s.conn.addr)
	}
	return host
}

func (s *connSpeaker) WriteCommand(ctx context.Context, dbName string, cmd interface{}) error {
	reply, err := s.conn.roundTrip(ctx, dbName, cmd)
	if err != nil {
		return err
	}
	s.lastReply = reply
	return nil
}

func (s *connSpeaker) ReadReply(ctx context.Context) (auth.Reply, error) {
	if s.lastReply == nil {
		return auth.Reply{}, fmt.Errorf("topology: no pending reply")
	}
	done, _ := s.lastReply["done"].(bool)
	var convID int32
	if v, ok := s.lastReply["conversationId"].(int32); ok {
		convID = v
	}
	var payload []byte
	if v, ok := s.lastReply["payload"].([]byte); ok {
		payload = v
	}
	return auth.Reply{Done: done, ConversationID: convID, Payload: payload, Raw: s.lastReply}, nil
}
