// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package auth implements the authentication mechanisms negotiated during
// the second phase of the handshake: SCRAM-SHA-1/256, X.509, PLAIN, GSSAPI
// (Kerberos), AWS cloud-identity tokens, and OIDC federated tokens. Each
// mechanism implements Authenticator against the Speaker a handshake
// provides, so the handshake driver never needs mechanism-specific branches
// beyond dispatch.
package auth

import (
	"context"
	"fmt"
)

// Cred holds the raw credentials a caller configured, before mechanism
// negotiation picks (or is told) which Authenticator to build.
type Cred struct {
	Source    string
	Username  string
	Password  string
	Mechanism string

	// MechanismProperties holds mechanism-specific options. Connection
	// strings can only populate plain string values (AWS_SESSION_TOKEN,
	// SERVICE_NAME, ...); a caller wiring a mechanism up directly in code
	// (notably MONGODB-OIDC's callback) passes a non-string value, so this
	// is interface{}-valued rather than map[string]string.
	MechanismProperties map[string]interface{}
}

// Speaker is the narrow slice of a handshake connection an Authenticator
// needs: send a command, read its reply. Implemented by the handshake
// connection wrapper so mechanisms never touch wire framing directly.
type Speaker interface {
	WriteCommand(ctx context.Context, dbName string, cmd interface{}) error
	ReadReply(ctx context.Context) (Reply, error)
	// Host returns the hostname (no port) of the server this Speaker talks
	// to, used by mechanisms that enforce a host allow-list (OIDC).
	Host() string
}

// Reply is the minimal decoded shape an Authenticator needs from a command
// reply: whether the conversation is done, the conversation id, and the
// opaque payload for mechanisms that exchange binary blobs (SCRAM, GSSAPI).
type Reply struct {
	Done        bool
	ConversationID int32
	Payload     []byte
	Raw         map[string]interface{}
}

// Authenticator runs a credential's handshake-time conversation to
// completion over a Speaker.
type Authenticator interface {
	// Mechanism returns the SASL/auth mechanism name this Authenticator
	// speaks, for diagnostics and the speculative-auth hello field.
	Mechanism() string
	Auth(ctx context.Context, speaker Speaker) error
}

// SpeculativeAuthenticator is implemented by mechanisms that can fold their
// first conversation step into the hello command, so the handshake avoids a
// dedicated saslStart round trip whenever the server accepts it (spec.md
// §4.F). Only SCRAM and X.509 implement it; mechanisms with no meaningful
// first client message (PLAIN, GSSAPI, AWS, OIDC) fall back to Auth's full
// conversation unconditionally.
type SpeculativeAuthenticator interface {
	Authenticator
	// SpeculativeAuthDocument returns the document to embed under
	// "speculativeAuthenticate" in the hello command.
	SpeculativeAuthDocument() (map[string]interface{}, error)
	// ContinueFromSpeculative resumes the conversation using the hello
	// reply's speculativeAuthenticate document. It reports true if
	// authentication completed without requiring any further round trip, in
	// which case the handshake driver must not call Auth afterward.
	ContinueFromSpeculative(ctx context.Context, speaker Speaker, reply map[string]interface{}) (bool, error)
}

// ErrNoMechanism is returned by NewAuthenticator when a Cred names a
// mechanism this package does not implement.
type ErrNoMechanism struct{ Name string }

func (e *ErrNoMechanism) Error() string {
	return fmt.Sprintf("auth: unsupported mechanism %q", e.Name)
}

// NewAuthenticator dispatches cred.Mechanism to the matching Authenticator
// constructor. An empty mechanism selects SCRAM-SHA-256. The choice is made
// here, before any hello is sent, and is not revised from the mechanisms a
// server advertises.
func NewAuthenticator(cred Cred) (Authenticator, error) {
	switch cred.Mechanism {
	case "SCRAM-SHA-1":
		return newScramAuthenticator(cred, scramSHA1)
	case "SCRAM-SHA-256", "":
		return newScramAuthenticator(cred, scramSHA256)
	case "MONGODB-X509":
		return newX509Authenticator(cred), nil
	case "PLAIN":
		return newPlainAuthenticator(cred), nil
	case "GSSAPI":
		return newGSSAPIAuthenticator(cred), nil
	case "MONGODB-AWS":
		return newAWSAuthenticator(cred)
	case "MONGODB-OIDC":
		return newOIDCAuthenticator(cred)
	default:
		return nil, &ErrNoMechanism{Name: cred.Mechanism}
	}
}
