// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"sync"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/oauth2"
)

// TokenCallback is the host-supplied function that obtains (or refreshes) an
// OIDC access token for the given audience. Token acquisition is delegated
// to a caller-supplied callback; the mechanism itself only owns caching and
// the two-step SASL exchange.
type TokenCallback func(ctx context.Context, audience string) (*oauth2.Token, error)

// DefaultAllowedHostSuffixes is the allow-list of host suffixes an OIDC
// token callback may be invoked against when the caller did not supply one
// explicitly (spec.md §4.F: "sensible defaults include the managed-cloud
// domain family and loopback addresses").
var DefaultAllowedHostSuffixes = []string{
	".mongodb.net",
	".mongodb-dev.net",
	".mongodb-qa.net",
	"localhost",
	"127.0.0.1",
}

func hostAllowed(host string, suffixes []string) bool {
	for _, suf := range suffixes {
		if host == suf || strings.HasSuffix(host, suf) {
			return true
		}
	}
	return false
}

// oidcCacheKey derives a stable cache key from (audience, username) via
// HKDF-SHA256 (golang.org/x/crypto/hkdf), so tokens for distinct principals
// sharing a process never collide in the shared cache even if one of the
// inputs is attacker-influenced.
func oidcCacheKey(audience, username string) string {
	h := hkdf.New(sha256.New, []byte(audience), []byte(username), []byte("godriver-oidc"))
	out := make([]byte, 16)
	_, _ = io.ReadFull(h, out)
	return hex.EncodeToString(out)
}

var oidcCache sync.Map // cache key -> *oauth2.Token

// oidcAuthenticator implements MONGODB-OIDC federated token auth. allowedHosts
// restricts which server hostnames the token callback may be invoked for,
// matching the driver spec's "must not send a token to a host the caller did
// not explicitly allow-list" requirement.
type oidcAuthenticator struct {
	cred            Cred
	callback        TokenCallback
	allowedSuffixes []string
}

func newOIDCAuthenticator(cred Cred) (Authenticator, error) {
	cb, ok := cred.MechanismProperties["callback"].(TokenCallback)
	if !ok {
		return nil, fmt.Errorf("auth: MONGODB-OIDC requires a TokenCallback mechanism property")
	}
	suffixes := DefaultAllowedHostSuffixes
	if custom, ok := cred.MechanismProperties["ALLOWED_HOSTS"].([]string); ok && len(custom) > 0 {
		suffixes = custom
	}
	return &oidcAuthenticator{cred: cred, callback: cb, allowedSuffixes: suffixes}, nil
}

func (a *oidcAuthenticator) Mechanism() string { return "MONGODB-OIDC" }

func (a *oidcAuthenticator) Auth(ctx context.Context, speaker Speaker) error {
	if host := speaker.Host(); !hostAllowed(host, a.allowedSuffixes) {
		return fmt.Errorf("auth: oidc token callback not invoked for disallowed host %q", host)
	}

	audience := a.cred.Source
	key := oidcCacheKey(audience, a.cred.Username)

	var token *oauth2.Token
	if cached, ok := oidcCache.Load(key); ok {
		token = cached.(*oauth2.Token)
	}
	if token == nil || !token.Valid() {
		fresh, err := a.callback(ctx, audience)
		if err != nil {
			return fmt.Errorf("auth: oidc token callback: %w", err)
		}
		token = fresh
		oidcCache.Store(key, token)
	}

	cmd := map[string]interface{}{
		"saslStart": 1,
		"mechanism": "MONGODB-OIDC",
		"payload":   []byte(fmt.Sprintf(`{"jwt":"%s"}`, token.AccessToken)),
		"$db":       "$external",
	}
	if err := speaker.WriteCommand(ctx, "$external", cmd); err != nil {
		return fmt.Errorf("auth: oidc write: %w", err)
	}
	reply, err := speaker.ReadReply(ctx)
	if err != nil {
		return fmt.Errorf("auth: oidc read: %w", err)
	}
	if !reply.Done {
		oidcCache.Delete(key)
		return fmt.Errorf("auth: oidc conversation did not complete, discarding cached token")
	}
	return nil
}
