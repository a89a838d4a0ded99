// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

type fakeSpeaker struct {
	host       string
	lastCmd    map[string]interface{}
	reply      Reply
	replyErr   error
	writeCalls int
}

func (s *fakeSpeaker) Host() string { return s.host }

func (s *fakeSpeaker) WriteCommand(ctx context.Context, dbName string, cmd interface{}) error {
	s.writeCalls++
	s.lastCmd, _ = cmd.(map[string]interface{})
	return nil
}

func (s *fakeSpeaker) ReadReply(ctx context.Context) (Reply, error) {
	return s.reply, s.replyErr
}

func TestHostAllowed(t *testing.T) {
	suffixes := DefaultAllowedHostSuffixes
	require.True(t, hostAllowed("cluster0.abcde.mongodb.net", suffixes))
	require.True(t, hostAllowed("localhost", suffixes))
	require.True(t, hostAllowed("127.0.0.1", suffixes))
	require.False(t, hostAllowed("evil.example.com", suffixes))
}

func TestNewOIDCAuthenticatorRequiresCallback(t *testing.T) {
	_, err := newOIDCAuthenticator(Cred{Mechanism: "MONGODB-OIDC"})
	require.Error(t, err)
}

func TestNewOIDCAuthenticatorUsesCustomAllowedHosts(t *testing.T) {
	cb := TokenCallback(func(ctx context.Context, audience string) (*oauth2.Token, error) {
		return &oauth2.Token{AccessToken: "tok"}, nil
	})
	a, err := newOIDCAuthenticator(Cred{
		Mechanism: "MONGODB-OIDC",
		MechanismProperties: map[string]interface{}{
			"callback":      cb,
			"ALLOWED_HOSTS": []string{"internal.example.com"},
		},
	})
	require.NoError(t, err)
	oa := a.(*oidcAuthenticator)
	require.Equal(t, []string{"internal.example.com"}, oa.allowedSuffixes)
}

func TestOIDCAuthRejectsDisallowedHost(t *testing.T) {
	cb := TokenCallback(func(ctx context.Context, audience string) (*oauth2.Token, error) {
		t.Fatal("callback must not be invoked for a disallowed host")
		return nil, nil
	})
	a, err := newOIDCAuthenticator(Cred{
		Mechanism:           "MONGODB-OIDC",
		MechanismProperties: map[string]interface{}{"callback": cb},
	})
	require.NoError(t, err)

	speaker := &fakeSpeaker{host: "evil.example.com"}
	err = a.Auth(context.Background(), speaker)
	require.Error(t, err)
	require.Zero(t, speaker.writeCalls)
}

func TestOIDCAuthCompletesForAllowedHost(t *testing.T) {
	cb := TokenCallback(func(ctx context.Context, audience string) (*oauth2.Token, error) {
		require.Equal(t, "$external", audience)
		return &oauth2.Token{AccessToken: "tok"}, nil
	})
	a, err := newOIDCAuthenticator(Cred{
		Source:              "$external",
		Username:            "svc-account",
		Mechanism:           "MONGODB-OIDC",
		MechanismProperties: map[string]interface{}{"callback": cb},
	})
	require.NoError(t, err)

	speaker := &fakeSpeaker{host: "cluster0.abcde.mongodb.net", reply: Reply{Done: true}}
	err = a.Auth(context.Background(), speaker)
	require.NoError(t, err)
	require.Equal(t, 1, speaker.writeCalls)
	require.Equal(t, "MONGODB-OIDC", speaker.lastCmd["mechanism"])
}

func TestOIDCAuthDiscardsCacheOnIncompleteConversation(t *testing.T) {
	cb := TokenCallback(func(ctx context.Context, audience string) (*oauth2.Token, error) {
		return &oauth2.Token{AccessToken: "tok"}, nil
	})
	a, err := newOIDCAuthenticator(Cred{
		Source:              "$external-incomplete",
		Mechanism:           "MONGODB-OIDC",
		MechanismProperties: map[string]interface{}{"callback": cb},
	})
	require.NoError(t, err)

	speaker := &fakeSpeaker{host: "localhost", reply: Reply{Done: false}}
	err = a.Auth(context.Background(), speaker)
	require.Error(t, err)

	_, cached := oidcCache.Load(oidcCacheKey("$external-incomplete", ""))
	require.False(t, cached)
}
