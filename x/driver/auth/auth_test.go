// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package auth

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewAuthenticatorDispatchesByMechanism(t *testing.T) {
	cases := []struct {
		mechanism string
		want      string
	}{
		{"SCRAM-SHA-1", "SCRAM-SHA-1"},
		{"SCRAM-SHA-256", "SCRAM-SHA-256"},
		{"", "SCRAM-SHA-256"},
		{"MONGODB-X509", "MONGODB-X509"},
		{"PLAIN", "PLAIN"},
		{"GSSAPI", "GSSAPI"},
	}
	for _, c := range cases {
		t.Run(c.mechanism, func(t *testing.T) {
			a, err := NewAuthenticator(Cred{Mechanism: c.mechanism, Username: "u", Password: "p"})
			require.NoError(t, err)
			require.Equal(t, c.want, a.Mechanism())
		})
	}
}

func TestNewAuthenticatorRejectsUnknownMechanism(t *testing.T) {
	_, err := NewAuthenticator(Cred{Mechanism: "NOT-A-MECHANISM"})
	require.Error(t, err)
	var noMech *ErrNoMechanism
	require.ErrorAs(t, err, &noMech)
	require.Equal(t, "NOT-A-MECHANISM", noMech.Name)
}

func TestNewAuthenticatorAWSFallsBackToDefaultChainWithoutStaticCreds(t *testing.T) {
	a, err := NewAuthenticator(Cred{Mechanism: "MONGODB-AWS"})
	if err != nil {
		// No AWS environment/config available in this process. This test
		// covers the default-chain path (no Username/Password); the static
		// credential path is TestNewAuthenticatorAWSWithStaticCredentials,
		// so a chain-resolution error here is an environment limitation,
		// not a dispatch failure.
		t.Skipf("no AWS default credential chain in test environment: %v", err)
	}
	require.Equal(t, "MONGODB-AWS", a.Mechanism())
}

func TestNewAuthenticatorAWSWithStaticCredentials(t *testing.T) {
	a, err := NewAuthenticator(Cred{
		Mechanism: "MONGODB-AWS",
		Username:  "AKIAEXAMPLE",
		Password:  "secretkey",
	})
	require.NoError(t, err)
	require.Equal(t, "MONGODB-AWS", a.Mechanism())
}
