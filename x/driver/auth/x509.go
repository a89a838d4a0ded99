// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package auth

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"

	"github.com/youmark/pkcs8"
)

// x509Authenticator implements MONGODB-X509: the client certificate itself
// is the credential, presented during the TLS handshake; the auth command
// only asks the server to confirm the subject name it already saw.
type x509Authenticator struct {
	cred Cred
}

func newX509Authenticator(cred Cred) Authenticator {
	return &x509Authenticator{cred: cred}
}

func (a *x509Authenticator) Mechanism() string { return "MONGODB-X509" }

func (a *x509Authenticator) Auth(ctx context.Context, speaker Speaker) error {
	cmd := map[string]interface{}{
		"authenticate": 1,
		"mechanism":    "MONGODB-X509",
		"$db":          "$external",
	}
	if a.cred.Username != "" {
		cmd["user"] = a.cred.Username
	}
	if err := speaker.WriteCommand(ctx, "$external", cmd); err != nil {
		return fmt.Errorf("auth: x509 write: %w", err)
	}
	reply, err := speaker.ReadReply(ctx)
	if err != nil {
		return fmt.Errorf("auth: x509 read: %w", err)
	}
	if !reply.Done {
		return fmt.Errorf("auth: x509 conversation did not complete")
	}
	return nil
}

// SpeculativeAuthDocument implements auth.SpeculativeAuthenticator: X.509
// has no multi-step conversation, so its speculative document is the same
// single authenticate command Auth would otherwise send over a dedicated
// round trip.
func (a *x509Authenticator) SpeculativeAuthDocument() (map[string]interface{}, error) {
	doc := map[string]interface{}{
		"authenticate": 1,
		"mechanism":    "MONGODB-X509",
		"db":           "$external",
	}
	if a.cred.Username != "" {
		doc["user"] = a.cred.Username
	}
	return doc, nil
}

// ContinueFromSpeculative implements auth.SpeculativeAuthenticator: since
// the whole conversation is the one command already embedded in the hello,
// the reply completes it when its done field is true; otherwise the
// handshake falls through to Auth.
func (a *x509Authenticator) ContinueFromSpeculative(ctx context.Context, speaker Speaker, reply map[string]interface{}) (bool, error) {
	done, _ := reply["done"].(bool)
	return done, nil
}

// LoadClientCertificate decodes a possibly-encrypted PKCS#8 client key (as
// produced by most enterprise CA tooling) via github.com/youmark/pkcs8,
// which the standard library's tls package cannot parse on its own.
func LoadClientCertificate(certPEM, keyPEM []byte, passphrase []byte) (tls.Certificate, error) {
	certBlock, _ := pem.Decode(certPEM)
	if certBlock == nil {
		return tls.Certificate{}, fmt.Errorf("auth: no certificate PEM block found")
	}
	cert, err := x509.ParseCertificate(certBlock.Bytes)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("auth: parsing certificate: %w", err)
	}

	keyBlock, _ := pem.Decode(keyPEM)
	if keyBlock == nil {
		return tls.Certificate{}, fmt.Errorf("auth: no private key PEM block found")
	}

	var key interface{}
	if len(passphrase) > 0 {
		key, err = pkcs8.ParsePKCS8PrivateKey(keyBlock.Bytes, passphrase)
	} else {
		key, _, err = pkcs8.ParsePrivateKey(keyBlock.Bytes)
	}
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("auth: parsing pkcs8 private key: %w", err)
	}

	return tls.Certificate{
		Certificate: [][]byte{certBlock.Bytes},
		PrivateKey:  key,
		Leaf:        cert,
	}, nil
}
