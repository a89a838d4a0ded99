// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package auth

import (
	"context"
	"fmt"
)

// plainAuthenticator implements SASL PLAIN: a single message carrying
// authzid\0authcid\0password, used for LDAP-proxied authentication.
type plainAuthenticator struct {
	cred Cred
}

func newPlainAuthenticator(cred Cred) Authenticator {
	return &plainAuthenticator{cred: cred}
}

func (a *plainAuthenticator) Mechanism() string { return "PLAIN" }

func (a *plainAuthenticator) Auth(ctx context.Context, speaker Speaker) error {
	payload := fmt.Sprintf("\x00%s\x00%s", a.cred.Username, a.cred.Password)
	cmd := map[string]interface{}{
		"saslStart": 1,
		"mechanism": "PLAIN",
		"payload":   []byte(payload),
		"$db":       authSource(a.cred),
	}
	if err := speaker.WriteCommand(ctx, authSource(a.cred), cmd); err != nil {
		return fmt.Errorf("auth: plain write: %w", err)
	}
	reply, err := speaker.ReadReply(ctx)
	if err != nil {
		return fmt.Errorf("auth: plain read: %w", err)
	}
	if !reply.Done {
		return fmt.Errorf("auth: plain conversation did not complete in one round trip")
	}
	return nil
}
