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

// gssapiAuthenticator holds the Kerberos/SSPI mechanism's place in the
// dispatch table. Ticket negotiation is platform-specific (cgo on Linux via
// MIT krb5, SSPI on Windows) and is not built here: Auth always returns an
// error, sends no command and reads no mechanism property.
type gssapiAuthenticator struct {
	cred Cred
}

func newGSSAPIAuthenticator(cred Cred) Authenticator {
	return &gssapiAuthenticator{cred: cred}
}

func (a *gssapiAuthenticator) Mechanism() string { return "GSSAPI" }

func (a *gssapiAuthenticator) Auth(ctx context.Context, speaker Speaker) error {
	return fmt.Errorf("auth: GSSAPI requires a platform-specific build")
}
