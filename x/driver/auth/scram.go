// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package auth

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/xdg-go/scram"
	_ "github.com/xdg-go/stringprep" // SASLprep normalization pulled in by scram's HMAC-256 path
)

type scramHashFn int

const (
	scramSHA1 scramHashFn = iota
	scramSHA256
)

// scramAuthenticator drives the SCRAM-SHA-1/256 conversation via
// github.com/xdg-go/scram. The client half of the exchange is entirely
// delegated to the library; this type only owns the saslStart/saslContinue
// command framing.
type scramAuthenticator struct {
	cred  Cred
	hash  scramHashFn
	mech  string
	client *scram.Client
	conv  *scram.ClientConversation
}

func newScramAuthenticator(cred Cred, hash scramHashFn) (Authenticator, error) {
	var hg scram.HashGeneratorFcn
	var mech string
	switch hash {
	case scramSHA1:
		hg = scram.SHA1
		mech = "SCRAM-SHA-1"
	default:
		hg = scram.SHA256
		mech = "SCRAM-SHA-256"
	}
	client, err := hg.NewClient(cred.Username, cred.Password, "")
	if err != nil {
		return nil, fmt.Errorf("auth: building scram client: %w", err)
	}
	return &scramAuthenticator{cred: cred, hash: hash, mech: mech, client: client, conv: client.NewConversation()}, nil
}

func (a *scramAuthenticator) Mechanism() string { return a.mech }

func (a *scramAuthenticator) Auth(ctx context.Context, speaker Speaker) error {
	// Auth runs a whole conversation of its own, so one already started by
	// SpeculativeAuthDocument is replaced rather than stepped again.
	a.conv = a.client.NewConversation()
	payload, err := a.conv.Step("")
	if err != nil {
		return fmt.Errorf("auth: scram initial step: %w", err)
	}
	return a.converse(ctx, speaker, 0, []byte(payload))
}

// converse drives the saslStart/saslContinue loop starting from convID with
// payload as the next client message to send (convID 0 means saslStart has
// not yet been sent). Shared by Auth and ContinueFromSpeculative, which
// differ only in where the conversation starts.
func (a *scramAuthenticator) converse(ctx context.Context, speaker Speaker, convID int32, payload []byte) error {
	for {
		cmd := map[string]interface{}{
			"saslStart":      convID == 0,
			"saslContinue":   convID != 0,
			"conversationId": convID,
			"payload":        payload,
			"mechanism":      a.mech,
			"$db":            authSource(a.cred),
		}
		if convID == 0 {
			delete(cmd, "saslContinue")
			delete(cmd, "conversationId")
		} else {
			delete(cmd, "saslStart")
		}
		if err := speaker.WriteCommand(ctx, authSource(a.cred), cmd); err != nil {
			return fmt.Errorf("auth: scram write: %w", err)
		}
		reply, err := speaker.ReadReply(ctx)
		if err != nil {
			return fmt.Errorf("auth: scram read: %w", err)
		}
		convID = reply.ConversationID
		if reply.Done {
			return nil
		}
		if !a.conv.Done() {
			next, err := a.conv.Step(decodePayload(reply.Payload))
			if err != nil {
				return fmt.Errorf("auth: scram step: %w", err)
			}
			payload = []byte(next)
		}
	}
}

// SpeculativeAuthDocument implements auth.SpeculativeAuthenticator: the same
// first client message Auth would send as saslStart, folded into the hello
// command instead of a dedicated round trip.
func (a *scramAuthenticator) SpeculativeAuthDocument() (map[string]interface{}, error) {
	payload, err := a.conv.Step("")
	if err != nil {
		return nil, fmt.Errorf("auth: scram initial step: %w", err)
	}
	return map[string]interface{}{
		"saslStart": true,
		"mechanism": a.mech,
		"payload":   []byte(payload),
		"db":        authSource(a.cred),
	}, nil
}

// ContinueFromSpeculative implements auth.SpeculativeAuthenticator: the
// hello reply's speculativeAuthenticate document stands in for the
// saslStart reply Auth would otherwise have read over the wire, so the
// conversation resumes from there via saslContinue.
func (a *scramAuthenticator) ContinueFromSpeculative(ctx context.Context, speaker Speaker, reply map[string]interface{}) (bool, error) {
	done, _ := reply["done"].(bool)
	if done {
		return true, nil
	}
	var convID int32
	if v, ok := reply["conversationId"].(int32); ok {
		convID = v
	}
	var payload []byte
	if v, ok := reply["payload"].([]byte); ok {
		payload = v
	}
	if !a.conv.Done() {
		next, err := a.conv.Step(decodePayload(payload))
		if err != nil {
			return false, fmt.Errorf("auth: scram step: %w", err)
		}
		payload = []byte(next)
	}
	if err := a.converse(ctx, speaker, convID, payload); err != nil {
		return false, err
	}
	return true, nil
}

func decodePayload(p []byte) string {
	if len(p) == 0 {
		return ""
	}
	if decoded, err := base64.StdEncoding.DecodeString(string(p)); err == nil {
		return string(decoded)
	}
	return string(p)
}

func authSource(cred Cred) string {
	if cred.Source != "" {
		return cred.Source
	}
	return "admin"
}
