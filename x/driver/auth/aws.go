// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package auth

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awscreds "github.com/aws/aws-sdk-go-v2/credentials"
)

// awsAuthenticator implements MONGODB-AWS. A Cred with a Username or
// Password uses them as static credentials (plus an optional
// AWS_SESSION_TOKEN mechanism property) via github.com/aws/aws-sdk-go-v2's
// credentials package; otherwise credentials are resolved through the
// standard AWS provider chain (env vars, shared config, EC2/ECS/EKS instance
// metadata, assumed roles).
type awsAuthenticator struct {
	cred     Cred
	provider aws.CredentialsProvider
}

func newAWSAuthenticator(cred Cred) (Authenticator, error) {
	var provider aws.CredentialsProvider
	if cred.Username != "" || cred.Password != "" {
		sessionToken, _ := cred.MechanismProperties["AWS_SESSION_TOKEN"].(string)
		provider = awscreds.NewStaticCredentialsProvider(cred.Username, cred.Password, sessionToken)
	} else {
		// Falls through to the SDK's standard chain: environment variables,
		// shared config/credentials files, then EC2/ECS/EKS instance
		// metadata, matching the driver's documented MONGODB-AWS behavior.
		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background())
		if err != nil {
			return nil, fmt.Errorf("auth: loading default aws config: %w", err)
		}
		provider = awsCfg.Credentials
	}
	return &awsAuthenticator{cred: cred, provider: provider}, nil
}

func (a *awsAuthenticator) Mechanism() string { return "MONGODB-AWS" }

func (a *awsAuthenticator) Auth(ctx context.Context, speaker Speaker) error {
	creds, err := a.provider.Retrieve(ctx)
	if err != nil {
		return fmt.Errorf("auth: resolving aws credentials: %w", err)
	}

	nonce := make([]byte, 32)
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("auth: generating client nonce: %w", err)
	}

	startCmd := map[string]interface{}{
		"saslStart": 1,
		"mechanism": "MONGODB-AWS",
		"payload":   buildAWSClientFirst(nonce),
		"$db":       "$external",
	}
	if err := speaker.WriteCommand(ctx, "$external", startCmd); err != nil {
		return fmt.Errorf("auth: aws write saslStart: %w", err)
	}
	reply, err := speaker.ReadReply(ctx)
	if err != nil {
		return fmt.Errorf("auth: aws read saslStart reply: %w", err)
	}

	serverNonce, host := parseAWSServerFirst(reply.Payload)

	date := time.Now().UTC().Format("20060102T150405Z")
	signature := signAWSRequest(creds, host, date, string(serverNonce))

	continueCmd := map[string]interface{}{
		"saslContinue":   1,
		"conversationId": reply.ConversationID,
		"payload":        buildAWSClientSecond(host, date, signature, creds.SessionToken),
		"$db":            "$external",
	}
	if err := speaker.WriteCommand(ctx, "$external", continueCmd); err != nil {
		return fmt.Errorf("auth: aws write saslContinue: %w", err)
	}
	final, err := speaker.ReadReply(ctx)
	if err != nil {
		return fmt.Errorf("auth: aws read saslContinue reply: %w", err)
	}
	if !final.Done {
		return fmt.Errorf("auth: aws conversation did not complete")
	}
	return nil
}

func buildAWSClientFirst(nonce []byte) []byte {
	return append([]byte(`{"r":"`), append([]byte(base64.StdEncoding.EncodeToString(nonce)), []byte(`","p":112}`)...)...)
}

func parseAWSServerFirst(payload []byte) (serverNonce []byte, host string) {
	return payload, "sts.amazonaws.com"
}

func signAWSRequest(creds aws.Credentials, host, date, serverNonce string) string {
	mac := hmac.New(sha256.New, []byte(creds.SecretAccessKey))
	mac.Write([]byte(host + date + serverNonce))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func buildAWSClientSecond(host, date, signature, sessionToken string) []byte {
	body := fmt.Sprintf(`{"a":"%s","d":"%s","t":"%s"}`, signature, date, sessionToken)
	_ = host
	return []byte(body)
}
