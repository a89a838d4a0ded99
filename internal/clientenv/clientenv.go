// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package clientenv detects the faas/paas environment a process is running
// in from well-known environment variables, for inclusion in the client
// metadata document's env field.
package clientenv

import "os"

// Name identifies a recognized hosting environment.
type Name string

// The recognized environment names.
const (
	Unknown     Name = "unknown"
	AWSLambda   Name = "aws.lambda"
	AzureFunc   Name = "azure.func"
	GCPFunc     Name = "gcp.func"
	Vercel      Name = "vercel"
)

// Info is the environment hint document: which provider, plus whichever of
// region/memory/timeout that provider's variables reported.
type Info struct {
	Name      Name
	Region    string
	MemoryMB  string
	TimeoutSec string
	URL       string
}

// Detect inspects the process environment and returns the matched hosting
// environment, or Unknown if zero or more than one provider's variables are
// present (an ambiguous match is reported as unknown rather than guessed).
func Detect() Info {
	matches := 0
	var info Info

	if v, ok := os.LookupEnv("AWS_EXECUTION_ENV"); ok && v != "" {
		matches++
		info = Info{Name: AWSLambda, Region: os.Getenv("AWS_REGION"), MemoryMB: os.Getenv("AWS_LAMBDA_FUNCTION_MEMORY_SIZE")}
	} else if v, ok := os.LookupEnv("AWS_LAMBDA_RUNTIME_API"); ok && v != "" {
		matches++
		info = Info{Name: AWSLambda, Region: os.Getenv("AWS_REGION"), MemoryMB: os.Getenv("AWS_LAMBDA_FUNCTION_MEMORY_SIZE")}
	}
	if v, ok := os.LookupEnv("FUNCTIONS_WORKER_RUNTIME"); ok && v != "" {
		matches++
		info = Info{Name: AzureFunc}
	}
	if k, ok1 := os.LookupEnv("K_SERVICE"); ok1 && k != "" {
		matches++
		info = Info{Name: GCPFunc, Region: os.Getenv("FUNCTION_REGION"), MemoryMB: os.Getenv("FUNCTION_MEMORY_MB"), TimeoutSec: os.Getenv("FUNCTION_TIMEOUT_SEC")}
	} else if fn, ok2 := os.LookupEnv("FUNCTION_NAME"); ok2 && fn != "" {
		matches++
		info = Info{Name: GCPFunc, Region: os.Getenv("FUNCTION_REGION"), MemoryMB: os.Getenv("FUNCTION_MEMORY_MB"), TimeoutSec: os.Getenv("FUNCTION_TIMEOUT_SEC")}
	}
	if v, ok := os.LookupEnv("VERCEL"); ok && v != "" {
		matches++
		info = Info{Name: Vercel, Region: os.Getenv("VERCEL_REGION"), URL: os.Getenv("VERCEL_URL")}
	}

	if matches != 1 {
		return Info{Name: Unknown}
	}
	return info
}
