// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package metadata builds the client identification document sent with
// every hello/handshake command: driver name/version, OS, and application
// name, truncated field-by-field to stay under the wire limit the server
// enforces on the document.
package metadata

import (
	"encoding/json"
	"fmt"
	"runtime"

	"github.com/orcadb/godriver/internal/clientenv"
)

// MaxDocumentSize is the maximum encoded size of the client metadata
// document a server will accept.
const MaxDocumentSize = 512

const driverName = "godriver"

// DriverVersion is overridden at build time via -ldflags in a real release
// pipeline; left as a placeholder constant here.
var DriverVersion = "0.1.0"

type driverDoc struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type osDoc struct {
	Type         string `json:"type"`
	Name         string `json:"name,omitempty"`
	Architecture string `json:"architecture,omitempty"`
}

type clientDoc struct {
	Driver      driverDoc `json:"driver"`
	OS          osDoc     `json:"os"`
	Platform    string    `json:"platform,omitempty"`
	Application *appDoc   `json:"application,omitempty"`
	Env         *envDoc   `json:"env,omitempty"`
}

type envDoc struct {
	Name       string `json:"name"`
	Region     string `json:"region,omitempty"`
	MemoryMB   string `json:"memory_mb,omitempty"`
	TimeoutSec string `json:"timeout_sec,omitempty"`
}

type appDoc struct {
	Name string `json:"name"`
}

// MaxAppNameBytes is the maximum UTF-8 byte length an application name may
// have; longer names are rejected outright rather than silently truncated.
const MaxAppNameBytes = 128

// BuildClientDocument returns the JSON-encoded client metadata document for
// appName, shrinking it (in the order: drop platform, drop os.name/arch,
// truncate app name, drop application entirely) until it fits
// MaxDocumentSize, matching the order the server-side handshake spec
// mandates degrading optional fields.
func BuildClientDocument(appName string) ([]byte, error) {
	if len(appName) > MaxAppNameBytes {
		return nil, fmt.Errorf("metadata: application name exceeds %d bytes", MaxAppNameBytes)
	}
	doc := clientDoc{
		Driver: driverDoc{Name: driverName, Version: DriverVersion},
		OS: osDoc{
			Type:         runtime.GOOS,
			Architecture: runtime.GOARCH,
		},
		Platform: fmt.Sprintf("go%s", runtime.Version()),
	}
	if appName != "" {
		doc.Application = &appDoc{Name: appName}
	}
	if env := clientenv.Detect(); env.Name != clientenv.Unknown {
		doc.Env = &envDoc{Name: string(env.Name), Region: env.Region, MemoryMB: env.MemoryMB, TimeoutSec: env.TimeoutSec}
	}

	encoded, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("metadata: encoding client document: %w", err)
	}
	if len(encoded) <= MaxDocumentSize {
		return encoded, nil
	}

	doc.Platform = ""
	encoded, err = json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	if len(encoded) <= MaxDocumentSize {
		return encoded, nil
	}

	doc.OS.Architecture = ""
	doc.OS.Name = ""
	encoded, err = json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	if len(encoded) <= MaxDocumentSize {
		return encoded, nil
	}

	if doc.Application != nil {
		for len(doc.Application.Name) > 0 {
			doc.Application.Name = doc.Application.Name[:len(doc.Application.Name)-1]
			encoded, err = json.Marshal(doc)
			if err != nil {
				return nil, err
			}
			if len(encoded) <= MaxDocumentSize {
				return encoded, nil
			}
		}
		doc.Application = nil
	}

	encoded, err = json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	return encoded, nil
}
