// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package metadata

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildClientDocumentFitsUnderCap(t *testing.T) {
	doc, err := BuildClientDocument("myApp")
	require.NoError(t, err)
	require.LessOrEqual(t, len(doc), MaxDocumentSize)
	require.Contains(t, string(doc), "myApp")
	require.Contains(t, string(doc), driverName)
}

func TestBuildClientDocumentRejectsOversizedAppName(t *testing.T) {
	longName := strings.Repeat("x", MaxAppNameBytes+1)
	_, err := BuildClientDocument(longName)
	require.Error(t, err)
}

func TestBuildClientDocumentEmptyAppName(t *testing.T) {
	doc, err := BuildClientDocument("")
	require.NoError(t, err)
	require.NotContains(t, string(doc), `"application"`)
}
