// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package mongo

import (
	"testing"
	"time"

	"github.com/orcadb/godriver/internal/connstring"
	"github.com/orcadb/godriver/x/driver/topology"
	"github.com/stretchr/testify/require"
)

func TestTopologyOptionsDerivedFromConnString(t *testing.T) {
	cs, err := connstring.Parse("mongodb://a:1,b:2/?replicaSet=rs0&maxPoolSize=50&serverSelectionTimeoutMS=10&directConnection=false")
	require.NoError(t, err)

	opts := topologyOptions(&config{cs: cs})
	require.NotEmpty(t, opts)

	cfg := topology.NewConfig(opts...)
	require.Equal(t, []string{"a:1", "b:2"}, cfg.SeedList)
	require.Equal(t, "rs0", cfg.ReplicaSetName)
	require.Equal(t, uint64(50), cfg.ServerConfig.Pool.MaxPoolSize)
	require.Equal(t, 10*time.Millisecond, cfg.ServerSelectionTimeout)
}

func TestTopologyOptionsDirectConnectionSetsSingleMode(t *testing.T) {
	cs, err := connstring.Parse("mongodb://a:1/?directConnection=true")
	require.NoError(t, err)

	opts := topologyOptions(&config{cs: cs})
	cfg := topology.NewConfig(opts...)
	require.Equal(t, topology.SingleMode, cfg.Mode)
}
