// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package topology

import (
	"context"
	"crypto/tls"
	"net"
	"time"

	"github.com/orcadb/godriver/event"
	"github.com/orcadb/godriver/x/driver/auth"
)

// MonitorMode represents the way in which a server is monitored.
type MonitorMode uint8

// The available monitoring modes.
const (
	AutomaticMode MonitorMode = iota
	SingleMode
)

// Dialer is the strategy used to open the raw transport connection to a
// server; overridable for tests (an in-memory net.Pipe dialer) and for
// callers needing a custom proxy/socks dial path.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context, network, address string) (net.Conn, error)

// DialContext implements Dialer.
func (f DialerFunc) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	return f(ctx, network, address)
}

var defaultDialer Dialer = DialerFunc((&net.Dialer{}).DialContext)

// PoolConfig configures the per-server connection pool (component E).
type PoolConfig struct {
	MinPoolSize      uint64
	MaxPoolSize      uint64
	MaxIdleTime      time.Duration
	MaxConnecting    uint64
	WaitQueueTimeout time.Duration
	PoolMonitor      *event.PoolMonitor
}

// DefaultPoolConfig returns the pool defaults the real driver ships with.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxPoolSize:   100,
		MaxConnecting: 2,
	}
}

// ServerConfig configures a single monitored server (components D, E, F).
type ServerConfig struct {
	HeartbeatInterval     time.Duration
	MinHeartbeatInterval  time.Duration
	HeartbeatTimeout      time.Duration
	AppName               string
	Compressors           []string
	ConnectTimeout        time.Duration
	ReadTimeout           time.Duration
	WriteTimeout          time.Duration
	TLSConfig             *tls.Config
	Dialer                Dialer
	Handshaker            Handshaker
	Authenticator         auth.Authenticator
	ServerAPIVersion      string
	LoadBalanced          bool
	Pool                  PoolConfig
	ServerMonitor         *event.ServerMonitor
}

// DefaultServerConfig returns the server defaults the real driver ships
// with (30s connect timeout, 10s heartbeat interval, 500ms min heartbeat
// interval per the SDAM spec's rate limit).
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HeartbeatInterval:    10 * time.Second,
		MinHeartbeatInterval: 500 * time.Millisecond,
		HeartbeatTimeout:     10 * time.Second,
		ConnectTimeout:       30 * time.Second,
		Pool:                 DefaultPoolConfig(),
	}
}

// Config configures a Topology (component C/D top level).
type Config struct {
	SeedList               []string
	Mode                   MonitorMode
	ReplicaSetName         string
	LoadBalanced           bool
	ServerSelectionTimeout time.Duration
	LocalThreshold         time.Duration
	ServerConfig           ServerConfig
	ServerMonitor          *event.ServerMonitor
}

// DefaultConfig returns the topology defaults the real driver ships with
// (30s server selection timeout, 15ms local threshold).
func DefaultConfig() Config {
	return Config{
		ServerSelectionTimeout: 30 * time.Second,
		LocalThreshold:         15 * time.Millisecond,
		ServerConfig:           DefaultServerConfig(),
	}
}

// Option configures a Config in place.
type Option func(*Config)

// WithSeedList sets the initial host list.
func WithSeedList(hosts ...string) Option {
	return func(c *Config) { c.SeedList = hosts }
}

// WithReplicaSetName sets the expected replica set name.
func WithReplicaSetName(name string) Option {
	return func(c *Config) { c.ReplicaSetName = name }
}

// WithMode sets direct-connection vs. automatic discovery.
func WithMode(mode MonitorMode) Option {
	return func(c *Config) { c.Mode = mode }
}

// WithLoadBalanced marks the deployment as a load balancer front-end.
func WithLoadBalanced(lb bool) Option {
	return func(c *Config) {
		c.LoadBalanced = lb
		c.ServerConfig.LoadBalanced = lb
	}
}

// WithServerSelectionTimeout sets the overall server-selection timeout.
func WithServerSelectionTimeout(d time.Duration) Option {
	return func(c *Config) { c.ServerSelectionTimeout = d }
}

// WithLocalThreshold sets the local-threshold window.
func WithLocalThreshold(d time.Duration) Option {
	return func(c *Config) { c.LocalThreshold = d }
}

// WithHeartbeatInterval sets the monitor's idle heartbeat interval.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(c *Config) { c.ServerConfig.HeartbeatInterval = d }
}

// WithConnectTimeout stores d as ServerConfig.ConnectTimeout. The dial and
// handshake paths do not read this field; the heartbeat check is bounded by
// HeartbeatTimeout instead.
func WithConnectTimeout(d time.Duration) Option {
	return func(c *Config) { c.ServerConfig.ConnectTimeout = d }
}

// WithSocketTimeout stores d as ServerConfig.ReadTimeout and WriteTimeout.
// No connection in this package reads these fields.
func WithSocketTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.ServerConfig.ReadTimeout = d
		c.ServerConfig.WriteTimeout = d
	}
}

// WithMaxPoolSize sets the pool's upper bound.
func WithMaxPoolSize(n uint64) Option {
	return func(c *Config) { c.ServerConfig.Pool.MaxPoolSize = n }
}

// WithMinPoolSize sets the pool's background-filled lower bound.
func WithMinPoolSize(n uint64) Option {
	return func(c *Config) { c.ServerConfig.Pool.MinPoolSize = n }
}

// WithMaxIdleTime sets the pool's idle-connection eviction age.
func WithMaxIdleTime(d time.Duration) Option {
	return func(c *Config) { c.ServerConfig.Pool.MaxIdleTime = d }
}

// WithMaxConnecting sets the pool's concurrent-establishment throttle.
func WithMaxConnecting(n uint64) Option {
	return func(c *Config) { c.ServerConfig.Pool.MaxConnecting = n }
}

// WithWaitQueueTimeout sets the pool-specific acquire wait timeout.
func WithWaitQueueTimeout(d time.Duration) Option {
	return func(c *Config) { c.ServerConfig.Pool.WaitQueueTimeout = d }
}

// WithAppName sets the application name advertised in client metadata.
func WithAppName(name string) Option {
	return func(c *Config) { c.ServerConfig.AppName = name }
}

// WithCompressors sets the advertised compressor list.
func WithCompressors(compressors ...string) Option {
	return func(c *Config) { c.ServerConfig.Compressors = compressors }
}

// WithTLSConfig sets the TLS configuration used for all connections.
func WithTLSConfig(cfg *tls.Config) Option {
	return func(c *Config) { c.ServerConfig.TLSConfig = cfg }
}

// WithDialer overrides the transport dialer.
func WithDialer(d Dialer) Option {
	return func(c *Config) { c.ServerConfig.Dialer = d }
}

// WithAuthenticator sets the handshake authenticator.
func WithAuthenticator(a auth.Authenticator) Option {
	return func(c *Config) { c.ServerConfig.Authenticator = a }
}

// WithServerMonitor sets the SDAM event listener.
func WithServerMonitor(m *event.ServerMonitor) Option {
	return func(c *Config) {
		c.ServerMonitor = m
		c.ServerConfig.ServerMonitor = m
	}
}

// WithPoolMonitor sets the CMAP event listener.
func WithPoolMonitor(m *event.PoolMonitor) Option {
	return func(c *Config) { c.ServerConfig.Pool.PoolMonitor = m }
}

// NewConfig builds a Config from DefaultConfig plus the given options.
func NewConfig(opts ...Option) Config {
	cfg := DefaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.ServerConfig.Dialer == nil {
		cfg.ServerConfig.Dialer = defaultDialer
	}
	return cfg
}
