// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Plateful Contributors

// Package store manages PostgreSQL connectivity and schema migrations.
package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// ConnectOptions tune pool sizing and startup retry behavior.
type ConnectOptions struct {
	// MaxConns caps the pool size. Zero keeps pgxpool's default.
	MaxConns int32
	// PingRetries is how many times Connect re-pings a database that is
	// not yet accepting connections, with fibonacci backoff between
	// attempts. Zero disables retrying.
	PingRetries uint64
	// PingBackoff is the base backoff between ping attempts.
	PingBackoff time.Duration
}

// DefaultConnectOptions covers the common case of a service starting
// alongside its database, as in compose setups where PostgreSQL may
// accept connections a few seconds after the service process starts.
func DefaultConnectOptions() ConnectOptions {
	return ConnectOptions{
		PingRetries: 5,
		PingBackoff: 500 * time.Millisecond,
	}
}

// Connect opens a pgx connection pool and verifies it with a ping.
// Failed pings are retried per opts; every other failure is terminal.
func Connect(ctx context.Context, dsn string, opts ConnectOptions) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, oops.Code("STORE_DSN_INVALID").
			With("operation", "parse database url").
			Wrap(err)
	}
	if opts.MaxConns > 0 {
		cfg.MaxConns = opts.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, oops.Code("STORE_CONNECT_FAILED").
			With("operation", "create connection pool").
			Wrap(err)
	}

	backoff := opts.PingBackoff
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}
	b := retry.WithMaxRetries(opts.PingRetries, retry.NewFibonacci(backoff))

	err = retry.Do(ctx, b, func(ctx context.Context) error {
		if err := pool.Ping(ctx); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		pool.Close()
		return nil, oops.Code("STORE_PING_FAILED").
			With("operation", "ping database").
			With("retries", opts.PingRetries).
			Wrap(err)
	}

	return pool, nil
}
