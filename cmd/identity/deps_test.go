package main

import (
	"context"
	"sync/atomic"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/plateful/identity/internal/observability"
)

// mockDatabase satisfies Database without a server. The serve tests cancel
// their context before any query runs, so the query methods only need to
// return inert zero values.
type mockDatabase struct {
	closed atomic.Bool
}

func (m *mockDatabase) Exec(_ context.Context, _ string, _ ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, pgx.ErrNoRows
}

func (m *mockDatabase) Query(_ context.Context, _ string, _ ...any) (pgx.Rows, error) {
	return nil, pgx.ErrNoRows
}

func (m *mockDatabase) QueryRow(_ context.Context, _ string, _ ...any) pgx.Row {
	return errRow{}
}

func (m *mockDatabase) Begin(_ context.Context) (pgx.Tx, error) {
	return nil, pgx.ErrNoRows
}

func (m *mockDatabase) Close() {
	m.closed.Store(true)
}

// errRow is a pgx.Row whose Scan always reports no rows.
type errRow struct{}

func (errRow) Scan(_ ...any) error { return pgx.ErrNoRows }

// mockMigrator implements AutoMigrator for testing.
type mockMigrator struct {
	upCalled    bool
	upError     error
	closeCalled bool
	closeError  error
}

func (m *mockMigrator) Up() error {
	m.upCalled = true
	return m.upError
}

func (m *mockMigrator) Close() error {
	m.closeCalled = true
	return m.closeError
}

// mockAPIServer implements APIServer for testing.
type mockAPIServer struct {
	startCalled bool
	startError  error
	stopCalled  bool
	errCh       chan error
}

func (m *mockAPIServer) Start() (<-chan error, error) {
	m.startCalled = true
	if m.startError != nil {
		return nil, m.startError
	}
	if m.errCh == nil {
		m.errCh = make(chan error, 1)
	}
	return m.errCh, nil
}

func (m *mockAPIServer) Stop(_ context.Context) error {
	m.stopCalled = true
	return nil
}

func (m *mockAPIServer) Addr() string { return "127.0.0.1:0" }

// mockObservabilityServer implements ObservabilityServer for testing.
type mockObservabilityServer struct {
	startCalled bool
	startError  error
	stopCalled  bool
	errCh       chan error
}

func (m *mockObservabilityServer) Start() (<-chan error, error) {
	m.startCalled = true
	if m.startError != nil {
		return nil, m.startError
	}
	if m.errCh == nil {
		m.errCh = make(chan error, 1)
	}
	return m.errCh, nil
}

func (m *mockObservabilityServer) Stop(_ context.Context) error {
	m.stopCalled = true
	return nil
}

func (m *mockObservabilityServer) Addr() string { return "127.0.0.1:0" }

func (m *mockObservabilityServer) Metrics() *observability.Metrics { return nil }
