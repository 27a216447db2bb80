// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package main

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hilsha/gatehouse/internal/store"
	"github.com/hilsha/gatehouse/pkg/errutil"
)

func mockPoolDeps(t *testing.T) (pgxmock.PgxPoolIface, *ServeDeps) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	return mock, &ServeDeps{
		PoolFactory: func(context.Context, store.PoolConfig, *slog.Logger) (Pool, error) {
			return mock, nil
		},
	}
}

func TestRunSweep(t *testing.T) {
	cfg := validConfig(t)
	mock, deps := mockPoolDeps(t)
	mock.ExpectExec("DELETE FROM sessions").
		WithArgs(pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("DELETE", 4))
	mock.ExpectExec("DELETE FROM purpose_tokens").
		WithArgs(pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("DELETE", 9))

	cmd := &cobra.Command{}
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)

	require.NoError(t, runSweep(context.Background(), cfg, cmd, deps, false))
	assert.Equal(t, "Deleted 4 expired sessions and 9 stale tokens\n", buf.String())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunSweep_JSON(t *testing.T) {
	cfg := validConfig(t)
	mock, deps := mockPoolDeps(t)
	mock.ExpectExec("DELETE FROM sessions").
		WithArgs(pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec("DELETE FROM purpose_tokens").
		WithArgs(pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("DELETE", 2))

	cmd := &cobra.Command{}
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)

	require.NoError(t, runSweep(context.Background(), cfg, cmd, deps, true))
	assert.JSONEq(t, `{"sessions":0,"tokens":2}`, buf.String())
}

func TestRunSweep_DeleteFails(t *testing.T) {
	cfg := validConfig(t)
	mock, deps := mockPoolDeps(t)
	mock.ExpectExec("DELETE FROM sessions").
		WithArgs(pgxmock.AnyArg()).
		WillReturnError(errors.New("connection reset"))
	mock.ExpectExec("DELETE FROM purpose_tokens").
		WithArgs(pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	err := runSweep(context.Background(), cfg, &cobra.Command{}, deps, false)
	errutil.AssertErrorCode(t, err, "SESSION_DELETE_EXPIRED_FAILED")
	assert.NoError(t, mock.ExpectationsWereMet(), "token sweep still runs")
}

func TestRunSweep_ConnectFails(t *testing.T) {
	cfg := validConfig(t)
	deps := &ServeDeps{
		PoolFactory: func(context.Context, store.PoolConfig, *slog.Logger) (Pool, error) {
			return nil, errors.New("no route to host")
		},
	}

	errutil.AssertErrorCode(t, runSweep(context.Background(), cfg, &cobra.Command{}, deps, false), "DB_CONNECT_FAILED")
}
