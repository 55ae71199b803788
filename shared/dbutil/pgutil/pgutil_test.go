// Copyright (C) 2026 Tidemark Authors.
// See LICENSE for copying information.

package pgutil

import (
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
	"github.com/zeebo/errs"
)

func TestQuoteIdentifier(t *testing.T) {
	require.Equal(t, `"users"`, QuoteIdentifier("users"))
	require.Equal(t, `"Weird""Name"`, QuoteIdentifier(`Weird"Name`))
	require.Equal(t, `"public"`, QuoteIdentifier("public"))
}

func TestQuoteLiteral(t *testing.T) {
	require.Equal(t, `'plain'`, QuoteLiteral("plain"))
	require.Equal(t, `'it''s'`, QuoteLiteral("it's"))
	require.Equal(t, ` E'a\\b'`, QuoteLiteral(`a\b`))
}

func TestErrorCode(t *testing.T) {
	require.Equal(t, "", ErrorCode(nil))
	require.Equal(t, "", ErrorCode(errors.New("nope")))

	pgErr := &pgconn.PgError{Code: "25P02"}
	require.Equal(t, "25P02", ErrorCode(pgErr))
	require.Equal(t, "25P02", ErrorCode(errs.Wrap(pgErr)))
}

func TestIsTransactionAborted(t *testing.T) {
	require.False(t, IsTransactionAborted(nil))
	require.True(t, IsTransactionAborted(&pgconn.PgError{Code: "25P02"}))
	require.True(t, IsTransactionAborted(errors.New("ERROR: current transaction is aborted, commands ignored until end of transaction block")))
	require.True(t, IsTransactionAborted(errors.New("was previously aborted")))
	require.False(t, IsTransactionAborted(errors.New("duplicate key value")))
}

func TestIsDataError(t *testing.T) {
	require.True(t, IsDataError(&pgconn.PgError{Code: "22P02"}))
	require.True(t, IsDataError(errors.New(`"Z" is not a valid binary digit`)))
	require.True(t, IsDataError(errors.New(`invalid input syntax for type integer: "x"`)))
	require.False(t, IsDataError(&pgconn.PgError{Code: "40001"}))
	require.False(t, IsDataError(nil))
}

func TestIsConnectivity(t *testing.T) {
	require.True(t, IsConnectivity(errors.New("read: connection reset by peer")))
	require.True(t, IsConnectivity(errors.New("i/o timeout")))
	require.False(t, IsConnectivity(errors.New("syntax error")))
	require.False(t, IsConnectivity(nil))
}
