// Copyright (C) 2026 Tidemark Authors.
// See LICENSE for copying information.

package normalize

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeSentinels(t *testing.T) {
	require.Equal(t, Null, Normalize("", "TEXT"))
	require.Equal(t, Null, Normalize("NULL", "TEXT"))
	require.Equal(t, Null, Normalize("null", "TEXT"))
	require.Equal(t, Null, Normalize(`\N`, "TEXT"))

	// zero dates are sentinels only for temporal types
	require.Equal(t, Null, Normalize("0000-00-00", "DATE"))
	require.Equal(t, Literal("1970-01-01 00:00:00"), Normalize("0000-00-00", "TIMESTAMP"))
	require.Equal(t, Literal("1900-01-01"), Normalize("1900-01-01", "VARCHAR(20)"))
}

func TestNormalizeUnsafeBytes(t *testing.T) {
	require.Equal(t, Null, Normalize("caf\xc3\xa9", "TEXT"))
	require.Equal(t, Null, Normalize("a\x00b", "TEXT"))
	require.Equal(t, Literal("0"), Normalize("\x01", "INTEGER"))
	require.Equal(t, Literal("a\tb\nc"), Normalize("a\tb\nc", "TEXT"))
}

func TestNormalizeVarcharTruncation(t *testing.T) {
	require.Equal(t, Literal("abc"), Normalize("abcdef", "VARCHAR(3)"))
	require.Equal(t, Literal("abcdef"), Normalize("abcdef", "VARCHAR(10)"))
	// unparseable and out-of-range lengths pass through
	require.Equal(t, Literal("abcdef"), Normalize("abcdef", "VARCHAR(0)"))
	require.Equal(t, Literal("abcdef"), Normalize("abcdef", "VARCHAR(99999)"))
}

func TestNormalizeBinary(t *testing.T) {
	require.Equal(t, Literal(`\xdeadbeef`), Normalize(`\xdeadbeef`, "BYTEA"))
	require.Equal(t, Null, Normalize("no+hex!", "BLOB"))

	long := make([]byte, 2000)
	for i := range long {
		long[i] = 'a'
	}
	v := Normalize(string(long), "BYTEA")
	require.Equal(t, KindLiteral, v.Kind())
	require.Len(t, v.Text(), 1000)
}

func TestNormalizeDateTime(t *testing.T) {
	require.Equal(t, Literal("2024-05-06 07:08:09"), Normalize("2024-05-06 07:08:09", "DATETIME"))
	require.Equal(t, Literal("1970-01-01 00:00:00"), Normalize("20240506", "TIMESTAMP"))
	require.Equal(t, Literal("1970-01-01 00:00:00"), Normalize("5/6/24", "TIMESTAMP"))
	require.Equal(t, Literal("1970-01-01 00:00:00"), Normalize("0000-13-99 00:00:00", "TIMESTAMP"))
	require.Equal(t, Literal("00:00:00"), Normalize("17", "TIME"))
	require.Equal(t, Null, Normalize("garbage", "DATE"))
}

func TestNormalizeBool(t *testing.T) {
	for _, truthy := range []string{"y", "YES", "1", "true", "True"} {
		require.Equal(t, Literal("true"), Normalize(truthy, "BIT"), truthy)
	}
	for _, falsy := range []string{"n", "no", "0", "false", "whatever"} {
		require.Equal(t, Literal("false"), Normalize(falsy, "BOOLEAN"), falsy)
	}
}

func TestNormalizeNumeric(t *testing.T) {
	require.Equal(t, Literal("42"), Normalize("42", "INT"))
	require.Equal(t, Literal("42"), Normalize(" 42 ", "BIGINT"))
	require.Equal(t, Literal("12"), Normalize("12.9", "INTEGER"))
	require.Equal(t, Literal("0"), Normalize("forty-two", "INTEGER"))
	require.Equal(t, Literal("1.5"), Normalize("1.50", "DECIMAL(10,2)"))
	require.Equal(t, Literal("0"), Normalize("NaN-ish", "FLOAT"))
}

func TestNormalizeDefaultsForNulled(t *testing.T) {
	require.Equal(t, Literal("0"), Normalize("", "INTEGER"))
	require.Equal(t, Literal("0"), Normalize("", "DOUBLE"))
	require.Equal(t, Literal("1970-01-01 00:00:00"), Normalize("", "TIMESTAMP"))
	require.Equal(t, Literal("00:00:00"), Normalize("", "TIME"))
	require.Equal(t, Null, Normalize("", "DATE"))
	require.Equal(t, Null, Normalize("", "TEXT"))
	require.Equal(t, Default, Normalize("", "VARCHAR(10)"))
}

func TestNormalizeIdempotent(t *testing.T) {
	cases := []struct {
		raw string
		typ string
	}{
		{"hello", "TEXT"},
		{"", "TEXT"},
		{"0000-00-00", "TIMESTAMP"},
		{"0000-00-00", "DATE"},
		{"42", "INTEGER"},
		{"oops", "INTEGER"},
		{"1.25", "DECIMAL(9,3)"},
		{"NaN-ish", "FLOAT"},
		{"", "DOUBLE"},
		{"1.50", "DECIMAL(10,2)"},
		{"yes", "BOOLEAN"},
		{"abcdef", "VARCHAR(3)"},
		{`\xdead`, "BYTEA"},
		{"2024-05-06", "DATE"},
	}
	for _, tc := range cases {
		once := Normalize(tc.raw, tc.typ)
		twice := Normalize(once.Text(), tc.typ)
		if once.Kind() == KindLiteral {
			require.Equal(t, once, twice, "%q %s", tc.raw, tc.typ)
		}
	}
}

func TestValueSQL(t *testing.T) {
	require.Equal(t, "NULL", Null.SQL())
	require.Equal(t, "DEFAULT", Default.SQL())
	require.Equal(t, "'abc'", Literal("abc").SQL())
	require.Equal(t, "'it''s'", Literal("it's").SQL())
}
