// Copyright (C) 2026 Tidemark Authors.
// See LICENSE for copying information.

// Package normalize maps raw source cells to PostgreSQL-safe literals.
//
// Sources of wildly different quality feed the replication engine, so every
// cell passes through a fixed rule table before it is allowed anywhere near
// the target. The result is either a quoted literal, an explicit NULL, or a
// DEFAULT marker that lets PostgreSQL apply the column default.
package normalize

import (
	"strconv"
	"strings"
)

// Kind discriminates the three possible normalization outcomes.
type Kind int

const (
	// KindLiteral is a quoted SQL literal.
	KindLiteral Kind = iota
	// KindNull is an explicit NULL.
	KindNull
	// KindDefault lets the target apply the column default.
	KindDefault
)

// Value is a normalized cell.
type Value struct {
	kind Kind
	text string
}

// Null is the explicit NULL value.
var Null = Value{kind: KindNull}

// Default is the DEFAULT marker value.
var Default = Value{kind: KindDefault}

// Literal constructs a literal value.
func Literal(text string) Value { return Value{kind: KindLiteral, text: text} }

// Kind returns the outcome kind.
func (v Value) Kind() Kind { return v.kind }

// Text returns the unquoted literal text. Empty for NULL and DEFAULT.
func (v Value) Text() string { return v.text }

// IsNull reports whether the value is an explicit NULL.
func (v Value) IsNull() bool { return v.kind == KindNull }

// SQL renders the value for inclusion in a statement. Literals are
// single-quoted with embedded quotes doubled.
func (v Value) SQL() string {
	switch v.kind {
	case KindNull:
		return "NULL"
	case KindDefault:
		return "DEFAULT"
	default:
		return "'" + strings.ReplaceAll(v.text, "'", "''") + "'"
	}
}

// Normalize maps a raw cell and its declared source type to a Value.
// The rules apply in order and the first match wins. Normalize never fails;
// unencodable input degrades to NULL or a type default.
func Normalize(raw string, sourceType string) Value {
	typ := strings.ToUpper(strings.TrimSpace(sourceType))

	if isSentinelNull(raw, typ) {
		return withDefault(typ)
	}
	if hasUnsafeBytes(raw) {
		return withDefault(typ)
	}

	switch {
	case isBoolType(typ):
		return Literal(foldBool(raw))

	case isBinaryType(typ):
		return normalizeBinary(raw, typ)

	case isCharType(typ):
		if n, ok := declaredLength(typ); ok {
			if len(raw) > n {
				raw = raw[:n]
			}
			if raw == "" {
				return withDefault(typ)
			}
		}
		return Literal(raw)

	case isDateTimeType(typ):
		if !strings.Contains(raw, "-") || len(raw) < 10 || isAllDigits(raw) || strings.HasPrefix(raw, "0000") {
			return withDefault(typ)
		}
		return Literal(raw)

	case isIntegerType(typ):
		return Literal(reparseInteger(raw))

	case isFloatType(typ):
		return Literal(reparseFloat(raw))

	default:
		return Literal(raw)
	}
}

// isSentinelNull matches the values various dumps and drivers use to mean
// "no value", plus the zero-date markers for temporal columns.
func isSentinelNull(raw, typ string) bool {
	switch raw {
	case "", "NULL", "null", `\N`, "\\0":
		return true
	}
	if isDateTimeType(typ) {
		switch raw {
		case "0000-00-00", "1900-01-01", "1970-01-01":
			return true
		}
	}
	return false
}

// hasUnsafeBytes reports bytes that cannot be passed through safely: anything
// non-ASCII or control characters other than tab, LF and CR.
func hasUnsafeBytes(raw string) bool {
	for i := 0; i < len(raw); i++ {
		b := raw[i]
		if b >= 0x80 {
			return true
		}
		if b < 0x20 && b != '\t' && b != '\n' && b != '\r' {
			return true
		}
		if b == 0x7f {
			return true
		}
	}
	return false
}

const maxBinaryLength = 1000

func normalizeBinary(raw, typ string) Value {
	for i := 0; i < len(raw); i++ {
		b := raw[i]
		switch {
		case b >= '0' && b <= '9',
			b >= 'a' && b <= 'f',
			b >= 'A' && b <= 'F',
			b == ' ', b == '\\', b == 'x', b == 'X':
		default:
			return withDefault(typ)
		}
	}
	if len(raw) > maxBinaryLength {
		raw = raw[:maxBinaryLength]
	}
	return Literal(raw)
}

func foldBool(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "y", "yes", "1", "true":
		return "true"
	default:
		return "false"
	}
}

func reparseInteger(raw string) string {
	if n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64); err == nil {
		return strconv.FormatInt(n, 10)
	}
	if f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64); err == nil {
		return strconv.FormatInt(int64(f), 10)
	}
	return "0"
}

func reparseFloat(raw string) string {
	if f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64); err == nil {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	// "0" is what the parse path itself would emit for zero, so
	// re-normalizing the fallback is a fixed point
	return "0"
}

func isAllDigits(raw string) bool {
	if raw == "" {
		return false
	}
	for i := 0; i < len(raw); i++ {
		if raw[i] < '0' || raw[i] > '9' {
			return false
		}
	}
	return true
}

// withDefault maps a value that became NULL to the declared type's default
// literal where one makes sense. TEXT stays NULL, remaining textual types
// defer to the column default, and DATE stays NULL because its natural epoch
// default is itself a zero-date sentinel.
func withDefault(typ string) Value {
	switch {
	case isIntegerType(typ):
		return Literal("0")
	case isFloatType(typ):
		return Literal("0")
	case isTimestampType(typ):
		return Literal("1970-01-01 00:00:00")
	case isTimeOnlyType(typ):
		return Literal("00:00:00")
	case isDateOnlyType(typ):
		return Null
	case typ == "TEXT" || strings.Contains(typ, "LONGTEXT") || strings.Contains(typ, "CLOB"):
		return Null
	case isCharType(typ):
		return Default
	default:
		return Null
	}
}

// declaredLength parses the (n) of CHAR(n)/VARCHAR(n) declarations.
func declaredLength(typ string) (int, bool) {
	open := strings.IndexByte(typ, '(')
	closing := strings.IndexByte(typ, ')')
	if open < 0 || closing <= open {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(typ[open+1 : closing]))
	if err != nil || n < 1 || n > 65535 {
		return 0, false
	}
	return n, true
}

func baseType(typ string) string {
	if i := strings.IndexByte(typ, '('); i >= 0 {
		typ = typ[:i]
	}
	return strings.TrimSpace(typ)
}

func isCharType(typ string) bool {
	base := baseType(typ)
	switch base {
	case "CHAR", "NCHAR", "VARCHAR", "NVARCHAR", "CHARACTER", "CHARACTER VARYING":
		return true
	}
	return false
}

func isBoolType(typ string) bool {
	base := baseType(typ)
	return base == "BOOLEAN" || base == "BOOL" || base == "BIT"
}

func isBinaryType(typ string) bool {
	base := baseType(typ)
	switch base {
	case "BYTEA", "BLOB", "TINYBLOB", "MEDIUMBLOB", "LONGBLOB",
		"BINARY", "VARBINARY", "IMAGE", "BIT VARYING":
		return true
	}
	return false
}

func isDateTimeType(typ string) bool {
	return isDateOnlyType(typ) || isTimeOnlyType(typ) || isTimestampType(typ)
}

func isDateOnlyType(typ string) bool {
	return baseType(typ) == "DATE"
}

func isTimeOnlyType(typ string) bool {
	return baseType(typ) == "TIME"
}

func isTimestampType(typ string) bool {
	base := baseType(typ)
	switch base {
	case "TIMESTAMP", "TIMESTAMP WITH TIME ZONE", "TIMESTAMP WITHOUT TIME ZONE",
		"DATETIME", "DATETIME2", "SMALLDATETIME", "DATETIMEOFFSET":
		return true
	}
	return false
}

// IsIntegerType reports whether the declared source type is an integer family
// type. Exported for the target writer's type mapping.
func IsIntegerType(typ string) bool {
	return isIntegerType(strings.ToUpper(strings.TrimSpace(typ)))
}

func isIntegerType(typ string) bool {
	base := baseType(typ)
	switch base {
	case "INT", "INTEGER", "SMALLINT", "TINYINT", "MEDIUMINT", "BIGINT",
		"INT2", "INT4", "INT8", "SERIAL", "BIGSERIAL", "SMALLSERIAL":
		return true
	}
	return false
}

func isFloatType(typ string) bool {
	base := baseType(typ)
	switch base {
	case "FLOAT", "FLOAT4", "FLOAT8", "REAL", "DOUBLE", "DOUBLE PRECISION",
		"DECIMAL", "NUMERIC", "MONEY", "SMALLMONEY":
		return true
	}
	return false
}
