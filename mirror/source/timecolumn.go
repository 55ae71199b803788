// Copyright (C) 2026 Tidemark Authors.
// See LICENSE for copying information.

package source

import "strings"

// timeColumnPreference is checked in order before falling back to naming
// conventions.
var timeColumnPreference = []string{
	"updated_at",
	"modified_at",
	"last_modified",
	"updated_time",
	"created_at",
	"created_time",
	"timestamp",
}

// ChooseTimeColumn picks the column used as the incremental high-water mark,
// or empty when none qualifies.
func ChooseTimeColumn(columns []Column) string {
	byName := make(map[string]bool, len(columns))
	for _, col := range columns {
		byName[strings.ToLower(col.Name)] = true
	}
	for _, preferred := range timeColumnPreference {
		if byName[preferred] {
			return preferred
		}
	}
	for _, col := range columns {
		name := strings.ToLower(col.Name)
		if strings.HasSuffix(name, "_at") || strings.HasPrefix(name, "fecha_") {
			return col.Name
		}
	}
	return ""
}

// CandidateColumns returns the ordered non-PK columns usable as monotonic
// cursors: temporal columns and identity/auto-increment columns.
func CandidateColumns(columns []Column, pkColumns []string) []string {
	pk := make(map[string]bool, len(pkColumns))
	for _, name := range pkColumns {
		pk[strings.ToLower(name)] = true
	}
	var candidates []string
	for _, col := range columns {
		if pk[strings.ToLower(col.Name)] {
			continue
		}
		if isTemporalColumn(col) || isIdentityColumn(col) {
			candidates = append(candidates, col.Name)
		}
	}
	return candidates
}

func isTemporalColumn(col Column) bool {
	typ := strings.ToLower(col.Type)
	return strings.Contains(typ, "timestamp") ||
		strings.Contains(typ, "datetime") ||
		typ == "date"
}

func isIdentityColumn(col Column) bool {
	extra := strings.ToLower(col.Extra)
	return strings.Contains(extra, "auto_increment") ||
		strings.Contains(extra, "identity")
}
