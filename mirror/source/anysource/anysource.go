// Copyright (C) 2026 Tidemark Authors.
// See LICENSE for copying information.

// Package anysource opens the right vendor adapter for a catalog engine.
package anysource

import (
	"context"

	"go.uber.org/zap"

	"tidemark.io/tidemark/mirror/catalog"
	"tidemark.io/tidemark/mirror/source"
	"tidemark.io/tidemark/mirror/source/mongosource"
	"tidemark.io/tidemark/mirror/source/mssqlsource"
	"tidemark.io/tidemark/mirror/source/mysqlsource"
	"tidemark.io/tidemark/mirror/source/pgsource"
)

// OpenFunc opens an adapter for one connection string.
type OpenFunc func(ctx context.Context, log *zap.Logger, connString string) (source.Adapter, error)

var openers = map[catalog.Engine]OpenFunc{
	catalog.EngineMariaDB:    mysqlsource.Open,
	catalog.EngineMSSQL:      mssqlsource.Open,
	catalog.EngineMongoDB:    mongosource.Open,
	catalog.EnginePostgreSQL: pgsource.Open,
}

// Open dispatches to the vendor adapter for the engine.
func Open(ctx context.Context, log *zap.Logger, engine catalog.Engine, connString string) (source.Adapter, error) {
	open, ok := openers[engine]
	if !ok {
		return nil, source.Error.New("unsupported engine %q", engine)
	}
	return open(ctx, log, connString)
}
