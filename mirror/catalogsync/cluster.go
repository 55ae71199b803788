// Copyright (C) 2026 Tidemark Authors.
// See LICENSE for copying information.

package catalogsync

import (
	"context"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"tidemark.io/tidemark/mirror/catalog"
)

// backfillClusters derives cluster_name for rows where it is still empty.
// The source's own hostname wins over the connection string's host part.
func (chore *Chore) backfillClusters(ctx context.Context) {
	// one hostname lookup per distinct connection
	resolved := make(map[string]string)

	for _, engine := range catalog.Engines() {
		rows, err := chore.catalog.ListByEngine(ctx, engine)
		if err != nil {
			chore.log.Error("unable to list rows for cluster backfill",
				zap.String("engine", string(engine)), zap.Error(err))
			continue
		}
		for _, row := range rows {
			if row.ClusterName != "" {
				continue
			}
			cluster, ok := resolved[row.ConnectionString]
			if !ok {
				cluster = ClassifyCluster(chore.hostname(ctx, engine, row.ConnectionString))
				resolved[row.ConnectionString] = cluster
			}
			if err := chore.catalog.UpdateClusterName(ctx, row.Key(), cluster); err != nil {
				chore.log.Error("unable to backfill cluster name",
					zap.String("schema", row.SchemaName),
					zap.String("table", row.TableName),
					zap.Error(err))
			}
		}
	}
}

// hostname asks the live source for its hostname, falling back to the host
// part of the connection string.
func (chore *Chore) hostname(ctx context.Context, engine catalog.Engine, conn string) string {
	adapter, err := chore.open(ctx, chore.log, engine, conn)
	if err == nil {
		defer func() { _ = adapter.Close() }()
		if name, err := adapter.Hostname(ctx); err == nil && name != "" {
			return name
		}
	}
	return HostFromConn(conn)
}

// ClassifyCluster maps a hostname to an environment label by substring.
func ClassifyCluster(hostname string) string {
	upper := strings.ToUpper(hostname)
	switch {
	case upper == "":
		return "UNKNOWN"
	case strings.Contains(upper, "PROD"):
		return "PRODUCTION"
	case strings.Contains(upper, "STAG"):
		return "STAGING"
	case strings.Contains(upper, "DEV"):
		return "DEVELOPMENT"
	case strings.Contains(upper, "UAT"):
		return "UAT"
	case strings.Contains(upper, "QA"):
		return "QA"
	case strings.Contains(upper, "TEST"):
		return "TESTING"
	case strings.Contains(upper, "LOCAL"), strings.Contains(upper, "127.0.0.1"):
		return "LOCAL"
	default:
		return "UNKNOWN"
	}
}

// HostFromConn extracts the host part of a connection string. It
// understands URL-style DSNs, mysql's "user:pass@tcp(host:port)/db" form,
// and key=value lists with a server/host key.
func HostFromConn(conn string) string {
	if strings.Contains(conn, "://") {
		if u, err := url.Parse(conn); err == nil {
			return u.Hostname()
		}
	}

	if open := strings.Index(conn, "("); open >= 0 {
		if closing := strings.Index(conn[open:], ")"); closing > 0 {
			host := conn[open+1 : open+closing]
			if i := strings.LastIndex(host, ":"); i >= 0 {
				host = host[:i]
			}
			return host
		}
	}

	for _, part := range strings.FieldsFunc(conn, func(r rune) bool { return r == ';' || r == ' ' }) {
		key, value, found := strings.Cut(part, "=")
		if !found {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "server", "host", "data source", "address", "addr":
			host := strings.TrimSpace(value)
			if i := strings.LastIndex(host, ","); i >= 0 {
				host = host[:i]
			}
			return host
		}
	}
	return ""
}
