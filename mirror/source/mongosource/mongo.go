// Copyright (C) 2026 Tidemark Authors.
// See LICENSE for copying information.

// Package mongosource adapts MongoDB deployments as replication sources.
// Databases map to schemas and collections to tables; documents are
// flattened to their top-level fields with nested values carried as JSON.
package mongosource

import (
	"context"
	"encoding/json"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"tidemark.io/tidemark/mirror/catalog"
	"tidemark.io/tidemark/mirror/source"
)

var systemDatabases = map[string]bool{
	"admin":  true,
	"local":  true,
	"config": true,
}

// Adapter implements source.Adapter over a MongoDB client.
type Adapter struct {
	log    *zap.Logger
	client *mongo.Client
}

// Open connects to MongoDB and confirms reachability by pinging admin.
func Open(ctx context.Context, log *zap.Logger, connString string) (source.Adapter, error) {
	opts := options.Client().
		ApplyURI(connString).
		SetSocketTimeout(source.SessionTimeoutSeconds * time.Second).
		SetConnectTimeout(30 * time.Second)
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, source.Error.Wrap(err)
	}
	err = client.Database("admin").RunCommand(ctx, bson.D{{Key: "ping", Value: 1}}).Err()
	if err != nil {
		_ = client.Disconnect(ctx)
		return nil, source.Error.New("open MongoDB: %w", err)
	}
	return &Adapter{log: log, client: client}, nil
}

// Engine identifies the vendor.
func (a *Adapter) Engine() catalog.Engine { return catalog.EngineMongoDB }

// Close disconnects the client.
func (a *Adapter) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return source.Error.Wrap(a.client.Disconnect(ctx))
}

// ListTables lists every collection of every non-system database.
func (a *Adapter) ListTables(ctx context.Context) ([]source.SchemaTable, error) {
	databases, err := a.client.ListDatabaseNames(ctx, bson.D{})
	if err != nil {
		return nil, source.Error.Wrap(err)
	}
	var tables []source.SchemaTable
	for _, database := range databases {
		if systemDatabases[database] {
			continue
		}
		collections, err := a.client.Database(database).ListCollectionNames(ctx, bson.D{})
		if err != nil {
			return nil, source.Error.Wrap(err)
		}
		for _, collection := range collections {
			tables = append(tables, source.SchemaTable{Schema: database, Table: collection})
		}
	}
	return tables, nil
}

// DescribeColumns derives a column set from a sample document. The _id
// field always leads; nested documents and arrays are reported as BSON so
// the target maps them to JSONB.
func (a *Adapter) DescribeColumns(ctx context.Context, schema, table string) ([]source.Column, error) {
	var sample bson.D
	err := a.client.Database(schema).Collection(table).FindOne(ctx, bson.D{}).Decode(&sample)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return []source.Column{{Name: "_id", Type: "VARCHAR(24)", Key: "PRI"}}, nil
		}
		return nil, source.Error.Wrap(err)
	}

	columns := []source.Column{{Name: "_id", Type: "VARCHAR(24)", Key: "PRI"}}
	for _, elem := range sample {
		if elem.Key == "_id" {
			continue
		}
		columns = append(columns, source.Column{
			Name:     elem.Key,
			Type:     bsonTypeName(elem.Value),
			Nullable: true,
		})
	}
	return columns, nil
}

// DetectPrimaryKey returns the implicit _id key.
func (a *Adapter) DetectPrimaryKey(ctx context.Context, schema, table string) ([]string, error) {
	return []string{"_id"}, nil
}

// DetectTimeColumn picks the high-water-mark field by naming convention.
func (a *Adapter) DetectTimeColumn(ctx context.Context, schema, table string) (string, error) {
	columns, err := a.DescribeColumns(ctx, schema, table)
	if err != nil {
		return "", err
	}
	return source.ChooseTimeColumn(columns), nil
}

// Count returns the number of documents in the collection.
func (a *Adapter) Count(ctx context.Context, schema, table string) (int64, error) {
	count, err := a.client.Database(schema).Collection(table).CountDocuments(ctx, bson.D{})
	return count, source.Error.Wrap(err)
}

// ReadChunk pages through the collection with skip/limit ordered by _id.
func (a *Adapter) ReadChunk(ctx context.Context, schema, table string, cursor source.Cursor, chunkSize int) (source.Chunk, source.Cursor, error) {
	columns, err := a.DescribeColumns(ctx, schema, table)
	if err != nil {
		return source.Chunk{}, cursor, err
	}

	findOpts := options.Find().
		SetSkip(cursor.Offset).
		SetLimit(int64(chunkSize)).
		SetSort(bson.D{{Key: "_id", Value: 1}})
	mongoCursor, err := a.client.Database(schema).Collection(table).Find(ctx, bson.D{}, findOpts)
	if err != nil {
		return source.Chunk{}, cursor, source.Error.Wrap(err)
	}
	defer func() { _ = mongoCursor.Close(ctx) }()

	known := make(map[string]bool, len(columns))
	for _, col := range columns {
		known[col.Name] = true
	}

	chunk := source.Chunk{Columns: columns}
	for mongoCursor.Next(ctx) {
		var doc bson.D
		if err := mongoCursor.Decode(&doc); err != nil {
			return source.Chunk{}, cursor, source.Error.Wrap(err)
		}
		row := make(source.Row, len(columns))
		for _, elem := range doc {
			if !known[elem.Key] {
				continue
			}
			row[elem.Key] = renderBSONValue(elem.Value)
		}
		chunk.Rows = append(chunk.Rows, row)
	}
	if err := mongoCursor.Err(); err != nil {
		return source.Chunk{}, cursor, source.Error.Wrap(err)
	}

	var last source.Row
	if len(chunk.Rows) > 0 {
		last = chunk.Rows[len(chunk.Rows)-1]
	}
	return chunk, cursor.Advance(last, len(chunk.Rows)), nil
}

// ExistsInSource checks which _id values still exist, in bounded
// sub-batches.
func (a *Adapter) ExistsInSource(ctx context.Context, schema, table string, pkColumns []string, tuples [][]string, chunkSize int) (map[string]bool, error) {
	exists := make(map[string]bool, len(tuples))
	batchSize := source.ExistsBatchSize(chunkSize)

	for start := 0; start < len(tuples); start += batchSize {
		end := start + batchSize
		if end > len(tuples) {
			end = len(tuples)
		}

		ids := make([]any, 0, end-start)
		for _, tuple := range tuples[start:end] {
			ids = append(ids, parseID(tuple[0]))
		}

		cursor, err := a.client.Database(schema).Collection(table).Find(ctx,
			bson.D{{Key: "_id", Value: bson.D{{Key: "$in", Value: ids}}}},
			options.Find().SetProjection(bson.D{{Key: "_id", Value: 1}}),
		)
		if err != nil {
			return nil, source.Error.Wrap(err)
		}
		for cursor.Next(ctx) {
			var doc struct {
				ID any `bson:"_id"`
			}
			if err := cursor.Decode(&doc); err != nil {
				_ = cursor.Close(ctx)
				return nil, source.Error.Wrap(err)
			}
			exists[source.TupleKey([]string{renderBSONValue(doc.ID)})] = true
		}
		err = cursor.Err()
		_ = cursor.Close(ctx)
		if err != nil {
			return nil, source.Error.Wrap(err)
		}
	}
	return exists, nil
}

// Hostname is not exposed by MongoDB deployments in a useful way.
func (a *Adapter) Hostname(ctx context.Context) (string, error) { return "", nil }

func parseID(raw string) any {
	if oid, err := primitive.ObjectIDFromHex(raw); err == nil {
		return oid
	}
	return raw
}

func bsonTypeName(value any) string {
	switch value.(type) {
	case string:
		return "TEXT"
	case int32, int64:
		return "BIGINT"
	case float64:
		return "DOUBLE"
	case bool:
		return "BOOLEAN"
	case primitive.DateTime, time.Time:
		return "TIMESTAMP"
	case primitive.ObjectID:
		return "VARCHAR(24)"
	case primitive.Decimal128:
		return "DECIMAL(38,10)"
	case bson.D, bson.M, bson.A:
		return "BSON"
	default:
		return "TEXT"
	}
}

func renderBSONValue(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case primitive.ObjectID:
		return v.Hex()
	case primitive.DateTime:
		return v.Time().UTC().Format("2006-01-02 15:04:05")
	case time.Time:
		return v.UTC().Format("2006-01-02 15:04:05")
	case primitive.Decimal128:
		return v.String()
	case bson.D:
		data, err := bson.MarshalExtJSON(v, false, false)
		if err != nil {
			return ""
		}
		return string(data)
	case bson.A:
		data, err := json.Marshal(renderArray(v))
		if err != nil {
			return ""
		}
		return string(data)
	case string:
		return v
	default:
		return source.RenderCell(v)
	}
}

func renderArray(arr bson.A) []any {
	out := make([]any, len(arr))
	for i, item := range arr {
		switch item.(type) {
		case bson.D, bson.A, primitive.ObjectID, primitive.DateTime, primitive.Decimal128:
			out[i] = renderBSONValue(item)
		default:
			out[i] = item
		}
	}
	return out
}
