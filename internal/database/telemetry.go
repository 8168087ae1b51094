package database

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracedPool wraps a DatabasePool and records one span per statement.
type TracedPool struct {
	pool   DatabasePool
	tracer trace.Tracer
}

// NewTracedPool wraps pool with spans from tracer.
func NewTracedPool(pool DatabasePool, tracer trace.Tracer) *TracedPool {
	return &TracedPool{pool: pool, tracer: tracer}
}

func (db *TracedPool) start(ctx context.Context, op, sql string) (context.Context, trace.Span) {
	return db.tracer.Start(ctx, "db."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "postgresql"),
			attribute.String("db.operation", statementVerb(sql)),
		),
	)
}

// Query executes a query that returns rows.
func (db *TracedPool) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	ctx, span := db.start(ctx, "query", sql)
	defer span.End()

	rows, err := db.pool.Query(ctx, sql, args...)
	RecordDatabaseError(span, err)
	return rows, err
}

// QueryRow executes a query that is expected to return at most one row.
func (db *TracedPool) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	ctx, span := db.start(ctx, "query_row", sql)
	defer span.End()

	return db.pool.QueryRow(ctx, sql, args...)
}

// Exec executes a statement and records the affected row count.
func (db *TracedPool) Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	ctx, span := db.start(ctx, "exec", sql)
	defer span.End()

	tag, err := db.pool.Exec(ctx, sql, args...)
	if err == nil {
		span.SetAttributes(attribute.Int64("db.rows_affected", tag.RowsAffected()))
	}
	RecordDatabaseError(span, err)
	return tag, err
}

// RecordDatabaseError marks the span failed when err is non-nil.
func RecordDatabaseError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func statementVerb(sql string) string {
	fields := strings.Fields(sql)
	if len(fields) == 0 {
		return ""
	}
	return strings.ToUpper(fields[0])
}
