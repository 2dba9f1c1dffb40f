package obs

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const maxStatementAttrLen = 300

type querySpanKey struct{}

// PGXTracer hooks into pgx's tracer interface so every statement the pool
// runs shows up as a child span of the request that issued it.
type PGXTracer struct{}

func (PGXTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	stmt := strings.TrimSpace(data.SQL)
	name := "sql.query"
	if fields := strings.Fields(stmt); len(fields) > 0 {
		name = "sql." + strings.ToLower(fields[0])
	}
	ctx, span := otel.Tracer("db.pgx").Start(ctx, name)
	if len(stmt) > maxStatementAttrLen {
		stmt = stmt[:maxStatementAttrLen] + "..."
	}
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.statement", stmt),
	)
	return context.WithValue(ctx, querySpanKey{}, span)
}

func (PGXTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	span, ok := ctx.Value(querySpanKey{}).(trace.Span)
	if !ok {
		return
	}
	if data.Err != nil {
		span.RecordError(data.Err)
	} else {
		span.SetAttributes(attribute.Int64("db.rows_affected", data.CommandTag.RowsAffected()))
	}
	span.End()
}
