package postgres

import (
	"context"
	"strings"
	"time"
	"unicode"

	"github.com/jackc/pgx/v5"
	"github.com/pscheid92/marketpulse/internal/adapter/metrics"
)

// queryTracer records statement latency and failures, labelled by the
// leading SQL keyword to keep cardinality bounded.
type queryTracer struct {
	metrics *metrics.BridgeMetrics
}

var _ pgx.QueryTracer = (*queryTracer)(nil)

type queryContextKey struct{}

type queryContext struct {
	start     time.Time
	operation string
}

func (t *queryTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	return context.WithValue(ctx, queryContextKey{}, queryContext{
		start:     time.Now(),
		operation: operationName(data.SQL),
	})
}

func (t *queryTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	qctx, ok := ctx.Value(queryContextKey{}).(queryContext)
	if !ok {
		return
	}
	t.metrics.ObserveQuery(qctx.operation, time.Since(qctx.start).Seconds(), data.Err != nil)
}

// operationName returns the lowercased first SQL keyword, or "other".
func operationName(sql string) string {
	fields := strings.Fields(sql)
	if len(fields) == 0 {
		return "other"
	}
	word := fields[0]
	for _, r := range word {
		if !unicode.IsLetter(r) {
			return "other"
		}
	}
	return strings.ToLower(word)
}
