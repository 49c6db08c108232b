package db

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestSlowQueryTracerLogsOnlySlowQueries(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	tracer := NewSlowQueryTracer(zap.New(core), 50*time.Millisecond)

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tracer.now = func() time.Time { return now }

	ctx := tracer.TraceQueryStart(context.Background(), nil, pgx.TraceQueryStartData{SQL: "SELECT 1"})
	now = now.Add(10 * time.Millisecond)
	tracer.TraceQueryEnd(ctx, nil, pgx.TraceQueryEndData{})
	if logs.Len() != 0 {
		t.Fatalf("expected no slow-query log, got %d", logs.Len())
	}

	ctx = tracer.TraceQueryStart(context.Background(), nil, pgx.TraceQueryStartData{SQL: "SELECT payload FROM ledger_collections"})
	now = now.Add(80 * time.Millisecond)
	tracer.TraceQueryEnd(ctx, nil, pgx.TraceQueryEndData{})

	entries := logs.FilterMessage("slow-query").All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 slow-query log, got %d", len(entries))
	}
	if got := entries[0].ContextMap()["sql"]; got != "SELECT payload FROM ledger_collections" {
		t.Fatalf("sql = %v", got)
	}
}

func TestTraceQueryEndWithoutStart(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	tracer := NewSlowQueryTracer(zap.New(core), 0)
	tracer.TraceQueryEnd(context.Background(), nil, pgx.TraceQueryEndData{})
	if logs.Len() != 0 {
		t.Fatalf("expected no log without start data, got %d", logs.Len())
	}
	if tracer.slowThreshold != 100*time.Millisecond {
		t.Fatalf("default threshold = %v, want 100ms", tracer.slowThreshold)
	}
}

func TestTruncateSQL(t *testing.T) {
	if got := truncateSQL(""); got != "unknown" {
		t.Fatalf("truncateSQL(\"\") = %q", got)
	}
	long := strings.Repeat("x", 250)
	got := truncateSQL(long)
	if len(got) != 203 || !strings.HasSuffix(got, "...") {
		t.Fatalf("truncateSQL(long) len = %d", len(got))
	}
}
