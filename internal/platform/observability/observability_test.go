package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/bazaar-market/ledger/internal/platform/requestctx"
)

func TestParseCloudTraceContext(t *testing.T) {
	sc, ok := parseCloudTraceContext("105445aa7843bc8bf206b12000100000/1;o=1")
	if !ok {
		t.Fatalf("expected header to parse")
	}
	if sc.TraceID().String() != "105445aa7843bc8bf206b12000100000" {
		t.Fatalf("unexpected trace id %s", sc.TraceID())
	}
	if sc.SpanID().String() != "0000000000000001" {
		t.Fatalf("unexpected span id %s", sc.SpanID())
	}
	if !sc.IsSampled() || !sc.IsRemote() {
		t.Fatalf("expected sampled remote context")
	}

	for _, header := range []string{"", "abc/1", "105445aa7843bc8bf206b12000100000", "105445aa7843bc8bf206b12000100000/zz"} {
		if _, ok := parseCloudTraceContext(header); ok {
			t.Fatalf("expected %q to be rejected", header)
		}
	}
}

func TestTraceMiddlewareStoresInfo(t *testing.T) {
	var got requestctx.TraceInfo
	handler := TraceMiddleware("bazaar-prod")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = requestctx.Trace(r.Context())
		if span := trace.SpanFromContext(r.Context()); span == nil {
			t.Fatalf("expected span on context")
		}
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/orders", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if got.ProjectID != "bazaar-prod" {
		t.Fatalf("expected project id on trace info, got %+v", got)
	}
}

func TestEventLoggerLevels(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	logEvent := EventLogger(zap.New(core))

	logEvent(context.Background(), "order.created", map[string]any{"order": "ord_1", "total": "132.00"})
	logEvent(context.Background(), "order.notify.failed", map[string]any{"order": "ord_1", "error": errors.New("smtp down")})

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Level != zapcore.InfoLevel || entries[0].Message != "order.created" {
		t.Fatalf("unexpected first entry %+v", entries[0].Entry)
	}
	if entries[0].ContextMap()["order"] != "ord_1" {
		t.Fatalf("expected order field, got %v", entries[0].ContextMap())
	}
	if entries[1].Level != zapcore.ErrorLevel {
		t.Fatalf("expected failure at error level, got %s", entries[1].Level)
	}
	if entries[1].ContextMap()["error"] != "smtp down" {
		t.Fatalf("expected error field, got %v", entries[1].ContextMap())
	}
}

func TestEventLoggerPrefersRequestLogger(t *testing.T) {
	fallbackCore, fallbackLogs := observer.New(zapcore.InfoLevel)
	requestCore, requestLogs := observer.New(zapcore.InfoLevel)

	ctx := requestctx.WithLogger(context.Background(), zap.New(requestCore))
	EventLogger(zap.New(fallbackCore))(ctx, "payment.captured", nil)

	if fallbackLogs.Len() != 0 || requestLogs.Len() != 1 {
		t.Fatalf("expected event on request logger, got fallback=%d request=%d", fallbackLogs.Len(), requestLogs.Len())
	}
}

func TestRequestLoggerMiddleware(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)

	r := chi.NewRouter()
	r.Use(InjectLoggerMiddleware(zap.New(core)))
	r.Use(RequestLoggerMiddleware)
	r.Get("/api/orders/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/orders/ord_1", nil))

	entries := logs.FilterMessage("request completed").All()
	if len(entries) != 1 {
		t.Fatalf("expected one completion entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if entries[0].Level != zapcore.WarnLevel {
		t.Fatalf("expected warn for 404, got %s", entries[0].Level)
	}
	if fields["route"] != "/api/orders/{id}" || fields["status"] != int64(404) {
		t.Fatalf("unexpected fields %v", fields)
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	handler := RecoveryMiddleware(zap.New(core))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"success":false`) {
		t.Fatalf("expected failure envelope, got %s", rec.Body.String())
	}
	if logs.FilterMessage("panic recovered").Len() != 1 {
		t.Fatalf("expected panic to be logged")
	}
}

func TestHTTPMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewHTTPMetrics(reg)

	r := chi.NewRouter()
	r.Use(metrics.Middleware)
	r.Post("/api/orders", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})
	r.Handle("/metrics", metrics.Handler())

	for i := 0; i < 3; i++ {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/orders", nil))
	}

	if got := testutil.ToFloat64(metrics.requests.WithLabelValues("/api/orders", http.MethodPost, "201")); got != 3 {
		t.Fatalf("expected 3 requests counted, got %v", got)
	}

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "bazaar_ledger_http_requests_total") {
		t.Fatalf("expected exposition to include request counter")
	}
}
