package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/naturevibes/api/internal/platform/requestctx"
)

func TestParseCloudTrace(t *testing.T) {
	sc, ok := parseCloudTrace("105445aa7843bc8bf206b12000100000/1;o=1")
	if !ok {
		t.Fatalf("expected header to parse")
	}
	if sc.TraceID().String() != "105445aa7843bc8bf206b12000100000" {
		t.Fatalf("unexpected trace id %s", sc.TraceID())
	}
	if sc.SpanID().String() != "0000000000000001" {
		t.Fatalf("unexpected span id %s", sc.SpanID())
	}
	if !sc.IsSampled() {
		t.Fatalf("expected sampled flag")
	}

	for _, header := range []string{"", "nope", "zz/1", "105445aa7843bc8bf206b12000100000/0"} {
		if _, ok := parseCloudTrace(header); ok {
			t.Fatalf("expected %q to be rejected", header)
		}
	}
}

func TestTraceMiddlewareContinuesRemoteTrace(t *testing.T) {
	var info requestctx.TraceInfo
	handler := TraceMiddleware("nv-prod")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info, _ = requestctx.Trace(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/orders/list", nil)
	req.Header.Set(cloudTraceHeader, "105445aa7843bc8bf206b12000100000/42;o=1")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if info.TraceID != "105445aa7843bc8bf206b12000100000" {
		t.Fatalf("expected remote trace id, got %q", info.TraceID)
	}
	if info.ProjectID != "nv-prod" {
		t.Fatalf("unexpected project %q", info.ProjectID)
	}
}

func TestRedactQuery(t *testing.T) {
	got := RedactQuery("status=placed&token=abc&session_id=cs_1")
	if strings.Contains(got, "abc") || strings.Contains(got, "cs_1") {
		t.Fatalf("expected sensitive values redacted, got %s", got)
	}
	if !strings.Contains(got, "status=placed") {
		t.Fatalf("expected non-sensitive values kept, got %s", got)
	}
}

func TestRequestLoggerMiddlewareLogsCompletion(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	chain := InjectLoggerMiddleware(zap.New(core))(RequestLoggerMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})))

	chain.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/orders/my", nil))

	entries := logs.FilterMessage("request completed").All()
	if len(entries) != 1 {
		t.Fatalf("expected one completion entry, got %d", len(entries))
	}
	if entries[0].Level != zap.WarnLevel {
		t.Fatalf("expected warn for 404, got %s", entries[0].Level)
	}
	if status := entries[0].ContextMap()["status"]; status != int64(http.StatusNotFound) {
		t.Fatalf("unexpected status field %v", status)
	}
}

func TestRecoveryMiddlewareWritesJSONError(t *testing.T) {
	handler := RecoveryMiddleware()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "internal_server_error") {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
}

func TestServiceLoggerUsesRequestLogger(t *testing.T) {
	baseCore, baseLogs := observer.New(zap.InfoLevel)
	reqCore, reqLogs := observer.New(zap.InfoLevel)

	logEvent := ServiceLogger(zap.New(baseCore).Named("orders"))
	logEvent(context.Background(), "order.placed", map[string]any{"orderId": "o1"})
	ctx := requestctx.WithLogger(context.Background(), zap.New(reqCore))
	logEvent(ctx, "order.publish.failed", map[string]any{"orderId": "o2"})

	if baseLogs.Len() != 1 || baseLogs.All()[0].Message != "order.placed" {
		t.Fatalf("expected base logger entry, got %v", baseLogs.All())
	}
	entries := reqLogs.All()
	if len(entries) != 1 || entries[0].Level != zap.WarnLevel {
		t.Fatalf("expected warn entry on request logger, got %v", entries)
	}
	if entries[0].LoggerName != "orders" {
		t.Fatalf("expected logger name orders, got %q", entries[0].LoggerName)
	}
}
