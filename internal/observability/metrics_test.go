package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/danmuck/edgeipc/internal/logging"
	"github.com/danmuck/edgeipc/internal/testutil/testlog"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	testlog.Start(t)
	RegisterMetrics()
	RegisterMetrics()

	sent := testutil.ToFloat64(streamMessagesSent.WithLabelValues("event"))
	RecordSend("event", 64)
	if got := testutil.ToFloat64(streamMessagesSent.WithLabelValues("event")); got != sent+1 {
		t.Fatalf("messages sent = %v, want %v", got, sent+1)
	}

	bytes := testutil.ToFloat64(messageBytesReceived)
	RecordReceive("request", 32)
	if got := testutil.ToFloat64(messageBytesReceived); got != bytes+32 {
		t.Fatalf("bytes received = %v, want %v", got, bytes+32)
	}

	RecordError("receive", "protocol")
	if got := testutil.ToFloat64(protocolErrors.WithLabelValues("receive", "protocol")); got < 1 {
		t.Fatalf("protocol errors = %v", got)
	}

	RecordCatalogueLoad("loaded")
	SetCatalogueStructs(7)
	if got := testutil.ToFloat64(catalogueStructs); got != 7 {
		t.Fatalf("catalogue structs = %v", got)
	}
	RecordSplice(3)
	RecordHTTPRequest("GET", "/health", 200, 12*time.Millisecond)
}

func TestMiddlewareRecordsRequests(t *testing.T) {
	testlog.Start(t)
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestLogger(logging.For("admin")), RequestMetricsMiddleware())
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	before := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/health", "204"))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/health", "204")); got != before+1 {
		t.Fatalf("http requests = %v, want %v", got, before+1)
	}
}
