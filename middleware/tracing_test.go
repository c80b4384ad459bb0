package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestTracingNestsPipelineSpansUnderRequestSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RequestID())
	router.Use(Tracing())
	router.Use(EnrichTrace())
	router.GET("/chat", func(c *gin.Context) {
		_, span := otel.Tracer("rag-pipeline").Start(c.Request.Context(), "rag.chat")
		span.End()
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/chat", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	spans := recorder.Ended()
	require.Len(t, spans, 2)

	// inner span ends first
	child, server := spans[0], spans[1]
	assert.Equal(t, "rag.chat", child.Name())
	assert.Equal(t, server.SpanContext().TraceID(), child.SpanContext().TraceID(),
		"pipeline span belongs to the request trace")
	assert.Equal(t, server.SpanContext().SpanID(), child.Parent().SpanID(),
		"pipeline span is a child of the server span")
}

func TestEnrichTraceWithoutTracerIsHarmless(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RequestID())
	router.Use(EnrichTrace())
	router.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}
