package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func newEngine() *gin.Engine {
	gin.SetMode(gin.TestMode)
	return gin.New()
}

func TestRequestID_GeneratesWhenAbsent(t *testing.T) {
	r := newEngine()
	r.Use(RequestID())
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))

	if rid := w.Header().Get("X-Request-ID"); rid == "" {
		t.Fatalf("no X-Request-ID generated")
	}
}

func TestRequestID_PropagatesIncoming(t *testing.T) {
	r := newEngine()
	r.Use(RequestID())
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Request-ID", "rid-123")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if rid := w.Header().Get("X-Request-ID"); rid != "rid-123" {
		t.Fatalf("X-Request-ID = %q; want rid-123", rid)
	}
}

func TestRecovery_ConvertsPanicTo500(t *testing.T) {
	r := newEngine()
	r.Use(RequestID(), Recovery())
	r.GET("/boom", func(c *gin.Context) { panic("kaput") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/boom", nil))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d; want 500", w.Code)
	}
	if !strings.Contains(w.Body.String(), "internal_error") {
		t.Fatalf("body = %s; want internal_error code", w.Body.String())
	}
}

func TestLoggerFrom_FallbackWithoutMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	if lg := LoggerFrom(c); lg == nil {
		t.Fatalf("LoggerFrom returned nil")
	}
}

func TestMaskToken_RedactsCredential(t *testing.T) {
	got := maskToken(map[string][]string{"token": {"secret-jwt"}})
	if strings.Contains(got, "secret-jwt") {
		t.Fatalf("token leaked: %s", got)
	}
	if !strings.Contains(got, "token=[REDACTED]") {
		t.Fatalf("token not masked: %s", got)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Fatalf("truncate(short) = %q", got)
	}
	if got := truncate("0123456789", 4); got != "0123…" {
		t.Fatalf("truncate = %q", got)
	}
	if got := truncate("anything", 0); got != "anything" {
		t.Fatalf("max=0 should disable truncation, got %q", got)
	}
}
