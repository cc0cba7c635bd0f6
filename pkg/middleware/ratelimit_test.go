package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

func TestRateLimitMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	// A tiny refill rate so only the burst allowance matters here.
	r.Use(RateLimitMiddleware(rate.Limit(0.001), 2))
	r.GET("/", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		r.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("request %d within burst should pass, got %d", i+1, w.Code)
		}
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("request beyond burst should be limited, got %d", w.Code)
	}
}

func TestIPRateLimiterIsolatesClients(t *testing.T) {
	l := NewIPRateLimiter(rate.Limit(0.001), 1)

	if !l.GetLimiter("10.0.0.1").Allow() {
		t.Fatalf("first request for an IP should pass")
	}
	if l.GetLimiter("10.0.0.1").Allow() {
		t.Fatalf("second request for the same IP should be limited")
	}
	if !l.GetLimiter("10.0.0.2").Allow() {
		t.Fatalf("a different IP has its own bucket")
	}
}
