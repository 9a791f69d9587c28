package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestRateLimitRejectsBurst(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mw, err := RateLimit("2-M", "test", nil)
	if err != nil {
		t.Fatalf("rate limit: %v", err)
	}
	r := gin.New()
	r.POST("/token", mw, func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/token", nil))
		codes = append(codes, w.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("unexpected status sequence %v", codes)
	}
}

func TestRateLimitRejectsBadFormat(t *testing.T) {
	if _, err := RateLimit("lots", "test", nil); err == nil {
		t.Fatalf("expected format error")
	}
}
