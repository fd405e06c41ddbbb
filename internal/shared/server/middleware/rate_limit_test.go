package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	clocktesting "k8s.io/utils/clock/testing"
)

func limitedRouter(limiter *RateLimiter, rules map[string]RateLimitRule) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RateLimit(RateLimitConfig{
		GroupFor: func(c *gin.Context) string {
			if c.FullPath() == "/api/efrsb-message/callback" {
				return "CALLBACK"
			}
			return ""
		},
		Limiter: limiter,
		Rules:   rules,
	}))
	ok := func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) }
	r.POST("/api/efrsb-message/callback", ok)
	r.POST("/api/meeting-applications/generate", ok)
	return r
}

func post(r *gin.Engine, path string) *httptest.ResponseRecorder {
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, path, nil))
	return resp
}

func TestRateLimitCallbackHigherThanDefault(t *testing.T) {
	clk := clocktesting.NewFakePassiveClock(time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC))
	r := limitedRouter(NewRateLimiter(clk), map[string]RateLimitRule{
		"DEFAULT":  {Rate: 1, Burst: 2},
		"CALLBACK": {Rate: 5, Burst: 10},
	})

	for i := 0; i < 3; i++ {
		if resp := post(r, "/api/efrsb-message/callback"); resp.Code != http.StatusOK {
			t.Fatalf("callback request %d expected 200, got %d", i+1, resp.Code)
		}
	}
	for i := 0; i < 2; i++ {
		if resp := post(r, "/api/meeting-applications/generate"); resp.Code != http.StatusOK {
			t.Fatalf("default request %d expected 200, got %d", i+1, resp.Code)
		}
	}
	if resp := post(r, "/api/meeting-applications/generate"); resp.Code != http.StatusTooManyRequests {
		t.Fatalf("default request 3 expected 429, got %d", resp.Code)
	}

	clk.SetTime(clk.Now().Add(time.Second))
	if resp := post(r, "/api/meeting-applications/generate"); resp.Code != http.StatusOK {
		t.Fatalf("expected a refilled token after 1s, got %d", resp.Code)
	}
}

func TestRateLimit429IncludesRetryAfter(t *testing.T) {
	clk := clocktesting.NewFakePassiveClock(time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC))
	r := limitedRouter(NewRateLimiter(clk), map[string]RateLimitRule{
		"DEFAULT": {Rate: 0.5, Burst: 1},
	})

	if resp := post(r, "/api/meeting-applications/generate"); resp.Code != http.StatusOK {
		t.Fatalf("expected first request 200, got %d", resp.Code)
	}
	resp := post(r, "/api/meeting-applications/generate")
	if resp.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", resp.Code)
	}
	if got, _ := strconv.Atoi(resp.Header().Get("Retry-After")); got != 2 {
		t.Fatalf("expected Retry-After 2, got %q", resp.Header().Get("Retry-After"))
	}

	var payload struct {
		Error struct {
			Code    string         `json:"code"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Error.Code != "rate_limited" || payload.Error.Details["retryAfterMs"] != float64(2000) {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestRateLimiterPrunesRefilledBuckets(t *testing.T) {
	clk := clocktesting.NewFakePassiveClock(time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC))
	l := NewRateLimiter(clk)
	rule := RateLimitRule{Rate: 5, Burst: 10}

	for i := 0; i < pruneEvery-1; i++ {
		l.Allow("10.0.0."+strconv.Itoa(i)+"|DEFAULT", rule)
	}
	if l.Len() != pruneEvery-1 {
		t.Fatalf("expected %d buckets, got %d", pruneEvery-1, l.Len())
	}

	clk.SetTime(clk.Now().Add(3 * time.Second))
	l.Allow("10.0.1.1|DEFAULT", rule)
	if l.Len() != 1 {
		t.Fatalf("expected idle buckets to be pruned, got %d", l.Len())
	}
}
