package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestAPIKeyAllowsOptionsWithoutToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(APIKey("secret"))
	router.OPTIONS("/api/meeting-applications/generate", func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodOptions, "/api/meeting-applications/generate", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.Code)
	}
}

func TestAPIKey(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name       string
		key        string
		header     string
		wantCode   int
		wantCaller string
	}{
		{name: "valid token", key: "secret", header: "Bearer secret", wantCode: http.StatusOK, wantCaller: "api_key"},
		{name: "wrong token", key: "secret", header: "Bearer nope", wantCode: http.StatusUnauthorized},
		{name: "missing header", key: "secret", wantCode: http.StatusUnauthorized},
		{name: "not bearer", key: "secret", header: "Basic secret", wantCode: http.StatusUnauthorized},
		{name: "key unset", header: "", wantCode: http.StatusOK, wantCaller: "anonymous"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			router := gin.New()
			router.Use(APIKey(tt.key))
			var caller string
			router.GET("/x", func(c *gin.Context) {
				caller = CallerFromContext(c)
				c.Status(http.StatusOK)
			})

			req := httptest.NewRequest(http.MethodGet, "/x", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp := httptest.NewRecorder()
			router.ServeHTTP(resp, req)

			if resp.Code != tt.wantCode {
				t.Fatalf("expected %d, got %d", tt.wantCode, resp.Code)
			}
			if caller != tt.wantCaller {
				t.Fatalf("caller = %q, want %q", caller, tt.wantCaller)
			}
		})
	}
}
