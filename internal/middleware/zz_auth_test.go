package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name           string
		apiKey         string
		path           string
		requestSetup   func(req *http.Request)
		expectedStatus int
	}{
		{
			name:           "no key configured",
			path:           "/start-session",
			requestSetup:   func(req *http.Request) {},
			expectedStatus: http.StatusOK,
		},
		{
			name:   "valid X-API-Key header",
			apiKey: "secret",
			path:   "/start-session",
			requestSetup: func(req *http.Request) {
				req.Header.Set("X-API-Key", "secret")
			},
			expectedStatus: http.StatusOK,
		},
		{
			name:   "valid bearer token",
			apiKey: "secret",
			path:   "/start-session",
			requestSetup: func(req *http.Request) {
				req.Header.Set("Authorization", "Bearer secret")
			},
			expectedStatus: http.StatusOK,
		},
		{
			name:   "valid query parameter",
			apiKey: "secret",
			path:   "/ws",
			requestSetup: func(req *http.Request) {
				q := req.URL.Query()
				q.Add("api_key", "secret")
				req.URL.RawQuery = q.Encode()
			},
			expectedStatus: http.StatusOK,
		},
		{
			name:   "wrong key",
			apiKey: "secret",
			path:   "/start-session",
			requestSetup: func(req *http.Request) {
				req.Header.Set("X-API-Key", "nope")
			},
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "missing key",
			apiKey:         "secret",
			path:           "/metrics",
			requestSetup:   func(req *http.Request) {},
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "health is public",
			apiKey:         "secret",
			path:           "/health",
			requestSetup:   func(req *http.Request) {},
			expectedStatus: http.StatusOK,
		},
		{
			name:           "health prefix is not a wildcard",
			apiKey:         "secret",
			path:           "/healthz",
			requestSetup:   func(req *http.Request) {},
			expectedStatus: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := gin.New()
			r.Use(Auth(tt.apiKey))
			r.GET(tt.path, func(c *gin.Context) { c.Status(http.StatusOK) })

			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			tt.requestSetup(req)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
		})
	}
}
