package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrustedRealIP(t *testing.T) {
	tests := []struct {
		name       string
		trusted    []string
		remoteAddr string
		realIP     string
		xff        string
		want       string
	}{
		{
			name:       "no trusted proxies ignores headers",
			remoteAddr: "203.0.113.7:4000",
			realIP:     "198.51.100.1",
			want:       "203.0.113.7:4000",
		},
		{
			name:       "untrusted peer ignores headers",
			trusted:    []string{"10.0.0.0/8"},
			remoteAddr: "203.0.113.7:4000",
			xff:        "198.51.100.1",
			want:       "203.0.113.7:4000",
		},
		{
			name:       "trusted peer with X-Real-IP",
			trusted:    []string{"10.0.0.0/8"},
			remoteAddr: "10.1.2.3:4000",
			realIP:     "198.51.100.1",
			want:       "198.51.100.1",
		},
		{
			name:       "invalid X-Real-IP falls back to forwarded chain",
			trusted:    []string{"10.0.0.0/8"},
			remoteAddr: "10.1.2.3:4000",
			realIP:     "garbage",
			xff:        "198.51.100.2",
			want:       "198.51.100.2",
		},
		{
			name:       "rightmost untrusted hop wins",
			trusted:    []string{"10.0.0.0/8", "192.168.1.1"},
			remoteAddr: "10.1.2.3:4000",
			xff:        "1.1.1.1, 198.51.100.3, 192.168.1.1",
			want:       "198.51.100.3",
		},
		{
			name:       "malformed hop keeps remote address",
			trusted:    []string{"10.0.0.0/8"},
			remoteAddr: "10.1.2.3:4000",
			xff:        "198.51.100.1, nonsense",
			want:       "10.1.2.3:4000",
		},
		{
			name:       "all hops trusted keeps remote address",
			trusted:    []string{"10.0.0.0/8"},
			remoteAddr: "10.1.2.3:4000",
			xff:        "10.9.9.9",
			want:       "10.1.2.3:4000",
		},
		{
			name:       "invalid trusted entries are skipped",
			trusted:    []string{"not-a-cidr", " ", "10.1.2.3"},
			remoteAddr: "10.1.2.3:4000",
			realIP:     "2001:db8::1",
			want:       "2001:db8::1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			h := TrustedRealIP(tt.trusted)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = r.RemoteAddr
			}))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.realIP != "" {
				req.Header.Set("X-Real-IP", tt.realIP)
			}
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			h.ServeHTTP(httptest.NewRecorder(), req)

			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLoggerRecordsStatusAndSize(t *testing.T) {
	var rw *responseWriter
	r := chi.NewRouter()
	r.Use(Logger)
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			rw, _ = w.(*responseWriter)
			next.ServeHTTP(w, req)
		})
	})
	r.Get("/items/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("hello"))
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/items/7", nil))

	require.NotNil(t, rw)
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, http.StatusTeapot, rw.status, "only the first status is recorded")
	assert.Equal(t, int64(5), rw.bytes)
	assert.Same(t, rec, rw.Unwrap())
}

func TestLoggerDefaultsToOK(t *testing.T) {
	ww := &responseWriter{ResponseWriter: httptest.NewRecorder(), status: http.StatusOK}

	_, err := ww.Write([]byte("x"))

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, ww.status)
	assert.True(t, ww.wroteHeader)
}
