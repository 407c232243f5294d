package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestTrustedRealIP(t *testing.T) {
	mw := TrustedRealIP([]string{"10.0.0.0/8", "192.168.1.5", "not-a-cidr"})

	tests := []struct {
		name       string
		remoteAddr string
		realIP     string
		forwarded  string
		want       string
	}{
		{"untrusted source keeps its address", "203.0.113.9:5000", "1.2.3.4", "", "203.0.113.9:5000"},
		{"trusted CIDR uses X-Real-IP", "10.1.2.3:5000", "1.2.3.4", "", "1.2.3.4"},
		{"trusted single address", "192.168.1.5:5000", "1.2.3.4", "", "1.2.3.4"},
		{"first X-Forwarded-For entry", "10.1.2.3:5000", "", "1.2.3.4, 10.0.0.1", "1.2.3.4"},
		{"X-Real-IP wins over X-Forwarded-For", "10.1.2.3:5000", "1.2.3.4", "5.6.7.8", "1.2.3.4"},
		{"invalid header is ignored", "10.1.2.3:5000", "garbage", "", "10.1.2.3:5000"},
		{"no headers", "10.1.2.3:5000", "", "", "10.1.2.3:5000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = r.RemoteAddr
			}))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.realIP != "" {
				req.Header.Set("X-Real-IP", tt.realIP)
			}
			if tt.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			h.ServeHTTP(httptest.NewRecorder(), req)

			if got != tt.want {
				t.Errorf("RemoteAddr = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		remoteAddr string
		want       string
	}{
		{"10.0.0.1:1234", "10.0.0.1"},
		{"10.0.0.1", "10.0.0.1"},
		{"[::1]:8080", "::1"},
		{"[::ffff:10.0.0.1]:80", "10.0.0.1"},
		{"pipe", "pipe"},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = tt.remoteAddr
		if got := ClientIP(req); got != tt.want {
			t.Errorf("ClientIP(%q) = %q, want %q", tt.remoteAddr, got, tt.want)
		}
	}
}
