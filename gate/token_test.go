package gate

import (
	"log/slog"
	"net/http/httptest"
	"testing"
)

func TestBearerResolver(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   string
		ok     bool
	}{
		{"well formed", "Bearer mF_9.B5f-4.1JqM", "mF_9.B5f-4.1JqM", true},
		{"case insensitive scheme", "bearer abc123", "abc123", true},
		{"extra spaces", "Bearer    abc123", "abc123", true},
		{"trailing padding", "Bearer abc==", "abc==", true},
		{"missing header", "", "", false},
		{"wrong scheme", "Basic dXNlcjpwYXNz", "", false},
		{"scheme only", "Bearer", "", false},
		{"empty credential", "Bearer ", "", false},
		{"embedded space", "Bearer ab cd", "", false},
		{"padding only", "Bearer ==", "", false},
		{"padding in the middle", "Bearer ab=cd", "", false},
	}

	br := &bearerResolver{logger: slog.Default()}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			tok, ok := br.resolve(r)
			if ok != tt.ok {
				t.Fatalf("resolve ok = %v, want %v", ok, tt.ok)
			}
			if !ok {
				return
			}
			if tok.Value != tt.want {
				t.Errorf("token value = %q, want %q", tok.Value, tt.want)
			}
			if tok.Type != TokenBearer {
				t.Errorf("token type = %v, want %v", tok.Type, TokenBearer)
			}
		})
	}
}

func TestHeaderResolver(t *testing.T) {
	hr := &headerResolver{header: "X-Auth-Token", logger: slog.Default()}

	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("X-Auth-Token", "raw token, taken verbatim")
	r.Header.Set("Authorization", "Bearer ignored")

	tok, ok := hr.resolve(r)
	if !ok {
		t.Fatal("expected a token")
	}
	if tok.Value != "raw token, taken verbatim" {
		t.Errorf("token value = %q, want the verbatim header value", tok.Value)
	}
	if tok.Type != TokenBare {
		t.Errorf("token type = %v, want %v", tok.Type, TokenBare)
	}

	// A standard Authorization header alone must not resolve.
	r2 := httptest.NewRequest("GET", "/", nil)
	r2.Header.Set("Authorization", "Bearer sometoken")
	if _, ok := hr.resolve(r2); ok {
		t.Error("custom-header resolver consulted the Authorization header")
	}
}
