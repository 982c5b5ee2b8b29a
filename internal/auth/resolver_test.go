package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"sudooom.im.chat/internal/model"
)

func TestTokenFromRequest(t *testing.T) {
	tests := []struct {
		name     string
		build    func(r *http.Request)
		expected string
	}{
		{
			name: "cookie",
			build: func(r *http.Request) {
				r.AddCookie(&http.Cookie{Name: "token", Value: "from-cookie"})
				r.Header.Set("Authorization", "Bearer from-header")
			},
			expected: "from-cookie",
		},
		{
			name: "query",
			build: func(r *http.Request) {
				q := r.URL.Query()
				q.Set("token", "from-query")
				r.URL.RawQuery = q.Encode()
			},
			expected: "from-query",
		},
		{
			name: "bearer header",
			build: func(r *http.Request) {
				r.Header.Set("Authorization", "bearer from-header")
			},
			expected: "from-header",
		},
		{
			name: "other cookie ignored",
			build: func(r *http.Request) {
				r.AddCookie(&http.Cookie{Name: "session", Value: "x"})
			},
			expected: "",
		},
		{
			name:     "nothing",
			build:    func(r *http.Request) {},
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/ws", nil)
			tt.build(r)
			if got := TokenFromRequest(r, "token"); got != tt.expected {
				t.Errorf("Expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestResolverFunc(t *testing.T) {
	var r Resolver = ResolverFunc(func(_ context.Context, token string) (*model.Identity, error) {
		return &model.Identity{UserID: 1, Username: token}, nil
	})

	identity, err := r.Resolve(context.Background(), "carol")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if identity.Username != "carol" {
		t.Errorf("Expected carol, got %s", identity.Username)
	}
}
