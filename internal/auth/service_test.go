package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newStaticService(t *testing.T) *Service {
	t.Helper()
	svc, err := NewService(context.Background(), Config{
		Mode: ModeStatic,
		Keys: []KeySeed{
			{Key: "reader-key", AgentID: "agent-reader", Scopes: []string{ScopeRead}},
			{Key: "writer-key", AgentID: "agent-writer", Scopes: []string{ScopeRead, ScopeWrite}},
			{Key: "admin-key", AgentID: "agent-admin", Scopes: []string{ScopeAdmin}},
			{Key: "revoked-key", AgentID: "agent-revoked", Scopes: []string{ScopeRead}, Disabled: true},
		},
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func TestAuthenticateRequest(t *testing.T) {
	svc := newStaticService(t)
	ctx := context.Background()

	subject, err := svc.AuthenticateRequest(ctx, "Bearer writer-key")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if subject.AgentID != "agent-writer" {
		t.Fatalf("unexpected agent id %q", subject.AgentID)
	}
	if !subject.HasScope(ScopeWrite) || subject.HasScope(ScopeAdmin) {
		t.Fatalf("unexpected scopes %v", subject.Scopes)
	}

	if _, err := svc.AuthenticateRequest(ctx, ""); !errors.Is(err, ErrMissingKey) {
		t.Fatalf("expected ErrMissingKey, got %v", err)
	}
	if _, err := svc.AuthenticateRequest(ctx, "Bearer nope"); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
	if _, err := svc.AuthenticateRequest(ctx, "Basic writer-key"); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey for non-bearer scheme, got %v", err)
	}
	if _, err := svc.AuthenticateRequest(ctx, "Bearer revoked-key"); !errors.Is(err, ErrSubjectRevoked) {
		t.Fatalf("expected ErrSubjectRevoked, got %v", err)
	}
}

func TestAdminScopeImpliesAll(t *testing.T) {
	svc := newStaticService(t)

	subject, err := svc.AuthenticateRequest(context.Background(), "Bearer admin-key")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	for _, scope := range []string{ScopeRead, ScopeWrite, ScopeAdmin} {
		if err := subject.Authorize(scope); err != nil {
			t.Fatalf("admin should hold %s: %v", scope, err)
		}
	}
}

func TestMiddlewareEnforcesScopes(t *testing.T) {
	svc := newStaticService(t)
	handler := svc.Middleware(MiddlewareConfig{
		RequiredScopes: map[string][]string{
			http.MethodGet:  {ScopeRead},
			http.MethodPost: {ScopeWrite},
		},
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject := SubjectFromContext(r.Context())
		if subject == nil {
			t.Fatal("subject missing from context")
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	cases := []struct {
		name   string
		method string
		key    string
		want   int
	}{
		{"reader can read", http.MethodGet, "reader-key", http.StatusNoContent},
		{"reader cannot write", http.MethodPost, "reader-key", http.StatusForbidden},
		{"writer can write", http.MethodPost, "writer-key", http.StatusNoContent},
		{"missing key rejected", http.MethodGet, "", http.StatusUnauthorized},
		{"revoked key rejected", http.MethodGet, "revoked-key", http.StatusForbidden},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(tc.method, "/v1/agents/a/reputation", nil)
		if tc.key != "" {
			req.Header.Set("Authorization", "Bearer "+tc.key)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != tc.want {
			t.Fatalf("%s: got status %d want %d", tc.name, rec.Code, tc.want)
		}
	}
}

func TestMiddlewareDisabledModePassesThrough(t *testing.T) {
	svc, err := NewService(context.Background(), Config{Mode: ModeDisabled})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	handler := svc.Middleware(MiddlewareConfig{
		RequiredScopes: map[string][]string{"*": {ScopeAdmin}},
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/leaderboard", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("disabled mode should pass through, got %d", rec.Code)
	}
}
