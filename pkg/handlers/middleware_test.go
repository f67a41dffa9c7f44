package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

func TestTenantMiddleware_ScopesAndCleansUp(t *testing.T) {
	workspaceID := uuid.New()

	type scopeKey struct{}
	cleaned := false
	var scopedTo uuid.UUID
	scopeFn := func(ctx context.Context, wid uuid.UUID) (context.Context, func(), error) {
		scopedTo = wid
		return context.WithValue(ctx, scopeKey{}, wid), func() { cleaned = true }, nil
	}

	tenant := NewTenantMiddleware(scopeFn, zap.NewNop())

	var sawScope bool
	handler := tenant(func(w http.ResponseWriter, r *http.Request) {
		_, sawScope = r.Context().Value(scopeKey{}).(uuid.UUID)
		w.WriteHeader(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/workspaces/"+workspaceID.String()+"/datasources", nil)
	req.SetPathValue("wid", workspaceID.String())

	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("expected status 204, got %d", rec.Code)
	}
	if scopedTo != workspaceID {
		t.Errorf("expected scope for %s, got %s", workspaceID, scopedTo)
	}
	if !sawScope {
		t.Error("handler did not see the scoped context")
	}
	if !cleaned {
		t.Error("scope cleanup was not called")
	}
}

func TestTenantMiddleware_InvalidWorkspaceID(t *testing.T) {
	scopeFn := func(ctx context.Context, wid uuid.UUID) (context.Context, func(), error) {
		t.Fatal("scope function should not be called")
		return nil, nil, nil
	}
	tenant := NewTenantMiddleware(scopeFn, zap.NewNop())

	handler := tenant(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	})

	req := httptest.NewRequest(http.MethodGet, "/api/workspaces/bogus/datasources", nil)
	req.SetPathValue("wid", "bogus")

	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", rec.Code)
	}
}

func TestTenantMiddleware_ScopeUnavailable(t *testing.T) {
	scopeFn := func(ctx context.Context, wid uuid.UUID) (context.Context, func(), error) {
		return nil, nil, errors.New("pool exhausted")
	}
	tenant := NewTenantMiddleware(scopeFn, zap.NewNop())

	handler := tenant(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	})

	workspaceID := uuid.New()
	req := httptest.NewRequest(http.MethodGet, "/api/workspaces/"+workspaceID.String()+"/datasources", nil)
	req.SetPathValue("wid", workspaceID.String())

	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rec.Code)
	}

	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp["error"] != "database_unavailable" {
		t.Errorf("expected error 'database_unavailable', got %q", resp["error"])
	}
}

func TestPrincipalFrom(t *testing.T) {
	workspaceID := uuid.New()
	userID := uuid.New()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-User-ID", userID.String())

	p := principalFrom(req, workspaceID)
	if p.WorkspaceID != workspaceID {
		t.Errorf("expected workspace %s, got %s", workspaceID, p.WorkspaceID)
	}
	if p.UserID != userID {
		t.Errorf("expected user %s, got %s", userID, p.UserID)
	}

	req.Header.Set("X-User-ID", "garbage")
	p = principalFrom(req, workspaceID)
	if p.UserID != uuid.Nil {
		t.Errorf("expected nil user for malformed header, got %s", p.UserID)
	}
}
