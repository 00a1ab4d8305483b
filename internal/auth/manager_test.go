package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestLoginAndValidateToken(t *testing.T) {
	m := NewManager("test-secret")

	resp, err := m.Login("admin", "admin")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if resp.Token == "" {
		t.Fatal("expected non-empty token")
	}
	if resp.User.Username != "admin" {
		t.Errorf("expected admin user, got %s", resp.User.Username)
	}

	claims, err := m.ValidateToken(resp.Token)
	if err != nil {
		t.Fatalf("ValidateToken failed: %v", err)
	}
	if claims.Role != "admin" {
		t.Errorf("expected admin role, got %s", claims.Role)
	}
	if !m.HasPermission(claims, PermQueueControl) {
		t.Error("admin should hold queue:control via wildcard")
	}
}

func TestLoginWrongPassword(t *testing.T) {
	m := NewManager("test-secret")
	if _, err := m.Login("admin", "wrong"); err == nil {
		t.Fatal("expected error for wrong password")
	}
	if _, err := m.Login("nobody", "admin"); err == nil {
		t.Fatal("expected error for unknown user")
	}
}

func TestValidateTokenWrongSecret(t *testing.T) {
	m1 := NewManager("secret-one")
	m2 := NewManager("secret-two")

	resp, err := m1.Login("admin", "admin")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	if _, err := m2.ValidateToken(resp.Token); err == nil {
		t.Fatal("token signed with a different secret should not validate")
	}
}

func TestAPIKeyLifecycle(t *testing.T) {
	m := NewManager("test-secret")

	created, err := m.CreateAPIKey("user-admin", CreateAPIKeyRequest{
		Name:        "ci",
		Permissions: []string{PermTaskSubmit, PermTaskRead},
	})
	if err != nil {
		t.Fatalf("CreateAPIKey failed: %v", err)
	}
	if created.Key == "" {
		t.Fatal("expected raw key in create response")
	}

	userID, perms, err := m.ValidateAPIKey(created.Key)
	if err != nil {
		t.Fatalf("ValidateAPIKey failed: %v", err)
	}
	if userID != "user-admin" {
		t.Errorf("expected user-admin, got %s", userID)
	}
	if len(perms) != 2 {
		t.Errorf("expected 2 permissions, got %d", len(perms))
	}

	keys := m.ListAPIKeys("user-admin")
	if len(keys) != 1 {
		t.Fatalf("expected 1 key, got %d", len(keys))
	}

	if err := m.RevokeAPIKey(created.ID, "user-admin"); err != nil {
		t.Fatalf("RevokeAPIKey failed: %v", err)
	}
	if _, _, err := m.ValidateAPIKey(created.Key); err == nil {
		t.Fatal("revoked key should not validate")
	}
}

func TestChangePassword(t *testing.T) {
	m := NewManager("test-secret")

	if err := m.ChangePassword("user-admin", "wrong", "newpass"); err == nil {
		t.Fatal("expected error with wrong current password")
	}

	if err := m.ChangePassword("user-admin", "admin", "newpass"); err != nil {
		t.Fatalf("ChangePassword failed: %v", err)
	}

	if _, err := m.Login("admin", "admin"); err == nil {
		t.Fatal("old password should no longer work")
	}
	if _, err := m.Login("admin", "newpass"); err != nil {
		t.Fatalf("new password should work: %v", err)
	}
}

func TestCreateUserRoles(t *testing.T) {
	m := NewManager("test-secret")

	user, err := m.CreateUser("ops", "ops@spindle.local", "operator", "pw")
	if err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}

	resp, err := m.Login("ops", "pw")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	claims, err := m.ValidateToken(resp.Token)
	if err != nil {
		t.Fatalf("ValidateToken failed: %v", err)
	}

	if !m.HasPermission(claims, PermTaskSubmit) {
		t.Error("operator should hold tasks:submit")
	}
	if m.HasPermission(claims, PermUsersManage) {
		t.Error("operator should not hold users:manage")
	}

	if _, err := m.CreateUser("ops", "", "operator", "pw"); err == nil {
		t.Error("duplicate username should fail")
	}
	if _, err := m.CreateUser("x", "", "missing-role", "pw"); err == nil {
		t.Error("unknown role should fail")
	}
	_ = user
}

func TestHasPermissionWildcards(t *testing.T) {
	m := NewManager("test-secret")

	tests := []struct {
		perms      []string
		permission string
		want       bool
	}{
		{[]string{"*:*"}, "queue:control", true},
		{[]string{"tasks:*"}, "tasks:abort", true},
		{[]string{"tasks:*"}, "queue:control", false},
		{[]string{"tasks:read"}, "tasks:read", true},
		{[]string{"tasks:read"}, "tasks:submit", false},
		{nil, "tasks:read", false},
	}

	for _, tt := range tests {
		claims := &Claims{Permissions: tt.perms}
		if got := m.HasPermission(claims, tt.permission); got != tt.want {
			t.Errorf("HasPermission(%v, %q) = %v, want %v", tt.perms, tt.permission, got, tt.want)
		}
	}
}

func TestMiddlewareBearerAndAPIKey(t *testing.T) {
	m := NewManager("test-secret")
	resp, err := m.Login("admin", "admin")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	var gotUserID string
	handler := Middleware(m, true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUserID = GetUserIDFromRequest(r)
		w.WriteHeader(http.StatusOK)
	}))

	// No credentials
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/tasks", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without credentials, got %d", rec.Code)
	}

	// Bearer token
	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/tasks", nil)
	req.Header.Set("Authorization", "Bearer "+resp.Token)
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 with bearer token, got %d", rec.Code)
	}
	if gotUserID != "user-admin" {
		t.Errorf("expected user-admin on context, got %q", gotUserID)
	}

	// API key
	key, err := m.CreateAPIKey("user-admin", CreateAPIKeyRequest{Name: "t", Permissions: []string{"*:*"}})
	if err != nil {
		t.Fatalf("CreateAPIKey failed: %v", err)
	}
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/api/tasks", nil)
	req.Header.Set("X-API-Key", key.Key)
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 with API key, got %d", rec.Code)
	}

	// Garbage token
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/api/tasks", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 with garbage token, got %d", rec.Code)
	}
}

func TestMiddlewareDisabledPassesThrough(t *testing.T) {
	m := NewManager("test-secret")
	handler := Middleware(m, false)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/tasks", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("expected pass-through when disabled, got %d", rec.Code)
	}
}
