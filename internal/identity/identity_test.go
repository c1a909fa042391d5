package identity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestParseRole(t *testing.T) {
	tests := []struct {
		in   string
		want Role
		ok   bool
	}{
		{"artist", RoleArtist, true},
		{"ADMIN", RoleAdmin, true},
		{" listener ", RoleListener, true},
		{"business", RoleBusiness, true},
		{"marketer", RoleMarketer, true},
		{"superuser", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := ParseRole(tt.in)
		if ok != tt.ok || got != tt.want {
			t.Errorf("ParseRole(%q) = (%q, %v), want (%q, %v)", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestPrincipal_Has(t *testing.T) {
	p := &Principal{UserID: "u1", Roles: []Role{RoleArtist, RoleListener}}
	if !p.Has(RoleArtist) {
		t.Error("expected artist role")
	}
	if p.Has(RoleAdmin) {
		t.Error("did not expect admin role")
	}
	if p.IsAdmin() {
		t.Error("did not expect IsAdmin")
	}
}

func TestStaticProvider(t *testing.T) {
	provider := NewStaticProvider().Add("tok_1", "user_1", RoleListener)

	p, err := provider.Identify(context.Background(), "tok_1")
	if err != nil {
		t.Fatalf("Identify failed: %v", err)
	}
	if p.UserID != "user_1" {
		t.Errorf("expected user_1, got %s", p.UserID)
	}

	if _, err := provider.Identify(context.Background(), "tok_unknown"); err == nil {
		t.Error("expected error for unknown token")
	}
}

func setupRouter(provider Provider, adminSecret string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Middleware(provider))
	r.Use(AdminSecretMiddleware(adminSecret))
	r.GET("/me", RequireAuth(), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"userId": UserID(c)})
	})
	r.GET("/artist-only", RequireRole(RoleArtist), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	r.GET("/admin-only", RequireAdmin(), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return r
}

func TestMiddleware_ResolvesPrincipal(t *testing.T) {
	provider := NewStaticProvider().Add("tok_artist", "user_a", RoleArtist)
	r := setupRouter(provider, "")

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/me", nil)
	req.Header.Set("Authorization", "Bearer tok_artist")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
}

func TestRequireAuth_RejectsAnonymous(t *testing.T) {
	r := setupRouter(NewStaticProvider(), "")

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/me", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestRequireRole(t *testing.T) {
	provider := NewStaticProvider().
		Add("tok_artist", "user_a", RoleArtist).
		Add("tok_listener", "user_l", RoleListener)
	r := setupRouter(provider, "")

	// Artist passes
	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/artist-only", nil)
	req.Header.Set("Authorization", "Bearer tok_artist")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("expected 200 for artist, got %d", w.Code)
	}

	// Listener is rejected
	w = httptest.NewRecorder()
	req = httptest.NewRequest("GET", "/artist-only", nil)
	req.Header.Set("Authorization", "Bearer tok_listener")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403 for listener, got %d", w.Code)
	}
}

func TestAdminSecret(t *testing.T) {
	r := setupRouter(NewStaticProvider(), "top-secret")

	// Correct secret grants admin
	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/admin-only", nil)
	req.Header.Set("X-Admin-Secret", "top-secret")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("expected 200 with admin secret, got %d", w.Code)
	}

	// Wrong secret does not
	w = httptest.NewRecorder()
	req = httptest.NewRequest("GET", "/admin-only", nil)
	req.Header.Set("X-Admin-Secret", "guess")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403 with wrong secret, got %d", w.Code)
	}
}

func TestAdminBypassesRoleGates(t *testing.T) {
	provider := NewStaticProvider().Add("tok_admin", "user_admin", RoleAdmin)
	r := setupRouter(provider, "")

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/artist-only", nil)
	req.Header.Set("Authorization", "Bearer tok_admin")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("expected 200 for admin on artist route, got %d", w.Code)
	}
}

func TestParseProviderSpec(t *testing.T) {
	p, err := ParseProviderSpec("tok_a:usr_1:artist|listener, tok_b:usr_2:admin")
	if err != nil {
		t.Fatalf("ParseProviderSpec: %v", err)
	}
	if p.Len() != 2 {
		t.Fatalf("Len = %d, want 2", p.Len())
	}

	got, err := p.Identify(context.Background(), "tok_a")
	if err != nil {
		t.Fatalf("Identify: %v", err)
	}
	if got.UserID != "usr_1" || !got.Has(RoleArtist) || !got.Has(RoleListener) {
		t.Errorf("unexpected principal: %+v", got)
	}

	admin, err := p.Identify(context.Background(), "tok_b")
	if err != nil {
		t.Fatalf("Identify admin: %v", err)
	}
	if !admin.IsAdmin() {
		t.Errorf("tok_b should be admin: %+v", admin)
	}
}

func TestParseProviderSpecEmpty(t *testing.T) {
	p, err := ParseProviderSpec("  ")
	if err != nil {
		t.Fatalf("ParseProviderSpec: %v", err)
	}
	if p.Len() != 0 {
		t.Errorf("Len = %d, want 0", p.Len())
	}
}

func TestParseProviderSpecRejectsMalformed(t *testing.T) {
	for _, spec := range []string{"justtoken", "tok::artist", "tok:user:astronaut"} {
		if _, err := ParseProviderSpec(spec); err == nil {
			t.Errorf("ParseProviderSpec(%q) should fail", spec)
		}
	}
}
