package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

func devToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return token
}

func captureClaims(got **Claims) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*got, _ = GetUserFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
}

func TestMiddleware(t *testing.T) {
	dev := NewAuthenticator(Options{Env: "development"}, zerolog.Nop())

	tests := []struct {
		name       string
		authz      string
		query      string
		wantStatus int
		wantRole   string
		wantSub    string
	}{
		{
			name:       "missing token",
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "non bearer header",
			authz:      "Basic dXNlcjpwYXNz",
			wantStatus: http.StatusUnauthorized,
		},
		{
			name: "keycloak realm roles",
			authz: "Bearer " + devToken(t, jwt.MapClaims{
				"sub":          "user-1",
				"email":        "sup@example.com",
				"realm_access": map[string]interface{}{"roles": []interface{}{"agent", "supervisor"}},
				"exp":          float64(time.Now().Add(time.Hour).Unix()),
			}),
			wantStatus: http.StatusOK,
			wantRole:   RoleSupervisor,
			wantSub:    "user-1",
		},
		{
			name: "token in query parameter",
			query: "token=" + devToken(t, jwt.MapClaims{
				"sub":            "user-2",
				"cognito:groups": []interface{}{"leaddesk-agent"},
			}),
			wantStatus: http.StatusOK,
			wantRole:   RoleAgent,
			wantSub:    "user-2",
		},
		{
			name:       "no role claims",
			authz:      "Bearer " + devToken(t, jwt.MapClaims{"sub": "user-3"}),
			wantStatus: http.StatusOK,
			wantRole:   RoleViewer,
			wantSub:    "user-3",
		},
		{
			name: "expired token",
			authz: "Bearer " + devToken(t, jwt.MapClaims{
				"sub": "user-4",
				"exp": float64(time.Now().Add(-time.Hour).Unix()),
			}),
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "missing subject",
			authz:      "Bearer " + devToken(t, jwt.MapClaims{"email": "x@example.com"}),
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "garbage",
			authz:      "Bearer not-a-jwt",
			wantStatus: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got *Claims
			handler := dev.Middleware(captureClaims(&got))

			target := "/api/agents/summaries"
			if tt.query != "" {
				target += "?" + tt.query
			}
			req := httptest.NewRequest(http.MethodGet, target, nil)
			if tt.authz != "" {
				req.Header.Set("Authorization", tt.authz)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("expected status %d, got %d", tt.wantStatus, rec.Code)
			}
			if tt.wantStatus != http.StatusOK {
				return
			}
			if got == nil {
				t.Fatal("expected claims in context")
			}
			if got.Role != tt.wantRole {
				t.Errorf("expected role %s, got %s", tt.wantRole, got.Role)
			}
			if got.Subject != tt.wantSub {
				t.Errorf("expected subject %s, got %s", tt.wantSub, got.Subject)
			}
		})
	}
}

func TestMiddlewareSkipAuth(t *testing.T) {
	a := NewAuthenticator(Options{SkipAuth: true}, zerolog.Nop())

	var got *Claims
	rec := httptest.NewRecorder()
	a.Middleware(captureClaims(&got)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/x", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got == nil || got.Role != RoleAdmin || got.Subject != DevUserID {
		t.Errorf("expected dev admin claims, got %+v", got)
	}
}

func TestProductionRequiresIssuer(t *testing.T) {
	a := NewAuthenticator(Options{Env: "production"}, zerolog.Nop())

	req := httptest.NewRequest(http.MethodGet, "/api/x", nil)
	req.Header.Set("Authorization", "Bearer "+devToken(t, jwt.MapClaims{"sub": "user-1"}))
	rec := httptest.NewRecorder()
	a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler must not run for an unverifiable token")
	})).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestRequireRole(t *testing.T) {
	tests := []struct {
		name       string
		claims     *Claims
		wantStatus int
	}{
		{"admin allowed", &Claims{Role: RoleAdmin}, http.StatusOK},
		{"supervisor allowed", &Claims{Role: RoleSupervisor}, http.StatusOK},
		{"agent forbidden", &Claims{Role: RoleAgent}, http.StatusForbidden},
		{"no claims", nil, http.StatusUnauthorized},
	}

	handler := RequireRole(RoleAdmin, RoleSupervisor)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/assignments", nil)
			if tt.claims != nil {
				req = req.WithContext(WithClaims(req.Context(), tt.claims))
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, rec.Code)
			}
		})
	}
}

func TestVerifies(t *testing.T) {
	tests := []struct {
		opts Options
		want bool
	}{
		{Options{}, false},
		{Options{Env: "development"}, false},
		{Options{Env: "development", VerifySignature: true}, true},
		{Options{Env: "production"}, true},
		{Options{Env: "production", SkipAuth: true}, false},
	}

	for _, tt := range tests {
		if got := NewAuthenticator(tt.opts, zerolog.Nop()).Verifies(); got != tt.want {
			t.Errorf("Verifies() with %+v = %v, want %v", tt.opts, got, tt.want)
		}
	}
}
