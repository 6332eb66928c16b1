package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	firebaseauth "firebase.google.com/go/v4/auth"
)

type stubTokenVerifier struct {
	token    *firebaseauth.Token
	err      error
	received string
}

func (s *stubTokenVerifier) VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error) {
	s.received = idToken
	if s.err != nil {
		return nil, s.err
	}
	return s.token, nil
}

func decodeEnvelope(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON body: %v", err)
	}
	if body["success"] != false {
		t.Fatalf("expected success=false, got %v", body["success"])
	}
	return body
}

func TestAuthenticate_AllowsValidToken(t *testing.T) {
	verifier := &stubTokenVerifier{
		token: &firebaseauth.Token{
			UID: "uid-123",
			Claims: map[string]interface{}{
				"role":  []interface{}{"Vendor", "admin", "vendor"},
				"email": "vendor@example.com",
				"name":  "Grace",
			},
		},
	}
	authn := NewAuthenticator(verifier)

	handlerCalled := false
	handler := authn.Authenticate()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCalled = true
		identity, ok := IdentityFromContext(r.Context())
		if !ok {
			t.Fatalf("expected identity in context")
		}
		if identity.UID != "uid-123" {
			t.Fatalf("unexpected uid: %s", identity.UID)
		}
		if len(identity.Roles) != 2 || !identity.HasRole(RoleVendor) || !identity.HasRole(RoleAdmin) {
			t.Fatalf("expected deduplicated vendor+admin roles, got %v", identity.Roles)
		}
		if identity.Email != "vendor@example.com" || identity.Name != "Grace" {
			t.Fatalf("unexpected profile %q %q", identity.Email, identity.Name)
		}
		if identity.Token() != verifier.token {
			t.Fatalf("expected decoded token to be retained")
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer token-value")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rr.Code)
	}
	if !handlerCalled {
		t.Fatalf("expected handler to be called")
	}
	if verifier.received != "token-value" {
		t.Fatalf("expected verifier to receive token-value, got %s", verifier.received)
	}
}

func TestAuthenticate_MissingHeader(t *testing.T) {
	authn := NewAuthenticator(&stubTokenVerifier{})
	handler := authn.Authenticate()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("handler should not execute without a token")
	}))

	for _, header := range []string{"", "Basic abc", "Bearer   "} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("header %q: expected 401, got %d", header, rr.Code)
		}
		if body := decodeEnvelope(t, rr); body["message"] != msgAuthRequired {
			t.Fatalf("header %q: unexpected message %v", header, body["message"])
		}
	}
}

func TestAuthenticate_ExpiredToken(t *testing.T) {
	authn := NewAuthenticator(&stubTokenVerifier{err: ErrTokenExpired})
	handler := authn.Authenticate()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("handler should not execute on expired token")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer expired-token")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if body := decodeEnvelope(t, rr); body["message"] != msgTokenExpired {
		t.Fatalf("expected expiry message, got %v", body["message"])
	}
}

func TestAuthenticate_InvalidToken(t *testing.T) {
	authn := NewAuthenticator(&stubTokenVerifier{err: errors.New("bad signature")})
	handler := authn.Authenticate()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("handler should not execute on invalid token")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer forged")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if body := decodeEnvelope(t, rr); body["message"] != msgTokenInvalid {
		t.Fatalf("expected invalid token message, got %v", body["message"])
	}
}

func TestAuthenticate_MissingRoleUsesFallback(t *testing.T) {
	verifier := &stubTokenVerifier{
		token: &firebaseauth.Token{UID: "uid-456", Claims: map[string]interface{}{}},
	}
	authn := NewAuthenticator(verifier)

	handler := authn.Authenticate()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := IdentityFromContext(r.Context())
		if !ok {
			t.Fatalf("expected identity in context")
		}
		if len(identity.Roles) != 1 || identity.Roles[0] != RoleCustomer {
			t.Fatalf("expected fallback role %q, got %v", RoleCustomer, identity.Roles)
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer missing-role-token")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
}

func TestRequireRoles(t *testing.T) {
	guard := RequireRoles(RoleVendor, RoleAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	cases := []struct {
		name     string
		identity *Identity
		status   int
		message  string
	}{
		{name: "anonymous", status: http.StatusUnauthorized, message: msgAuthRequired},
		{name: "customer", identity: &Identity{UID: "c", Roles: []string{RoleCustomer}}, status: http.StatusForbidden, message: msgAccessDenied},
		{name: "vendor", identity: &Identity{UID: "v", Roles: []string{RoleVendor}}, status: http.StatusNoContent},
		{name: "admin", identity: &Identity{UID: "a", Roles: []string{"ADMIN"}}, status: http.StatusNoContent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPut, "/", nil)
			if tc.identity != nil {
				req = req.WithContext(WithIdentity(req.Context(), tc.identity))
			}
			rr := httptest.NewRecorder()
			guard.ServeHTTP(rr, req)

			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rr.Code)
			}
			if tc.message != "" {
				if body := decodeEnvelope(t, rr); body["message"] != tc.message {
					t.Fatalf("unexpected message %v", body["message"])
				}
			}
		})
	}
}
