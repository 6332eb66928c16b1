package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	firebaseauth "firebase.google.com/go/v4/auth"

	"github.com/bazaar-market/ledger/internal/platform/httpx"
)

const (
	defaultRoleClaim     = "role"
	defaultFallbackRole  = RoleCustomer
	defaultVerifyTimeout = 5 * time.Second
)

const (
	msgAuthRequired    = "Authentication required"
	msgTokenExpired    = "Token expired"
	msgTokenInvalid    = "Invalid token"
	msgAccessDenied    = "Access denied. Insufficient permissions."
	msgAuthUnavailable = "Authentication service unavailable"
)

// ErrTokenExpired lets verifiers other than Firebase report expiry.
var ErrTokenExpired = errors.New("auth: id token expired")

// TokenVerifier verifies Firebase ID tokens.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error)
}

// Authenticator turns bearer tokens into an Identity on the request context.
type Authenticator struct {
	verifier     TokenVerifier
	roleClaim    string
	fallbackRole string
	timeout      time.Duration
}

// Option customises Authenticator behaviour.
type Option func(*Authenticator)

// WithRoleClaim overrides the custom claim used for role extraction.
func WithRoleClaim(claim string) Option {
	return func(a *Authenticator) {
		claim = strings.TrimSpace(claim)
		if claim != "" {
			a.roleClaim = claim
		}
	}
}

// WithFallbackRole sets the role assumed when the token carries none.
func WithFallbackRole(role string) Option {
	return func(a *Authenticator) {
		role = normaliseRole(role)
		if role != "" {
			a.fallbackRole = role
		}
	}
}

func WithVerificationTimeout(d time.Duration) Option {
	return func(a *Authenticator) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// NewAuthenticator constructs an Authenticator.
func NewAuthenticator(verifier TokenVerifier, opts ...Option) *Authenticator {
	a := &Authenticator{
		verifier:     verifier,
		roleClaim:    defaultRoleClaim,
		fallbackRole: defaultFallbackRole,
		timeout:      defaultVerifyTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// Authenticate requires a valid bearer token and stores the resulting Identity.
func (a *Authenticator) Authenticate() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			tokenStr, ok := extractBearerToken(r.Header.Get("Authorization"))
			if !ok {
				httpx.WriteError(ctx, w, httpx.NewError(http.StatusUnauthorized, msgAuthRequired))
				return
			}
			if a == nil || a.verifier == nil {
				httpx.WriteError(ctx, w, httpx.NewError(http.StatusUnauthorized, msgAuthUnavailable))
				return
			}

			verifyCtx, cancel := context.WithTimeout(ctx, a.timeout)
			token, err := a.verifier.VerifyIDToken(verifyCtx, tokenStr)
			cancel()
			if err != nil {
				message := msgTokenInvalid
				if errors.Is(err, ErrTokenExpired) || firebaseauth.IsIDTokenExpired(err) {
					message = msgTokenExpired
				}
				httpx.WriteError(ctx, w, httpx.NewError(http.StatusUnauthorized, message))
				return
			}

			identity := &Identity{
				UID:   token.UID,
				Email: claimAsString(token.Claims, "email"),
				Name:  claimAsString(token.Claims, "name"),
				Roles: rolesFromClaims(token.Claims, a.roleClaim),
				token: token,
			}
			if len(identity.Roles) == 0 {
				identity.Roles = []string{a.fallbackRole}
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(ctx, identity)))
		})
	}
}

// RequireRoles admits identities holding any of the roles. It must run after Authenticate.
func RequireRoles(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			identity, ok := IdentityFromContext(ctx)
			if !ok {
				httpx.WriteError(ctx, w, httpx.NewError(http.StatusUnauthorized, msgAuthRequired))
				return
			}
			if !identity.HasAnyRole(roles...) {
				httpx.WriteError(ctx, w, httpx.NewError(http.StatusForbidden, msgAccessDenied))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func rolesFromClaims(claims map[string]interface{}, key string) []string {
	raw, ok := claims[key]
	if !ok {
		return nil
	}

	var values []string
	switch v := raw.(type) {
	case string:
		values = []string{v}
	case []string:
		values = v
	case []interface{}:
		for _, item := range v {
			if s, ok := item.(string); ok {
				values = append(values, s)
			}
		}
	default:
		return nil
	}

	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, value := range values {
		role := normaliseRole(value)
		if role == "" {
			continue
		}
		if _, exists := seen[role]; exists {
			continue
		}
		seen[role] = struct{}{}
		out = append(out, role)
	}
	return out
}

func claimAsString(claims map[string]interface{}, key string) string {
	if v, ok := claims[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

func normaliseRole(role string) string {
	return strings.ToLower(strings.TrimSpace(role))
}

func extractBearerToken(header string) (string, bool) {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}
