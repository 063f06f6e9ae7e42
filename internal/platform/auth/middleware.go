package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/naturevibes/api/internal/platform/httpx"
	"github.com/naturevibes/api/internal/platform/requestctx"
)

const (
	legacyTokenHeader    = "token"
	defaultVerifyTimeout = 5 * time.Second
)

var (
	// ErrTokenExpired signals an expired bearer token.
	ErrTokenExpired = errors.New("auth: token expired")
	// ErrTokenInvalid signals a malformed, unsigned or otherwise unusable token.
	ErrTokenInvalid = errors.New("auth: token invalid")
)

// TokenVerifier turns a raw bearer token into an Identity.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*Identity, error)
}

// Authenticator wires a TokenVerifier into chi-compatible middleware.
type Authenticator struct {
	verifier     TokenVerifier
	fallbackRole string
	timeout      time.Duration
}

// Option customises Authenticator behaviour.
type Option func(*Authenticator)

// WithFallbackRole sets the role assigned when the verifier returns none.
func WithFallbackRole(role string) Option {
	return func(a *Authenticator) {
		if role = normaliseRole(role); role != "" {
			a.fallbackRole = role
		}
	}
}

// WithVerificationTimeout bounds each verifier call.
func WithVerificationTimeout(d time.Duration) Option {
	return func(a *Authenticator) {
		if d > 0 {
			a.timeout = d
		}
	}
}

func NewAuthenticator(verifier TokenVerifier, opts ...Option) *Authenticator {
	a := &Authenticator{
		verifier:     verifier,
		fallbackRole: RoleUser,
		timeout:      defaultVerifyTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// RequireAuth rejects requests without a valid token. When roles are given the identity
// must hold at least one of them.
func (a *Authenticator) RequireAuth(roles ...string) func(http.Handler) http.Handler {
	allowed := make([]string, 0, len(roles))
	for _, role := range roles {
		if role = normaliseRole(role); role != "" {
			allowed = append(allowed, role)
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := tokenFromRequest(r)
			if !ok {
				respondAuthError(r.Context(), w, "unauthenticated", "Not authorized. Please login again.")
				return
			}
			identity, err := a.verify(r.Context(), token)
			if err != nil {
				respondVerificationError(r.Context(), w, err)
				return
			}
			if len(allowed) > 0 && !identity.HasAnyRole(allowed...) {
				respondAuthError(r.Context(), w, "insufficient_role", "Not authorized. Please login again.")
				return
			}
			next.ServeHTTP(w, r.WithContext(attach(r.Context(), identity)))
		})
	}
}

// OptionalAuth attaches an identity when a valid token is present and otherwise lets the
// request through as a guest.
func (a *Authenticator) OptionalAuth() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := tokenFromRequest(r)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}
			identity, err := a.verify(r.Context(), token)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(attach(r.Context(), identity)))
		})
	}
}

func attach(ctx context.Context, identity *Identity) context.Context {
	if requestctx.HasLogger(ctx) {
		ctx = requestctx.WithLogger(ctx, requestctx.Logger(ctx).With(zap.String("user_id", identity.UID)))
	}
	return WithIdentity(ctx, identity)
}

func (a *Authenticator) verify(ctx context.Context, token string) (*Identity, error) {
	if a == nil || a.verifier == nil {
		return nil, ErrTokenInvalid
	}
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	identity, err := a.verifier.Verify(ctx, token)
	if err != nil {
		return nil, err
	}
	if identity == nil || strings.TrimSpace(identity.UID) == "" {
		return nil, ErrTokenInvalid
	}
	if len(identity.Roles) == 0 && a.fallbackRole != "" {
		identity.Roles = []string{a.fallbackRole}
	}
	return identity, nil
}

// tokenFromRequest reads the legacy token header first, then the Authorization bearer.
func tokenFromRequest(r *http.Request) (string, bool) {
	if token := strings.TrimSpace(r.Header.Get(legacyTokenHeader)); token != "" {
		return token, true
	}
	return extractBearerToken(r.Header.Get("Authorization"))
}

func extractBearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func respondAuthError(ctx context.Context, w http.ResponseWriter, code, message string) {
	httpx.WriteError(ctx, w, httpx.NewError(code, message, http.StatusUnauthorized))
}

func respondVerificationError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrTokenExpired):
		respondAuthError(ctx, w, "token_expired", "Session expired. Please login again.")
	default:
		respondAuthError(ctx, w, "invalid_token", "Invalid token. Please login again.")
	}
}
