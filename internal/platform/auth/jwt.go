package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v4"
)

// SessionClaims is the payload of storefront session tokens: {"id", "email", "isAdmin"}.
type SessionClaims struct {
	UserID  string `json:"id"`
	Email   string `json:"email,omitempty"`
	IsAdmin bool   `json:"isAdmin,omitempty"`
	jwt.RegisteredClaims
}

// JWTVerifier validates HS256 session tokens issued by the storefront's account service.
// A token grants the admin role only when isAdmin is set and its email equals the configured
// admin email.
type JWTVerifier struct {
	secret     []byte
	adminEmail string
	parser     *jwt.Parser
}

func NewJWTVerifier(secret, adminEmail string) (*JWTVerifier, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("auth: jwt secret is required")
	}
	return &JWTVerifier{
		secret:     []byte(secret),
		adminEmail: strings.ToLower(strings.TrimSpace(adminEmail)),
		parser:     jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})),
	}, nil
}

// Verify implements TokenVerifier.
func (v *JWTVerifier) Verify(_ context.Context, raw string) (*Identity, error) {
	claims := &SessionClaims{}
	_, err := v.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %v", ErrTokenExpired, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	email := strings.ToLower(strings.TrimSpace(claims.Email))
	identity := &Identity{UID: strings.TrimSpace(claims.UserID), Email: email}
	if claims.IsAdmin && v.adminEmail != "" && email == v.adminEmail {
		identity.Roles = []string{RoleAdmin}
		if identity.UID == "" {
			identity.UID = email
		}
	}
	if identity.UID == "" {
		return nil, fmt.Errorf("%w: missing id claim", ErrTokenInvalid)
	}
	return identity, nil
}

// Sign issues a session token for claims. The storefront's account service owns issuance;
// this exists for tooling and tests.
func (v *JWTVerifier) Sign(claims SessionClaims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
