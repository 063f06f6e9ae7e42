package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	firebase "firebase.google.com/go/v4"
	firebaseauth "firebase.google.com/go/v4/auth"
	"google.golang.org/api/option"

	"github.com/naturevibes/api/internal/platform/config"
)

const (
	firebaseRoleClaim  = "role"
	firebaseAdminClaim = "admin"
)

type idTokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error)
}

// FirebaseVerifier verifies Firebase ID tokens. The admin role requires a truthy "admin" custom
// claim or a "role" claim naming admin; when an admin email is configured the token email must
// also match it.
type FirebaseVerifier struct {
	client     idTokenVerifier
	adminEmail string
}

// NewFirebaseVerifier initialises the Firebase Admin SDK for the configured project.
func NewFirebaseVerifier(ctx context.Context, cfg config.FirebaseConfig, adminEmail string) (*FirebaseVerifier, error) {
	if strings.TrimSpace(cfg.ProjectID) == "" {
		return nil, errors.New("auth: firebase project id is required")
	}
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("auth: initialise firebase app: %w", err)
	}
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("auth: initialise firebase auth client: %w", err)
	}
	return newFirebaseVerifier(client, adminEmail), nil
}

func newFirebaseVerifier(client idTokenVerifier, adminEmail string) *FirebaseVerifier {
	return &FirebaseVerifier{client: client, adminEmail: strings.ToLower(strings.TrimSpace(adminEmail))}
}

// Verify implements TokenVerifier.
func (v *FirebaseVerifier) Verify(ctx context.Context, idToken string) (*Identity, error) {
	if v == nil || v.client == nil {
		return nil, errors.New("auth: firebase verifier not initialised")
	}
	token, err := v.client.VerifyIDToken(ctx, idToken)
	switch {
	case err == nil:
	case firebaseauth.IsIDTokenExpired(err):
		return nil, fmt.Errorf("%w: %v", ErrTokenExpired, err)
	default:
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	email, _ := token.Claims["email"].(string)
	email = strings.ToLower(strings.TrimSpace(email))
	var roles []string
	claimedAdmin, _ := token.Claims[firebaseAdminClaim].(bool)
	for _, role := range rolesFromClaim(token.Claims[firebaseRoleClaim]) {
		if role == RoleAdmin {
			claimedAdmin = true
			continue
		}
		roles = appendRole(roles, role)
	}
	if claimedAdmin && (v.adminEmail == "" || email == v.adminEmail) {
		roles = appendRole(roles, RoleAdmin)
	}

	return &Identity{UID: token.UID, Email: email, Roles: roles}, nil
}

func rolesFromClaim(raw any) []string {
	var out []string
	switch v := raw.(type) {
	case string:
		out = appendRole(out, v)
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = appendRole(out, s)
			}
		}
	case []string:
		for _, s := range v {
			out = appendRole(out, s)
		}
	}
	return out
}

func appendRole(roles []string, role string) []string {
	role = normaliseRole(role)
	if role == "" {
		return roles
	}
	for _, existing := range roles {
		if existing == role {
			return roles
		}
	}
	return append(roles, role)
}
