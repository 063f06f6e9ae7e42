package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

func TestJWTVerifier_UserToken(t *testing.T) {
	verifier, err := NewJWTVerifier("s3cret", "owner@example.com")
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	token, err := verifier.Sign(SessionClaims{UserID: "64f1", Email: "Buyer@Example.com"})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	identity, err := verifier.Verify(context.Background(), token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if identity.UID != "64f1" || identity.Email != "buyer@example.com" {
		t.Fatalf("unexpected identity %+v", identity)
	}
	if identity.IsAdmin() {
		t.Fatalf("user token must not be admin")
	}
}

func TestJWTVerifier_AdminToken(t *testing.T) {
	verifier, _ := NewJWTVerifier("s3cret", "owner@example.com")

	token, _ := verifier.Sign(SessionClaims{Email: "owner@example.com", IsAdmin: true})
	identity, err := verifier.Verify(context.Background(), token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !identity.IsAdmin() {
		t.Fatalf("expected admin, got %v", identity.Roles)
	}
	if identity.UID != "owner@example.com" {
		t.Fatalf("expected email as uid, got %s", identity.UID)
	}

	forged, _ := verifier.Sign(SessionClaims{Email: "intruder@example.com", IsAdmin: true})
	if _, err := verifier.Verify(context.Background(), forged); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected admin flag without matching email and id to be rejected, got %v", err)
	}
}

func TestJWTVerifier_RejectsWrongSecretAndAlgorithm(t *testing.T) {
	verifier, _ := NewJWTVerifier("s3cret", "")
	other, _ := NewJWTVerifier("other", "")

	token, _ := other.Sign(SessionClaims{UserID: "u1"})
	if _, err := verifier.Verify(context.Background(), token); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected invalid for wrong secret, got %v", err)
	}

	none, _ := jwt.NewWithClaims(jwt.SigningMethodNone, SessionClaims{UserID: "u1"}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if _, err := verifier.Verify(context.Background(), none); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected invalid for alg none, got %v", err)
	}
}

func TestJWTVerifier_Expired(t *testing.T) {
	verifier, _ := NewJWTVerifier("s3cret", "")
	token, _ := verifier.Sign(SessionClaims{
		UserID:           "u1",
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour))},
	})

	if _, err := verifier.Verify(context.Background(), token); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestNewJWTVerifier_RequiresSecret(t *testing.T) {
	if _, err := NewJWTVerifier(" ", ""); err == nil {
		t.Fatalf("expected error for empty secret")
	}
}
