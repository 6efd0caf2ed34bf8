package auth

import (
	"testing"
	"time"
)

func TestIssueAndValidateTokenRoundTrip(t *testing.T) {
	issuer := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("test-secret"),
		TokenTTL:      time.Hour,
	})

	token, expiresIn, err := issuer.IssueToken(42)
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	if expiresIn != int64(time.Hour.Seconds()) {
		t.Fatalf("expected expiry of %d seconds, got %d", int64(time.Hour.Seconds()), expiresIn)
	}

	userID, err := issuer.ValidateToken(token)
	if err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	if userID != 42 {
		t.Fatalf("expected user id 42, got %d", userID)
	}
}

func TestValidateTokenRejectsWrongSecret(t *testing.T) {
	issuer := NewTokenIssuer(TokenIssuerConfig{SigningSecret: []byte("secret-a")})
	other := NewTokenIssuer(TokenIssuerConfig{SigningSecret: []byte("secret-b")})

	token, _, err := issuer.IssueToken(7)
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	if _, err := other.ValidateToken(token); err == nil {
		t.Fatalf("expected validation failure with mismatched secret")
	}
}

func TestValidateTokenRejectsExpiredToken(t *testing.T) {
	current := time.Unix(1_700_000_000, 0)
	issuer := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("test-secret"),
		TokenTTL:      time.Minute,
		Clock:         func() time.Time { return current },
	})

	token, _, err := issuer.IssueToken(7)
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}

	current = current.Add(2 * time.Minute)
	if _, err := issuer.ValidateToken(token); err == nil {
		t.Fatalf("expected validation failure for expired token")
	}
}

func TestIssueTokenRequiresSigningSecret(t *testing.T) {
	issuer := NewTokenIssuer(TokenIssuerConfig{})
	if _, _, err := issuer.IssueToken(1); err == nil {
		t.Fatalf("expected error without signing secret")
	}
}
