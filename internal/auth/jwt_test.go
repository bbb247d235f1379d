package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestJWTManagerRoundTrip(t *testing.T) {
	m := NewJWTManager(JWTConfig{SecretKey: "test-secret", Issuer: "orchestrator", TokenDuration: time.Hour})

	token, err := m.GenerateToken("user-1", "admin")
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	claims, err := m.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if claims.PrincipalID != "user-1" || claims.Role != "admin" {
		t.Errorf("claims = %+v, want principalId=user-1 role=admin", claims)
	}
}

func TestJWTManagerDefaultsAppliedWhenZero(t *testing.T) {
	m := NewJWTManager(JWTConfig{SecretKey: "test-secret"})
	if m.config.TokenDuration != 24*time.Hour {
		t.Errorf("TokenDuration = %v, want 24h default", m.config.TokenDuration)
	}
	if m.config.Issuer != "orchestrator" {
		t.Errorf("Issuer = %q, want default", m.config.Issuer)
	}
}

func TestJWTManagerRejectsWrongSecret(t *testing.T) {
	m := NewJWTManager(JWTConfig{SecretKey: "right-secret"})
	token, err := m.GenerateToken("user-1", "admin")
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	other := NewJWTManager(JWTConfig{SecretKey: "wrong-secret"})
	if _, err := other.ValidateToken(token); err == nil {
		t.Error("expected a token signed with a different secret to fail validation")
	}
}

func TestJWTManagerRejectsExpiredToken(t *testing.T) {
	m := NewJWTManager(JWTConfig{SecretKey: "test-secret", TokenDuration: -time.Minute})
	token, err := m.GenerateToken("user-1", "admin")
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if _, err := m.ValidateToken(token); err == nil {
		t.Error("expected an already-expired token to fail validation")
	}
}

func TestJWTManagerRejectsAlgorithmSubstitution(t *testing.T) {
	m := NewJWTManager(JWTConfig{SecretKey: "test-secret"})

	claims := &Claims{PrincipalID: "user-1", Role: "admin"}
	noneToken := jwt.NewWithClaims(jwt.SigningMethodNone, claims)
	signed, err := noneToken.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}
	if _, err := m.ValidateToken(signed); err == nil {
		t.Error("expected an alg=none token to be rejected")
	}
}
