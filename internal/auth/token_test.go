// ABOUTME: Unit tests for JWT token verification and generation
// ABOUTME: Tests valid tokens, invalid tokens, and expired tokens

package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestJWTVerifier_ValidToken(t *testing.T) {
	secret := []byte("test-secret-key-for-jwt-signing")
	verifier := NewJWTVerifier(secret)

	userID := "user-123"
	token, err := verifier.Generate(userID, time.Hour)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	gotID, err := verifier.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}

	if gotID != userID {
		t.Errorf("Verify() = %q, want %q", gotID, userID)
	}
}

func TestJWTVerifier_InvalidToken(t *testing.T) {
	secret := []byte("test-secret-key-for-jwt-signing")
	verifier := NewJWTVerifier(secret)

	tests := []struct {
		name  string
		token string
	}{
		{
			name:  "empty token",
			token: "",
		},
		{
			name:  "garbage token",
			token: "not-a-jwt-token",
		},
		{
			name:  "malformed JWT",
			token: "header.payload.signature",
		},
		{
			name: "wrong secret",
			token: func() string {
				// Generate with different secret
				otherVerifier := NewJWTVerifier([]byte("different-secret"))
				token, _ := otherVerifier.Generate("user-123", time.Hour)
				return token
			}(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := verifier.Verify(tt.token)
			if err == nil {
				t.Error("Verify() should have returned an error")
			}
		})
	}
}

func TestJWTVerifier_ExpiredToken(t *testing.T) {
	secret := []byte("test-secret-key-for-jwt-signing")
	verifier := NewJWTVerifier(secret)

	// Generate a token that expired 1 hour ago
	token, err := verifier.Generate("user-123", -time.Hour)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	_, err = verifier.Verify(token)
	if err == nil {
		t.Error("Verify() should have returned an error for expired token")
	}

	if !errors.Is(err, ErrExpiredToken) {
		t.Errorf("Verify() error = %v, want ErrExpiredToken", err)
	}
}

func TestJWTVerifier_MissingSubClaim(t *testing.T) {
	secret := []byte("test-secret-key-for-jwt-signing")
	verifier := NewJWTVerifier(secret)

	// Token signed with the right secret but no "sub" claim
	now := time.Now()
	raw := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iat": now.Unix(),
		"exp": now.Add(time.Hour).Unix(),
	})
	token, err := raw.SignedString(secret)
	if err != nil {
		t.Fatalf("signing test token: %v", err)
	}

	_, err = verifier.Verify(token)
	if !errors.Is(err, ErrMissingClaim) {
		t.Errorf("Verify() error = %v, want ErrMissingClaim", err)
	}
}
