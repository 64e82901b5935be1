package auth

import (
	"errors"
	"testing"
	"time"
)

// TestTokenRoundTrip verifies generated tokens validate with the same
// secret and carry the identity through
func TestTokenRoundTrip(t *testing.T) {
	m := NewJWTManager("test-secret", time.Hour)

	token, err := m.Generate("user1", true)
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}

	claims, err := m.Validate(token)
	if err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	if claims.UserID != "user1" || !claims.IsAdmin {
		t.Errorf("claims = %+v, want user1 admin", claims)
	}
}

// TestExpiredTokenRejected verifies lifetime enforcement
func TestExpiredTokenRejected(t *testing.T) {
	m := NewJWTManager("test-secret", -time.Minute)

	token, err := m.Generate("user1", false)
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}

	if _, err := m.Validate(token); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("err = %v, want ErrTokenExpired", err)
	}
}

// TestWrongSecretRejected verifies tokens from another secret fail
func TestWrongSecretRejected(t *testing.T) {
	issuer := NewJWTManager("secret-a", time.Hour)
	verifier := NewJWTManager("secret-b", time.Hour)

	token, err := issuer.Generate("user1", false)
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}

	if _, err := verifier.Validate(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("err = %v, want ErrInvalidToken", err)
	}
}

// TestGarbageTokenRejected verifies non-JWT input fails cleanly
func TestGarbageTokenRejected(t *testing.T) {
	m := NewJWTManager("test-secret", time.Hour)
	if _, err := m.Validate("not-a-token"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("err = %v, want ErrInvalidToken", err)
	}
}

// TestPasswordHashAndVerify verifies the bcrypt round trip and rejection
// of wrong passwords
func TestPasswordHashAndVerify(t *testing.T) {
	hash, err := HashPassword("Str0ng-pass!")
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}
	if !VerifyPassword("Str0ng-pass!", hash) {
		t.Error("correct password rejected")
	}
	if VerifyPassword("wrong-pass", hash) {
		t.Error("wrong password accepted")
	}
}
