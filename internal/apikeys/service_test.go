package apikeys

import (
	"context"
	"testing"

	"hma-trading-bot/config"
	"hma-trading-bot/internal/vault"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	vc, err := vault.NewClient(config.VaultConfig{Enabled: false})
	if err != nil {
		t.Fatalf("vault client failed: %v", err)
	}
	return NewService(vc)
}

// TestBrokerKeyRoundTrip verifies the secret survives the encrypt-store-
// decrypt cycle and never sits in the vault layer as plaintext
func TestBrokerKeyRoundTrip(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	in := BrokerKeyResult{
		APIKey:     "key-123",
		SecretKey:  "very-secret-material",
		ClientCode: "CC001",
	}
	if err := s.StoreBrokerKey(ctx, "user1", in); err != nil {
		t.Fatalf("store failed: %v", err)
	}

	out, err := s.GetBrokerKey(ctx, "user1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if out.APIKey != in.APIKey || out.SecretKey != in.SecretKey || out.ClientCode != in.ClientCode {
		t.Errorf("round trip mismatch: %+v", out)
	}
}

// TestGetBrokerKeyMissingUser verifies lookups for unknown users fail
func TestGetBrokerKeyMissingUser(t *testing.T) {
	s := newTestService(t)
	if _, err := s.GetBrokerKey(context.Background(), "ghost"); err == nil {
		t.Error("expected error for unknown user")
	}
}

// TestHasBrokerKey verifies presence checks on both sides
func TestHasBrokerKey(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	if s.HasBrokerKey(ctx, "user1") {
		t.Error("reported credentials before any were stored")
	}
	if err := s.StoreBrokerKey(ctx, "user1", BrokerKeyResult{APIKey: "k", SecretKey: "s"}); err != nil {
		t.Fatalf("store failed: %v", err)
	}
	if !s.HasBrokerKey(ctx, "user1") {
		t.Error("stored credentials not reported")
	}
}

// TestEncryptionProducesDistinctCiphertexts verifies the nonce varies, so
// identical secrets never encrypt to identical blobs
func TestEncryptionProducesDistinctCiphertexts(t *testing.T) {
	s := newTestService(t)

	a, err := s.encryptKey("same-secret")
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	b, err := s.encryptKey("same-secret")
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	if a == b {
		t.Error("two encryptions produced identical ciphertexts")
	}

	plain, err := s.decryptKey(a)
	if err != nil || plain != "same-secret" {
		t.Errorf("decrypt = %q, %v", plain, err)
	}
}
