package apikeys

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"os"

	"hma-trading-bot/internal/vault"
)

// Service hands out broker credentials for a user. Secrets are stored in
// Vault with the secret key encrypted at rest; this layer owns the
// envelope encryption so neither Vault nor the store ever sees plaintext
// secret keys.
type Service struct {
	vault         *vault.Client
	encryptionKey []byte
}

// BrokerKeyResult is a user's ready-to-use broker login material
type BrokerKeyResult struct {
	APIKey     string
	SecretKey  string
	ClientCode string
}

// NewService creates the credential service. The envelope key comes from
// ENCRYPTION_KEY, normalized to 32 bytes for AES-256.
func NewService(vaultClient *vault.Client) *Service {
	encryptionKey := os.Getenv("ENCRYPTION_KEY")
	if encryptionKey == "" {
		encryptionKey = "hma-trading-bot-default-encryption-key-32bytes!"
	}

	key := []byte(encryptionKey)
	if len(key) < 32 {
		padding := make([]byte, 32-len(key))
		key = append(key, padding...)
	} else if len(key) > 32 {
		key = key[:32]
	}

	return &Service{
		vault:         vaultClient,
		encryptionKey: key,
	}
}

// StoreBrokerKey encrypts and stores one user's broker credentials
func (s *Service) StoreBrokerKey(ctx context.Context, userID string, result BrokerKeyResult) error {
	encrypted, err := s.encryptKey(result.SecretKey)
	if err != nil {
		return fmt.Errorf("failed to encrypt secret key: %w", err)
	}

	return s.vault.StoreCredentials(ctx, userID, vault.Credentials{
		APIKey:     result.APIKey,
		SecretKey:  encrypted,
		ClientCode: result.ClientCode,
	})
}

// GetBrokerKey returns a user's decrypted broker credentials
func (s *Service) GetBrokerKey(ctx context.Context, userID string) (*BrokerKeyResult, error) {
	creds, err := s.vault.GetCredentials(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get broker credentials: %w", err)
	}

	secretKey, err := s.decryptKey(creds.SecretKey)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt broker secret key: %w", err)
	}

	return &BrokerKeyResult{
		APIKey:     creds.APIKey,
		SecretKey:  secretKey,
		ClientCode: creds.ClientCode,
	}, nil
}

// DeleteBrokerKey removes a user's credentials
func (s *Service) DeleteBrokerKey(ctx context.Context, userID string) error {
	return s.vault.DeleteCredentials(ctx, userID)
}

// HasBrokerKey reports whether a user has stored credentials
func (s *Service) HasBrokerKey(ctx context.Context, userID string) bool {
	_, err := s.vault.GetCredentials(ctx, userID)
	return err == nil
}

// InvalidateSession drops the cached credentials so the next pass fetches
// fresh material, for use after the broker reports an expired session
func (s *Service) InvalidateSession(userID string) {
	s.vault.InvalidateCache(userID)
}

// encryptKey encrypts a plaintext key with AES-256-GCM, nonce prepended
func (s *Service) encryptKey(plaintext string) (string, error) {
	block, err := aes.NewCipher(s.encryptionKey)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// decryptKey reverses encryptKey
func (s *Service) decryptKey(ciphertext string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("failed to decode base64: %w", err)
	}

	block, err := aes.NewCipher(s.encryptionKey)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to create GCM: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}

	nonce, sealed := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}
	return string(plaintext), nil
}
