package atproto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// CredentialCipher protects custodial signing credentials at rest. The
// repository stores whatever Encrypt returns; plaintext credentials never
// touch the database.
type CredentialCipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// EncryptedCredentialCipher seals credentials with AES-GCM and signs the
// ciphertext with HMAC-SHA256.
type EncryptedCredentialCipher struct {
	encryptionKey []byte
	hmacKey       []byte
}

// NewEncryptedCredentialCipher creates a cipher from a 16/24/32 byte AES key
// and an HMAC key.
func NewEncryptedCredentialCipher(encryptionKey, hmacKey []byte) *EncryptedCredentialCipher {
	return &EncryptedCredentialCipher{
		encryptionKey: encryptionKey,
		hmacKey:       hmacKey,
	}
}

// Encrypt seals and signs the credential.
func (c *EncryptedCredentialCipher) Encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher(c.encryptionKey)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)

	mac := hmac.New(sha256.New, c.hmacKey)
	mac.Write(ciphertext)
	signature := mac.Sum(nil)

	result := append(signature, ciphertext...)

	return base64.URLEncoding.EncodeToString(result), nil
}

// Decrypt verifies and opens the credential.
func (c *EncryptedCredentialCipher) Decrypt(ciphertext string) (string, error) {
	data, err := base64.URLEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", ErrInvalidCiphertext
	}

	if len(data) < sha256.Size {
		return "", ErrInvalidCiphertext
	}

	signature := data[:sha256.Size]
	sealed := data[sha256.Size:]

	mac := hmac.New(sha256.New, c.hmacKey)
	mac.Write(sealed)
	expectedMAC := mac.Sum(nil)

	if !hmac.Equal(signature, expectedMAC) {
		return "", ErrInvalidCiphertext
	}

	block, err := aes.NewCipher(c.encryptionKey)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to create GCM: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(sealed) < nonceSize {
		return "", ErrInvalidCiphertext
	}

	nonce, encrypted := sealed[:nonceSize], sealed[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, encrypted, nil)
	if err != nil {
		return "", ErrInvalidCiphertext
	}

	return string(plaintext), nil
}
