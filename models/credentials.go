package models

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
)

// EncryptedCredentials holds a follower account's CLOB API credentials and
// signing key, AES-256-GCM encrypted at rest. The API key id is not secret
// and stays in the clear.
type EncryptedCredentials struct {
	APIKey        string
	APISecretEnc  string
	PassphraseEnc string
	PrivateKeyEnc string
}

// Credentials is the decrypted, usable form. It is derived on use and never
// persisted.
type Credentials struct {
	APIKey     string
	APISecret  string
	Passphrase string
	PrivateKey string // hex, no 0x prefix
}

// Decrypt turns the stored ciphertexts into usable credentials.
func (e EncryptedCredentials) Decrypt(key []byte) (Credentials, error) {
	secret, err := decryptField(key, e.APISecretEnc)
	if err != nil {
		return Credentials{}, fmt.Errorf("decrypt api secret: %w", err)
	}
	pass, err := decryptField(key, e.PassphraseEnc)
	if err != nil {
		return Credentials{}, fmt.Errorf("decrypt passphrase: %w", err)
	}
	pk, err := decryptField(key, e.PrivateKeyEnc)
	if err != nil {
		return Credentials{}, fmt.Errorf("decrypt private key: %w", err)
	}
	return Credentials{
		APIKey:     e.APIKey,
		APISecret:  secret,
		Passphrase: pass,
		PrivateKey: pk,
	}, nil
}

// EncryptField seals a plaintext credential for storage. Used by the admin
// layer when accounts are created and by tests.
func EncryptField(key []byte, plaintext string) (string, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func decryptField(key []byte, encoded string) (string, error) {
	if encoded == "" {
		return "", nil
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decode: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	if len(raw) < gcm.NonceSize() {
		return "", fmt.Errorf("ciphertext too short")
	}
	nonce, sealed := raw[:gcm.NonceSize()], raw[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("open: %w", err)
	}
	return string(plain), nil
}
