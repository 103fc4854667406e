// Package crypto provides wallet key management, ed25519 transaction
// signing, and webhook request authentication.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/pbkdf2"
)

// PBKDF2-HMAC-SHA256 at the OWASP-recommended minimum, feeding AES-256-GCM.
const (
	pbkdf2Iterations = 480_000
	saltLen          = 16
	aesKeyLen        = 32
	currentVersion   = 1
)

// encryptedKeyJSON is the on-disk format for an encrypted private key. All
// binary fields are standard base64.
type encryptedKeyJSON struct {
	Version    int    `json:"version"`
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// KeyConfig carries the wallet key sources from configuration. RawPrivateKey
// wins over EncryptedKeyPath.
type KeyConfig struct {
	// RawPrivateKey is the base58-encoded ed25519 private key, 64 bytes or
	// a 32-byte seed.
	RawPrivateKey string

	// EncryptedKeyPath points at a JSON file produced by EncryptKey;
	// KeyPassword decrypts it.
	EncryptedKeyPath string
	KeyPassword      string
}

// decodeKeyBytes normalizes a base58 key string to a 64-byte ed25519 private
// key, expanding a 32-byte seed.
func decodeKeyBytes(keyBase58 string) (ed25519.PrivateKey, error) {
	raw, err := base58.Decode(strings.TrimSpace(keyBase58))
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid base58 key: %w", err)
	}
	switch len(raw) {
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(raw), nil
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(raw), nil
	default:
		return nil, fmt.Errorf("crypto: expected 64-byte key or 32-byte seed, got %d bytes", len(raw))
	}
}

// deriveCipher turns password+salt into the AEAD both directions share.
func deriveCipher(password string, salt []byte) (cipher.AEAD, error) {
	derived := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, aesKeyLen, sha256.New)
	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, fmt.Errorf("crypto: create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: create gcm: %w", err)
	}
	return gcm, nil
}

// EncryptKey seals a base58 wallet key under a password, returning the JSON
// blob to write to disk.
func EncryptKey(privateKeyBase58 string, password string) ([]byte, error) {
	if password == "" {
		return nil, errors.New("crypto: password must not be empty")
	}
	priv, err := decodeKeyBytes(privateKeyBase58)
	if err != nil {
		return nil, err
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto: generate salt: %w", err)
	}
	gcm, err := deriveCipher(password, salt)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: generate nonce: %w", err)
	}

	return json.MarshalIndent(encryptedKeyJSON{
		Version:    currentVersion,
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(gcm.Seal(nil, nonce, priv, nil)),
	}, "", "  ")
}

// DecryptKey opens a blob produced by EncryptKey, returning the base58 key.
func DecryptKey(encryptedJSON []byte, password string) (string, error) {
	if password == "" {
		return "", errors.New("crypto: password must not be empty")
	}

	var stored encryptedKeyJSON
	if err := json.Unmarshal(encryptedJSON, &stored); err != nil {
		return "", fmt.Errorf("crypto: parse encrypted key: %w", err)
	}
	if stored.Version != currentVersion {
		return "", fmt.Errorf("crypto: unsupported key file version %d", stored.Version)
	}

	salt, nonce, ciphertext, err := decodeKeyFile(stored)
	if err != nil {
		return "", err
	}
	gcm, err := deriveCipher(password, salt)
	if err != nil {
		return "", err
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("crypto: decrypt key (wrong password?): %w", err)
	}
	return base58.Encode(plaintext), nil
}

func decodeKeyFile(stored encryptedKeyJSON) (salt, nonce, ciphertext []byte, err error) {
	if salt, err = base64.StdEncoding.DecodeString(stored.Salt); err != nil {
		return nil, nil, nil, fmt.Errorf("crypto: decode salt: %w", err)
	}
	if nonce, err = base64.StdEncoding.DecodeString(stored.Nonce); err != nil {
		return nil, nil, nil, fmt.Errorf("crypto: decode nonce: %w", err)
	}
	if ciphertext, err = base64.StdEncoding.DecodeString(stored.Ciphertext); err != nil {
		return nil, nil, nil, fmt.Errorf("crypto: decode ciphertext: %w", err)
	}
	return salt, nonce, ciphertext, nil
}

// LoadKey resolves the wallet key: raw config value first, then the
// encrypted key file.
func LoadKey(cfg KeyConfig) (string, error) {
	if cfg.RawPrivateKey != "" {
		if _, err := decodeKeyBytes(cfg.RawPrivateKey); err != nil {
			return "", err
		}
		return strings.TrimSpace(cfg.RawPrivateKey), nil
	}
	if cfg.EncryptedKeyPath != "" {
		data, err := os.ReadFile(cfg.EncryptedKeyPath)
		if err != nil {
			return "", fmt.Errorf("crypto: read encrypted key file: %w", err)
		}
		return DecryptKey(data, cfg.KeyPassword)
	}
	return "", errors.New("crypto: no private key source configured")
}
