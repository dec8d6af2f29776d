package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	argonTime    = 1
	argonMemory  = 64 * 1024 // 64 MB
	argonThreads = 4
	argonKeyLen  = 32
	saltLen      = 16
)

// ErrNoAPIKey means neither a hash nor a plaintext key is configured, so
// POST /auth/token can never succeed.
var ErrNoAPIKey = errors.New("auth: no API key configured")

// HashAPIKey hashes an API key using Argon2id. The encoding is
// base64(salt) + "$" + base64(hash).
func HashAPIKey(apiKey string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("auth: generate salt: %w", err)
	}
	hash := argon2.IDKey([]byte(apiKey), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return base64.StdEncoding.EncodeToString(salt) + "$" + base64.StdEncoding.EncodeToString(hash), nil
}

// VerifyAPIKey checks an API key against an Argon2id hash from HashAPIKey.
func VerifyAPIKey(apiKey, encoded string) (bool, error) {
	saltB64, hashB64, ok := strings.Cut(encoded, "$")
	if !ok {
		return false, fmt.Errorf("auth: invalid hash format")
	}
	salt, err := base64.StdEncoding.DecodeString(saltB64)
	if err != nil {
		return false, fmt.Errorf("auth: decode salt: %w", err)
	}
	expected, err := base64.StdEncoding.DecodeString(hashB64)
	if err != nil {
		return false, fmt.Errorf("auth: decode hash: %w", err)
	}
	computed := argon2.IDKey([]byte(apiKey), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return subtle.ConstantTimeCompare(expected, computed) == 1, nil
}

// KeyChecker verifies the single operator API key. A configured hash wins
// over a plaintext key; the plaintext form exists for local setups.
type KeyChecker struct {
	hash      string
	plaintext string
}

// NewKeyChecker builds a checker from CTRLSYS_API_KEY_HASH and CTRLSYS_API_KEY.
func NewKeyChecker(hash, plaintext string) (*KeyChecker, error) {
	if hash == "" && plaintext == "" {
		return nil, ErrNoAPIKey
	}
	if hash != "" {
		if _, _, ok := strings.Cut(hash, "$"); !ok {
			return nil, fmt.Errorf("auth: invalid hash format")
		}
	}
	return &KeyChecker{hash: hash, plaintext: plaintext}, nil
}

// Check reports whether apiKey matches. Both paths cost one Argon2id
// derivation so timing does not reveal which is configured.
func (k *KeyChecker) Check(apiKey string) bool {
	if k.hash != "" {
		ok, err := VerifyAPIKey(apiKey, k.hash)
		return err == nil && ok
	}
	argon2.IDKey([]byte(apiKey), make([]byte, saltLen), argonTime, argonMemory, argonThreads, argonKeyLen)
	return subtle.ConstantTimeCompare([]byte(apiKey), []byte(k.plaintext)) == 1
}
