// Package crypto implements the platform's envelope-encryption primitives
// AES-256-GCM encrypt/decrypt under a process-wide master key,
// SHA-256 key hashing with constant-time comparison, and secure random
// token generation for API keys and invite tokens.
//
// Grounded in the tenant-scoped envelope in redbco-redb-open/pkg/encryption,
// generalized from per-tenant RSA keys pulled from an OS keyring to a
// single process-wide AES-256-GCM master key read from configuration.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dataforge/platform/internal/apperr"
)

const (
	keySize = 32 // AES-256
	ivSize  = 12 // GCM standard nonce size
)

// MasterKey is the process-wide AES-256-GCM root key.
type MasterKey struct {
	key [keySize]byte
}

// DeriveMasterKey builds the master key from a configured secret.
//
// If the secret is 64 hex characters it is decoded as raw key bytes; if it
// is at least 32 bytes it is truncated to the first 32; otherwise key
// derivation fails, which must abort startup (the platform must never run
// with a weak or absent master key).
func DeriveMasterKey(secret string) (*MasterKey, error) {
	if len(secret) == 64 {
		if decoded, err := hex.DecodeString(secret); err == nil {
			var mk MasterKey
			copy(mk.key[:], decoded)
			return &mk, nil
		}
	}
	if len(secret) >= keySize {
		var mk MasterKey
		copy(mk.key[:], secret[:keySize])
		return &mk, nil
	}
	return nil, fmt.Errorf("platform master key must be 64 hex characters or at least %d bytes", keySize)
}

// Envelope is the at-rest representation of an encrypted value.
type Envelope struct {
	Ciphertext string // base64
	IV         string // base64
	Tag        string // base64
}

// Encrypt produces a fresh IV and authenticated ciphertext for plaintext.
func (mk *MasterKey) Encrypt(plaintext string) (Envelope, error) {
	block, err := aes.NewCipher(mk.key[:])
	if err != nil {
		return Envelope{}, apperr.Crypto(err, "build AES cipher")
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, ivSize)
	if err != nil {
		return Envelope{}, apperr.Crypto(err, "build GCM cipher")
	}

	iv := make([]byte, ivSize)
	if _, err := rand.Read(iv); err != nil {
		return Envelope{}, apperr.Crypto(err, "generate IV")
	}

	sealed := gcm.Seal(nil, iv, []byte(plaintext), nil)
	// crypto/cipher appends the auth tag to the ciphertext; split it back
	// out so at-rest storage keeps ciphertext, iv, and tag as separate
	// columns.
	tagStart := len(sealed) - gcm.Overhead()
	ciphertext := sealed[:tagStart]
	tag := sealed[tagStart:]

	return Envelope{
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
		IV:         base64.StdEncoding.EncodeToString(iv),
		Tag:        base64.StdEncoding.EncodeToString(tag),
	}, nil
}

// Decrypt authenticates and recovers the plaintext. Callers must not fall
// back to any other representation on error.
func (mk *MasterKey) Decrypt(env Envelope) (string, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(env.Ciphertext)
	if err != nil {
		return "", apperr.Crypto(err, "decode ciphertext")
	}
	iv, err := base64.StdEncoding.DecodeString(env.IV)
	if err != nil {
		return "", apperr.Crypto(err, "decode iv")
	}
	tag, err := base64.StdEncoding.DecodeString(env.Tag)
	if err != nil {
		return "", apperr.Crypto(err, "decode tag")
	}

	block, err := aes.NewCipher(mk.key[:])
	if err != nil {
		return "", apperr.Crypto(err, "build AES cipher")
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, ivSize)
	if err != nil {
		return "", apperr.Crypto(err, "build GCM cipher")
	}

	sealed := append(append([]byte{}, ciphertext...), tag...)
	plaintext, err := gcm.Open(nil, iv, sealed, nil)
	if err != nil {
		return "", apperr.Crypto(err, "authentication tag mismatch")
	}
	return string(plaintext), nil
}

// HashKey computes the SHA-256 hex digest of an API key or token plaintext.
func HashKey(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

// ConstantTimeEqual reports whether two hex-encoded hashes are equal,
// comparing in constant time regardless of where they first differ. It
// never short-circuits on a length mismatch in a way that reveals the
// true hash's length: both inputs are first re-hashed to a fixed-length
// digest before comparison.
func ConstantTimeEqual(a, b string) bool {
	ah := sha256.Sum256([]byte(a))
	bh := sha256.Sum256([]byte(b))
	return hmac.Equal(ah[:], bh[:])
}

// randomToken returns a URL-safe base64 string encoding n random bytes.
func randomToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// ApiKeyKind distinguishes publishable from secret API keys.
type ApiKeyKind string

const (
	KeyPublishable ApiKeyKind = "publishable"
	KeySecret      ApiKeyKind = "secret"
)

func keyPrefixFor(kind ApiKeyKind) (string, error) {
	switch kind {
	case KeyPublishable:
		return "pk", nil
	case KeySecret:
		return "sk", nil
	default:
		return "", errors.New("unknown api key kind")
	}
}

// GenerateAPIKey returns a new plaintext API key of the given kind:
// "<prefix>_<base64url(32 random bytes)>".
func GenerateAPIKey(kind ApiKeyKind) (string, error) {
	prefix, err := keyPrefixFor(kind)
	if err != nil {
		return "", err
	}
	token, err := randomToken(32)
	if err != nil {
		return "", apperr.Internal(err, "generate api key entropy")
	}
	return prefix + "_" + token, nil
}

// GenerateInviteToken returns a new plaintext invite token: "inv_<base64url(16 random bytes)>".
func GenerateInviteToken() (string, error) {
	token, err := randomToken(16)
	if err != nil {
		return "", apperr.Internal(err, "generate invite token entropy")
	}
	return "inv_" + token, nil
}

// KeyPrefix returns the first 8 characters of a plaintext key, for
// display purposes only — never sufficient to reconstruct or validate it.
func KeyPrefix(plaintext string) string {
	if len(plaintext) <= 8 {
		return plaintext
	}
	return plaintext[:8]
}

// EncodeEnvelope packs an Envelope into the single opaque string stored in
// columns that hold one encrypted blob (e.g. CronJob.EncryptedHeaders,
// CronJob.EncryptedBody), rather than three separate columns.
func EncodeEnvelope(env Envelope) (string, error) {
	b, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("encode envelope: %w", err)
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// DecodeEnvelope reverses EncodeEnvelope.
func DecodeEnvelope(s string) (Envelope, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("unmarshal envelope: %w", err)
	}
	return env, nil
}
