package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/scrypt"
)

const (
	// DefaultAADDomain binds tokens to student records
	DefaultAADDomain = "student-data"

	// MinKeyLength is the shortest configured secret accepted without a warning
	MinKeyLength = 32

	defaultKey = "edgehub-default-development-key"

	// Fixed salt for the one-time key derivation. Changing it invalidates
	// every stored token.
	keySalt = "edgehub-field-encryption-v1"

	tagSize  = 16
	keySize  = 32
	scryptN  = 1 << 14
	scryptR  = 8
	scryptP  = 1
	tokenSep = ":"
)

var (
	// ErrEncryption is returned when a value cannot be encrypted
	ErrEncryption = errors.New("failed to encrypt data")

	// ErrDecryption is returned for malformed, tampered or foreign tokens
	ErrDecryption = errors.New("failed to decrypt data")
)

// Options configures a Service
type Options struct {
	// Key is the configured secret (ENCRYPTION_KEY). Empty selects the
	// development default and is reported by ValidateEncryptionSetup.
	Key string

	// AADDomain is authenticated with every token. Empty means DefaultAADDomain.
	AADDomain string

	// Hash tunes the argon2id parameters used by Hash.
	Hash HashParams
}

// Service handles field encryption, hashing and random code material
type Service struct {
	aead          cipher.AEAD
	aad           []byte
	keyConfigured bool
	keyLength     int
	usesDefault   bool
	hash          HashParams
}

// NewService derives the field key once and prepares the AEAD
func NewService(opts Options) (*Service, error) {
	secret := opts.Key
	configured := strings.TrimSpace(secret) != ""
	if !configured {
		secret = defaultKey
	}

	key, err := scrypt.Key([]byte(secret), []byte(keySalt), scryptN, scryptR, scryptP, keySize)
	if err != nil {
		return nil, fmt.Errorf("failed to derive encryption key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher block: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	domain := opts.AADDomain
	if domain == "" {
		domain = DefaultAADDomain
	}

	return &Service{
		aead:          gcm,
		aad:           []byte(domain),
		keyConfigured: configured,
		keyLength:     len(opts.Key),
		usesDefault:   !configured || opts.Key == defaultKey,
		hash:          opts.Hash.withDefaults(),
	}, nil
}

// Encrypt returns iv:authTag:ciphertext, each hex encoded. Blank input is
// returned unchanged.
func (s *Service) Encrypt(plaintext string) (string, error) {
	if strings.TrimSpace(plaintext) == "" {
		return plaintext, nil
	}

	iv := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", ErrEncryption
	}

	sealed := s.aead.Seal(nil, iv, []byte(plaintext), s.aad)
	ciphertext, tag := sealed[:len(sealed)-tagSize], sealed[len(sealed)-tagSize:]

	return strings.Join([]string{
		hex.EncodeToString(iv),
		hex.EncodeToString(tag),
		hex.EncodeToString(ciphertext),
	}, tokenSep), nil
}

// Decrypt reverses Encrypt. Blank input is returned unchanged.
func (s *Service) Decrypt(token string) (string, error) {
	if strings.TrimSpace(token) == "" {
		return token, nil
	}

	parts := strings.Split(token, tokenSep)
	if len(parts) != 3 {
		return "", fmt.Errorf("%w: malformed token", ErrDecryption)
	}

	iv, err := hex.DecodeString(parts[0])
	if err != nil || len(iv) != s.aead.NonceSize() {
		return "", fmt.Errorf("%w: malformed token", ErrDecryption)
	}
	tag, err := hex.DecodeString(parts[1])
	if err != nil || len(tag) != tagSize {
		return "", fmt.Errorf("%w: malformed token", ErrDecryption)
	}
	ciphertext, err := hex.DecodeString(parts[2])
	if err != nil {
		return "", fmt.Errorf("%w: malformed token", ErrDecryption)
	}

	sealed := make([]byte, 0, len(ciphertext)+len(tag))
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	plaintext, err := s.aead.Open(nil, iv, sealed, s.aad)
	if err != nil {
		return "", ErrDecryption
	}

	return string(plaintext), nil
}

// IsEncrypted reports whether value has the token shape produced by Encrypt
func IsEncrypted(value string) bool {
	parts := strings.Split(value, tokenSep)
	if len(parts) != 3 {
		return false
	}
	for _, p := range parts {
		if _, err := hex.DecodeString(p); err != nil || p == "" {
			return false
		}
	}
	return true
}

// SetupReport describes the encryption configuration
type SetupReport struct {
	IsValid  bool     `json:"is_valid"`
	Warnings []string `json:"warnings"`
}

// ValidateEncryptionSetup flags a default or under-length key. Production
// deployments must never run with the default key; callers surface this
// report at startup.
func (s *Service) ValidateEncryptionSetup() SetupReport {
	var warnings []string

	if !s.keyConfigured {
		warnings = append(warnings, "ENCRYPTION_KEY is not configured; using the built-in development key")
	} else {
		if s.usesDefault {
			warnings = append(warnings, "ENCRYPTION_KEY matches the built-in development key")
		}
		if s.keyLength < MinKeyLength {
			warnings = append(warnings, fmt.Sprintf("ENCRYPTION_KEY is shorter than %d characters", MinKeyLength))
		}
	}

	return SetupReport{
		IsValid:  len(warnings) == 0,
		Warnings: warnings,
	}
}
