package authkit

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

const argon2Algorithm = "argon2id"

var (
	// ErrEmptyPassword indicates an empty password was supplied for hashing.
	ErrEmptyPassword = errors.New("password.empty")
	// ErrMalformedHash indicates a stored hash could not be parsed.
	ErrMalformedHash = errors.New("password.malformed_hash")
	// ErrUnsupportedHash indicates a stored hash uses an unknown algorithm.
	ErrUnsupportedHash = errors.New("password.unsupported_hash")
	// ErrWeakHashConfig indicates hashing parameters below the accepted floor.
	ErrWeakHashConfig = errors.New("password.weak_config")
)

// PasswordHashConfig sets argon2id cost parameters.
type PasswordHashConfig struct {
	Memory     uint32
	Time       uint32
	Threads    uint8
	SaltLength uint32
	KeyLength  uint32
}

// DefaultPasswordHashConfig returns the production argon2id parameters (64 MiB, 3 passes).
func DefaultPasswordHashConfig() PasswordHashConfig {
	return PasswordHashConfig{
		Memory:     64 * 1024,
		Time:       3,
		Threads:    1,
		SaltLength: 16,
		KeyLength:  32,
	}
}

// PasswordHasher hashes new passwords with argon2id and verifies argon2id and legacy bcrypt hashes.
type PasswordHasher struct {
	config PasswordHashConfig
}

type argon2Hash struct {
	memory  uint32
	time    uint32
	threads uint8
	salt    []byte
	key     []byte
}

// NewPasswordHasher validates config and returns a hasher.
func NewPasswordHasher(config PasswordHashConfig) (*PasswordHasher, error) {
	if config.Memory < 8*1024 || config.Time < 1 || config.Threads < 1 || config.SaltLength < 16 || config.KeyLength < 16 {
		return nil, fmt.Errorf("password.new: %w", ErrWeakHashConfig)
	}
	return &PasswordHasher{config: config}, nil
}

// Hash returns an argon2id PHC string: $argon2id$v=19$m=65536,t=3,p=1$<salt>$<key>.
func (hasher *PasswordHasher) Hash(password string) (string, error) {
	if password == "" {
		return "", fmt.Errorf("password.hash: %w", ErrEmptyPassword)
	}
	salt := make([]byte, hasher.config.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("password.hash.salt: %w", err)
	}
	key := argon2.IDKey([]byte(password), salt, hasher.config.Time, hasher.config.Memory, hasher.config.Threads, hasher.config.KeyLength)
	return fmt.Sprintf("$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2Algorithm,
		argon2.Version,
		hasher.config.Memory, hasher.config.Time, hasher.config.Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify compares password with encodedHash in constant time.
func (hasher *PasswordHasher) Verify(password string, encodedHash string) (bool, error) {
	switch {
	case isBcryptHash(encodedHash):
		compareErr := bcrypt.CompareHashAndPassword([]byte(encodedHash), []byte(password))
		if compareErr == nil {
			return true, nil
		}
		if errors.Is(compareErr, bcrypt.ErrMismatchedHashAndPassword) || errors.Is(compareErr, bcrypt.ErrPasswordTooLong) {
			return false, nil
		}
		return false, fmt.Errorf("password.verify.bcrypt: %w: %w", ErrMalformedHash, compareErr)
	case strings.HasPrefix(encodedHash, "$"+argon2Algorithm+"$"):
		parsed, parseErr := decodeArgon2Hash(encodedHash)
		if parseErr != nil {
			return false, fmt.Errorf("password.verify.argon2id: %w", parseErr)
		}
		candidate := argon2.IDKey([]byte(password), parsed.salt, parsed.time, parsed.memory, parsed.threads, uint32(len(parsed.key)))
		return subtle.ConstantTimeCompare(parsed.key, candidate) == 1, nil
	default:
		return false, fmt.Errorf("password.verify: %w", ErrUnsupportedHash)
	}
}

// NeedsRehash reports whether encodedHash should be replaced by a hash with the current parameters.
func (hasher *PasswordHasher) NeedsRehash(encodedHash string) bool {
	if isBcryptHash(encodedHash) {
		return true
	}
	parsed, err := decodeArgon2Hash(encodedHash)
	if err != nil {
		return true
	}
	return parsed.memory != hasher.config.Memory ||
		parsed.time != hasher.config.Time ||
		parsed.threads != hasher.config.Threads ||
		uint32(len(parsed.salt)) != hasher.config.SaltLength ||
		uint32(len(parsed.key)) != hasher.config.KeyLength
}

func isBcryptHash(encodedHash string) bool {
	return strings.HasPrefix(encodedHash, "$2a$") || strings.HasPrefix(encodedHash, "$2b$") || strings.HasPrefix(encodedHash, "$2y$")
}

func decodeArgon2Hash(encodedHash string) (argon2Hash, error) {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 || parts[1] != argon2Algorithm {
		return argon2Hash{}, ErrMalformedHash
	}
	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return argon2Hash{}, ErrMalformedHash
	}
	var parsed argon2Hash
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &parsed.memory, &parsed.time, &parsed.threads); err != nil {
		return argon2Hash{}, ErrMalformedHash
	}
	if parsed.memory == 0 || parsed.time == 0 || parsed.threads == 0 {
		return argon2Hash{}, ErrMalformedHash
	}
	salt, saltErr := base64.RawStdEncoding.DecodeString(parts[4])
	if saltErr != nil || len(salt) == 0 {
		return argon2Hash{}, ErrMalformedHash
	}
	key, keyErr := base64.RawStdEncoding.DecodeString(parts[5])
	if keyErr != nil || len(key) == 0 {
		return argon2Hash{}, ErrMalformedHash
	}
	parsed.salt = salt
	parsed.key = key
	return parsed, nil
}
