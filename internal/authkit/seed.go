package authkit

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

var (
	// ErrInvalidSeedFile indicates the seed file could not be parsed or a user entry is incomplete.
	ErrInvalidSeedFile = errors.New("seed.invalid_file")
)

// SeedUser describes a user created at startup when absent.
type SeedUser struct {
	Username     string `yaml:"username"`
	DisplayName  string `yaml:"display_name"`
	Password     string `yaml:"password"`
	PasswordHash string `yaml:"password_hash"`
}

type seedDocument struct {
	Users []SeedUser `yaml:"users"`
}

// LoadSeedFile reads a YAML document of the form `users: [{username, display_name, password | password_hash}]`.
func LoadSeedFile(path string) ([]SeedUser, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("seed.read: %w", err)
	}
	return ParseSeedUsers(contents)
}

// ParseSeedUsers decodes and validates seed entries.
func ParseSeedUsers(contents []byte) ([]SeedUser, error) {
	var document seedDocument
	decoder := yaml.NewDecoder(bytes.NewReader(contents))
	decoder.KnownFields(true)
	if err := decoder.Decode(&document); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("seed.parse: %w: %v", ErrInvalidSeedFile, err)
	}
	for index, user := range document.Users {
		if strings.TrimSpace(user.Username) == "" {
			return nil, fmt.Errorf("seed.parse: %w: entry %d has no username", ErrInvalidSeedFile, index)
		}
		if (user.Password == "") == (user.PasswordHash == "") {
			return nil, fmt.Errorf("seed.parse: %w: user %q needs exactly one of password or password_hash", ErrInvalidSeedFile, user.Username)
		}
	}
	return document.Users, nil
}

// SeedUsers creates every seed user that does not exist yet and returns the number created.
func SeedUsers(ctx context.Context, store UserStore, hasher *PasswordHasher, seeds []SeedUser, logger *zap.Logger) (int, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	created := 0
	for _, seed := range seeds {
		username := strings.TrimSpace(seed.Username)
		if _, findErr := store.FindUserByUsername(ctx, username); findErr == nil {
			continue
		} else if !errors.Is(findErr, ErrUserNotFound) {
			return created, fmt.Errorf("seed.lookup: %w", findErr)
		}
		passwordHash := seed.PasswordHash
		if passwordHash == "" {
			hashed, hashErr := hasher.Hash(seed.Password)
			if hashErr != nil {
				return created, fmt.Errorf("seed.hash: %w", hashErr)
			}
			passwordHash = hashed
		}
		user, createErr := store.CreateUser(ctx, username, seed.DisplayName, passwordHash)
		if createErr != nil {
			if errors.Is(createErr, ErrUsernameTaken) {
				continue
			}
			return created, fmt.Errorf("seed.create: %w", createErr)
		}
		created++
		logger.Info("seeded user",
			zap.String("code", "seed.user_created"),
			zap.String("user_id", user.ID),
			zap.String("username", user.Username))
	}
	return created, nil
}
