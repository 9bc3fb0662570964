package authkit

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CredentialVerifier checks a username/password pair against stored hashes.
type CredentialVerifier struct {
	credentials CredentialStore
	hasher      *PasswordHasher
	logger      *zap.Logger
	// dummyHash is verified against when the username is unknown so both failure paths pay for one hash.
	dummyHash      string
	verifyPassword func(password string, encodedHash string) (bool, error)
}

// NewCredentialVerifier builds a verifier.
func NewCredentialVerifier(credentials CredentialStore, hasher *PasswordHasher, logger *zap.Logger) (*CredentialVerifier, error) {
	if credentials == nil {
		return nil, errors.New("auth.verifier.new: credential store is required")
	}
	if hasher == nil {
		return nil, errors.New("auth.verifier.new: password hasher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	dummyHash, hashErr := hasher.Hash(uuid.NewString())
	if hashErr != nil {
		return nil, fmt.Errorf("auth.verifier.new: %w", hashErr)
	}
	return &CredentialVerifier{
		credentials:    credentials,
		hasher:         hasher,
		logger:         logger,
		dummyHash:      dummyHash,
		verifyPassword: hasher.Verify,
	}, nil
}

// Verify returns the identity owning username when password matches. Unknown users and wrong
// passwords both fail with ErrInvalidCredentials.
func (verifier *CredentialVerifier) Verify(ctx context.Context, username string, password string) (Identity, error) {
	if strings.TrimSpace(username) == "" || password == "" {
		return Identity{}, fmt.Errorf("auth.verify: %w", ErrInvalidCredentials)
	}
	record, findErr := verifier.credentials.FindCredential(ctx, username)
	if findErr != nil {
		if !errors.Is(findErr, ErrCredentialNotFound) {
			return Identity{}, transientError("auth.verify", findErr)
		}
		_, _ = verifier.verifyPassword(password, verifier.dummyHash)
		verifier.logger.Info("credential verification failed",
			zap.String("code", "auth.verify.unknown_user"))
		return Identity{}, fmt.Errorf("auth.verify: %w", ErrInvalidCredentials)
	}

	matched, verifyErr := verifier.verifyPassword(password, record.PasswordHash)
	if verifyErr != nil {
		verifier.logger.Error("stored password hash unusable",
			zap.String("code", "auth.verify.malformed_hash"),
			zap.String("user_id", record.Identity.UserID),
			zap.Error(verifyErr))
		return Identity{}, fmt.Errorf("auth.verify: %w", ErrInvalidCredentials)
	}
	if !matched {
		verifier.logger.Info("credential verification failed",
			zap.String("code", "auth.verify.password_mismatch"),
			zap.String("user_id", record.Identity.UserID))
		return Identity{}, fmt.Errorf("auth.verify: %w", ErrInvalidCredentials)
	}

	verifier.upgradeHash(ctx, record, password)
	return record.Identity, nil
}

func (verifier *CredentialVerifier) upgradeHash(ctx context.Context, record CredentialRecord, password string) {
	updater, ok := verifier.credentials.(PasswordHashUpdater)
	if !ok || !verifier.hasher.NeedsRehash(record.PasswordHash) {
		return
	}
	upgraded, hashErr := verifier.hasher.Hash(password)
	if hashErr != nil {
		verifier.logger.Warn("password rehash failed",
			zap.String("code", "auth.verify.rehash_failed"),
			zap.String("user_id", record.Identity.UserID),
			zap.Error(hashErr))
		return
	}
	if updateErr := updater.UpdatePasswordHash(ctx, record.Identity.UserID, upgraded); updateErr != nil {
		verifier.logger.Warn("password rehash not persisted",
			zap.String("code", "auth.verify.rehash_failed"),
			zap.String("user_id", record.Identity.UserID),
			zap.Error(updateErr))
		return
	}
	verifier.logger.Info("password hash upgraded",
		zap.String("code", "auth.verify.rehashed"),
		zap.String("user_id", record.Identity.UserID))
}
