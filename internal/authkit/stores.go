package authkit

import (
	"context"
	"time"
)

// Identity is the principal a token is issued for.
type Identity struct {
	UserID      string
	Username    string
	DisplayName string
}

// CredentialRecord pairs an identity with its salted password hash.
type CredentialRecord struct {
	Identity     Identity
	PasswordHash string
}

// RevocationRecord tracks whether a refresh token id may still be rotated.
type RevocationRecord struct {
	TokenID   string
	Identity  Identity
	ExpiresAt time.Time
}

// User is the administrative view of a stored account.
type User struct {
	ID          string
	Username    string
	DisplayName string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Identity returns the token identity for user.
func (user User) Identity() Identity {
	return Identity{UserID: user.ID, Username: user.Username, DisplayName: user.DisplayName}
}

// UserUpdate carries optional changes; nil fields are left untouched.
type UserUpdate struct {
	DisplayName  *string
	PasswordHash *string
}

// CredentialStore resolves credential records by username.
type CredentialStore interface {
	FindCredential(ctx context.Context, username string) (CredentialRecord, error)
}

// PasswordHashUpdater replaces a stored password hash.
type PasswordHashUpdater interface {
	UpdatePasswordHash(ctx context.Context, userID string, passwordHash string) error
}

// UserStore persists application users and their credentials.
type UserStore interface {
	CredentialStore
	PasswordHashUpdater
	CreateUser(ctx context.Context, username string, displayName string, passwordHash string) (User, error)
	GetUser(ctx context.Context, userID string) (User, error)
	FindUserByUsername(ctx context.Context, username string) (User, error)
	ListUsers(ctx context.Context, offset int, limit int) ([]User, int64, error)
	UpdateUser(ctx context.Context, userID string, update UserUpdate) (User, error)
	DeleteUser(ctx context.Context, userID string) error
}

// RevocationStore persists refresh-token liveness.
//
// ConditionallyRevoke must flip a live record to revoked as a single atomic step and report
// whether it applied; two callers racing on the same token id can never both observe true.
type RevocationStore interface {
	CreateRevocation(ctx context.Context, record RevocationRecord) error
	ConditionallyRevoke(ctx context.Context, tokenID string) (bool, error)
	IsLive(ctx context.Context, tokenID string) (bool, error)
	RevokeSubject(ctx context.Context, userID string) (int64, error)
	PurgeExpired(ctx context.Context, before time.Time) (int64, error)
}
