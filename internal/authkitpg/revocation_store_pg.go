package authkitpg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/tyemirov/sensorhub/internal/authkit"
)

const uniqueViolation = "23505"

// PostgresRevocationStore persists refresh token liveness in PostgreSQL.
type PostgresRevocationStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewPostgresRevocationStore constructs a Postgres store on an already migrated database.
func NewPostgresRevocationStore(db *sql.DB) *PostgresRevocationStore {
	return &PostgresRevocationStore{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// WithClock stamps created and revoked times from clock.
func (store *PostgresRevocationStore) WithClock(clock authkit.Clock) *PostgresRevocationStore {
	if clock != nil {
		store.now = clock.Now
	}
	return store
}

// Ping verifies the database is reachable.
func (store *PostgresRevocationStore) Ping(ctx context.Context) error {
	return store.db.PingContext(ctx)
}

// CreateRevocation inserts a live record.
func (store *PostgresRevocationStore) CreateRevocation(ctx context.Context, record authkit.RevocationRecord) error {
	if strings.TrimSpace(record.TokenID) == "" {
		return fmt.Errorf("revocation_store.create.postgres: %w", authkit.ErrEmptyTokenID)
	}
	_, err := store.db.ExecContext(ctx, `
INSERT INTO refresh_token_revocations (token_id, user_id, username, display_name, expires_unix, revoked_at_unix, created_at_unix)
VALUES ($1, $2, $3, $4, $5, 0, $6)
`, record.TokenID, record.Identity.UserID, record.Identity.Username, record.Identity.DisplayName, record.ExpiresAt.Unix(), store.now().Unix())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("revocation_store.create.postgres: %w", authkit.ErrRevocationExists)
		}
		return fmt.Errorf("revocation_store.create.postgres: %w", err)
	}
	return nil
}

// ConditionallyRevoke marks tokenID revoked only if it is still live.
func (store *PostgresRevocationStore) ConditionallyRevoke(ctx context.Context, tokenID string) (bool, error) {
	result, err := store.db.ExecContext(ctx, `
UPDATE refresh_token_revocations
SET revoked_at_unix = $1
WHERE token_id = $2 AND revoked_at_unix = 0
`, store.now().Unix(), tokenID)
	if err != nil {
		return false, fmt.Errorf("revocation_store.revoke.postgres: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("revocation_store.revoke.postgres: %w", err)
	}
	return affected == 1, nil
}

// IsLive reports whether tokenID exists and has not been revoked.
func (store *PostgresRevocationStore) IsLive(ctx context.Context, tokenID string) (bool, error) {
	var revokedAt int64
	err := store.db.QueryRowContext(ctx, `
SELECT revoked_at_unix
FROM refresh_token_revocations
WHERE token_id = $1
`, tokenID).Scan(&revokedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("revocation_store.is_live.postgres: %w", err)
	}
	return revokedAt == 0, nil
}

// RevokeSubject revokes every live record belonging to userID.
func (store *PostgresRevocationStore) RevokeSubject(ctx context.Context, userID string) (int64, error) {
	result, err := store.db.ExecContext(ctx, `
UPDATE refresh_token_revocations
SET revoked_at_unix = $1
WHERE user_id = $2 AND revoked_at_unix = 0
`, store.now().Unix(), userID)
	if err != nil {
		return 0, fmt.Errorf("revocation_store.revoke_subject.postgres: %w", err)
	}
	return result.RowsAffected()
}

// PurgeExpired deletes records whose refresh token expired before the given instant.
func (store *PostgresRevocationStore) PurgeExpired(ctx context.Context, before time.Time) (int64, error) {
	result, err := store.db.ExecContext(ctx, `
DELETE FROM refresh_token_revocations
WHERE expires_unix < $1
`, before.Unix())
	if err != nil {
		return 0, fmt.Errorf("revocation_store.purge.postgres: %w", err)
	}
	return result.RowsAffected()
}
