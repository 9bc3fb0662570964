package authkit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tyemirov/sensorhub/internal/database"
	"gorm.io/gorm"
)

// DatabaseRevocationStore persists revocation records using GORM.
type DatabaseRevocationStore struct {
	db          *gorm.DB
	driverLabel string
	now         func() time.Time
}

type revocationRow struct {
	TokenID       string `gorm:"column:token_id;primaryKey"`
	UserID        string `gorm:"column:user_id;index;not null"`
	Username      string `gorm:"column:username;not null"`
	DisplayName   string `gorm:"column:display_name;not null;default:''"`
	ExpiresUnix   int64  `gorm:"column:expires_unix;index;not null"`
	RevokedAtUnix int64  `gorm:"column:revoked_at_unix;not null;default:0"`
	CreatedAtUnix int64  `gorm:"column:created_at_unix;not null"`
}

func (revocationRow) TableName() string {
	return "refresh_token_revocations"
}

// NewDatabaseRevocationStore migrates the revocation table on connection and returns a store.
func NewDatabaseRevocationStore(ctx context.Context, connection *database.Connection) (*DatabaseRevocationStore, error) {
	if err := connection.Migrate(ctx, &revocationRow{}); err != nil {
		return nil, fmt.Errorf("revocation_store.open: %w", err)
	}
	return &DatabaseRevocationStore{
		db:          connection.DB,
		driverLabel: connection.Driver,
		now:         NewSystemClock().Now,
	}, nil
}

// WithClock stamps created and revoked times from clock.
func (store *DatabaseRevocationStore) WithClock(clock Clock) *DatabaseRevocationStore {
	if clock != nil {
		store.now = clock.Now
	}
	return store
}

// Driver exposes the selected database driver label.
func (store *DatabaseRevocationStore) Driver() string {
	return store.driverLabel
}

// CreateRevocation inserts a live record.
func (store *DatabaseRevocationStore) CreateRevocation(ctx context.Context, record RevocationRecord) error {
	if strings.TrimSpace(record.TokenID) == "" {
		return fmt.Errorf("revocation_store.create.%s: %w", store.driverLabel, ErrEmptyTokenID)
	}
	row := revocationRow{
		TokenID:       record.TokenID,
		UserID:        record.Identity.UserID,
		Username:      record.Identity.Username,
		DisplayName:   record.Identity.DisplayName,
		ExpiresUnix:   record.ExpiresAt.Unix(),
		CreatedAtUnix: store.now().Unix(),
	}
	if err := store.db.WithContext(ctx).Create(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("revocation_store.create.%s: %w", store.driverLabel, ErrRevocationExists)
		}
		return fmt.Errorf("revocation_store.create.%s: %w", store.driverLabel, err)
	}
	return nil
}

// ConditionallyRevoke marks the record revoked only if it is still live.
func (store *DatabaseRevocationStore) ConditionallyRevoke(ctx context.Context, tokenID string) (bool, error) {
	result := store.db.WithContext(ctx).Model(&revocationRow{}).
		Where("token_id = ? AND revoked_at_unix = 0", tokenID).
		Update("revoked_at_unix", store.now().Unix())
	if result.Error != nil {
		return false, fmt.Errorf("revocation_store.revoke.%s: %w", store.driverLabel, result.Error)
	}
	return result.RowsAffected == 1, nil
}

// IsLive reports whether tokenID exists and has not been revoked.
func (store *DatabaseRevocationStore) IsLive(ctx context.Context, tokenID string) (bool, error) {
	var row revocationRow
	err := store.db.WithContext(ctx).Select("token_id", "revoked_at_unix").Where("token_id = ?", tokenID).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("revocation_store.is_live.%s: %w", store.driverLabel, err)
	}
	return row.RevokedAtUnix == 0, nil
}

// RevokeSubject revokes every live record belonging to userID.
func (store *DatabaseRevocationStore) RevokeSubject(ctx context.Context, userID string) (int64, error) {
	result := store.db.WithContext(ctx).Model(&revocationRow{}).
		Where("user_id = ? AND revoked_at_unix = 0", userID).
		Update("revoked_at_unix", store.now().Unix())
	if result.Error != nil {
		return 0, fmt.Errorf("revocation_store.revoke_subject.%s: %w", store.driverLabel, result.Error)
	}
	return result.RowsAffected, nil
}

// PurgeExpired deletes records whose refresh token expired before the given instant.
func (store *DatabaseRevocationStore) PurgeExpired(ctx context.Context, before time.Time) (int64, error) {
	result := store.db.WithContext(ctx).Where("expires_unix < ?", before.Unix()).Delete(&revocationRow{})
	if result.Error != nil {
		return 0, fmt.Errorf("revocation_store.purge.%s: %w", store.driverLabel, result.Error)
	}
	return result.RowsAffected, nil
}
