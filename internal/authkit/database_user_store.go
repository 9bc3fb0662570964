package authkit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tyemirov/sensorhub/internal/database"
	"gorm.io/gorm"
)

// DatabaseUserStore persists users and password hashes using GORM.
type DatabaseUserStore struct {
	db          *gorm.DB
	driverLabel string
}

type userRow struct {
	ID           string    `gorm:"column:id;primaryKey"`
	Username     string    `gorm:"column:username;uniqueIndex;not null"`
	DisplayName  string    `gorm:"column:display_name;not null;default:''"`
	PasswordHash string    `gorm:"column:password_hash;not null"`
	CreatedAt    time.Time `gorm:"column:created_at;not null"`
	UpdatedAt    time.Time `gorm:"column:updated_at;not null"`
}

func (userRow) TableName() string {
	return "users"
}

func (row userRow) toUser() User {
	return User{
		ID:          row.ID,
		Username:    row.Username,
		DisplayName: row.DisplayName,
		CreatedAt:   row.CreatedAt.UTC(),
		UpdatedAt:   row.UpdatedAt.UTC(),
	}
}

// NewDatabaseUserStore migrates the users table on connection and returns a store.
func NewDatabaseUserStore(ctx context.Context, connection *database.Connection) (*DatabaseUserStore, error) {
	if err := connection.Migrate(ctx, &userRow{}); err != nil {
		return nil, fmt.Errorf("user_store.open: %w", err)
	}
	return &DatabaseUserStore{db: connection.DB, driverLabel: connection.Driver}, nil
}

// FindCredential returns the credential record for username.
func (store *DatabaseUserStore) FindCredential(ctx context.Context, username string) (CredentialRecord, error) {
	var row userRow
	if err := store.db.WithContext(ctx).Where("username = ?", username).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return CredentialRecord{}, fmt.Errorf("credential_store.find.%s: %w", store.driverLabel, ErrCredentialNotFound)
		}
		return CredentialRecord{}, fmt.Errorf("credential_store.find.%s: %w", store.driverLabel, err)
	}
	return CredentialRecord{Identity: row.toUser().Identity(), PasswordHash: row.PasswordHash}, nil
}

// UpdatePasswordHash replaces the hash stored for userID.
func (store *DatabaseUserStore) UpdatePasswordHash(ctx context.Context, userID string, passwordHash string) error {
	passwordHashValue := passwordHash
	_, err := store.UpdateUser(ctx, userID, UserUpdate{PasswordHash: &passwordHashValue})
	return err
}

// CreateUser inserts a new user with a generated id.
func (store *DatabaseUserStore) CreateUser(ctx context.Context, username string, displayName string, passwordHash string) (User, error) {
	now := time.Now().UTC()
	row := userRow{
		ID:           uuid.NewString(),
		Username:     username,
		DisplayName:  strings.TrimSpace(displayName),
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := store.db.WithContext(ctx).Create(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return User{}, fmt.Errorf("user_store.create.%s: %w", store.driverLabel, ErrUsernameTaken)
		}
		return User{}, fmt.Errorf("user_store.create.%s: %w", store.driverLabel, err)
	}
	return row.toUser(), nil
}

// GetUser returns the user with userID.
func (store *DatabaseUserStore) GetUser(ctx context.Context, userID string) (User, error) {
	return store.takeUser(ctx, "user_store.get", "id = ?", userID)
}

// FindUserByUsername returns the user owning username.
func (store *DatabaseUserStore) FindUserByUsername(ctx context.Context, username string) (User, error) {
	return store.takeUser(ctx, "user_store.find", "username = ?", username)
}

// ListUsers returns users ordered by username along with the total count.
func (store *DatabaseUserStore) ListUsers(ctx context.Context, offset int, limit int) ([]User, int64, error) {
	var total int64
	if err := store.db.WithContext(ctx).Model(&userRow{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("user_store.list.%s: %w", store.driverLabel, err)
	}
	var rows []userRow
	query := store.db.WithContext(ctx).Order("username ASC").Offset(offset)
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&rows).Error; err != nil {
		return nil, 0, fmt.Errorf("user_store.list.%s: %w", store.driverLabel, err)
	}
	users := make([]User, 0, len(rows))
	for _, row := range rows {
		users = append(users, row.toUser())
	}
	return users, total, nil
}

// UpdateUser applies update to the stored user.
func (store *DatabaseUserStore) UpdateUser(ctx context.Context, userID string, update UserUpdate) (User, error) {
	changes := map[string]interface{}{"updated_at": time.Now().UTC()}
	if update.DisplayName != nil {
		changes["display_name"] = strings.TrimSpace(*update.DisplayName)
	}
	if update.PasswordHash != nil {
		changes["password_hash"] = *update.PasswordHash
	}
	result := store.db.WithContext(ctx).Model(&userRow{}).Where("id = ?", userID).Updates(changes)
	if result.Error != nil {
		return User{}, fmt.Errorf("user_store.update.%s: %w", store.driverLabel, result.Error)
	}
	if result.RowsAffected == 0 {
		return User{}, fmt.Errorf("user_store.update.%s: %w", store.driverLabel, ErrUserNotFound)
	}
	return store.GetUser(ctx, userID)
}

// DeleteUser removes the user with userID.
func (store *DatabaseUserStore) DeleteUser(ctx context.Context, userID string) error {
	result := store.db.WithContext(ctx).Where("id = ?", userID).Delete(&userRow{})
	if result.Error != nil {
		return fmt.Errorf("user_store.delete.%s: %w", store.driverLabel, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("user_store.delete.%s: %w", store.driverLabel, ErrUserNotFound)
	}
	return nil
}

func (store *DatabaseUserStore) takeUser(ctx context.Context, operation string, condition string, value string) (User, error) {
	var row userRow
	if err := store.db.WithContext(ctx).Where(condition, value).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return User{}, fmt.Errorf("%s.%s: %w", operation, store.driverLabel, ErrUserNotFound)
		}
		return User{}, fmt.Errorf("%s.%s: %w", operation, store.driverLabel, err)
	}
	return row.toUser(), nil
}
