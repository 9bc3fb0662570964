package authkit

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryUserStore is a user store used for tests and local runs without a database.
type MemoryUserStore struct {
	mutex      sync.RWMutex
	byID       map[string]*memoryUser
	byUsername map[string]string
}

type memoryUser struct {
	user         User
	passwordHash string
}

// NewMemoryUserStore constructs an empty store.
func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{
		byID:       make(map[string]*memoryUser),
		byUsername: make(map[string]string),
	}
}

// FindCredential returns the credential record for username.
func (store *MemoryUserStore) FindCredential(ctx context.Context, username string) (CredentialRecord, error) {
	store.mutex.RLock()
	defer store.mutex.RUnlock()
	userID, ok := store.byUsername[username]
	if !ok {
		return CredentialRecord{}, fmt.Errorf("credential_store.find.memory: %w", ErrCredentialNotFound)
	}
	record := store.byID[userID]
	return CredentialRecord{Identity: record.user.Identity(), PasswordHash: record.passwordHash}, nil
}

// UpdatePasswordHash replaces the hash stored for userID.
func (store *MemoryUserStore) UpdatePasswordHash(ctx context.Context, userID string, passwordHash string) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	record, ok := store.byID[userID]
	if !ok {
		return fmt.Errorf("user_store.update_password.memory: %w", ErrUserNotFound)
	}
	record.passwordHash = passwordHash
	record.user.UpdatedAt = time.Now().UTC()
	return nil
}

// CreateUser inserts a new user with a generated id.
func (store *MemoryUserStore) CreateUser(ctx context.Context, username string, displayName string, passwordHash string) (User, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	if _, taken := store.byUsername[username]; taken {
		return User{}, fmt.Errorf("user_store.create.memory: %w", ErrUsernameTaken)
	}
	now := time.Now().UTC()
	user := User{
		ID:          uuid.NewString(),
		Username:    username,
		DisplayName: strings.TrimSpace(displayName),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	store.byID[user.ID] = &memoryUser{user: user, passwordHash: passwordHash}
	store.byUsername[username] = user.ID
	return user, nil
}

// GetUser returns the user with userID.
func (store *MemoryUserStore) GetUser(ctx context.Context, userID string) (User, error) {
	store.mutex.RLock()
	defer store.mutex.RUnlock()
	record, ok := store.byID[userID]
	if !ok {
		return User{}, fmt.Errorf("user_store.get.memory: %w", ErrUserNotFound)
	}
	return record.user, nil
}

// FindUserByUsername returns the user owning username.
func (store *MemoryUserStore) FindUserByUsername(ctx context.Context, username string) (User, error) {
	store.mutex.RLock()
	defer store.mutex.RUnlock()
	userID, ok := store.byUsername[username]
	if !ok {
		return User{}, fmt.Errorf("user_store.find.memory: %w", ErrUserNotFound)
	}
	return store.byID[userID].user, nil
}

// ListUsers returns users ordered by username along with the total count.
func (store *MemoryUserStore) ListUsers(ctx context.Context, offset int, limit int) ([]User, int64, error) {
	store.mutex.RLock()
	defer store.mutex.RUnlock()
	users := make([]User, 0, len(store.byID))
	for _, record := range store.byID {
		users = append(users, record.user)
	}
	sort.Slice(users, func(left, right int) bool {
		return users[left].Username < users[right].Username
	})
	total := int64(len(users))
	if offset < 0 || offset >= len(users) {
		return []User{}, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > len(users) {
		end = len(users)
	}
	return users[offset:end], total, nil
}

// UpdateUser applies update to the stored user.
func (store *MemoryUserStore) UpdateUser(ctx context.Context, userID string, update UserUpdate) (User, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	record, ok := store.byID[userID]
	if !ok {
		return User{}, fmt.Errorf("user_store.update.memory: %w", ErrUserNotFound)
	}
	if update.DisplayName != nil {
		record.user.DisplayName = strings.TrimSpace(*update.DisplayName)
	}
	if update.PasswordHash != nil {
		record.passwordHash = *update.PasswordHash
	}
	record.user.UpdatedAt = time.Now().UTC()
	return record.user, nil
}

// DeleteUser removes the user with userID.
func (store *MemoryUserStore) DeleteUser(ctx context.Context, userID string) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	record, ok := store.byID[userID]
	if !ok {
		return fmt.Errorf("user_store.delete.memory: %w", ErrUserNotFound)
	}
	delete(store.byUsername, record.user.Username)
	delete(store.byID, userID)
	return nil
}
