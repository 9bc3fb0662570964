package authkit

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// MemoryRevocationStore keeps revocation records in process memory, for tests and single-node dev.
//
// The map lock only guards membership. Liveness is a per-record atomic flag, so rotating one
// token never waits on another token's rotation.
type MemoryRevocationStore struct {
	mutex   sync.RWMutex
	records map[string]*memoryRevocation
}

type memoryRevocation struct {
	identity  Identity
	expiresAt time.Time
	live      atomic.Bool
}

// NewMemoryRevocationStore creates an empty store.
func NewMemoryRevocationStore() *MemoryRevocationStore {
	return &MemoryRevocationStore{records: make(map[string]*memoryRevocation)}
}

// CreateRevocation stores a live record for record.TokenID.
func (store *MemoryRevocationStore) CreateRevocation(ctx context.Context, record RevocationRecord) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("revocation_store.create.memory: %w", err)
	}
	if strings.TrimSpace(record.TokenID) == "" {
		return fmt.Errorf("revocation_store.create.memory: %w", ErrEmptyTokenID)
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()
	if _, exists := store.records[record.TokenID]; exists {
		return fmt.Errorf("revocation_store.create.memory: %w", ErrRevocationExists)
	}
	entry := &memoryRevocation{identity: record.Identity, expiresAt: record.ExpiresAt}
	entry.live.Store(true)
	store.records[record.TokenID] = entry
	return nil
}

// ConditionallyRevoke flips a live record to revoked and reports whether it did.
func (store *MemoryRevocationStore) ConditionallyRevoke(ctx context.Context, tokenID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, fmt.Errorf("revocation_store.revoke.memory: %w", err)
	}
	entry := store.lookup(tokenID)
	if entry == nil {
		return false, nil
	}
	return entry.live.CompareAndSwap(true, false), nil
}

// IsLive reports whether tokenID exists and has not been revoked.
func (store *MemoryRevocationStore) IsLive(ctx context.Context, tokenID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, fmt.Errorf("revocation_store.is_live.memory: %w", err)
	}
	entry := store.lookup(tokenID)
	return entry != nil && entry.live.Load(), nil
}

// RevokeSubject revokes every live record belonging to userID.
func (store *MemoryRevocationStore) RevokeSubject(ctx context.Context, userID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("revocation_store.revoke_subject.memory: %w", err)
	}
	store.mutex.RLock()
	defer store.mutex.RUnlock()
	var revoked int64
	for _, entry := range store.records {
		if entry.identity.UserID == userID && entry.live.CompareAndSwap(true, false) {
			revoked++
		}
	}
	return revoked, nil
}

// PurgeExpired drops records whose refresh token expired before the given instant.
func (store *MemoryRevocationStore) PurgeExpired(ctx context.Context, before time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("revocation_store.purge.memory: %w", err)
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()
	var purged int64
	for tokenID, entry := range store.records {
		if entry.expiresAt.Before(before) {
			delete(store.records, tokenID)
			purged++
		}
	}
	return purged, nil
}

func (store *MemoryRevocationStore) lookup(tokenID string) *memoryRevocation {
	store.mutex.RLock()
	defer store.mutex.RUnlock()
	return store.records[tokenID]
}
