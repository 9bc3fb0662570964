package authkit

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tyemirov/sensorhub/pkg/tokencodec"
)

var testSigningKey = []byte("sensorhub-test-signing-key-0123456789")

type fixedClock struct {
	timestamp time.Time
}

func (clock fixedClock) Now() time.Time {
	return clock.timestamp
}

type controllableClock struct {
	mutex   sync.Mutex
	current time.Time
}

func newControllableClock(start time.Time) *controllableClock {
	return &controllableClock{current: start}
}

func (clock *controllableClock) Now() time.Time {
	clock.mutex.Lock()
	defer clock.mutex.Unlock()
	return clock.current
}

func (clock *controllableClock) Advance(delta time.Duration) {
	clock.mutex.Lock()
	defer clock.mutex.Unlock()
	clock.current = clock.current.Add(delta)
}

func (clock *controllableClock) Set(instant time.Time) {
	clock.mutex.Lock()
	defer clock.mutex.Unlock()
	clock.current = instant
}

func testServerConfig() ServerConfig {
	return ServerConfig{
		SigningKey: testSigningKey,
		Issuer:     DefaultIssuer,
		AccessTTL:  DefaultAccessTTL,
		RefreshTTL: DefaultRefreshTTL,
	}
}

func newTestCodec(t *testing.T, clock Clock) *tokencodec.Codec {
	t.Helper()
	codec, err := NewCodec(testServerConfig(), clock)
	if err != nil {
		t.Fatalf("failed to build codec: %v", err)
	}
	return codec
}

var testIdentity = Identity{UserID: "user-123", Username: "admin", DisplayName: "Administrator"}

func TestTokenIssuerRejectsEmptySubject(t *testing.T) {
	t.Parallel()

	clock := fixedClock{timestamp: time.Unix(1700000000, 0).UTC()}
	issuer := NewTokenIssuer(newTestCodec(t, clock), NewMemoryRevocationStore(), clock, testServerConfig())

	_, err := issuer.Issue(context.Background(), Identity{Username: "admin"})
	if !errors.Is(err, errEmptySubject) {
		t.Fatalf("expected errEmptySubject, got %v", err)
	}
}

func TestTokenIssuerCarriesClockTimestamps(t *testing.T) {
	t.Parallel()

	reference := time.Date(2024, 3, 9, 12, 30, 15, 123456789, time.UTC)
	clock := fixedClock{timestamp: reference}
	codec := newTestCodec(t, clock)
	revocations := NewMemoryRevocationStore()
	issuer := NewTokenIssuer(codec, revocations, clock, testServerConfig())

	pair, err := issuer.Issue(context.Background(), testIdentity)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	truncated := reference.Truncate(time.Microsecond)
	if !pair.AccessExpiresAt.Equal(truncated.Add(30 * time.Minute)) {
		t.Fatalf("unexpected access expiry %v", pair.AccessExpiresAt)
	}
	if !pair.RefreshExpiresAt.Equal(truncated.Add(7 * 24 * time.Hour)) {
		t.Fatalf("unexpected refresh expiry %v", pair.RefreshExpiresAt)
	}

	access, accessErr := codec.Decode(pair.AccessToken)
	if accessErr != nil {
		t.Fatalf("access decode failed: %v", accessErr)
	}
	if access.Kind != tokencodec.KindAccess || access.Subject != testIdentity.UserID || access.Username != testIdentity.Username {
		t.Fatalf("unexpected access token %+v", access)
	}
	if access.TokenID != "" {
		t.Fatalf("access tokens carry no token id, got %q", access.TokenID)
	}

	refresh, refreshErr := codec.Decode(pair.RefreshToken)
	if refreshErr != nil {
		t.Fatalf("refresh decode failed: %v", refreshErr)
	}
	if refresh.Kind != tokencodec.KindRefresh || refresh.TokenID == "" {
		t.Fatalf("unexpected refresh token %+v", refresh)
	}
	live, liveErr := revocations.IsLive(context.Background(), refresh.TokenID)
	if liveErr != nil || !live {
		t.Fatalf("expected refresh token recorded live, got live=%v err=%v", live, liveErr)
	}
}

func TestTokenIssuerAppliesConfiguredTTLs(t *testing.T) {
	t.Parallel()

	reference := time.Unix(1700000000, 0).UTC()
	clock := fixedClock{timestamp: reference}
	configuration := testServerConfig()
	configuration.AccessTTL = time.Minute
	configuration.RefreshTTL = time.Hour
	issuer := NewTokenIssuer(newTestCodec(t, clock), NewMemoryRevocationStore(), clock, configuration)

	pair, err := issuer.Issue(context.Background(), testIdentity)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !pair.AccessExpiresAt.Equal(reference.Add(time.Minute)) || !pair.RefreshExpiresAt.Equal(reference.Add(time.Hour)) {
		t.Fatalf("unexpected expiries %v %v", pair.AccessExpiresAt, pair.RefreshExpiresAt)
	}
}

func TestTokenIssuerMintsDistinctRefreshTokens(t *testing.T) {
	t.Parallel()

	clock := fixedClock{timestamp: time.Unix(1700000000, 0).UTC()}
	issuer := NewTokenIssuer(newTestCodec(t, clock), NewMemoryRevocationStore(), clock, testServerConfig())

	first, err := issuer.Issue(context.Background(), testIdentity)
	if err != nil {
		t.Fatalf("first issue failed: %v", err)
	}
	second, err := issuer.Issue(context.Background(), testIdentity)
	if err != nil {
		t.Fatalf("second issue failed: %v", err)
	}
	if first.RefreshToken == second.RefreshToken {
		t.Fatalf("expected distinct refresh tokens within the same instant")
	}
}

func TestTokenIssuerReportsDuplicateTokenIDAsPermanent(t *testing.T) {
	t.Parallel()

	clock := fixedClock{timestamp: time.Unix(1700000000, 0).UTC()}
	issuer := NewTokenIssuer(newTestCodec(t, clock), NewMemoryRevocationStore(), clock, testServerConfig())
	issuer.newTokenID = func() string { return "fixed-token-id" }

	if _, err := issuer.Issue(context.Background(), testIdentity); err != nil {
		t.Fatalf("first issue failed: %v", err)
	}
	_, err := issuer.Issue(context.Background(), testIdentity)
	if !errors.Is(err, ErrRevocationExists) {
		t.Fatalf("expected ErrRevocationExists, got %v", err)
	}
	if errors.Is(err, ErrTransient) {
		t.Fatalf("duplicate token id must not be reported as transient")
	}
}

func TestTokenIssuerWrapsStoreOutageAsTransient(t *testing.T) {
	t.Parallel()

	clock := fixedClock{timestamp: time.Unix(1700000000, 0).UTC()}
	store := newFailingRevocationStore()
	store.failCreate = errors.New("connection refused")
	issuer := NewTokenIssuer(newTestCodec(t, clock), store, clock, testServerConfig())

	_, err := issuer.Issue(context.Background(), testIdentity)
	if !errors.Is(err, ErrTransient) {
		t.Fatalf("expected ErrTransient, got %v", err)
	}
	if !strings.Contains(err.Error(), "connection refused") {
		t.Fatalf("expected cause in error, got %v", err)
	}
}

// failingRevocationStore wraps a memory store and injects errors per operation.
type failingRevocationStore struct {
	*MemoryRevocationStore
	failCreate error
	failIsLive error
	failRevoke error
}

func newFailingRevocationStore() *failingRevocationStore {
	return &failingRevocationStore{MemoryRevocationStore: NewMemoryRevocationStore()}
}

func (store *failingRevocationStore) CreateRevocation(ctx context.Context, record RevocationRecord) error {
	if store.failCreate != nil {
		return store.failCreate
	}
	return store.MemoryRevocationStore.CreateRevocation(ctx, record)
}

func (store *failingRevocationStore) IsLive(ctx context.Context, tokenID string) (bool, error) {
	if store.failIsLive != nil {
		return false, store.failIsLive
	}
	return store.MemoryRevocationStore.IsLive(ctx, tokenID)
}

func (store *failingRevocationStore) ConditionallyRevoke(ctx context.Context, tokenID string) (bool, error) {
	if store.failRevoke != nil {
		return false, store.failRevoke
	}
	return store.MemoryRevocationStore.ConditionallyRevoke(ctx, tokenID)
}
