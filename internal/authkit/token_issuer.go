package authkit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tyemirov/sensorhub/pkg/tokencodec"
)

var errEmptySubject = errors.New("auth.issue.empty_subject")

// TokenPair is returned to clients on login and refresh.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// TokenIssuer mints access/refresh pairs and records refresh token ids as live.
type TokenIssuer struct {
	codec       *tokencodec.Codec
	revocations RevocationStore
	clock       Clock
	accessTTL   time.Duration
	refreshTTL  time.Duration
	newTokenID  func() string
}

// NewTokenIssuer wires an issuer; zero TTLs fall back to the defaults.
func NewTokenIssuer(codec *tokencodec.Codec, revocations RevocationStore, clock Clock, configuration ServerConfig) *TokenIssuer {
	if clock == nil {
		clock = NewSystemClock()
	}
	accessTTL := configuration.AccessTTL
	if accessTTL <= 0 {
		accessTTL = DefaultAccessTTL
	}
	refreshTTL := configuration.RefreshTTL
	if refreshTTL <= 0 {
		refreshTTL = DefaultRefreshTTL
	}
	return &TokenIssuer{
		codec:       codec,
		revocations: revocations,
		clock:       clock,
		accessTTL:   accessTTL,
		refreshTTL:  refreshTTL,
		newTokenID:  uuid.NewString,
	}
}

// Issue mints a token pair for identity and persists a live revocation record for the refresh token.
func (issuer *TokenIssuer) Issue(ctx context.Context, identity Identity) (TokenPair, error) {
	if strings.TrimSpace(identity.UserID) == "" {
		return TokenPair{}, fmt.Errorf("auth.issue: %w", errEmptySubject)
	}
	issuedAt := issuer.clock.Now().UTC().Truncate(time.Microsecond)

	accessToken := tokenFor(identity, tokencodec.KindAccess, "", issuedAt, issuedAt.Add(issuer.accessTTL))
	encodedAccess, accessErr := issuer.codec.Encode(accessToken)
	if accessErr != nil {
		return TokenPair{}, fmt.Errorf("auth.issue.access: %w", accessErr)
	}

	refreshToken := tokenFor(identity, tokencodec.KindRefresh, issuer.newTokenID(), issuedAt, issuedAt.Add(issuer.refreshTTL))
	encodedRefresh, refreshErr := issuer.codec.Encode(refreshToken)
	if refreshErr != nil {
		return TokenPair{}, fmt.Errorf("auth.issue.refresh: %w", refreshErr)
	}

	createErr := issuer.revocations.CreateRevocation(ctx, RevocationRecord{
		TokenID:   refreshToken.TokenID,
		Identity:  identity,
		ExpiresAt: refreshToken.ExpiresAt,
	})
	if createErr != nil {
		if errors.Is(createErr, ErrRevocationExists) {
			return TokenPair{}, fmt.Errorf("auth.issue.record: %w", createErr)
		}
		return TokenPair{}, transientError("auth.issue.record", createErr)
	}

	return TokenPair{
		AccessToken:      encodedAccess,
		RefreshToken:     encodedRefresh,
		AccessExpiresAt:  accessToken.ExpiresAt,
		RefreshExpiresAt: refreshToken.ExpiresAt,
	}, nil
}

func tokenFor(identity Identity, kind tokencodec.Kind, tokenID string, issuedAt time.Time, expiresAt time.Time) tokencodec.Token {
	return tokencodec.Token{
		Subject:     identity.UserID,
		Username:    identity.Username,
		DisplayName: identity.DisplayName,
		Kind:        kind,
		TokenID:     tokenID,
		IssuedAt:    issuedAt,
		ExpiresAt:   expiresAt,
	}
}

func identityFromToken(token tokencodec.Token) Identity {
	return Identity{
		UserID:      token.Subject,
		Username:    token.Username,
		DisplayName: token.DisplayName,
	}
}
