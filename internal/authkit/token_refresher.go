package authkit

import (
	"context"
	"fmt"

	"github.com/tyemirov/sensorhub/pkg/tokencodec"
)

// TokenRefresher rotates refresh tokens. A refresh token id moves from live to rotated exactly once.
type TokenRefresher struct {
	codec       *tokencodec.Codec
	revocations RevocationStore
	issuer      *TokenIssuer
}

// NewTokenRefresher wires a refresher.
func NewTokenRefresher(codec *tokencodec.Codec, revocations RevocationStore, issuer *TokenIssuer) *TokenRefresher {
	return &TokenRefresher{codec: codec, revocations: revocations, issuer: issuer}
}

// Refresh consumes presented and returns a new pair for the same identity. The presented token is
// unusable afterwards even when issuing the replacement fails.
func (refresher *TokenRefresher) Refresh(ctx context.Context, presented string) (TokenPair, error) {
	token, decodeErr := refresher.codec.Decode(presented)
	if decodeErr != nil {
		return TokenPair{}, fmt.Errorf("auth.refresh: %w", decodeErr)
	}
	if token.Kind != tokencodec.KindRefresh {
		return TokenPair{}, fmt.Errorf("auth.refresh: %w", ErrWrongTokenKind)
	}

	live, liveErr := refresher.revocations.IsLive(ctx, token.TokenID)
	if liveErr != nil {
		return TokenPair{}, transientError("auth.refresh.lookup", liveErr)
	}
	if !live {
		return TokenPair{}, fmt.Errorf("auth.refresh: %w", ErrTokenRevoked)
	}

	applied, revokeErr := refresher.revocations.ConditionallyRevoke(ctx, token.TokenID)
	if revokeErr != nil {
		return TokenPair{}, transientError("auth.refresh.revoke", revokeErr)
	}
	if !applied {
		return TokenPair{}, fmt.Errorf("auth.refresh: %w", ErrTokenRevoked)
	}

	return refresher.issuer.Issue(ctx, identityFromToken(token))
}
