package authkit

import (
	"fmt"

	"github.com/tyemirov/sensorhub/pkg/tokencodec"
)

// AccessGuard resolves the caller identity from an access token without touching storage.
type AccessGuard struct {
	codec *tokencodec.Codec
}

// NewAccessGuard wires a guard.
func NewAccessGuard(codec *tokencodec.Codec) *AccessGuard {
	return &AccessGuard{codec: codec}
}

// Authorize decodes presented and requires it to be an access token.
func (guard *AccessGuard) Authorize(presented string) (Identity, error) {
	token, err := guard.codec.Decode(presented)
	if err != nil {
		return Identity{}, fmt.Errorf("auth.authorize: %w", err)
	}
	if token.Kind != tokencodec.KindAccess {
		return Identity{}, fmt.Errorf("auth.authorize: %w", ErrWrongTokenKind)
	}
	return identityFromToken(token), nil
}
