// Package tokencodec signs and verifies the access and refresh tokens issued by sensorhub.
//
// Tokens are HS256 JWTs. Alongside the registered second-precision claims they carry
// microsecond-precision issue and expiry instants which are authoritative for expiry checks.
package tokencodec

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Kind distinguishes access tokens from refresh tokens.
type Kind string

const (
	// KindAccess authorizes individual requests.
	KindAccess Kind = "access"
	// KindRefresh is used solely to mint new token pairs.
	KindRefresh Kind = "refresh"
)

// Valid reports whether kind is one of the known token kinds.
func (kind Kind) Valid() bool {
	return kind == KindAccess || kind == KindRefresh
}

// Clock provides the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

// Now returns the current UTC timestamp.
func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

// SystemClock returns a Clock backed by time.Now.
func SystemClock() Clock {
	return systemClock{}
}

// Config configures the Codec.
type Config struct {
	SigningKey []byte
	Issuer     string
	Clock      Clock
}

// Sentinel errors exposed by the codec.
var (
	ErrMissingSigningKey = errors.New("token.codec.missing_signing_key")
	ErrMissingIssuer     = errors.New("token.codec.missing_issuer")
	ErrIncompleteToken   = errors.New("token.codec.incomplete_token")
	ErrInvalidToken      = errors.New("token.codec.invalid_token")
	ErrTokenExpired      = errors.New("token.codec.expired")
)

// Token is the decoded form of a signed token.
type Token struct {
	Subject     string
	Username    string
	DisplayName string
	Kind        Kind
	TokenID     string
	IssuedAt    time.Time
	ExpiresAt   time.Time
}

type tokenClaims struct {
	Username        string `json:"usr,omitempty"`
	DisplayName     string `json:"name,omitempty"`
	Kind            Kind   `json:"knd"`
	IssuedAtMicros  int64  `json:"iat_us"`
	ExpiresAtMicros int64  `json:"exp_us"`
	jwt.RegisteredClaims
}

// Codec encodes and decodes signed tokens with a fixed secret.
type Codec struct {
	signingKey []byte
	issuer     string
	clock      Clock
	parser     *jwt.Parser
}

// New constructs a Codec after validating the supplied configuration.
func New(configuration Config) (*Codec, error) {
	if len(configuration.SigningKey) == 0 {
		return nil, fmt.Errorf("token.codec.new: %w", ErrMissingSigningKey)
	}
	if strings.TrimSpace(configuration.Issuer) == "" {
		return nil, fmt.Errorf("token.codec.new: %w", ErrMissingIssuer)
	}
	clock := configuration.Clock
	if clock == nil {
		clock = systemClock{}
	}
	signingKey := make([]byte, len(configuration.SigningKey))
	copy(signingKey, configuration.SigningKey)
	return &Codec{
		signingKey: signingKey,
		issuer:     configuration.Issuer,
		clock:      clock,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithStrictDecoding(),
			jwt.WithoutClaimsValidation(),
		),
	}, nil
}

// Encode signs token. Instants are truncated to microseconds.
func (codec *Codec) Encode(token Token) (string, error) {
	if strings.TrimSpace(token.Subject) == "" {
		return "", fmt.Errorf("token.codec.encode: %w: subject must be non-empty", ErrIncompleteToken)
	}
	if !token.Kind.Valid() {
		return "", fmt.Errorf("token.codec.encode: %w: unknown kind %q", ErrIncompleteToken, token.Kind)
	}
	if token.Kind == KindRefresh && strings.TrimSpace(token.TokenID) == "" {
		return "", fmt.Errorf("token.codec.encode: %w: refresh token requires a token id", ErrIncompleteToken)
	}
	issuedAt := truncateMicros(token.IssuedAt)
	expiresAt := truncateMicros(token.ExpiresAt)
	if !expiresAt.After(issuedAt) {
		return "", fmt.Errorf("token.codec.encode: %w: expiry must follow issuance", ErrIncompleteToken)
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, tokenClaims{
		Username:        token.Username,
		DisplayName:     token.DisplayName,
		Kind:            token.Kind,
		IssuedAtMicros:  issuedAt.UnixMicro(),
		ExpiresAtMicros: expiresAt.UnixMicro(),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    codec.issuer,
			Subject:   token.Subject,
			ID:        token.TokenID,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}).SignedString(codec.signingKey)
	if err != nil {
		return "", fmt.Errorf("token.codec.encode: %w", err)
	}
	return signed, nil
}

// Decode verifies the signature before any claim is inspected, then checks that the token
// has not reached its expiry instant.
func (codec *Codec) Decode(encoded string) (Token, error) {
	if strings.TrimSpace(encoded) == "" {
		return Token{}, fmt.Errorf("token.codec.decode: %w", ErrInvalidToken)
	}
	parsedToken, parseErr := codec.parser.ParseWithClaims(encoded, &tokenClaims{}, func(parsed *jwt.Token) (interface{}, error) {
		return codec.signingKey, nil
	})
	if parseErr != nil || parsedToken == nil || !parsedToken.Valid {
		return Token{}, fmt.Errorf("token.codec.decode: %w", ErrInvalidToken)
	}
	claims, ok := parsedToken.Claims.(*tokenClaims)
	if !ok {
		return Token{}, fmt.Errorf("token.codec.decode: %w", ErrInvalidToken)
	}
	if claims.Issuer != codec.issuer || strings.TrimSpace(claims.Subject) == "" || !claims.Kind.Valid() {
		return Token{}, fmt.Errorf("token.codec.decode: %w", ErrInvalidToken)
	}
	if claims.Kind == KindRefresh && strings.TrimSpace(claims.ID) == "" {
		return Token{}, fmt.Errorf("token.codec.decode: %w", ErrInvalidToken)
	}
	if claims.ExpiresAtMicros <= claims.IssuedAtMicros {
		return Token{}, fmt.Errorf("token.codec.decode: %w", ErrInvalidToken)
	}
	expiresAt := time.UnixMicro(claims.ExpiresAtMicros).UTC()
	if !codec.clock.Now().Before(expiresAt) {
		return Token{}, fmt.Errorf("token.codec.decode: %w", ErrTokenExpired)
	}
	return Token{
		Subject:     claims.Subject,
		Username:    claims.Username,
		DisplayName: claims.DisplayName,
		Kind:        claims.Kind,
		TokenID:     claims.ID,
		IssuedAt:    time.UnixMicro(claims.IssuedAtMicros).UTC(),
		ExpiresAt:   expiresAt,
	}, nil
}

func truncateMicros(instant time.Time) time.Time {
	return time.UnixMicro(instant.UnixMicro()).UTC()
}
