package tokencodec

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type fixedClock struct {
	current time.Time
}

func (clock fixedClock) Now() time.Time {
	return clock.current
}

var referenceInstant = time.Date(2024, time.March, 9, 12, 30, 15, 123456000, time.UTC)

func newTestCodec(t *testing.T, now time.Time) *Codec {
	t.Helper()
	codec, err := New(Config{
		SigningKey: []byte("secret-key"),
		Issuer:     "sensorhub",
		Clock:      fixedClock{current: now},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return codec
}

func sampleRefreshToken() Token {
	return Token{
		Subject:     "user-1",
		Username:    "admin",
		DisplayName: "Administrator",
		Kind:        KindRefresh,
		TokenID:     "7a0f3c3e-8d8e-4bb9-9b7b-2f0d1c8b3f11",
		IssuedAt:    referenceInstant,
		ExpiresAt:   referenceInstant.Add(7 * 24 * time.Hour),
	}
}

func TestNewCodecRequiresSigningKey(t *testing.T) {
	t.Parallel()

	_, err := New(Config{Issuer: "issuer"})
	if err == nil || !errors.Is(err, ErrMissingSigningKey) {
		t.Fatalf("expected missing signing key error, got %v", err)
	}
}

func TestNewCodecRequiresIssuer(t *testing.T) {
	t.Parallel()

	_, err := New(Config{SigningKey: []byte("secret")})
	if err == nil || !errors.Is(err, ErrMissingIssuer) {
		t.Fatalf("expected missing issuer error, got %v", err)
	}
}

func TestNewCodecDefaultsClock(t *testing.T) {
	t.Parallel()

	codec, err := New(Config{SigningKey: []byte("secret"), Issuer: "issuer"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if codec.clock == nil {
		t.Fatalf("expected default clock to be set")
	}
}

func TestCodecRoundTrip(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name  string
		token Token
	}{
		{name: "refresh", token: sampleRefreshToken()},
		{
			name: "access without token id",
			token: Token{
				Subject:     "user-2",
				Username:    "sensor-01",
				DisplayName: "Greenhouse sensor",
				Kind:        KindAccess,
				IssuedAt:    referenceInstant,
				ExpiresAt:   referenceInstant.Add(30 * time.Minute),
			},
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			codec := newTestCodec(t, referenceInstant.Add(time.Minute))
			encoded, err := codec.Encode(testCase.token)
			if err != nil {
				t.Fatalf("encode failed: %v", err)
			}
			decoded, err := codec.Decode(encoded)
			if err != nil {
				t.Fatalf("decode failed: %v", err)
			}
			assertTokensEqual(t, testCase.token, decoded)
		})
	}
}

func TestCodecExpiryBoundary(t *testing.T) {
	t.Parallel()

	token := sampleRefreshToken()
	encoded, err := newTestCodec(t, referenceInstant).Encode(token)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	testCases := []struct {
		name        string
		now         time.Time
		expectedErr error
	}{
		{name: "one microsecond before expiry", now: token.ExpiresAt.Add(-time.Microsecond), expectedErr: nil},
		{name: "exactly at expiry", now: token.ExpiresAt, expectedErr: ErrTokenExpired},
		{name: "after expiry", now: token.ExpiresAt.Add(time.Hour), expectedErr: ErrTokenExpired},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			_, decodeErr := newTestCodec(t, testCase.now).Decode(encoded)
			if testCase.expectedErr == nil {
				if decodeErr != nil {
					t.Fatalf("expected decode to succeed, got %v", decodeErr)
				}
				return
			}
			if !errors.Is(decodeErr, testCase.expectedErr) {
				t.Fatalf("expected %v, got %v", testCase.expectedErr, decodeErr)
			}
		})
	}
}

func TestCodecDetectsEveryBitFlip(t *testing.T) {
	t.Parallel()

	codec := newTestCodec(t, referenceInstant)
	encoded, err := codec.Encode(sampleRefreshToken())
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	original := []byte(encoded)
	for position := range original {
		for bit := 0; bit < 8; bit++ {
			tampered := make([]byte, len(original))
			copy(tampered, original)
			tampered[position] ^= 1 << bit
			if _, decodeErr := codec.Decode(string(tampered)); !errors.Is(decodeErr, ErrInvalidToken) {
				t.Fatalf("flipping bit %d at offset %d: expected ErrInvalidToken, got %v", bit, position, decodeErr)
			}
		}
	}
}

func TestCodecRejectsExpiredTokenWithBadSignatureAsInvalid(t *testing.T) {
	t.Parallel()

	token := sampleRefreshToken()
	encoded, err := newTestCodec(t, referenceInstant).Encode(token)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	otherCodec, err := New(Config{SigningKey: []byte("other-key"), Issuer: "sensorhub", Clock: fixedClock{current: token.ExpiresAt.Add(time.Hour)}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, decodeErr := otherCodec.Decode(encoded); !errors.Is(decodeErr, ErrInvalidToken) {
		t.Fatalf("expected signature failure to win over expiry, got %v", decodeErr)
	}
}

func TestCodecRejectsForeignTokens(t *testing.T) {
	t.Parallel()

	codec := newTestCodec(t, referenceInstant)

	noneToken, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"sub": "user-1",
		"knd": "access",
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("failed to build unsigned token: %v", err)
	}

	wrongIssuer, err := New(Config{SigningKey: []byte("secret-key"), Issuer: "someone-else", Clock: fixedClock{current: referenceInstant}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	wrongIssuerToken, err := wrongIssuer.Encode(sampleRefreshToken())
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	hs512Token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.MapClaims{
		"iss":    "sensorhub",
		"sub":    "user-1",
		"knd":    "access",
		"iat_us": referenceInstant.UnixMicro(),
		"exp_us": referenceInstant.Add(time.Hour).UnixMicro(),
	}).SignedString([]byte("secret-key"))
	if err != nil {
		t.Fatalf("failed to build HS512 token: %v", err)
	}

	missingKind, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iss":    "sensorhub",
		"sub":    "user-1",
		"iat_us": referenceInstant.UnixMicro(),
		"exp_us": referenceInstant.Add(time.Hour).UnixMicro(),
	}).SignedString([]byte("secret-key"))
	if err != nil {
		t.Fatalf("failed to build token without kind: %v", err)
	}

	testCases := []struct {
		name    string
		encoded string
	}{
		{name: "empty", encoded: "   "},
		{name: "garbage", encoded: "not-a-token"},
		{name: "alg none", encoded: noneToken},
		{name: "wrong issuer", encoded: wrongIssuerToken},
		{name: "wrong algorithm", encoded: hs512Token},
		{name: "missing kind", encoded: missingKind},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			if _, decodeErr := codec.Decode(testCase.encoded); !errors.Is(decodeErr, ErrInvalidToken) {
				t.Fatalf("expected ErrInvalidToken, got %v", decodeErr)
			}
		})
	}
}

func TestCodecEncodeValidation(t *testing.T) {
	t.Parallel()

	codec := newTestCodec(t, referenceInstant)

	testCases := []struct {
		name   string
		mutate func(token *Token)
	}{
		{name: "empty subject", mutate: func(token *Token) { token.Subject = " " }},
		{name: "unknown kind", mutate: func(token *Token) { token.Kind = "session" }},
		{name: "refresh without id", mutate: func(token *Token) { token.TokenID = "" }},
		{name: "expiry before issuance", mutate: func(token *Token) { token.ExpiresAt = token.IssuedAt.Add(-time.Second) }},
		{name: "expiry equals issuance", mutate: func(token *Token) { token.ExpiresAt = token.IssuedAt }},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			token := sampleRefreshToken()
			testCase.mutate(&token)
			_, err := codec.Encode(token)
			if !errors.Is(err, ErrIncompleteToken) {
				t.Fatalf("expected ErrIncompleteToken, got %v", err)
			}
			if !strings.HasPrefix(err.Error(), "token.codec.encode:") {
				t.Fatalf("unexpected error prefix: %v", err)
			}
		})
	}
}

func assertTokensEqual(t *testing.T, expected Token, actual Token) {
	t.Helper()
	if expected.Subject != actual.Subject || expected.Username != actual.Username || expected.DisplayName != actual.DisplayName {
		t.Fatalf("identity mismatch: expected %+v, got %+v", expected, actual)
	}
	if expected.Kind != actual.Kind || expected.TokenID != actual.TokenID {
		t.Fatalf("kind or id mismatch: expected %+v, got %+v", expected, actual)
	}
	if !expected.IssuedAt.Equal(actual.IssuedAt) || !expected.ExpiresAt.Equal(actual.ExpiresAt) {
		t.Fatalf("instant mismatch: expected %v/%v, got %v/%v", expected.IssuedAt, expected.ExpiresAt, actual.IssuedAt, actual.ExpiresAt)
	}
}
