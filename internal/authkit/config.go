package authkit

import (
	"time"

	"github.com/tyemirov/sensorhub/pkg/tokencodec"
)

const (
	// DefaultAccessTTL bounds the window in which a stolen access token stays usable.
	DefaultAccessTTL = 30 * time.Minute
	// DefaultRefreshTTL is the lifetime of a refresh token.
	DefaultRefreshTTL = 7 * 24 * time.Hour
	// DefaultIssuer is embedded in every token.
	DefaultIssuer = "sensorhub"
)

// ServerConfig configures signing and token lifetimes.
type ServerConfig struct {
	SigningKey    []byte
	Issuer        string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	RevokeOnReuse bool
}

// Clock provides the current time.
type Clock = tokencodec.Clock

// NewSystemClock returns the wall clock in UTC.
func NewSystemClock() Clock {
	return tokencodec.SystemClock()
}

// NewCodec builds the token codec for configuration.
func NewCodec(configuration ServerConfig, clock Clock) (*tokencodec.Codec, error) {
	return tokencodec.New(tokencodec.Config{
		SigningKey: configuration.SigningKey,
		Issuer:     configuration.Issuer,
		Clock:      clock,
	})
}
