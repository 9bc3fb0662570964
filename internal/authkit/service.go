package authkit

import (
	"context"
	"errors"
	"fmt"

	"github.com/tyemirov/sensorhub/pkg/tokencodec"
	"go.uber.org/zap"
)

// ServiceDependencies wires the authentication service.
type ServiceDependencies struct {
	Configuration ServerConfig
	Credentials   CredentialStore
	Revocations   RevocationStore
	Hasher        *PasswordHasher
	Clock         Clock
	Metrics       MetricsRecorder
	Logger        *zap.Logger
}

// Service combines credential verification, issuance, rotation and access checks.
type Service struct {
	verifier      *CredentialVerifier
	issuer        *TokenIssuer
	refresher     *TokenRefresher
	guard         *AccessGuard
	codec         *tokencodec.Codec
	revocations   RevocationStore
	metrics       MetricsRecorder
	logger        *zap.Logger
	revokeOnReuse bool
}

// NewService validates dependencies and builds the component graph.
func NewService(dependencies ServiceDependencies) (*Service, error) {
	if dependencies.Revocations == nil {
		return nil, errors.New("auth.service.new: revocation store is required")
	}
	logger := dependencies.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := dependencies.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}
	clock := dependencies.Clock
	if clock == nil {
		clock = NewSystemClock()
	}
	configuration := dependencies.Configuration
	if configuration.Issuer == "" {
		configuration.Issuer = DefaultIssuer
	}
	codec, codecErr := NewCodec(configuration, clock)
	if codecErr != nil {
		return nil, fmt.Errorf("auth.service.new: %w", codecErr)
	}
	verifier, verifierErr := NewCredentialVerifier(dependencies.Credentials, dependencies.Hasher, logger)
	if verifierErr != nil {
		return nil, fmt.Errorf("auth.service.new: %w", verifierErr)
	}
	issuer := NewTokenIssuer(codec, dependencies.Revocations, clock, configuration)
	return &Service{
		verifier:      verifier,
		issuer:        issuer,
		refresher:     NewTokenRefresher(codec, dependencies.Revocations, issuer),
		guard:         NewAccessGuard(codec),
		codec:         codec,
		revocations:   dependencies.Revocations,
		metrics:       metrics,
		logger:        logger,
		revokeOnReuse: configuration.RevokeOnReuse,
	}, nil
}

// Guard exposes the access guard for middleware and device ingestion.
func (service *Service) Guard() *AccessGuard {
	return service.guard
}

// Login verifies credentials and issues the first token pair.
func (service *Service) Login(ctx context.Context, username string, password string) (TokenPair, error) {
	identity, verifyErr := service.verifier.Verify(ctx, username, password)
	if verifyErr != nil {
		service.recordFailure(MetricLoginFailure, "auth.login.failure", verifyErr)
		return TokenPair{}, verifyErr
	}
	pair, issueErr := service.issuer.Issue(ctx, identity)
	if issueErr != nil {
		service.recordFailure(MetricLoginFailure, "auth.login.issue_failure", issueErr, zap.String("user_id", identity.UserID))
		return TokenPair{}, issueErr
	}
	service.metrics.Increment(MetricLoginSuccess)
	service.logger.Info("login succeeded",
		zap.String("code", "auth.login.success"),
		zap.String("user_id", identity.UserID))
	return pair, nil
}

// Refresh rotates presented. Reuse of a rotated token is logged as a security signal and,
// when configured, revokes every refresh token of the subject.
func (service *Service) Refresh(ctx context.Context, presented string) (TokenPair, error) {
	pair, refreshErr := service.refresher.Refresh(ctx, presented)
	if refreshErr == nil {
		service.metrics.Increment(MetricRefreshSuccess)
		return pair, nil
	}
	if errors.Is(refreshErr, ErrTokenRevoked) {
		service.handleReuse(ctx, presented)
	}
	service.recordFailure(MetricRefreshFailure, "auth.refresh.failure", refreshErr)
	return TokenPair{}, refreshErr
}

// Logout revokes presented. Already revoked or expired refresh tokens are accepted silently.
func (service *Service) Logout(ctx context.Context, presented string) error {
	token, decodeErr := service.codec.Decode(presented)
	if decodeErr != nil {
		if errors.Is(decodeErr, ErrTokenExpired) {
			return nil
		}
		return fmt.Errorf("auth.logout: %w", decodeErr)
	}
	if token.Kind != tokencodec.KindRefresh {
		return fmt.Errorf("auth.logout: %w", ErrWrongTokenKind)
	}
	if _, revokeErr := service.revocations.ConditionallyRevoke(ctx, token.TokenID); revokeErr != nil {
		return transientError("auth.logout", revokeErr)
	}
	service.metrics.Increment(MetricLogoutSuccess)
	service.logger.Info("logout succeeded",
		zap.String("code", "auth.logout.success"),
		zap.String("user_id", token.Subject))
	return nil
}

// Authorize resolves the identity behind an access token.
func (service *Service) Authorize(presented string) (Identity, error) {
	return service.guard.Authorize(presented)
}

// RevokeUser revokes every live refresh token of userID.
func (service *Service) RevokeUser(ctx context.Context, userID string) (int64, error) {
	revoked, err := service.revocations.RevokeSubject(ctx, userID)
	if err != nil {
		return 0, transientError("auth.revoke_user", err)
	}
	return revoked, nil
}

func (service *Service) handleReuse(ctx context.Context, presented string) {
	service.metrics.Increment(MetricRefreshReuse)
	token, decodeErr := service.codec.Decode(presented)
	if decodeErr != nil {
		return
	}
	service.logger.Warn("rotated refresh token presented again",
		zap.String("code", "auth.refresh.reuse_detected"),
		zap.String("user_id", token.Subject),
		zap.String("token_id", token.TokenID))
	if !service.revokeOnReuse {
		return
	}
	revoked, revokeErr := service.revocations.RevokeSubject(ctx, token.Subject)
	if revokeErr != nil {
		service.logger.Error("revoking subject after reuse failed",
			zap.String("code", "auth.refresh.reuse_revoke_failed"),
			zap.String("user_id", token.Subject),
			zap.Error(revokeErr))
		return
	}
	service.logger.Warn("revoked refresh tokens after reuse",
		zap.String("code", "auth.refresh.reuse_revoked"),
		zap.String("user_id", token.Subject),
		zap.Int64("revoked", revoked))
}

func (service *Service) recordFailure(metric string, code string, err error, fields ...zap.Field) {
	if errors.Is(err, ErrTransient) {
		service.metrics.Increment(MetricTransient)
		service.logger.Error("storage unavailable",
			append(fields, zap.String("code", code), zap.Error(err))...)
		return
	}
	service.metrics.Increment(metric)
	service.logger.Info("authentication rejected",
		append(fields, zap.String("code", code), zap.String("reason", ErrorCode(err)))...)
}
