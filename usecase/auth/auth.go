package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/fastygo/hms-gateway/domain"
	appLogger "github.com/fastygo/hms-gateway/pkg/logger"
	"github.com/fastygo/hms-gateway/repository"
)

// Authority is the external service that has the final word on a token.
type Authority interface {
	Verify(ctx context.Context, token string) error
}

// Verification outcomes reported to the Observer.
const (
	OutcomeValid   = "valid"
	OutcomeInvalid = "invalid"
	OutcomeError   = "error"
)

// Observer receives verification telemetry. Implementations must be cheap.
type Observer interface {
	ObserveCache(hit bool)
	ObserveVerification(outcome string, elapsed time.Duration)
}

// Verifier answers "is this bearer token valid?" using the verdict cache in
// front of the authority. It never returns an error: anything other than a
// positive answer from the authority counts as invalid.
type Verifier struct {
	authority Authority
	cache     repository.VerdictCache
	observer  Observer
	logger    *zap.Logger
}

func NewVerifier(authority Authority, cache repository.VerdictCache, observer Observer, logger *zap.Logger) *Verifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	if observer == nil {
		observer = nopObserver{}
	}
	return &Verifier{
		authority: authority,
		cache:     cache,
		observer:  observer,
		logger:    logger,
	}
}

func (v *Verifier) Verify(ctx context.Context, token string) bool {
	if token == "" {
		return false
	}
	log := appLogger.WithRequestID(ctx, v.logger).With(zap.String("token", Fingerprint(token)))

	verdict, err := v.cache.Get(ctx, token)
	switch {
	case err == nil:
		v.observer.ObserveCache(true)
		return verdict.Valid
	case !errors.Is(err, domain.ErrVerdictNotFound):
		log.Warn("verdict cache lookup failed", zap.Error(err))
	}
	v.observer.ObserveCache(false)

	start := time.Now()
	err = v.authority.Verify(ctx, token)
	valid := err == nil

	switch {
	case valid:
		v.observer.ObserveVerification(OutcomeValid, time.Since(start))
	case domain.IsDomainError(err, domain.ErrCodeUnauthorized):
		v.observer.ObserveVerification(OutcomeInvalid, time.Since(start))
		log.Debug("token rejected by authority", zap.Error(err))
	default:
		v.observer.ObserveVerification(OutcomeError, time.Since(start))
		log.Warn("token verification failed, treating as invalid", zap.Error(err))
	}

	// Cancelled callers never got an answer, so nothing is cached.
	if ctx.Err() != nil {
		return false
	}

	// Negative verdicts are cached for domain.VerdictTTL as well.
	if _, err := v.cache.Put(ctx, token, valid); err != nil {
		log.Warn("failed to cache verdict", zap.Error(err))
	}
	return valid
}

// Fingerprint returns a short, non-reversible identifier for a token, safe for logs and audit rows.
func Fingerprint(token string) string {
	if token == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])[:16]
}

type nopObserver struct{}

func (nopObserver) ObserveCache(bool)                         {}
func (nopObserver) ObserveVerification(string, time.Duration) {}
