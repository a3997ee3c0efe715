package auth

import (
	"context"

	"github.com/golang-jwt/jwt/v4"
	"go.uber.org/zap"

	"github.com/fastygo/hms-gateway/repository"
)

// PasswordPolicy decides whether a staff member must replace the initial
// password before using the application.
type PasswordPolicy struct {
	profiles repository.ProfileRepository
	logger   *zap.Logger
}

func NewPasswordPolicy(profiles repository.ProfileRepository, logger *zap.Logger) *PasswordPolicy {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PasswordPolicy{
		profiles: profiles,
		logger:   logger,
	}
}

// RequiresChange reports whether profileID still uses its initial password.
// Lookup failures, including unknown profiles, are returned to the caller.
func (p *PasswordPolicy) RequiresChange(ctx context.Context, profileID string) (bool, error) {
	profile, err := p.profiles.GetByID(ctx, profileID)
	if err != nil {
		return false, err
	}
	return profile.MustChangePassword(), nil
}

// SubjectFromToken extracts the account ID carried by a JWT bearer token.
// The signature is not checked: callers use it only for tokens the authority
// has already accepted. Opaque tokens yield "".
func SubjectFromToken(token string) string {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return ""
	}
	if userID, ok := claims["user_id"].(string); ok && userID != "" {
		return userID
	}
	if sub, ok := claims["sub"].(string); ok {
		return sub
	}
	return ""
}
