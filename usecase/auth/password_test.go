package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fastygo/hms-gateway/domain"
)

type stubProfiles struct {
	profiles map[string]*domain.Profile
	err      error
}

func (s *stubProfiles) GetByID(_ context.Context, id string) (*domain.Profile, error) {
	if s.err != nil {
		return nil, s.err
	}
	p, ok := s.profiles[id]
	if !ok {
		return nil, domain.ErrProfileNotFound
	}
	return p, nil
}

func (s *stubProfiles) Upsert(context.Context, *domain.Profile) error { return nil }

func TestPasswordPolicyRequiresChange(t *testing.T) {
	policy := NewPasswordPolicy(&stubProfiles{profiles: map[string]*domain.Profile{
		"nurse-1":  {ID: "nurse-1", PasswordChanged: false},
		"doctor-7": {ID: "doctor-7", PasswordChanged: true},
	}}, nil)
	ctx := context.Background()

	required, err := policy.RequiresChange(ctx, "nurse-1")
	require.NoError(t, err)
	assert.True(t, required)

	required, err = policy.RequiresChange(ctx, "doctor-7")
	require.NoError(t, err)
	assert.False(t, required)

	_, err = policy.RequiresChange(ctx, "ghost")
	assert.ErrorIs(t, err, domain.ErrProfileNotFound)
}

func TestPasswordPolicyPropagatesLookupFailure(t *testing.T) {
	policy := NewPasswordPolicy(&stubProfiles{err: errors.New("pool closed")}, nil)
	_, err := policy.RequiresChange(context.Background(), "nurse-1")
	assert.EqualError(t, err, "pool closed")
}

func TestSubjectFromToken(t *testing.T) {
	sign := func(claims jwt.MapClaims) string {
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("not-checked"))
		require.NoError(t, err)
		return token
	}

	assert.Equal(t, "emp-9", SubjectFromToken(sign(jwt.MapClaims{"user_id": "emp-9", "sub": "other"})))
	assert.Equal(t, "emp-3", SubjectFromToken(sign(jwt.MapClaims{"sub": "emp-3"})))
	assert.Empty(t, SubjectFromToken(sign(jwt.MapClaims{"role": "admin"})))
	assert.Empty(t, SubjectFromToken("opaque-session-token"))
}
