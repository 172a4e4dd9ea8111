package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"agrosmart/internal/models"
	"agrosmart/internal/store"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type userMap map[string]*models.User

func (u userMap) GetUserByUsername(_ context.Context, username string) (*models.User, error) {
	if username == "broken" {
		return nil, errors.New("connection refused")
	}
	user, ok := u[username]
	if !ok {
		return nil, store.ErrNotFound
	}
	return user, nil
}

func newTestModule(t *testing.T) *AuthModule {
	t.Helper()
	hash, err := HashPassword("s3cret")
	require.NoError(t, err)
	users := userMap{"maria": {ID: "u-1", Username: "maria", PasswordHash: hash}}
	return NewAuthModule(users, "test-secret", time.Hour)
}

func TestLoginAndValidate(t *testing.T) {
	a := newTestModule(t)

	token, err := a.Login(context.Background(), "maria", "s3cret")
	require.NoError(t, err)

	for _, header := range []string{token, "Bearer " + token, "bearer  " + token} {
		userID, err := a.ValidateToken(header)
		require.NoError(t, err, header)
		assert.Equal(t, "u-1", userID)
	}
}

func TestLogin_Failures(t *testing.T) {
	a := newTestModule(t)

	_, err := a.Login(context.Background(), "maria", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = a.Login(context.Background(), "nobody", "s3cret")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = a.Login(context.Background(), "broken", "s3cret")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidCredentials)
}

func TestValidateToken_Rejects(t *testing.T) {
	a := newTestModule(t)
	other := NewAuthModule(userMap{}, "other-secret", time.Hour)
	foreign, err := other.generateJWT("u-1")
	require.NoError(t, err)

	expiredModule := newTestModule(t)
	expiredModule.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, err := expiredModule.generateJWT("u-1")
	require.NoError(t, err)

	noUser, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	tests := map[string]string{
		"empty":        "",
		"bearer only":  "Bearer ",
		"garbage":      "Bearer not.a.jwt",
		"wrong secret": foreign,
		"expired":      expired,
		"no user id":   noUser,
	}
	for name, header := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := a.ValidateToken(header)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestHashPassword_Empty(t *testing.T) {
	_, err := HashPassword("")
	assert.Error(t, err)
}
