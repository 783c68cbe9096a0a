package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/phrazzld/task-inbox/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSecret  = "test-secret-that-is-long-enough-for-testing"
	wrongSecret = "wrong-secret-that-is-long-enough-for-testing"
)

var fixedTime = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func newTestJWTService(t *testing.T, secret string, now func() time.Time) *hmacJWTService {
	t.Helper()
	svc, err := newHMACService(secret, time.Hour, now)
	require.NoError(t, err)
	return svc
}

func at(ts time.Time) func() time.Time { return func() time.Time { return ts } }

func TestNewJWTService(t *testing.T) {
	t.Parallel()

	_, err := NewJWTService(config.AuthConfig{JWTSecret: "short", TokenLifetimeMinutes: 60})
	assert.ErrorContains(t, err, "at least 32 characters")

	_, err = NewJWTService(config.AuthConfig{JWTSecret: testSecret})
	assert.Error(t, err, "zero lifetime")

	svc, err := NewJWTService(config.AuthConfig{JWTSecret: testSecret, TokenLifetimeMinutes: 60})
	require.NoError(t, err)
	token, err := svc.GenerateToken(context.Background(), "agent-1")
	require.NoError(t, err)
	claims, err := svc.ValidateToken(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "agent-1", claims.AgentID)
}

func TestGenerateToken(t *testing.T) {
	t.Parallel()
	svc := newTestJWTService(t, testSecret, at(fixedTime))

	token, err := svc.GenerateToken(context.Background(), "agent-7")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := svc.ValidateToken(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "agent-7", claims.AgentID)
	assert.Equal(t, fixedTime.Unix(), claims.IssuedAt.Unix())
	assert.Equal(t, fixedTime.Add(time.Hour).Unix(), claims.ExpiresAt.Unix())
	assert.NotEmpty(t, claims.ID)

	_, err = svc.GenerateToken(context.Background(), "")
	assert.ErrorIs(t, err, ErrMissingAgent)
}

func TestValidateToken(t *testing.T) {
	t.Parallel()

	issuer := newTestJWTService(t, testSecret, at(fixedTime))
	token, err := issuer.GenerateToken(context.Background(), "agent-1")
	require.NoError(t, err)

	noneToken, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Subject:   "agent-1",
		ExpiresAt: jwt.NewNumericDate(fixedTime.Add(time.Hour)),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	noSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(fixedTime.Add(time.Hour)),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	tests := []struct {
		name    string
		secret  string
		now     time.Time
		token   string
		wantErr error
	}{
		{"valid", testSecret, fixedTime, token, nil},
		{"within leeway after expiry", testSecret, fixedTime.Add(time.Hour + time.Minute), token, nil},
		{"expired", testSecret, fixedTime.Add(2 * time.Hour), token, ErrExpiredToken},
		{"issued in the future", testSecret, fixedTime.Add(-10 * time.Minute), token, ErrTokenNotYetValid},
		{"wrong secret", wrongSecret, fixedTime, token, ErrInvalidToken},
		{"malformed", testSecret, fixedTime, "this.is.not.a.jwt", ErrInvalidToken},
		{"unsigned", testSecret, fixedTime, noneToken, ErrInvalidToken},
		{"missing subject", testSecret, fixedTime, noSubject, ErrInvalidToken},
		{"empty", testSecret, fixedTime, "", ErrMissingToken},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			svc := newTestJWTService(t, tt.secret, at(tt.now))
			claims, err := svc.ValidateToken(context.Background(), tt.token)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, claims)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "agent-1", claims.AgentID)
		})
	}
}

func TestMockJWTService(t *testing.T) {
	t.Parallel()
	m := NewMockJWTService("agent-9")

	claims, err := m.ValidateToken(context.Background(), "anything")
	require.NoError(t, err)
	assert.Equal(t, "agent-9", claims.AgentID)

	m.ValidationError = ErrExpiredToken
	_, err = m.ValidateToken(context.Background(), "anything")
	assert.ErrorIs(t, err, ErrExpiredToken)
}
