package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nordpm/dashboard-api/internal/config"
)

const testSecret = "test-signing-secret"

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func newVerifier(issuer, audience string) *JWTVerifier {
	return NewJWTVerifier(&config.AuthConfig{
		JWTSecret: testSecret,
		Issuer:    issuer,
		Audience:  audience,
	})
}

func TestValidateTokenExtractsUser(t *testing.T) {
	userID := uuid.New()
	tokenString := signToken(t, jwt.MapClaims{
		"sub":   userID.String(),
		"name":  "Dana Project",
		"email": "dana@example.com",
		"exp":   time.Now().Add(time.Hour).Unix(),
	})

	userCtx, err := newVerifier("", "").ValidateToken(tokenString)
	require.NoError(t, err)
	assert.Equal(t, userID, userCtx.UserID)
	assert.Equal(t, "Dana Project", userCtx.DisplayName)
	assert.Equal(t, "dana@example.com", userCtx.Email)
}

func TestValidateTokenDerivesIDFromEmail(t *testing.T) {
	tokenString := signToken(t, jwt.MapClaims{
		"email": "dana@example.com",
		"exp":   time.Now().Add(time.Hour).Unix(),
	})

	first, err := newVerifier("", "").ValidateToken(tokenString)
	require.NoError(t, err)
	second, err := newVerifier("", "").ValidateToken(tokenString)
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, first.UserID)
	assert.Equal(t, first.UserID, second.UserID, "derived id is stable")
}

func TestValidateTokenRejectsExpired(t *testing.T) {
	tokenString := signToken(t, jwt.MapClaims{
		"sub": uuid.NewString(),
		"exp": time.Now().Add(-time.Hour).Unix(),
	})

	_, err := newVerifier("", "").ValidateToken(tokenString)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestValidateTokenRejectsWrongSecret(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": uuid.NewString(),
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte("another-secret"))
	require.NoError(t, err)

	_, err = newVerifier("", "").ValidateToken(signed)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateTokenChecksIssuerAndAudience(t *testing.T) {
	tokenString := signToken(t, jwt.MapClaims{
		"sub": uuid.NewString(),
		"iss": "https://id.nordpm.example",
		"aud": "dashboard-api",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	_, err := newVerifier("https://id.nordpm.example", "dashboard-api").ValidateToken(tokenString)
	assert.NoError(t, err)

	_, err = newVerifier("https://other.example", "dashboard-api").ValidateToken(tokenString)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = newVerifier("https://id.nordpm.example", "other-api").ValidateToken(tokenString)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
