package auth_test

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saksflyt/saksflyt/internal/auth"
	"github.com/saksflyt/saksflyt/internal/model"
)

func TestHashAndVerifyPassword(t *testing.T) {
	hash, err := auth.HashPassword("correct horse 1")
	require.NoError(t, err)
	assert.NotEmpty(t, hash)

	valid, err := auth.VerifyPassword("correct horse 1", hash)
	require.NoError(t, err)
	assert.True(t, valid)

	valid, err = auth.VerifyPassword("wrong password 2", hash)
	require.NoError(t, err)
	assert.False(t, valid)
}

func TestVerifyPasswordMalformedHash(t *testing.T) {
	_, err := auth.VerifyPassword("anything", "no-dollar-separator")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid hash format")
}

func TestJWTIssueAndValidate(t *testing.T) {
	mgr, err := auth.NewJWTManager("test-secret", time.Hour)
	require.NoError(t, err)

	user := model.User{
		ID:         uuid.New(),
		Email:      "reviewer@example.com",
		IsReviewer: true,
	}

	token, expiresAt, err := mgr.IssueToken(user)
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.True(t, expiresAt.After(time.Now()))

	claims, err := mgr.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.UserID())
	assert.Equal(t, "reviewer@example.com", claims.Email)
	assert.True(t, claims.IsReviewer)
}

func TestValidateTokenWrongSecret(t *testing.T) {
	issuer, err := auth.NewJWTManager("secret-a", time.Hour)
	require.NoError(t, err)
	verifier, err := auth.NewJWTManager("secret-b", time.Hour)
	require.NoError(t, err)

	token, _, err := issuer.IssueToken(model.User{ID: uuid.New(), Email: "u@example.com"})
	require.NoError(t, err)

	_, err = verifier.ValidateToken(token)
	require.Error(t, err)
}

func TestValidateTokenExpired(t *testing.T) {
	mgr, err := auth.NewJWTManager("test-secret", -time.Minute)
	require.NoError(t, err)

	token, _, err := mgr.IssueToken(model.User{ID: uuid.New(), Email: "u@example.com"})
	require.NoError(t, err)

	_, err = mgr.ValidateToken(token)
	require.Error(t, err)
}

// forgeToken signs a JWT with the given secret and claims.
func forgeToken(t *testing.T, secret string, claims jwt.Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestValidateToken_WrongIssuer(t *testing.T) {
	mgr, err := auth.NewJWTManager("test-secret", time.Hour)
	require.NoError(t, err)

	now := time.Now().UTC()
	token := forgeToken(t, "test-secret", &auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uuid.New().String(),
			Issuer:    "not-saksflyt",
			Audience:  jwt.ClaimStrings{"saksflyt"},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
			ID:        uuid.New().String(),
		},
		Email: "u@example.com",
	})

	_, err = mgr.ValidateToken(token)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid issuer")
}

func TestValidateToken_MalformedSubject(t *testing.T) {
	mgr, err := auth.NewJWTManager("test-secret", time.Hour)
	require.NoError(t, err)

	now := time.Now().UTC()
	token := forgeToken(t, "test-secret", &auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "not-a-uuid",
			Issuer:    "saksflyt",
			Audience:  jwt.ClaimStrings{"saksflyt"},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
			ID:        uuid.New().String(),
		},
		Email: "u@example.com",
	})

	_, err = mgr.ValidateToken(token)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid subject")
}

func TestEphemeralKeyWhenSecretEmpty(t *testing.T) {
	a, err := auth.NewJWTManager("", time.Hour)
	require.NoError(t, err)
	b, err := auth.NewJWTManager("", time.Hour)
	require.NoError(t, err)

	token, _, err := a.IssueToken(model.User{ID: uuid.New(), Email: "u@example.com"})
	require.NoError(t, err)

	// Each ephemeral manager has its own key.
	_, err = b.ValidateToken(token)
	require.Error(t, err)

	_, err = a.ValidateToken(token)
	require.NoError(t, err)
}
