package server

import (
	"testing"

	"github.com/stretchr/testify/require"

	mytesting "ripple-messenger/internal/testing"
)

func TestTokenRoundTrip(t *testing.T) {
	t.Parallel()

	secret := mytesting.RandString()
	fullName := "Test User"

	token, err := GenerateToken(secret, "subject-1", "user@example.com", "username", &fullName, nil)
	require.NoError(t, err)

	claims, err := ValidateToken(secret, token)
	require.NoError(t, err)
	require.Equal(t, "subject-1", claims.Subject)
	require.Equal(t, "user@example.com", claims.Email)
	require.Equal(t, "username", claims.Username)
	require.NotNil(t, claims.FullName)
	require.Equal(t, fullName, *claims.FullName)
	require.Nil(t, claims.ImageURL)
}

func TestValidateTokenWrongSecret(t *testing.T) {
	t.Parallel()

	token, err := GenerateToken(mytesting.RandString(), "subject-1", "user@example.com", "username", nil, nil)
	require.NoError(t, err)

	_, err = ValidateToken(mytesting.RandString(), token)
	require.Error(t, err)
}

func TestValidateTokenGarbage(t *testing.T) {
	t.Parallel()

	_, err := ValidateToken(mytesting.RandString(), "not.a.token")
	require.Error(t, err)
}

func TestValidateTokenEmptySubject(t *testing.T) {
	t.Parallel()

	secret := mytesting.RandString()
	token, err := GenerateToken(secret, "", "user@example.com", "username", nil, nil)
	require.NoError(t, err)

	_, err = ValidateToken(secret, token)
	require.Error(t, err)
}
