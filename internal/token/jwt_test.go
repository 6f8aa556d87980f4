package token

import (
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestJWT_AccessToken_Roundtrip(t *testing.T) {
	j := NewJWT("secret")
	u := uuid.New()

	access, err := j.GenerateAccessToken(u)
	require.NoError(t, err)
	got, err := j.ParseAccessToken(access)
	require.NoError(t, err)
	require.Equal(t, u, got)
}

func TestJWT_WrongSecret(t *testing.T) {
	u := uuid.New()

	access, err := NewJWT("secret").GenerateAccessToken(u)
	require.NoError(t, err)

	_, err = NewJWT("other").ParseAccessToken(access)
	require.Error(t, err)
}

func TestJWT_TokenType_Mismatch(t *testing.T) {
	j := &JWT{secretKey: "secret"}
	u := uuid.New()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID:    u,
		TokenType: "refresh",
	})
	signed, err := token.SignedString([]byte("secret"))
	require.NoError(t, err)

	_, err = j.ParseAccessToken(signed)
	require.Error(t, err)
}

func TestJWT_Garbage(t *testing.T) {
	j := NewJWT("secret")

	_, err := j.ParseAccessToken("not-a-token")
	require.Error(t, err)
}
