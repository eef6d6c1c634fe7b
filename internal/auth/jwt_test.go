package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func signToken(t *testing.T, secret, userID string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func Test_Validate_RoundTrip(t *testing.T) {
	req := require.New(t)
	v := NewValidator("s3cret")

	userID, err := v.Validate(signToken(t, "s3cret", "alice"))
	req.NoError(err)
	req.Equal("alice", userID)
}

func Test_Validate_Rejects_Wrong_Secret(t *testing.T) {
	req := require.New(t)
	v := NewValidator("s3cret")

	_, err := v.Validate(signToken(t, "other", "alice"))
	req.Error(err)
}

func Test_Validate_Rejects_Empty_UserID(t *testing.T) {
	req := require.New(t)
	v := NewValidator("s3cret")

	_, err := v.Validate(signToken(t, "s3cret", ""))
	req.ErrorIs(err, ErrInvalidToken)
}

func Test_Validate_Rejects_Garbage(t *testing.T) {
	req := require.New(t)
	v := NewValidator("s3cret")

	_, err := v.Validate("not-a-token")
	req.Error(err)
}

func Test_ParseBearer(t *testing.T) {
	req := require.New(t)

	tok, err := ParseBearer("Bearer abc.def.ghi")
	req.NoError(err)
	req.Equal("abc.def.ghi", tok)

	tok, err = ParseBearer("bearer xyz")
	req.NoError(err)
	req.Equal("xyz", tok)

	_, err = ParseBearer("")
	req.Error(err)

	_, err = ParseBearer("Basic dXNlcjpwYXNz")
	req.Error(err)
}
