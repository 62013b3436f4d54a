package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func TestIssueAndValidate(t *testing.T) {
	r := require.New(t)
	j := NewJWT("secret", "agency")

	token, err := j.IssueToken("profile-1", time.Minute)
	r.NoError(err)

	userID, err := j.ValidateToken(context.Background(), token)
	r.NoError(err)
	r.Equal("profile-1", userID)
}

func TestValidateRejects(t *testing.T) {
	j := NewJWT("secret", "agency")
	expired, _ := j.IssueToken("profile-1", -time.Minute)
	otherIssuer, _ := NewJWT("secret", "elsewhere").IssueToken("profile-1", time.Minute)
	otherSecret, _ := NewJWT("nope", "agency").IssueToken("profile-1", time.Minute)
	none, _ := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{UserID: "profile-1"}).SignedString(jwt.UnsafeAllowNoneSignatureType)

	tests := map[string]string{
		"expired":      expired,
		"issuer":       otherIssuer,
		"signature":    otherSecret,
		"alg none":     none,
		"not a token":  "abc",
		"empty string": "",
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := j.ValidateToken(context.Background(), token)
			require.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestValidateFallsBackToSubject(t *testing.T) {
	r := require.New(t)
	j := NewJWT("secret", "")
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "profile-9",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
	}).SignedString([]byte("secret"))
	r.NoError(err)

	userID, err := j.ValidateToken(context.Background(), token)
	r.NoError(err)
	r.Equal("profile-9", userID)
}
