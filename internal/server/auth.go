package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// tokenLifetime bounds how long an issued token stays valid
const tokenLifetime = 24 * time.Hour

// Claims carries the external subject plus the login-time profile fields the
// identity provider vouches for. The subject is the only stable key; profile
// fields are re-synced into the user record on /users/upsert.
type Claims struct {
	Email    string  `json:"email"`
	Username string  `json:"username"`
	FullName *string `json:"fullName,omitempty"`
	ImageURL *string `json:"imageUrl,omitempty"`
	jwt.RegisteredClaims
}

// GenerateToken mints an HS256 token for the given subject. Exposed for tests
// and local tooling; production tokens come from the identity provider.
func GenerateToken(secret, subject, email, username string, fullName, imageURL *string) (string, error) {
	now := time.Now()
	claims := &Claims{
		Email:    email,
		Username: username,
		FullName: fullName,
		ImageURL: imageURL,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenLifetime)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ValidateToken parses and verifies an HS256 token
func ValidateToken(secret, tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(
		tokenString,
		&Claims{},
		func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return []byte(secret), nil
		},
	)
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, errors.New("invalid token")
	}

	return claims, nil
}

type contextKey string

const claimsKey contextKey = "claims"

func newContextWithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}

func claimsFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(claimsKey).(*Claims)
	return claims, ok
}
