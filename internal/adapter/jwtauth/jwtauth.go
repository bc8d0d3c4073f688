// Package jwtauth resolves connection credentials to user ids using
// HS256-signed JWTs. The registry only needs a user id, so the token's
// subject claim is the single piece of information extracted.
package jwtauth

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/sockpulse/sockpulse/internal/platform/errors"
)

// Authenticator validates JWT credentials.
type Authenticator struct {
	secret []byte
	clock  func() time.Time
}

// New creates an authenticator verifying tokens against the given secret.
func New(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret), clock: time.Now}
}

// Authenticate verifies the token and returns its subject as the user id.
func (a *Authenticator) Authenticate(_ context.Context, credential string) (string, error) {
	token, err := jwt.Parse(credential,
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return a.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(a.clock),
	)
	if err != nil {
		return "", apperrors.AuthenticationError("invalid token", err)
	}

	subject, err := token.Claims.GetSubject()
	if err != nil || subject == "" {
		return "", apperrors.AuthenticationError("token has no subject", err)
	}
	return subject, nil
}

// Issue signs a token for a user, valid for the given duration. Used by
// tests and local tooling; production tokens come from the auth service.
func (a *Authenticator) Issue(userID string, validFor time.Duration) (string, error) {
	now := a.clock()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(validFor)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}
