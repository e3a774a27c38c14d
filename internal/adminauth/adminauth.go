// Package adminauth mints and checks the short-lived HS256 tokens that guard
// the admin routes. The server and keygatectl share the secret.
package adminauth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// Role is the only role the admin routes accept
	Role = "admin"
	// Issuer identifies tokens minted for keygate
	Issuer = "keygate"
	// DefaultTTL is the lifetime of tokens minted by the CLI
	DefaultTTL = 5 * time.Minute
)

// ErrInvalidToken covers every reason a token is rejected
var ErrInvalidToken = errors.New("invalid admin token")

// Claims are the admin token claims
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Sign mints a token for subject valid for ttl
func Sign(secret, subject string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("admin secret is empty")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now := time.Now().UTC()

	claims := Claims{
		Role: Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// Parse validates a token and returns its claims
func Parse(secret, tokenString string) (*Claims, error) {
	if secret == "" {
		return nil, fmt.Errorf("%w: admin secret not configured", ErrInvalidToken)
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	},
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(Issuer),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.Role != Role {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
