package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SessionIssuer is the issuer of operator session tokens.
const SessionIssuer = "toothsi-console"

// SessionClaims is the operator login flag with its timestamp.
type SessionClaims struct {
	Operator      string `json:"operator"`
	Authenticated bool   `json:"authenticated"`
	jwt.RegisteredClaims
}

// IssueSession signs a session token for operator valid for ttl.
func IssueSession(secret, operator string, ttl time.Duration, now time.Time) (string, time.Time, error) {
	if secret == "" {
		return "", time.Time{}, errors.New("session secret is not configured")
	}

	expiresAt := now.Add(ttl)
	claims := SessionClaims{
		Operator:      operator,
		Authenticated: true,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    SessionIssuer,
			Subject:   operator,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// ValidateSession checks an HMAC-signed session token
func ValidateSession(tokenString, secret string) (*SessionClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(secret), nil
	},
		jwt.WithIssuer(SessionIssuer),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid || !claims.Authenticated {
		return nil, jwt.ErrTokenInvalidClaims
	}

	return claims, nil
}
