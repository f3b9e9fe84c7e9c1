// Package auth verifies the identity tokens issued by the external
// identity provider. The core trusts the (actor id, role) pair carried in
// a valid token as already-authenticated.
package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/secfiles/filevault/internal/common"
)

// RoleAdmin actors may download any file and read the audit trail.
const RoleAdmin = "admin"

// Claims carries the registered claims plus the actor's id and role.
type Claims struct {
	jwt.RegisteredClaims
	UserID string
	Role   string
}

// GenerateToken mints an HS256 token for the given actor. Production
// tokens come from the identity provider; this is used by tests and dev
// tooling.
func GenerateToken(userID, role string, secretKey []byte, validityDuration time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(validityDuration)),
		},
		UserID: userID,
		Role:   role,
	})

	tokenString, err := token.SignedString(secretKey)
	if err != nil {
		return "", err
	}

	return tokenString, nil
}

// ParseToken validates tokenString and returns the actor identity.
func ParseToken(tokenString string, secretKey []byte) (userID, role string, err error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return secretKey, nil
	})
	if err != nil {
		return "", "", err
	}

	if !token.Valid {
		return "", "", common.ErrInvalidToken
	}

	return claims.UserID, claims.Role, nil
}
