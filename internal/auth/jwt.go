// Package auth issues and verifies operator credentials for the
// configuration surfaces (pricing, safety filters).
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// TokenTTL is how long an operator token stays valid.
const TokenTTL = 15 * time.Minute

// OperatorClaims are the claims embedded in an operator token.
type OperatorClaims struct {
	OperatorID string `json:"operator_id"`
	jwt.RegisteredClaims
}

// GenerateOperatorJWT creates a short-lived token for an operator
func GenerateOperatorJWT(operatorID, username string, secret []byte) (string, int64, error) {
	expiresAt := time.Now().Add(TokenTTL)
	claims := OperatorClaims{
		OperatorID: operatorID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signedToken, err := token.SignedString(secret)
	if err != nil {
		return "", 0, err
	}
	return signedToken, expiresAt.Unix(), nil
}

// ValidateOperatorJWT verifies the token and returns its claims
func ValidateOperatorJWT(tokenString string, secret []byte) (*OperatorClaims, error) {
	claims := &OperatorClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}
