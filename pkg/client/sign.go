package client

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SignToken mints an HS256 token carrying the event type and data as
// claims, plus issued-at and (when a TTL is configured) expiry claims.
func (c *Client) SignToken(eventType string, data map[string]interface{}) (string, error) {
	if eventType == "" {
		return "", errors.New("event type is required")
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"type": eventType,
		"data": data,
		"iat":  jwt.NewNumericDate(now),
	}
	if c.tokenTTL > 0 {
		claims["exp"] = jwt.NewNumericDate(now.Add(c.tokenTTL))
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(c.secret)
}
