// Package verifier validates signed webhook tokens against the shared
// producer secret. Only HS256 is accepted: algorithm negotiation, "none",
// and asymmetric algorithms are refused before the key is ever released,
// which closes the classic JWT downgrade hole.
package verifier

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMalformedToken    = errors.New("malformed token")
	ErrAlgorithmMismatch = errors.New("unexpected signing algorithm")
	ErrInvalidSignature  = errors.New("invalid signature")
	ErrTokenExpired      = errors.New("token expired")
)

// Verifier checks webhook tokens against a shared HMAC secret.
type Verifier struct {
	secret []byte
	parser *jwt.Parser
}

func New(secret string) *Verifier {
	return &Verifier{
		secret: []byte(secret),
		parser: jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})),
	}
}

// Verify validates a compact signed token and returns its decoded claims.
// It is a pure function of the token and the configured secret.
func (v *Verifier) Verify(tokenString string) (map[string]interface{}, error) {
	parts := strings.Split(tokenString, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("%w: expected 3 segments, got %d", ErrMalformedToken, len(parts))
	}

	// Check the declared algorithm before signature verification so a
	// mis-signed HS384/none token reports the algorithm problem, not a
	// signature one.
	headerJSON, err := v.parser.DecodeSegment(parts[0])
	if err != nil {
		return nil, fmt.Errorf("%w: undecodable header", ErrMalformedToken)
	}
	var header struct {
		Alg string `json:"alg"`
	}
	if err := json.Unmarshal(headerJSON, &header); err != nil {
		return nil, fmt.Errorf("%w: undecodable header", ErrMalformedToken)
	}
	if header.Alg != jwt.SigningMethodHS256.Alg() {
		return nil, fmt.Errorf("%w: got %q, want HS256", ErrAlgorithmMismatch, header.Alg)
	}

	token, err := v.parser.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrAlgorithmMismatch
		}
		return v.secret, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrAlgorithmMismatch):
			return nil, ErrAlgorithmMismatch
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrTokenExpired
		case errors.Is(err, jwt.ErrTokenMalformed):
			return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, ErrInvalidSignature
		default:
			return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
		}
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidSignature
	}

	return claims, nil
}
