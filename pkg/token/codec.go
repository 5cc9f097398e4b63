// Package token mints and verifies the credentials runners present when
// connecting to the coordinator.
package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

var errEmptySecret = errors.New("token secret must not be empty")

type Payload struct {
	AccessKey string
}

type claims struct {
	AccessKey string `json:"access_key"`
	jwt.RegisteredClaims
}

type Codec struct {
	secret []byte
	now    func() time.Time
}

func NewCodec(secret string) (*Codec, error) {
	if secret == "" {
		return nil, errEmptySecret
	}
	return &Codec{secret: []byte(secret), now: time.Now}, nil
}

func (c *Codec) Encode(payload Payload) (string, error) {
	if payload.AccessKey == "" {
		return "", errors.New("access key must not be empty")
	}

	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		AccessKey: payload.AccessKey,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(c.now()),
		},
	})
	return t.SignedString(c.secret)
}

// Decode verifies the token signature and extracts its payload. Every
// failure maps to ErrInvalidToken so callers cannot tell malformed input
// apart from a bad signature.
func (c *Codec) Decode(tokenString string) (*Payload, error) {
	var cl claims
	_, err := jwt.ParseWithClaims(
		tokenString,
		&cl,
		func(*jwt.Token) (any, error) { return c.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuedAt(),
	)
	if err != nil || cl.AccessKey == "" {
		return nil, ErrInvalidToken
	}
	return &Payload{AccessKey: cl.AccessKey}, nil
}
