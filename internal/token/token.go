// Package token mints and verifies the capability tokens that scope a party
// to exactly one live-chat channel. This is the sole authorization boundary
// between tenants' conversations.
package token

import (
	"errors"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
)

const (
	CapPublish   = "publish"
	CapSubscribe = "subscribe"
	CapPresence  = "presence"
)

// Claims binds an identity to one channel and a fixed permission set.
type Claims struct {
	Identity     string   `json:"identity"`
	Channel      string   `json:"channel"`
	Capabilities []string `json:"caps"`
	jwt.RegisteredClaims
}

// Allows reports whether the claims grant the capability on the channel.
// A token issued for one session's channel is inert against any other.
func (c *Claims) Allows(channel, capability string) bool {
	if c.Channel != channel {
		return false
	}
	for _, granted := range c.Capabilities {
		if granted == capability {
			return true
		}
	}
	return false
}

// IsAdmin reports whether the embedded identity is an admin identity.
func (c *Claims) IsAdmin() bool {
	return strings.HasPrefix(c.Identity, "admin:")
}

func generate(secret []byte, claims Claims) (string, error) {
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return tok.SignedString(secret)
}

func verify(secret []byte, tokenString string) (*Claims, error) {
	tok, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := tok.Claims.(*Claims)
	if !ok || !tok.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
