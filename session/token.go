package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/livepeer/catalyst-audio/config"
)

type SessionClaims struct {
	SessionID string `json:"sid"`
	UserID    string `json:"uid"`
	TrackID   string `json:"tid"`
	jwt.RegisteredClaims
}

// Valid only checks structure. Expiry is judged against the session, see Registry.ValidateSessionToken.
func (c *SessionClaims) Valid() error {
	if c.SessionID == "" {
		return errors.New("missing sid claim")
	}
	if c.UserID == "" {
		return errors.New("missing uid claim")
	}
	if c.TrackID == "" {
		return errors.New("missing tid claim")
	}
	if c.IssuedAt == nil {
		return errors.New("missing iat claim")
	}
	if c.ExpiresAt == nil {
		return errors.New("missing exp claim")
	}
	return nil
}

// TokenIssuer signs and verifies session tokens with a shared HMAC secret
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	clock  config.TimestampGenerator
}

func NewTokenIssuer(secret string, ttl time.Duration, clock config.TimestampGenerator) *TokenIssuer {
	if clock == nil {
		clock = config.Clock
	}
	return &TokenIssuer{secret: []byte(secret), ttl: ttl, clock: clock}
}

// Issue returns a token scoped to the session's (sessionId, userId, trackId) and its expiry
func (i *TokenIssuer) Issue(s Session) (string, time.Time, error) {
	now := i.clock.Now()
	expiresAt := now.Add(i.ttl)
	claims := &SessionClaims{
		SessionID: s.SessionID,
		UserID:    s.UserID,
		TrackID:   s.TrackID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign session token: %w", err)
	}
	return signed, expiresAt, nil
}

// Parse verifies the signature and structure of a token
func (i *TokenIssuer) Parse(tokenString string) (*SessionClaims, error) {
	if tokenString == "" {
		return nil, errors.New("empty token")
	}
	token, err := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return i.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("unable to parse jwt %w", err)
	} else if !token.Valid {
		return nil, errors.New("invalid token")
	}
	return token.Claims.(*SessionClaims), nil
}
