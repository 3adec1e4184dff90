package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	// Issuer is the iss claim of every token this service signs.
	Issuer = "iotrelay"

	// PresenceAudience is the aud claim of presence tokens.
	PresenceAudience = "presence"

	defaultTTL = 60 * time.Minute
)

// PresenceClaims are the claims of a device presence token.
type PresenceClaims struct {
	jwt.RegisteredClaims
	Username string `json:"usr"`
}

// DeviceID returns the device the token was issued for.
func (c *PresenceClaims) DeviceID() string {
	return c.Subject
}

// TokenIssuer signs and parses presence tokens with a shared secret.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenIssuer creates an issuer. A non-positive ttl falls back to one hour.
func NewTokenIssuer(secret string, ttl time.Duration) *TokenIssuer {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &TokenIssuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// TTL returns the lifetime of issued tokens.
func (i *TokenIssuer) TTL() time.Duration {
	return i.ttl
}

// Issue signs a presence token for deviceID owned by username.
func (i *TokenIssuer) Issue(deviceID, username string) (string, error) {
	if deviceID == "" {
		return "", fmt.Errorf("issuing token: empty device id")
	}

	now := i.now()
	claims := PresenceClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   deviceID,
			Audience:  jwt.ClaimStrings{PresenceAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
			ID:        uuid.NewString(),
		},
		Username: username,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("signing presence token: %w", err)
	}
	return signed, nil
}

// Parse validates a presence token and returns its claims.
func (i *TokenIssuer) Parse(tokenString string) (*PresenceClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &PresenceClaims{}, func(_ *jwt.Token) (any, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithAudience(PresenceAudience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}

	claims, ok := token.Claims.(*PresenceClaims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrTokenInvalid)
	}
	return claims, nil
}
