package sandbox

import (
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"lukechampine.com/blake3"
)

const tokenIssuer = "escrowkit-sandbox"

var errTokenDevice = errors.New("token bound to another device")

// credentials hashes PINs and mints biometric session tokens under one
// server secret.
type credentials struct {
	pinKey []byte
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func newCredentials(secret string, ttl time.Duration, now func() time.Time) *credentials {
	key := blake3.Sum256([]byte("escrowkit/pin/" + secret))
	return &credentials{pinKey: key[:], secret: []byte(secret), ttl: ttl, now: now}
}

func (c *credentials) hashPIN(userID, pin string) string {
	h := blake3.New(32, c.pinKey)
	_, _ = h.Write([]byte(userID))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(pin))
	return hex.EncodeToString(h.Sum(nil))
}

func (c *credentials) checkPIN(userID, pin, stored string) bool {
	if stored == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(c.hashPIN(userID, pin)), []byte(stored)) == 1
}

type sessionClaims struct {
	DeviceID string `json:"device"`
	jwt.RegisteredClaims
}

func (c *credentials) issueToken(userID, deviceID string) (string, string, error) {
	now := c.now()
	tokenID := uuid.NewString()
	claims := sessionClaims{
		DeviceID: deviceID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        tokenID,
			Subject:   userID,
			Issuer:    tokenIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", "", fmt.Errorf("sign session token: %w", err)
	}
	return signed, tokenID, nil
}

func (c *credentials) parseToken(token, deviceID string) (*sessionClaims, error) {
	claims := &sessionClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %s", t.Method.Alg())
		}
		return c.secret, nil
	}, jwt.WithIssuer(tokenIssuer), jwt.WithTimeFunc(c.now))
	if err != nil {
		return nil, err
	}
	if claims.DeviceID != deviceID {
		return nil, errTokenDevice
	}
	return claims, nil
}
