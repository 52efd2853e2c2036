package media

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrBadPIN is returned when the pairing PIN does not match.
	ErrBadPIN = errors.New("invalid pairing PIN")
	// ErrBadToken is returned for missing, expired or forged tokens.
	ErrBadToken = errors.New("invalid token")
)

const tokenTTL = 30 * 24 * time.Hour

// Authenticator pairs remote controls. A remote proves knowledge of the
// device PIN once and receives a long-lived token for later connections.
type Authenticator struct {
	pinHash string
	secret  []byte
}

// NewAuthenticator takes the bcrypt hash of the PIN and the signing secret.
func NewAuthenticator(pinHash, secret string) *Authenticator {
	return &Authenticator{pinHash: pinHash, secret: []byte(secret)}
}

// HashPIN generates a bcrypt hash of the PIN, for provisioning.
func HashPIN(pin string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash PIN: %w", err)
	}
	return string(bytes), nil
}

// Pair exchanges a correct PIN for a signed token.
func (a *Authenticator) Pair(pin string) (string, error) {
	if err := bcrypt.CompareHashAndPassword([]byte(a.pinHash), []byte(pin)); err != nil {
		return "", ErrBadPIN
	}

	now := time.Now()
	claims := jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   "remote",
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify checks a token issued by Pair.
func (a *Authenticator) Verify(tokenString string) error {
	token, err := jwt.ParseWithClaims(tokenString, &jwt.RegisteredClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil || !token.Valid {
		return ErrBadToken
	}
	return nil
}
