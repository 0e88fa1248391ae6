package auth

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/golang-jwt/jwt/v4"
)

// Claims identify a customer.
type Claims struct {
	jwt.RegisteredClaims
}

// UserID returns the customer id carried in the subject.
func (c *Claims) UserID() string {
	return c.Subject
}

// Tokens issues and verifies HS256 customer tokens.
type Tokens struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewTokens creates Tokens. An empty secret is rejected.
func NewTokens(secret []byte, issuer string) (*Tokens, error) {
	if len(secret) == 0 {
		return nil, errors.New("token secret is required")
	}
	return &Tokens{secret: secret, issuer: issuer, now: time.Now}, nil
}

// Issue returns a signed token for userID valid for ttl.
func (t *Tokens) Issue(userID string, ttl time.Duration) (string, error) {
	now := t.now()
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   userID,
		Issuer:    t.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", errors.Wrap(err, "sign token")
	}
	return signed, nil
}

// Parse verifies raw and returns its claims. Every failure matches
// ErrUnauthorized.
func (t *Tokens) Parse(raw string) (*Claims, error) {
	var claims Claims
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	_, err := parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return t.secret, nil
	})
	if err != nil {
		return nil, errors.Wrapf(ErrUnauthorized, "parse token: %v", err)
	}
	if t.issuer != "" && !claims.VerifyIssuer(t.issuer, true) {
		return nil, errors.Wrap(ErrUnauthorized, "unexpected issuer")
	}
	if claims.Subject == "" {
		return nil, errors.Wrap(ErrUnauthorized, "missing subject")
	}
	return &claims, nil
}
