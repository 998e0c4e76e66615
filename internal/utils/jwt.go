// Package utils holds the token and password primitives: signed JWTs, opaque
// random tokens and bcrypt hashing.
package utils

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Token purposes carried in the "typ" claim.  A reset link can never be
// replayed as an access token and vice versa.
const (
	PurposeAccess = "access"
	PurposeReset  = "reset"
)

var (
	// ErrTokenExpired means the signature was fine but the token is past exp.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenInvalid covers every other verification failure.
	ErrTokenInvalid = errors.New("invalid token")
)

// Claims is the payload of every JWT the service signs.
type Claims struct {
	Purpose string `json:"typ"`
	jwt.RegisteredClaims
}

// AccessToken is a signed JWT together with its expiry.
type AccessToken struct {
	Token string
	Exp   time.Time
}

// ResetToken is a signed reset JWT; ID is the jti the store tracks to make
// the link single-use.
type ResetToken struct {
	Token string
	ID    string
	Exp   time.Time
}

// Signer issues and verifies HS256 tokens.  Now is injectable so expiry
// boundaries can be tested exactly; verification uses zero leeway.
type Signer struct {
	secret []byte
	issuer string
	Now    func() time.Time
}

func NewSigner(secret, issuer string) *Signer {
	return &Signer{secret: []byte(secret), issuer: issuer, Now: time.Now}
}

// NewAccessToken builds and signs an access JWT whose subject is userID.
func (s *Signer) NewAccessToken(userID uuid.UUID, ttl time.Duration) (AccessToken, error) {
	signed, exp, err := s.sign(userID, PurposeAccess, "", ttl)
	if err != nil {
		return AccessToken{}, err
	}
	return AccessToken{Token: signed, Exp: exp}, nil
}

// NewResetToken builds a password reset JWT with a fresh jti.
func (s *Signer) NewResetToken(userID uuid.UUID, ttl time.Duration) (ResetToken, error) {
	jti := uuid.NewString()
	signed, exp, err := s.sign(userID, PurposeReset, jti, ttl)
	if err != nil {
		return ResetToken{}, err
	}
	return ResetToken{Token: signed, ID: jti, Exp: exp}, nil
}

// ParseAccessToken verifies an access JWT and returns its subject.
func (s *Signer) ParseAccessToken(raw string) (uuid.UUID, error) {
	c, err := s.parse(raw, PurposeAccess)
	if err != nil {
		return uuid.Nil, err
	}
	return subject(c)
}

// ParseResetToken verifies a reset JWT and returns its subject and jti.
func (s *Signer) ParseResetToken(raw string) (uuid.UUID, string, error) {
	c, err := s.parse(raw, PurposeReset)
	if err != nil {
		return uuid.Nil, "", err
	}
	if c.ID == "" {
		return uuid.Nil, "", ErrTokenInvalid
	}
	id, err := subject(c)
	return id, c.ID, err
}

func (s *Signer) sign(userID uuid.UUID, purpose, jti string, ttl time.Duration) (string, time.Time, error) {
	now := s.Now().UTC()
	exp := now.Add(ttl).Truncate(jwt.TimePrecision)
	claims := Claims{
		Purpose: purpose,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			Issuer:    s.issuer,
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

func (s *Signer) parse(raw, purpose string) (*Claims, error) {
	c := &Claims{}
	_, err := jwt.ParseWithClaims(raw, c,
		func(*jwt.Token) (interface{}, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.Now),
	)
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrTokenExpired
	case err != nil:
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	case c.Purpose != purpose:
		return nil, ErrTokenInvalid
	}
	return c, nil
}

func subject(c *Claims) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Subject)
	if err != nil {
		return uuid.Nil, ErrTokenInvalid
	}
	return id, nil
}
