// Package token issues and verifies the service's own session tokens.
// Tokens are HS256 JWTs carrying the identity id as the subject plus issue
// and expiry timestamps. Verification is pure: it needs only the signing
// secret and a clock, never the store.
package token

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/iliyamo/vibe/internal/model"
)

// DefaultTTL matches the seven day lifetime clients expect.
const DefaultTTL = 7 * 24 * time.Hour

// Token is a signed session token along with its expiry.
type Token struct {
	Value     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Service signs and verifies session tokens with one process-wide secret.
type Service struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// Option customises a Service.
type Option func(*Service)

// WithClock replaces time.Now. Used by tests to move around the expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService builds a Service. An empty secret is a configuration error the
// caller should treat as fatal at startup.
func NewService(secret string, ttl time.Duration, opts ...Option) (*Service, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("token: signing secret is not configured")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s := &Service{secret: []byte(secret), ttl: ttl, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Issue signs a token for identityID valid for the configured TTL.
func (s *Service) Issue(identityID string) (Token, error) {
	if identityID == "" {
		return Token{}, fmt.Errorf("%w: empty identity id", model.ErrValidation)
	}
	// JWT timestamps have second precision; truncate so ExpiresAt matches
	// what Verify will later read back.
	iat := s.now().UTC().Truncate(time.Second)
	exp := iat.Add(s.ttl)
	claims := jwt.RegisteredClaims{
		Subject:   identityID,
		IssuedAt:  jwt.NewNumericDate(iat),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return Token{}, fmt.Errorf("sign token: %w", err)
	}
	return Token{Value: signed, ExpiresAt: exp}, nil
}

// Verify checks signature, algorithm and expiry and returns the principal
// the token was issued to.
func (s *Service) Verify(raw string) (model.Principal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return model.Principal{}, model.ErrTokenMissing
	}
	claims := &jwt.RegisteredClaims{}
	tok, err := jwt.ParseWithClaims(raw, claims,
		func(t *jwt.Token) (interface{}, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return model.Principal{}, fmt.Errorf("%w: %v", model.ErrTokenExpired, err)
		}
		return model.Principal{}, fmt.Errorf("%w: %v", model.ErrTokenMalformed, err)
	}
	if !tok.Valid || claims.Subject == "" || claims.ExpiresAt == nil {
		return model.Principal{}, model.ErrTokenMalformed
	}
	p := model.Principal{
		IdentityID: claims.Subject,
		ExpiresAt:  claims.ExpiresAt.Time,
	}
	if claims.IssuedAt != nil {
		p.IssuedAt = claims.IssuedAt.Time
	}
	return p, nil
}
