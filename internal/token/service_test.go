package token

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/vibe/internal/model"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newTestService(t *testing.T, c *clock) *Service {
	t.Helper()
	s, err := NewService("test-secret", time.Hour, WithClock(c.now))
	require.NoError(t, err)
	return s
}

func TestNewServiceRejectsEmptySecret(t *testing.T) {
	_, err := NewService("  ", time.Hour)
	assert.Error(t, err)
}

func TestNewServiceDefaultsTTL(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	s, err := NewService("k", 0, WithClock(func() time.Time { return now }))
	require.NoError(t, err)
	tok, err := s.Issue("user-1")
	require.NoError(t, err)
	assert.Equal(t, now.Add(DefaultTTL), tok.ExpiresAt)
}

func TestIssueThenVerify(t *testing.T) {
	c := &clock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	s := newTestService(t, c)

	tok, err := s.Issue("user-1")
	require.NoError(t, err)
	assert.Equal(t, c.t.Add(time.Hour), tok.ExpiresAt)

	p, err := s.Verify(tok.Value)
	require.NoError(t, err)
	assert.Equal(t, "user-1", p.IdentityID)
	assert.Equal(t, c.t, p.IssuedAt.UTC())
	assert.Equal(t, tok.ExpiresAt, p.ExpiresAt.UTC())
}

func TestIssueRejectsEmptyIdentity(t *testing.T) {
	s := newTestService(t, &clock{t: time.Now()})
	_, err := s.Issue("")
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestVerifyAroundExpiry(t *testing.T) {
	c := &clock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	s := newTestService(t, c)
	tok, err := s.Issue("user-1")
	require.NoError(t, err)

	c.t = tok.ExpiresAt.Add(-time.Second)
	_, err = s.Verify(tok.Value)
	assert.NoError(t, err, "token must be valid just before expiry")

	c.t = tok.ExpiresAt
	_, err = s.Verify(tok.Value)
	assert.ErrorIs(t, err, model.ErrTokenExpired, "the token is dead at exp itself")

	c.t = tok.ExpiresAt.Add(time.Second)
	_, err = s.Verify(tok.Value)
	assert.ErrorIs(t, err, model.ErrTokenExpired)
}

func TestVerifyFailures(t *testing.T) {
	c := &clock{t: time.Now().UTC()}
	s := newTestService(t, c)
	good, err := s.Issue("user-1")
	require.NoError(t, err)

	other, err := NewService("another-secret", time.Hour, WithClock(c.now))
	require.NoError(t, err)
	foreign, err := other.Issue("user-1")
	require.NoError(t, err)

	noExp, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "user-1"}).
		SignedString([]byte("test-secret"))
	require.NoError(t, err)

	noSub, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(c.t.Add(time.Hour)),
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Subject:   "user-1",
		ExpiresAt: jwt.NewNumericDate(c.t.Add(time.Hour)),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	parts := strings.Split(good.Value, ".")
	tampered := parts[0] + "." + parts[1] + "x." + parts[2]

	cases := []struct {
		name string
		raw  string
		want error
	}{
		{"empty", "", model.ErrTokenMissing},
		{"garbage", "not-a-jwt", model.ErrTokenMalformed},
		{"wrong secret", foreign.Value, model.ErrTokenMalformed},
		{"tampered payload", tampered, model.ErrTokenMalformed},
		{"missing exp", noExp, model.ErrTokenMalformed},
		{"missing sub", noSub, model.ErrTokenMalformed},
		{"alg none", none, model.ErrTokenMalformed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := s.Verify(tc.raw)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}
