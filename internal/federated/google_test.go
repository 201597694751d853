package federated

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/vibe/internal/model"
)

const testClientID = "client-123.apps.googleusercontent.com"

type jwksServer struct {
	*httptest.Server
	keys   map[string]*rsa.PrivateKey
	hits   atomic.Int32
	status atomic.Int32
}

func newJWKSServer(t *testing.T, kids ...string) *jwksServer {
	t.Helper()
	s := &jwksServer{keys: map[string]*rsa.PrivateKey{}}
	for _, kid := range kids {
		k, err := rsa.GenerateKey(rand.Reader, 2048)
		require.NoError(t, err)
		s.keys[kid] = k
	}
	set := jwkset.NewMemoryStorage()
	for kid, k := range s.keys {
		j, err := jwkset.NewJWKFromKey(&k.PublicKey, jwkset.JWKOptions{
			Metadata: jwkset.JWKMetadataOptions{ALG: jwkset.AlgRS256, KID: kid, USE: jwkset.UseSig},
		})
		require.NoError(t, err)
		require.NoError(t, set.KeyWrite(context.Background(), j))
	}
	doc, err := set.JSONPublic(context.Background())
	require.NoError(t, err)

	s.status.Store(http.StatusOK)
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.hits.Add(1)
		if code := int(s.status.Load()); code != http.StatusOK {
			w.WriteHeader(code)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(doc)
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *jwksServer) sign(t *testing.T, kid string, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = kid
	raw, err := tok.SignedString(s.keys[kid])
	require.NoError(t, err)
	return raw
}

func validClaims(now time.Time) jwt.MapClaims {
	return jwt.MapClaims{
		"iss":            "https://accounts.google.com",
		"aud":            testClientID,
		"sub":            "google-sub-1",
		"email":          "Ada@Example.com",
		"email_verified": true,
		"name":           "Ada Lovelace",
		"given_name":     "Ada",
		"family_name":    "Lovelace",
		"picture":        "https://example.com/ada.png",
		"iat":            now.Unix(),
		"exp":            now.Add(time.Hour).Unix(),
	}
}

func newVerifier(t *testing.T, url string, now func() time.Time) *GoogleVerifier {
	t.Helper()
	return newVerifierWith(t, GoogleConfig{JWKSURL: url, Now: now})
}

func newVerifierWith(t *testing.T, cfg GoogleConfig) *GoogleVerifier {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	cfg.ClientID = testClientID
	if cfg.Timeout == 0 {
		cfg.Timeout = time.Second
	}
	if cfg.Log == nil {
		log, _ := test.NewNullLogger()
		cfg.Log = log
	}
	v, err := NewGoogleVerifier(ctx, cfg)
	require.NoError(t, err)
	return v
}

func TestNewGoogleVerifierRequiresClientID(t *testing.T) {
	_, err := NewGoogleVerifier(context.Background(), GoogleConfig{})
	assert.Error(t, err)
}

func TestVerifyValidAssertion(t *testing.T) {
	srv := newJWKSServer(t, "k1")
	now := time.Now()
	v := newVerifier(t, srv.URL, func() time.Time { return now })

	claim, err := v.Verify(context.Background(), srv.sign(t, "k1", validClaims(now)))
	require.NoError(t, err)
	assert.Equal(t, model.FederatedClaim{
		Provider:      model.ProviderGoogle,
		Subject:       "google-sub-1",
		Email:         "ada@example.com",
		EmailVerified: true,
		Name:          "Ada Lovelace",
		GivenName:     "Ada",
		FamilyName:    "Lovelace",
		Picture:       "https://example.com/ada.png",
	}, claim)
}

func TestVerifyCachesKeys(t *testing.T) {
	srv := newJWKSServer(t, "k1")
	now := time.Now()
	v := newVerifier(t, srv.URL, func() time.Time { return now })
	raw := srv.sign(t, "k1", validClaims(now))

	for i := 0; i < 3; i++ {
		_, err := v.Verify(context.Background(), raw)
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), srv.hits.Load())
}

func TestVerifyStringEmailVerified(t *testing.T) {
	srv := newJWKSServer(t, "k1")
	now := time.Now()
	v := newVerifier(t, srv.URL, func() time.Time { return now })

	c := validClaims(now)
	c["email_verified"] = "true"
	claim, err := v.Verify(context.Background(), srv.sign(t, "k1", c))
	require.NoError(t, err)
	assert.True(t, claim.EmailVerified)

	c["email_verified"] = "false"
	claim, err = v.Verify(context.Background(), srv.sign(t, "k1", c))
	require.NoError(t, err)
	assert.False(t, claim.EmailVerified)
}

func TestVerifyRejections(t *testing.T) {
	srv := newJWKSServer(t, "k1")
	now := time.Now()
	v := newVerifier(t, srv.URL, func() time.Time { return now })

	mutate := func(f func(jwt.MapClaims)) string {
		c := validClaims(now)
		f(c)
		return srv.sign(t, "k1", c)
	}
	hs, err := jwt.NewWithClaims(jwt.SigningMethodHS256, validClaims(now)).SignedString([]byte("secret"))
	require.NoError(t, err)

	cases := map[string]string{
		"empty":          "",
		"garbage":        "a.b.c",
		"wrong audience": mutate(func(c jwt.MapClaims) { c["aud"] = "someone-else" }),
		"wrong issuer":   mutate(func(c jwt.MapClaims) { c["iss"] = "https://evil.example.com" }),
		"expired":        mutate(func(c jwt.MapClaims) { c["exp"] = now.Add(-time.Minute).Unix() }),
		"missing exp":    mutate(func(c jwt.MapClaims) { delete(c, "exp") }),
		"missing sub":    mutate(func(c jwt.MapClaims) { delete(c, "sub") }),
		"missing email":  mutate(func(c jwt.MapClaims) { delete(c, "email") }),
		"hmac signed":    hs,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := v.Verify(context.Background(), raw)
			assert.ErrorIs(t, err, model.ErrFederatedVerificationFailed)
			assert.NotErrorIs(t, err, model.ErrIssuerUnavailable)
		})
	}
}

func TestVerifyAllowsClockLeeway(t *testing.T) {
	srv := newJWKSServer(t, "k1")
	now := time.Now()
	v := newVerifier(t, srv.URL, func() time.Time { return now })

	c := validClaims(now)
	c["exp"] = now.Add(-10 * time.Second).Unix()
	_, err := v.Verify(context.Background(), srv.sign(t, "k1", c))
	assert.NoError(t, err)
}

func TestVerifyIssuerUnavailable(t *testing.T) {
	srv := newJWKSServer(t, "k1")
	srv.status.Store(http.StatusInternalServerError)
	now := time.Now()
	log, hook := test.NewNullLogger()
	v := newVerifierWith(t, GoogleConfig{JWKSURL: srv.URL, Now: func() time.Time { return now }, Log: log})

	// The failed startup fetch is logged rather than returned.
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
	assert.Equal(t, "jwks refresh failed", hook.LastEntry().Message)
	hook.Reset()

	_, err := v.Verify(context.Background(), srv.sign(t, "k1", validClaims(now)))
	assert.ErrorIs(t, err, model.ErrFederatedVerificationFailed)
	assert.ErrorIs(t, err, model.ErrIssuerUnavailable)
	assert.Empty(t, hook.AllEntries())
	assert.Equal(t, int32(2), srv.hits.Load())
}

func TestVerifyIssuerUnreachable(t *testing.T) {
	srv := newJWKSServer(t, "k1")
	raw := srv.sign(t, "k1", validClaims(time.Now()))
	url := srv.URL
	srv.Close()

	v := newVerifier(t, url, nil)
	_, err := v.Verify(context.Background(), raw)
	assert.ErrorIs(t, err, model.ErrFederatedVerificationFailed)
	assert.ErrorIs(t, err, model.ErrIssuerUnavailable)
}

func TestVerifyRecoversWhenIssuerReturns(t *testing.T) {
	srv := newJWKSServer(t, "k1")
	srv.status.Store(http.StatusServiceUnavailable)
	now := time.Now()
	v := newVerifier(t, srv.URL, func() time.Time { return now })

	srv.status.Store(http.StatusOK)
	_, err := v.Verify(context.Background(), srv.sign(t, "k1", validClaims(now)))
	assert.NoError(t, err)
}

func TestVerifyUnknownKidRefetchIsBounded(t *testing.T) {
	srv := newJWKSServer(t, "k1", "k2")
	now := time.Now()
	v := newVerifier(t, srv.URL, func() time.Time { return now })

	_, err := v.Verify(context.Background(), srv.sign(t, "k1", validClaims(now)))
	require.NoError(t, err)
	require.Equal(t, int32(1), srv.hits.Load())

	rogue, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, validClaims(now))
	tok.Header["kid"] = "rotated"
	raw, err := tok.SignedString(rogue)
	require.NoError(t, err)

	// The first miss refetches; the second falls inside MinRefetch.
	_, err = v.Verify(context.Background(), raw)
	assert.ErrorIs(t, err, model.ErrFederatedVerificationFailed)
	assert.NotErrorIs(t, err, model.ErrIssuerUnavailable)
	assert.Equal(t, int32(2), srv.hits.Load())

	_, err = v.Verify(context.Background(), raw)
	assert.ErrorIs(t, err, model.ErrFederatedVerificationFailed)
	assert.Equal(t, int32(2), srv.hits.Load())
}
