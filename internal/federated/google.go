// Package federated validates identity assertions issued by external
// providers. Google ID tokens are RS256 JWTs; their signing keys are
// published as a JWKS document and rotated by Google. The key set is held by
// jwkset, refreshed in the background, and refetched on an unknown key id at
// most once per MinRefetch.
package federated

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/iliyamo/vibe/internal/model"
)

const (
	DefaultGoogleJWKSURL   = "https://www.googleapis.com/oauth2/v3/certs"
	defaultTimeout         = 5 * time.Second
	defaultRefreshInterval = time.Hour
	defaultMinRefetch      = time.Minute
	clockLeeway            = 30 * time.Second
)

var defaultGoogleIssuers = []string{"accounts.google.com", "https://accounts.google.com"}

// GoogleConfig configures a GoogleVerifier. ClientID is the OAuth client id
// registered for this service; assertions minted for any other audience are
// rejected.
type GoogleConfig struct {
	ClientID   string
	JWKSURL    string
	Issuers    []string
	Timeout    time.Duration
	HTTPClient *http.Client
	// RefreshInterval is how often the key set is refetched in the background.
	RefreshInterval time.Duration
	// MinRefetch bounds how often an unknown key id may force a JWKS fetch.
	MinRefetch time.Duration
	Now        func() time.Time
	Log        logrus.FieldLogger
}

// GoogleVerifier checks Google ID tokens.
type GoogleVerifier struct {
	clientID string
	jwksURL  string
	issuers  map[string]bool
	timeout  time.Duration
	now      func() time.Time
	log      logrus.FieldLogger
	keys     keyfunc.Keyfunc
}

// NewGoogleVerifier builds a verifier and performs the first key fetch. A
// failed first fetch is logged, not returned, so the service can start while
// Google is unreachable. ctx ends the background refresh.
func NewGoogleVerifier(ctx context.Context, cfg GoogleConfig) (*GoogleVerifier, error) {
	if strings.TrimSpace(cfg.ClientID) == "" {
		return nil, fmt.Errorf("federated: google client id is not configured")
	}
	v := &GoogleVerifier{
		clientID: strings.TrimSpace(cfg.ClientID),
		jwksURL:  cfg.JWKSURL,
		issuers:  make(map[string]bool),
		timeout:  cfg.Timeout,
		now:      cfg.Now,
		log:      cfg.Log,
	}
	if v.jwksURL == "" {
		v.jwksURL = DefaultGoogleJWKSURL
	}
	if v.timeout <= 0 {
		v.timeout = defaultTimeout
	}
	if v.now == nil {
		v.now = time.Now
	}
	if v.log == nil {
		v.log = logrus.StandardLogger()
	}
	issuers := cfg.Issuers
	if len(issuers) == 0 {
		issuers = defaultGoogleIssuers
	}
	for _, iss := range issuers {
		v.issuers[strings.TrimSpace(iss)] = true
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: v.timeout}
	}
	refresh := cfg.RefreshInterval
	if refresh <= 0 {
		refresh = defaultRefreshInterval
	}
	minRefetch := cfg.MinRefetch
	if minRefetch <= 0 {
		minRefetch = defaultMinRefetch
	}

	remote, err := jwkset.NewStorageFromHTTP(v.jwksURL, jwkset.HTTPClientStorageOptions{
		Client:                    client,
		Ctx:                       ctx,
		HTTPTimeout:               v.timeout,
		NoErrorReturnFirstHTTPReq: true,
		RefreshErrorHandler:       v.refreshFailed,
		RefreshInterval:           refresh,
	})
	if err != nil {
		return nil, fmt.Errorf("federated: jwks storage: %w", err)
	}
	store, err := jwkset.NewHTTPClient(jwkset.HTTPClientOptions{
		HTTPURLs:          map[string]jwkset.Storage{v.jwksURL: remote},
		RefreshUnknownKID: rate.NewLimiter(rate.Every(minRefetch), 1),
	})
	if err != nil {
		return nil, fmt.Errorf("federated: jwks client: %w", err)
	}
	v.keys, err = keyfunc.New(keyfunc.Options{
		Ctx:          ctx,
		Storage:      store,
		UseWhitelist: []jwkset.USE{jwkset.UseSig},
	})
	if err != nil {
		return nil, fmt.Errorf("federated: keyfunc: %w", err)
	}
	return v, nil
}

type fetchFailureKey struct{}

// fetchFailure collects key-set refresh errors raised while one Verify call
// is looking up its key.
type fetchFailure struct {
	mu  sync.Mutex
	err error
}

func (f *fetchFailure) set(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *fetchFailure) get() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// refreshFailed receives every failed JWKS fetch. Fetches made on behalf of
// a Verify call are handed back to it; background ones are logged.
func (v *GoogleVerifier) refreshFailed(ctx context.Context, err error) {
	if f, ok := ctx.Value(fetchFailureKey{}).(*fetchFailure); ok {
		f.set(err)
		return
	}
	v.log.WithError(err).WithField("url", v.jwksURL).Warn("jwks refresh failed")
}

// googleClaims is the subset of ID token claims the service reads.
type googleClaims struct {
	Email         string   `json:"email"`
	EmailVerified flexBool `json:"email_verified"`
	Name          string   `json:"name"`
	GivenName     string   `json:"given_name"`
	FamilyName    string   `json:"family_name"`
	Picture       string   `json:"picture"`
	jwt.RegisteredClaims
}

// flexBool accepts both true and "true"; Google has emitted both.
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	s := strings.Trim(strings.TrimSpace(string(data)), `"`)
	switch strings.ToLower(s) {
	case "true", "1":
		*b = true
	default:
		*b = false
	}
	return nil
}

// Verify validates the assertion and returns the provider's claim. Every
// failure wraps model.ErrFederatedVerificationFailed; failures to reach the
// key endpoint additionally wrap model.ErrIssuerUnavailable.
func (v *GoogleVerifier) Verify(ctx context.Context, assertion string) (model.FederatedClaim, error) {
	assertion = strings.TrimSpace(assertion)
	if assertion == "" {
		return model.FederatedClaim{}, fmt.Errorf("%w: empty assertion", model.ErrFederatedVerificationFailed)
	}

	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()
	failure := &fetchFailure{}
	ctx = context.WithValue(ctx, fetchFailureKey{}, failure)

	claims := &googleClaims{}
	tok, err := jwt.ParseWithClaims(assertion, claims, v.keys.KeyfuncCtx(ctx),
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithAudience(v.clientID),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(clockLeeway),
		jwt.WithTimeFunc(v.now),
	)
	if fetchErr := failure.get(); err != nil && fetchErr != nil {
		return model.FederatedClaim{}, fmt.Errorf("%w: %w: %v", model.ErrFederatedVerificationFailed, model.ErrIssuerUnavailable, fetchErr)
	}
	if err != nil {
		return model.FederatedClaim{}, fmt.Errorf("%w: %v", model.ErrFederatedVerificationFailed, err)
	}
	if !tok.Valid {
		return model.FederatedClaim{}, fmt.Errorf("%w: invalid token", model.ErrFederatedVerificationFailed)
	}
	if !v.issuers[claims.Issuer] {
		return model.FederatedClaim{}, fmt.Errorf("%w: unexpected issuer %q", model.ErrFederatedVerificationFailed, claims.Issuer)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return model.FederatedClaim{}, fmt.Errorf("%w: missing sub", model.ErrFederatedVerificationFailed)
	}
	email := strings.ToLower(strings.TrimSpace(claims.Email))
	if email == "" {
		return model.FederatedClaim{}, fmt.Errorf("%w: missing email", model.ErrFederatedVerificationFailed)
	}

	return model.FederatedClaim{
		Provider:      model.ProviderGoogle,
		Subject:       claims.Subject,
		Email:         email,
		EmailVerified: bool(claims.EmailVerified),
		Name:          strings.TrimSpace(claims.Name),
		GivenName:     strings.TrimSpace(claims.GivenName),
		FamilyName:    strings.TrimSpace(claims.FamilyName),
		Picture:       strings.TrimSpace(claims.Picture),
	}, nil
}
