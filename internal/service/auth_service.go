package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/vibe/internal/model"
	"github.com/iliyamo/vibe/internal/queue"
	"github.com/iliyamo/vibe/internal/repository"
	"github.com/iliyamo/vibe/internal/token"
	"github.com/iliyamo/vibe/internal/utils"
)

// FederatedVerifier validates an external provider's identity assertion.
type FederatedVerifier interface {
	Verify(ctx context.Context, assertion string) (model.FederatedClaim, error)
}

// RegisterInput is the local registration request.
type RegisterInput struct {
	FirstName   string `json:"firstName" validate:"required,min=2,max=50"`
	LastName    string `json:"lastName" validate:"required,min=2,max=50"`
	Email       string `json:"email" validate:"required,email,max=255"`
	Password    string `json:"password" validate:"required,max=72"`
	PicturePath string `json:"picturePath" validate:"omitempty,max=512"`
	Location    string `json:"location" validate:"omitempty,max=100"`
	Occupation  string `json:"occupation" validate:"omitempty,max=100"`
}

func (in *RegisterInput) normalize() {
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	in.Email = repository.NormalizeEmail(in.Email)
	in.PicturePath = strings.TrimSpace(in.PicturePath)
	in.Location = strings.TrimSpace(in.Location)
	in.Occupation = strings.TrimSpace(in.Occupation)
}

// AuthResult is returned by every successful login.
type AuthResult struct {
	User  *model.User
	Token token.Token
}

// FederatedProfile is what a provider assertion says about a person who has
// not registered yet.
type FederatedProfile struct {
	Email         string `json:"email"`
	FirstName     string `json:"firstName"`
	LastName      string `json:"lastName"`
	Picture       string `json:"picture"`
	EmailVerified bool   `json:"emailVerified"`
}

// AuthConfig configures AuthService.
type AuthConfig struct {
	BcryptCost int
}

// AuthService registers identities and exchanges credentials or federated
// assertions for session tokens.
type AuthService struct {
	users    repository.CredentialStore
	tokens   *token.Service
	verifier FederatedVerifier
	cost     int
	validate *validator.Validate
	deps     Deps
	now      func() time.Time

	// dummyHash is compared against when no real hash exists, so a login
	// for an unknown email costs the same bcrypt work as a wrong password.
	dummyHash string
}

// NewAuthService builds an AuthService. It fails if the bcrypt cost is out
// of range.
func NewAuthService(users repository.CredentialStore, tokens *token.Service, verifier FederatedVerifier, cfg AuthConfig, deps Deps) (*AuthService, error) {
	dummy, err := utils.HashPassword(uuid.NewString(), cfg.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("auth service: %w", err)
	}
	return &AuthService{
		users:     users,
		tokens:    tokens,
		verifier:  verifier,
		cost:      cfg.BcryptCost,
		validate:  newValidator(),
		deps:      deps.withDefaults(),
		now:       time.Now,
		dummyHash: dummy,
	}, nil
}

// Register creates a local identity. No token is issued; the client logs in
// separately.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*model.User, error) {
	in.normalize()
	if err := s.validate.Struct(in); err != nil {
		s.deps.Metrics.RecordAuth("register", "invalid")
		return nil, validationError(err)
	}
	if len(in.Password) > utils.MaxPasswordBytes {
		s.deps.Metrics.RecordAuth("register", "invalid")
		return nil, fmt.Errorf("%w: password: max=%d bytes", model.ErrValidation, utils.MaxPasswordBytes)
	}

	hash, err := utils.HashPassword(in.Password, s.cost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	now := s.now().UTC()
	picture := in.PicturePath
	if picture == "" {
		picture = model.DefaultPicturePath
	}
	u := &model.User{
		ID:            uuid.NewString(),
		FirstName:     in.FirstName,
		LastName:      in.LastName,
		Email:         in.Email,
		PasswordHash:  &hash,
		PicturePath:   picture,
		Location:      in.Location,
		Occupation:    in.Occupation,
		ViewedProfile: rand.IntN(100),
		Impressions:   rand.IntN(100),
		Friends:       []string{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.users.Create(ctx, u); err != nil {
		if errors.Is(err, model.ErrDuplicateIdentity) {
			s.deps.Metrics.RecordAuth("register", "duplicate")
			return nil, err
		}
		return nil, fmt.Errorf("create identity: %w", err)
	}

	s.deps.Metrics.RecordAuth("register", "ok")
	s.deps.Log.WithField("user_id", u.ID).Info("identity registered")
	s.deps.emit(ctx, queue.NewEvent(queue.IdentityRegistered, u.ID, u.ID).With("provider", "local"))
	return u, nil
}

// Login checks a local password. An unknown email, an account without a
// local password and a wrong password all return the same
// model.ErrInvalidCredentials after the same amount of bcrypt work.
func (s *AuthService) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	u, err := s.users.GetByEmail(ctx, repository.NormalizeEmail(email))
	if err != nil && !errors.Is(err, model.ErrNotFound) {
		return nil, fmt.Errorf("load identity: %w", err)
	}

	if u == nil || !u.HasLocalPassword() {
		_ = utils.ComparePassword(s.dummyHash, password)
		reason := "unknown_email"
		if u != nil {
			reason = "no_local_password"
		}
		s.loginFailed(reason)
		return nil, model.ErrInvalidCredentials
	}

	if err := utils.ComparePassword(*u.PasswordHash, password); err != nil {
		if !utils.IsHashMismatch(err) {
			s.deps.Log.WithError(err).WithField("user_id", u.ID).Warn("stored password hash unreadable")
		}
		s.loginFailed("wrong_password")
		return nil, model.ErrInvalidCredentials
	}
	return s.issue(u, "local")
}

func (s *AuthService) loginFailed(reason string) {
	s.deps.Metrics.RecordAuth("local", "rejected")
	s.deps.Log.WithField("reason", reason).Info("local login rejected")
}

// FederatedLogin exchanges a provider assertion for a session token,
// provisioning an identity on first use. An existing identity with the same
// email, local or federated, is reused.
func (s *AuthService) FederatedLogin(ctx context.Context, assertion string) (*AuthResult, error) {
	claim, err := s.verify(ctx, assertion)
	if err != nil {
		return nil, err
	}
	if !claim.EmailVerified {
		s.deps.Metrics.RecordAuth("google", "unverified_email")
		return nil, fmt.Errorf("%w: email not verified by provider", model.ErrInvalidFederatedToken)
	}

	u, err := s.users.GetByEmail(ctx, claim.Email)
	switch {
	case err == nil:
	case errors.Is(err, model.ErrNotFound):
		if u, err = s.provision(ctx, claim); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("load identity: %w", err)
	}
	return s.issue(u, "google")
}

// provision creates the identity for a first federated login. A concurrent
// first login for the same email may win the insert; the store's unique
// email rejects ours and the winner's record is read back instead.
func (s *AuthService) provision(ctx context.Context, claim model.FederatedClaim) (*model.User, error) {
	first, last := federatedNames(claim)
	picture := claim.Picture
	if picture == "" {
		picture = model.DefaultPicturePath
	}
	now := s.now().UTC()
	u := &model.User{
		ID:              uuid.NewString(),
		FirstName:       first,
		LastName:        last,
		Email:           claim.Email,
		PicturePath:     picture,
		Provider:        claim.Provider,
		ProviderSubject: claim.Subject,
		ViewedProfile:   rand.IntN(100),
		Impressions:     rand.IntN(100),
		Friends:         []string{},
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	err := s.users.Create(ctx, u)
	if errors.Is(err, model.ErrDuplicateIdentity) {
		s.deps.Log.WithField("provider", claim.Provider).Info("federated provisioning lost race, reusing identity")
		existing, gerr := s.users.GetByEmail(ctx, claim.Email)
		if gerr != nil {
			return nil, fmt.Errorf("reload identity after duplicate: %w", gerr)
		}
		return existing, nil
	}
	if err != nil {
		return nil, fmt.Errorf("create identity: %w", err)
	}

	s.deps.Log.WithFields(logrus.Fields{"user_id": u.ID, "provider": claim.Provider}).Info("federated identity provisioned")
	s.deps.emit(ctx, queue.NewEvent(queue.IdentityFederatedProvisioned, u.ID, u.ID).With("provider", claim.Provider))
	return u, nil
}

// FederatedProfilePreview verifies the assertion and returns the profile a
// registration would create, without creating anything.
func (s *AuthService) FederatedProfilePreview(ctx context.Context, assertion string) (*FederatedProfile, error) {
	claim, err := s.verify(ctx, assertion)
	if err != nil {
		return nil, err
	}
	_, err = s.users.GetByEmail(ctx, claim.Email)
	switch {
	case err == nil:
		return nil, model.ErrAlreadyRegistered
	case !errors.Is(err, model.ErrNotFound):
		return nil, fmt.Errorf("load identity: %w", err)
	}
	first, last := federatedNames(claim)
	return &FederatedProfile{
		Email:         claim.Email,
		FirstName:     first,
		LastName:      last,
		Picture:       claim.Picture,
		EmailVerified: claim.EmailVerified,
	}, nil
}

// verify runs the federated verifier and wraps any failure in
// model.ErrInvalidFederatedToken. The verifier's own error stays in the
// chain so transport failures remain distinguishable.
func (s *AuthService) verify(ctx context.Context, assertion string) (model.FederatedClaim, error) {
	start := time.Now()
	claim, err := s.verifier.Verify(ctx, assertion)
	outcome := "ok"
	switch {
	case errors.Is(err, model.ErrIssuerUnavailable):
		outcome = "unavailable"
	case err != nil:
		outcome = "rejected"
	}
	s.deps.Metrics.RecordFederatedVerify(outcome, time.Since(start))
	if err != nil {
		s.deps.Metrics.RecordAuth("google", outcome)
		s.deps.Log.WithError(err).Info("federated assertion rejected")
		return model.FederatedClaim{}, fmt.Errorf("%w: %w", model.ErrInvalidFederatedToken, err)
	}
	return claim, nil
}

func (s *AuthService) issue(u *model.User, method string) (*AuthResult, error) {
	tok, err := s.tokens.Issue(u.ID)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}
	s.deps.Metrics.RecordAuth(method, "ok")
	s.deps.Log.WithFields(logrus.Fields{"user_id": u.ID, "method": method}).Info("login succeeded")
	return &AuthResult{User: u, Token: tok}, nil
}

// federatedNames picks first and last names from the claim, splitting the
// full name when the provider sent no given/family names, and falling back
// to the email's local part.
func federatedNames(c model.FederatedClaim) (string, string) {
	first, last := c.GivenName, c.FamilyName
	if parts := strings.Fields(c.Name); first == "" && last == "" && len(parts) > 0 {
		first = parts[0]
		if len(parts) > 1 {
			last = strings.Join(parts[1:], " ")
		}
	}
	if first == "" {
		first, _, _ = strings.Cut(c.Email, "@")
	}
	return truncateRunes(first, 50), truncateRunes(last, 50)
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
