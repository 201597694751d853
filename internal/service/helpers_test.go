package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/iliyamo/vibe/internal/model"
	"github.com/iliyamo/vibe/internal/queue"
	"github.com/iliyamo/vibe/internal/repository"
	"github.com/iliyamo/vibe/internal/token"
)

// recordingPublisher keeps every published event.
type recordingPublisher struct {
	mu     sync.Mutex
	events []queue.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, ev queue.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, ev := range p.events {
		out[i] = ev.Type
	}
	return out
}

// stubVerifier returns a fixed claim or error for any assertion.
type stubVerifier struct {
	claim model.FederatedClaim
	err   error
	calls int
}

func (v *stubVerifier) Verify(_ context.Context, _ string) (model.FederatedClaim, error) {
	v.calls++
	return v.claim, v.err
}

type fixture struct {
	store    *repository.MemoryStore
	tokens   *token.Service
	verifier *stubVerifier
	pub      *recordingPublisher
	deps     Deps
	auth     *AuthService
	friends  *FriendService
	posts    *PostService
	engage   *EngagementService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    repository.NewMemoryStore(),
		verifier: &stubVerifier{},
		pub:      &recordingPublisher{},
	}
	var err error
	f.tokens, err = token.NewService("test-secret", time.Hour)
	require.NoError(t, err)
	log, _ := test.NewNullLogger()
	f.deps = Deps{Publisher: f.pub, Log: log}

	f.auth, err = NewAuthService(f.store, f.tokens, f.verifier, AuthConfig{BcryptCost: bcrypt.MinCost}, f.deps)
	require.NoError(t, err)
	f.friends = NewFriendService(f.store, f.store, f.deps)
	f.posts = NewPostService(f.store.Posts(), f.store, f.deps)
	f.engage = NewEngagementService(f.store.Posts(), f.deps)
	return f
}

func (f *fixture) register(t *testing.T, email, password string) *model.User {
	t.Helper()
	u, err := f.auth.Register(context.Background(), RegisterInput{
		FirstName: "Test",
		LastName:  "User",
		Email:     email,
		Password:  password,
	})
	require.NoError(t, err)
	return u
}
