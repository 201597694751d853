package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/iliyamo/vibe/internal/model"
)

// MemoryStore keeps identities and posts in process memory. It implements
// CredentialStore, FriendStore and PostStore behind a single mutex, so every
// mutation is atomic with respect to every other. It is meant for local
// development and tests; nothing survives a restart.
type MemoryStore struct {
	mu      sync.Mutex
	users   map[string]*model.User
	byEmail map[string]string
	posts   map[string]*model.Post
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:   make(map[string]*model.User),
		byEmail: make(map[string]string),
		posts:   make(map[string]*model.Post),
		now:     time.Now,
	}
}

func (s *MemoryStore) Create(ctx context.Context, u *model.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	u.Email = NormalizeEmail(u.Email)
	if _, taken := s.byEmail[u.Email]; taken {
		return fmt.Errorf("%w: %s", model.ErrDuplicateIdentity, u.Email)
	}
	if _, taken := s.users[u.ID]; taken {
		return fmt.Errorf("%w: id %s", model.ErrDuplicateIdentity, u.ID)
	}
	if u.Friends == nil {
		u.Friends = []string{}
	}
	s.users[u.ID] = cloneUser(u)
	s.byEmail[u.Email] = u.ID
	return nil
}

func (s *MemoryStore) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byEmail[NormalizeEmail(email)]
	if !ok {
		return nil, model.ErrNotFound
	}
	return cloneUser(s.users[id]), nil
}

func (s *MemoryStore) GetByID(ctx context.Context, id string) (*model.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	return cloneUser(u), nil
}

func (s *MemoryStore) GetByIDs(ctx context.Context, ids []string) ([]model.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.User, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if u, ok := s.users[id]; ok && !seen[id] {
			out = append(out, *cloneUser(u))
			seen[id] = true
		}
	}
	return out, nil
}

func (s *MemoryStore) ToggleFriend(ctx context.Context, a, b string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if a == b {
		return false, model.ErrSelfFriend
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ua, okA := s.users[a]
	ub, okB := s.users[b]
	if !okA || !okB {
		return false, model.ErrNotFound
	}
	now := s.now().UTC()
	ua.UpdatedAt, ub.UpdatedAt = now, now
	if contains(ua.Friends, b) {
		ua.Friends = remove(ua.Friends, b)
		ub.Friends = remove(ub.Friends, a)
		return false, nil
	}
	ua.Friends = append(ua.Friends, b)
	if !contains(ub.Friends, a) {
		ub.Friends = append(ub.Friends, a)
	}
	return true, nil
}

func (s *MemoryStore) ListFriendIDs(ctx context.Context, id string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	return append([]string{}, u.Friends...), nil
}

// Posts returns the PostStore view of s. It shares s's mutex; a separate
// type is needed because Create is already taken by CredentialStore.
func (s *MemoryStore) Posts() PostStore { return memoryPosts{s} }

type memoryPosts struct{ s *MemoryStore }

func (m memoryPosts) Create(ctx context.Context, p *model.Post) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if _, taken := m.s.posts[p.ID]; taken {
		return fmt.Errorf("post %s already exists", p.ID)
	}
	if p.Likes == nil {
		p.Likes = map[string]bool{}
	}
	if p.Comments == nil {
		p.Comments = []string{}
	}
	m.s.posts[p.ID] = clonePost(p)
	return nil
}

func (m memoryPosts) Get(ctx context.Context, id string) (*model.Post, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	p, ok := m.s.posts[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	return clonePost(p), nil
}

func (m memoryPosts) List(ctx context.Context, limit int) ([]model.Post, error) {
	return m.list(ctx, "", limit)
}

func (m memoryPosts) ListByUser(ctx context.Context, userID string) ([]model.Post, error) {
	return m.list(ctx, userID, 0)
}

func (m memoryPosts) list(ctx context.Context, userID string, limit int) ([]model.Post, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	out := []model.Post{}
	for _, p := range m.s.posts {
		if userID == "" || p.UserID == userID {
			out = append(out, *clonePost(p))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m memoryPosts) ToggleLike(ctx context.Context, postID, userID string) (*model.Post, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	p, ok := m.s.posts[postID]
	if !ok {
		return nil, false, model.ErrNotFound
	}
	liked := !p.Likes[userID]
	if liked {
		p.Likes[userID] = true
	} else {
		delete(p.Likes, userID)
	}
	p.UpdatedAt = m.s.now().UTC()
	return clonePost(p), liked, nil
}

func (m memoryPosts) AppendComment(ctx context.Context, postID, text string) (*model.Post, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	p, ok := m.s.posts[postID]
	if !ok {
		return nil, model.ErrNotFound
	}
	p.Comments = append(p.Comments, text)
	p.UpdatedAt = m.s.now().UTC()
	return clonePost(p), nil
}

func cloneUser(u *model.User) *model.User {
	c := *u
	c.Friends = append([]string{}, u.Friends...)
	if u.PasswordHash != nil {
		h := *u.PasswordHash
		c.PasswordHash = &h
	}
	return &c
}

func clonePost(p *model.Post) *model.Post {
	c := *p
	c.Likes = make(map[string]bool, len(p.Likes))
	for k, v := range p.Likes {
		c.Likes[k] = v
	}
	c.Comments = append([]string{}, p.Comments...)
	return &c
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func remove(list []string, v string) []string {
	out := list[:0]
	for _, s := range list {
		if s != v {
			out = append(out, s)
		}
	}
	return out
}
