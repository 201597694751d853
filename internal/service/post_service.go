package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/iliyamo/vibe/internal/model"
	"github.com/iliyamo/vibe/internal/queue"
	"github.com/iliyamo/vibe/internal/repository"
)

// DefaultFeedLimit caps GET /posts.
const DefaultFeedLimit = 100

// CreatePostInput is the body of POST /posts.
type CreatePostInput struct {
	Description string `json:"description" validate:"max=2000"`
	PicturePath string `json:"picturePath" validate:"omitempty,max=512"`
}

// PostService creates and lists posts. Engagement lives in
// EngagementService.
type PostService struct {
	posts    repository.PostStore
	users    repository.CredentialStore
	validate *validator.Validate
	deps     Deps
	now      func() time.Time
}

func NewPostService(posts repository.PostStore, users repository.CredentialStore, deps Deps) *PostService {
	return &PostService{
		posts:    posts,
		users:    users,
		validate: newValidator(),
		deps:     deps.withDefaults(),
		now:      time.Now,
	}
}

// Create stores a post authored by authorID. The author's name, location and
// picture are copied onto the post.
func (s *PostService) Create(ctx context.Context, authorID string, in CreatePostInput) (*model.Post, error) {
	in.Description = strings.TrimSpace(in.Description)
	in.PicturePath = strings.TrimSpace(in.PicturePath)
	if err := s.validate.Struct(in); err != nil {
		return nil, validationError(err)
	}
	if in.Description == "" && in.PicturePath == "" {
		return nil, fmt.Errorf("%w: description or picturePath required", model.ErrValidation)
	}

	author, err := s.users.GetByID(ctx, authorID)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	p := &model.Post{
		ID:              uuid.NewString(),
		UserID:          author.ID,
		FirstName:       author.FirstName,
		LastName:        author.LastName,
		Location:        author.Location,
		Description:     in.Description,
		PicturePath:     in.PicturePath,
		UserPicturePath: author.PicturePath,
		Likes:           map[string]bool{},
		Comments:        []string{},
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.posts.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("create post: %w", err)
	}
	s.deps.emit(ctx, queue.NewEvent(queue.PostCreated, author.ID, p.ID))
	return p, nil
}

// Feed returns the newest posts first.
func (s *PostService) Feed(ctx context.Context, limit int) ([]model.Post, error) {
	if limit <= 0 || limit > DefaultFeedLimit {
		limit = DefaultFeedLimit
	}
	return s.posts.List(ctx, limit)
}

// ByUser returns userID's posts, or model.ErrNotFound when there are none.
func (s *PostService) ByUser(ctx context.Context, userID string) ([]model.Post, error) {
	posts, err := s.posts.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(posts) == 0 {
		return nil, fmt.Errorf("%w: no posts for user %s", model.ErrNotFound, userID)
	}
	return posts, nil
}

