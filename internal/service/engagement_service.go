package service

import (
	"context"
	"fmt"
	"html"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"

	"github.com/iliyamo/vibe/internal/model"
	"github.com/iliyamo/vibe/internal/queue"
	"github.com/iliyamo/vibe/internal/repository"
)

// MaxCommentRunes caps a single comment after sanitizing.
const MaxCommentRunes = 2000

// EngagementService toggles likes and appends comments. Every mutation is a
// keyed write against the persisted post, so concurrent requests from
// different identities never overwrite each other.
type EngagementService struct {
	posts  repository.PostStore
	policy *bluemonday.Policy
	deps   Deps
}

func NewEngagementService(posts repository.PostStore, deps Deps) *EngagementService {
	return &EngagementService{
		posts:  posts,
		policy: bluemonday.StrictPolicy(),
		deps:   deps.withDefaults(),
	}
}

// ToggleLike flips actorID's like on the post and returns the updated post.
func (s *EngagementService) ToggleLike(ctx context.Context, postID, actorID string) (*model.Post, error) {
	if actorID == "" {
		return nil, fmt.Errorf("%w: missing actor", model.ErrValidation)
	}
	post, liked, err := s.posts.ToggleLike(ctx, postID, actorID)
	if err != nil {
		return nil, err
	}
	s.deps.Metrics.RecordLikeToggle(liked)
	evType := queue.PostUnliked
	if liked {
		evType = queue.PostLiked
	}
	s.deps.emit(ctx, queue.NewEvent(evType, actorID, postID))
	return post, nil
}

// AppendComment strips markup from text and appends it to the post's
// comment log.
func (s *EngagementService) AppendComment(ctx context.Context, postID, actorID, text string) (*model.Post, error) {
	clean, err := s.SanitizeComment(text)
	if err != nil {
		return nil, err
	}
	post, err := s.posts.AppendComment(ctx, postID, clean)
	if err != nil {
		return nil, err
	}
	s.deps.Metrics.RecordComment()
	s.deps.emit(ctx, queue.NewEvent(queue.PostCommented, actorID, postID).
		With("length", strconv.Itoa(utf8.RuneCountInString(clean))))
	return post, nil
}

// SanitizeComment removes every HTML element, decodes entities back to
// plain text and trims. Blank results and results longer than
// MaxCommentRunes are rejected.
func (s *EngagementService) SanitizeComment(text string) (string, error) {
	clean := strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(text)))
	if clean == "" {
		return "", model.ErrEmptyComment
	}
	if n := utf8.RuneCountInString(clean); n > MaxCommentRunes {
		return "", fmt.Errorf("%w: comment is %d characters, max %d", model.ErrValidation, n, MaxCommentRunes)
	}
	return clean, nil
}
