package repository

import (
	"context"

	"github.com/iliyamo/vibe/internal/model"
)

// CredentialStore persists identity records. Email uniqueness is enforced
// by the store itself, never by a read-then-write in the caller.
type CredentialStore interface {
	// Create inserts u. The caller assigns ID and timestamps. Returns
	// model.ErrDuplicateIdentity when the email is taken.
	Create(ctx context.Context, u *model.User) error
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	GetByID(ctx context.Context, id string) (*model.User, error)
	// GetByIDs resolves ids in one round trip. Unknown ids are skipped and
	// the result keeps the order of ids.
	GetByIDs(ctx context.Context, ids []string) ([]model.User, error)
}

// FriendStore maintains the symmetric friend relation.
type FriendStore interface {
	// ToggleFriend removes the a<->b edge when present and adds it when
	// absent, on both sides, and reports whether the edge now exists.
	// Returns model.ErrNotFound if either identity is missing.
	ToggleFriend(ctx context.Context, a, b string) (added bool, err error)
	// ListFriendIDs returns the ids adjacent to id, or model.ErrNotFound.
	ListFriendIDs(ctx context.Context, id string) ([]string, error)
}

// PostStore persists posts and their engagement records.
type PostStore interface {
	Create(ctx context.Context, p *model.Post) error
	Get(ctx context.Context, id string) (*model.Post, error)
	// List returns posts newest first. limit <= 0 means no limit.
	List(ctx context.Context, limit int) ([]model.Post, error)
	ListByUser(ctx context.Context, userID string) ([]model.Post, error)
	// ToggleLike flips userID's presence in the post's like set against the
	// persisted state and returns the updated post and whether it is now
	// liked by userID.
	ToggleLike(ctx context.Context, postID, userID string) (*model.Post, bool, error)
	// AppendComment appends text to the post's comment log.
	AppendComment(ctx context.Context, postID, text string) (*model.Post, error)
}
