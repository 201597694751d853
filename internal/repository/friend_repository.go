package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/iliyamo/vibe/internal/model"
)

// FriendRepo stores each friendship as two directed rows in friendships.
// Both rows change in one transaction, so readers never observe a half edge.
type FriendRepo struct{ DB *sqlx.DB }

func NewFriendRepo(db *sqlx.DB) *FriendRepo { return &FriendRepo{DB: db} }

// ToggleFriend locks both identity rows in id order, reads the a->b row and
// then deletes or inserts both directions before committing.
func (r *FriendRepo) ToggleFriend(ctx context.Context, a, b string) (added bool, err error) {
	if a == b {
		return false, model.ErrSelfFriend
	}
	tx, err := r.DB.BeginTxx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()

	lo, hi := a, b
	if hi < lo {
		lo, hi = hi, lo
	}
	var locked []string
	if err = tx.SelectContext(ctx, &locked,
		"SELECT id FROM users WHERE id IN (?, ?) ORDER BY id FOR UPDATE", lo, hi); err != nil {
		return false, err
	}
	if len(locked) < 2 {
		err = model.ErrNotFound
		return false, err
	}

	var n int
	if err = tx.GetContext(ctx, &n,
		"SELECT COUNT(*) FROM friendships WHERE user_id = ? AND friend_id = ?", a, b); err != nil {
		return false, err
	}
	if n > 0 {
		_, err = tx.ExecContext(ctx,
			`DELETE FROM friendships
			 WHERE (user_id = ? AND friend_id = ?) OR (user_id = ? AND friend_id = ?)`,
			a, b, b, a)
		return false, err
	}
	// INSERT IGNORE repairs a pair where only b->a survived.
	_, err = tx.ExecContext(ctx,
		"INSERT IGNORE INTO friendships (user_id, friend_id) VALUES (?, ?), (?, ?)", a, b, b, a)
	return err == nil, err
}

// ListFriendIDs returns the ids adjacent to id, oldest edge first.
func (r *FriendRepo) ListFriendIDs(ctx context.Context, id string) ([]string, error) {
	var exists int
	if err := r.DB.GetContext(ctx, &exists, "SELECT COUNT(*) FROM users WHERE id = ?", id); err != nil {
		return nil, err
	}
	if exists == 0 {
		return nil, model.ErrNotFound
	}
	ids := []string{}
	if err := r.DB.SelectContext(ctx, &ids,
		"SELECT friend_id FROM friendships WHERE user_id = ? ORDER BY created_at, friend_id", id); err != nil {
		return nil, err
	}
	return ids, nil
}
