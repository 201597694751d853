package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/iliyamo/vibe/internal/model"
)

const postColumns = `id, user_id, first_name, last_name, location, description, picture_path,
	user_picture_path, created_at, updated_at`

// PostRepo is the MySQL PostStore. Likes are rows in post_likes keyed by
// (post_id, user_id); comments are rows in post_comments ordered by their
// auto-increment id. Engagement mutations lock the post row so that toggles
// on the same post apply one at a time against committed state.
type PostRepo struct{ DB *sqlx.DB }

func NewPostRepo(db *sqlx.DB) *PostRepo { return &PostRepo{DB: db} }

// Create inserts p with an empty engagement record.
func (r *PostRepo) Create(ctx context.Context, p *model.Post) error {
	_, err := r.DB.NamedExecContext(ctx,
		`INSERT INTO posts (`+postColumns+`) VALUES (:id, :user_id, :first_name, :last_name, :location,
			:description, :picture_path, :user_picture_path, :created_at, :updated_at)`, p)
	if err != nil {
		return err
	}
	p.Likes = map[string]bool{}
	p.Comments = []string{}
	return nil
}

// Get fetches a post with its likes and comments.
func (r *PostRepo) Get(ctx context.Context, id string) (*model.Post, error) {
	return getPost(ctx, r.DB, id)
}

// List returns the feed newest first.
func (r *PostRepo) List(ctx context.Context, limit int) ([]model.Post, error) {
	q := "SELECT " + postColumns + " FROM posts ORDER BY created_at DESC, id DESC"
	args := []interface{}{}
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}
	posts := []model.Post{}
	if err := r.DB.SelectContext(ctx, &posts, q, args...); err != nil {
		return nil, err
	}
	if err := attachEngagement(ctx, r.DB, posts); err != nil {
		return nil, err
	}
	return posts, nil
}

// ListByUser returns one author's posts newest first.
func (r *PostRepo) ListByUser(ctx context.Context, userID string) ([]model.Post, error) {
	posts := []model.Post{}
	if err := r.DB.SelectContext(ctx, &posts,
		"SELECT "+postColumns+" FROM posts WHERE user_id = ? ORDER BY created_at DESC, id DESC", userID); err != nil {
		return nil, err
	}
	if err := attachEngagement(ctx, r.DB, posts); err != nil {
		return nil, err
	}
	return posts, nil
}

// ToggleLike deletes the (post, user) like row and inserts it when nothing
// was deleted. The whole like set is never rewritten.
func (r *PostRepo) ToggleLike(ctx context.Context, postID, userID string) (post *model.Post, liked bool, err error) {
	tx, err := r.DB.BeginTxx(ctx, nil)
	if err != nil {
		return nil, false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()

	if err = lockPost(ctx, tx, postID); err != nil {
		return nil, false, err
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM post_likes WHERE post_id = ? AND user_id = ?", postID, userID)
	if err != nil {
		return nil, false, err
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return nil, false, err
	}
	if removed == 0 {
		if _, err = tx.ExecContext(ctx,
			"INSERT INTO post_likes (post_id, user_id) VALUES (?, ?)", postID, userID); err != nil {
			return nil, false, err
		}
	}
	if _, err = tx.ExecContext(ctx,
		"UPDATE posts SET updated_at = CURRENT_TIMESTAMP(3) WHERE id = ?", postID); err != nil {
		return nil, false, err
	}
	post, err = getPost(ctx, tx, postID)
	if err != nil {
		return nil, false, err
	}
	return post, removed == 0, nil
}

// AppendComment adds one row to post_comments. Earlier rows are never
// touched.
func (r *PostRepo) AppendComment(ctx context.Context, postID, text string) (post *model.Post, err error) {
	tx, err := r.DB.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()

	if err = lockPost(ctx, tx, postID); err != nil {
		return nil, err
	}
	if _, err = tx.ExecContext(ctx,
		"INSERT INTO post_comments (post_id, body) VALUES (?, ?)", postID, text); err != nil {
		return nil, err
	}
	if _, err = tx.ExecContext(ctx,
		"UPDATE posts SET updated_at = CURRENT_TIMESTAMP(3) WHERE id = ?", postID); err != nil {
		return nil, err
	}
	return getPost(ctx, tx, postID)
}

func lockPost(ctx context.Context, tx *sqlx.Tx, postID string) error {
	var id string
	if err := tx.GetContext(ctx, &id, "SELECT id FROM posts WHERE id = ? FOR UPDATE", postID); err != nil {
		return notFound(err)
	}
	return nil
}

func getPost(ctx context.Context, q sqlx.QueryerContext, id string) (*model.Post, error) {
	var p model.Post
	if err := sqlx.GetContext(ctx, q, &p,
		"SELECT "+postColumns+" FROM posts WHERE id = ? LIMIT 1", id); err != nil {
		return nil, notFound(err)
	}
	posts := []model.Post{p}
	if err := attachEngagement(ctx, q, posts); err != nil {
		return nil, err
	}
	return &posts[0], nil
}

type likeRow struct {
	PostID string `db:"post_id"`
	UserID string `db:"user_id"`
}

type commentRow struct {
	PostID string `db:"post_id"`
	Body   string `db:"body"`
}

// attachEngagement fills Likes and Comments for posts with two IN queries.
func attachEngagement(ctx context.Context, q sqlx.QueryerContext, posts []model.Post) error {
	if len(posts) == 0 {
		return nil
	}
	ids := make([]string, len(posts))
	index := make(map[string]int, len(posts))
	for i := range posts {
		ids[i] = posts[i].ID
		index[posts[i].ID] = i
		posts[i].Likes = map[string]bool{}
		posts[i].Comments = []string{}
	}

	likeQ, args, err := sqlx.In("SELECT post_id, user_id FROM post_likes WHERE post_id IN (?)", ids)
	if err != nil {
		return err
	}
	var likes []likeRow
	if err := sqlx.SelectContext(ctx, q, &likes, likeQ, args...); err != nil {
		return err
	}
	for _, l := range likes {
		if i, ok := index[l.PostID]; ok {
			posts[i].Likes[l.UserID] = true
		}
	}

	commentQ, args, err := sqlx.In("SELECT post_id, body FROM post_comments WHERE post_id IN (?) ORDER BY id", ids)
	if err != nil {
		return err
	}
	var comments []commentRow
	if err := sqlx.SelectContext(ctx, q, &comments, commentQ, args...); err != nil {
		return err
	}
	for _, c := range comments {
		if i, ok := index[c.PostID]; ok {
			posts[i].Comments = append(posts[i].Comments, c.Body)
		}
	}
	return nil
}
