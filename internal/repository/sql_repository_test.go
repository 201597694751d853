package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/vibe/internal/model"
)

var (
	userCols = []string{"id", "first_name", "last_name", "email", "password_hash", "picture_path", "location",
		"occupation", "provider", "provider_subject", "viewed_profile", "impressions", "created_at", "updated_at"}
	postCols = []string{"id", "user_id", "first_name", "last_name", "location", "description", "picture_path",
		"user_picture_path", "created_at", "updated_at"}
	ts = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
)

func newMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return sqlx.NewDb(db, "mysql"), mock
}

func userRow(id, email string, hash interface{}) *sqlmock.Rows {
	return sqlmock.NewRows(userCols).AddRow(id, "Ada", "Lovelace", email, hash, "p.png", "London",
		"Engineer", "", "", 3, 4, ts, ts)
}

func postRows() *sqlmock.Rows {
	return sqlmock.NewRows(postCols)
}

func TestUserRepoCreateDuplicate(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectExec("INSERT INTO users").
		WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry"})

	err := NewUserRepo(db).Create(context.Background(), &model.User{ID: "u1", Email: " Ada@Example.com "})
	assert.ErrorIs(t, err, model.ErrDuplicateIdentity)
}

func TestUserRepoCreate(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectExec("INSERT INTO users").WillReturnResult(sqlmock.NewResult(0, 1))

	u := &model.User{ID: "u1", Email: " Ada@Example.com ", CreatedAt: ts, UpdatedAt: ts}
	require.NoError(t, NewUserRepo(db).Create(context.Background(), u))
	assert.Equal(t, "ada@example.com", u.Email)
	assert.Equal(t, []string{}, u.Friends)
}

func TestUserRepoGetByEmail(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery(`(?s)SELECT .+ FROM users WHERE email = \? LIMIT 1`).
		WithArgs("ada@example.com").
		WillReturnRows(userRow("u1", "ada@example.com", "$2a$hash"))
	mock.ExpectQuery(`SELECT friend_id FROM friendships WHERE user_id = \?`).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"friend_id"}).AddRow("u2").AddRow("u3"))

	u, err := NewUserRepo(db).GetByEmail(context.Background(), "ADA@example.com ")
	require.NoError(t, err)
	assert.Equal(t, "u1", u.ID)
	require.NotNil(t, u.PasswordHash)
	assert.True(t, u.HasLocalPassword())
	assert.Equal(t, []string{"u2", "u3"}, u.Friends)
}

func TestUserRepoGetByIDFederatedAccount(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery(`(?s)SELECT .+ FROM users WHERE id = \? LIMIT 1`).
		WithArgs("u1").
		WillReturnRows(userRow("u1", "ada@example.com", nil))
	mock.ExpectQuery(`SELECT friend_id FROM friendships`).
		WillReturnRows(sqlmock.NewRows([]string{"friend_id"}))

	u, err := NewUserRepo(db).GetByID(context.Background(), "u1")
	require.NoError(t, err)
	assert.Nil(t, u.PasswordHash)
	assert.False(t, u.HasLocalPassword())
	assert.Equal(t, []string{}, u.Friends)
}

func TestUserRepoGetByIDNotFound(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery(`(?s)SELECT .+ FROM users WHERE id = \?`).
		WithArgs("nope").
		WillReturnError(sql.ErrNoRows)

	_, err := NewUserRepo(db).GetByID(context.Background(), "nope")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestUserRepoGetByIDsKeepsRequestOrder(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery(`(?s)SELECT .+ FROM users WHERE id IN \(\?, \?, \?\)`).
		WithArgs("u3", "u1", "gone").
		WillReturnRows(sqlmock.NewRows(userCols).
			AddRow("u1", "A", "B", "a@x.io", nil, "", "", "", "", "", 0, 0, ts, ts).
			AddRow("u3", "C", "D", "c@x.io", nil, "", "", "", "", "", 0, 0, ts, ts))

	users, err := NewUserRepo(db).GetByIDs(context.Background(), []string{"u3", "u1", "gone"})
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "u3", users[0].ID)
	assert.Equal(t, "u1", users[1].ID)
}

func TestUserRepoGetByIDsEmpty(t *testing.T) {
	db, _ := newMock(t)
	users, err := NewUserRepo(db).GetByIDs(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, users)
}

func expectLockUsers(mock sqlmock.Sqlmock, ids ...string) {
	rows := sqlmock.NewRows([]string{"id"})
	for _, id := range ids {
		rows.AddRow(id)
	}
	mock.ExpectQuery(`SELECT id FROM users WHERE id IN \(\?, \?\) ORDER BY id FOR UPDATE`).
		WithArgs("a", "b").
		WillReturnRows(rows)
}

func TestFriendRepoToggleAdds(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectBegin()
	expectLockUsers(mock, "a", "b")
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM friendships WHERE user_id = \? AND friend_id = \?`).
		WithArgs("b", "a").
		WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(0))
	mock.ExpectExec(`INSERT IGNORE INTO friendships \(user_id, friend_id\) VALUES \(\?, \?\), \(\?, \?\)`).
		WithArgs("b", "a", "a", "b").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	added, err := NewFriendRepo(db).ToggleFriend(context.Background(), "b", "a")
	require.NoError(t, err)
	assert.True(t, added)
}

func TestFriendRepoToggleRemovesBothRows(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectBegin()
	expectLockUsers(mock, "a", "b")
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM friendships`).
		WithArgs("a", "b").
		WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(1))
	mock.ExpectExec(`DELETE FROM friendships`).
		WithArgs("a", "b", "b", "a").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	added, err := NewFriendRepo(db).ToggleFriend(context.Background(), "a", "b")
	require.NoError(t, err)
	assert.False(t, added)
}

func TestFriendRepoToggleUnknownUserRollsBack(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectBegin()
	expectLockUsers(mock, "a")
	mock.ExpectRollback()

	_, err := NewFriendRepo(db).ToggleFriend(context.Background(), "a", "b")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestFriendRepoToggleSelf(t *testing.T) {
	db, _ := newMock(t)
	_, err := NewFriendRepo(db).ToggleFriend(context.Background(), "a", "a")
	assert.ErrorIs(t, err, model.ErrSelfFriend)
}

func TestFriendRepoListFriendIDs(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM users WHERE id = \?`).
		WithArgs("a").
		WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(1))
	mock.ExpectQuery(`SELECT friend_id FROM friendships WHERE user_id = \?`).
		WithArgs("a").
		WillReturnRows(sqlmock.NewRows([]string{"friend_id"}).AddRow("b"))

	ids, err := NewFriendRepo(db).ListFriendIDs(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, ids)
}

func TestFriendRepoListFriendIDsUnknown(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM users`).
		WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(0))

	_, err := NewFriendRepo(db).ListFriendIDs(context.Background(), "x")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func expectPostReload(mock sqlmock.Sqlmock, likes [][2]string, comments [][2]string) {
	mock.ExpectQuery(`(?s)SELECT .+ FROM posts WHERE id = \? LIMIT 1`).
		WithArgs("p1").
		WillReturnRows(postRows().AddRow("p1", "u9", "Ada", "L", "", "hi", "", "", ts, ts))
	lr := sqlmock.NewRows([]string{"post_id", "user_id"})
	for _, l := range likes {
		lr.AddRow(l[0], l[1])
	}
	mock.ExpectQuery(`SELECT post_id, user_id FROM post_likes WHERE post_id IN \(\?\)`).
		WithArgs("p1").
		WillReturnRows(lr)
	cr := sqlmock.NewRows([]string{"post_id", "body"})
	for _, c := range comments {
		cr.AddRow(c[0], c[1])
	}
	mock.ExpectQuery(`SELECT post_id, body FROM post_comments WHERE post_id IN \(\?\) ORDER BY id`).
		WithArgs("p1").
		WillReturnRows(cr)
}

func TestPostRepoToggleLikeInserts(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id FROM posts WHERE id = \? FOR UPDATE`).
		WithArgs("p1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("p1"))
	mock.ExpectExec(`DELETE FROM post_likes WHERE post_id = \? AND user_id = \?`).
		WithArgs("p1", "u1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO post_likes \(post_id, user_id\) VALUES \(\?, \?\)`).
		WithArgs("p1", "u1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE posts SET updated_at`).
		WithArgs("p1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	expectPostReload(mock, [][2]string{{"p1", "u1"}, {"p1", "u2"}}, nil)
	mock.ExpectCommit()

	post, liked, err := NewPostRepo(db).ToggleLike(context.Background(), "p1", "u1")
	require.NoError(t, err)
	assert.True(t, liked)
	assert.Equal(t, map[string]bool{"u1": true, "u2": true}, post.Likes)
	assert.Equal(t, []string{}, post.Comments)
}

func TestPostRepoToggleLikeDeletes(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id FROM posts WHERE id = \? FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("p1"))
	mock.ExpectExec(`DELETE FROM post_likes`).
		WithArgs("p1", "u1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE posts SET updated_at`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	expectPostReload(mock, [][2]string{{"p1", "u2"}}, nil)
	mock.ExpectCommit()

	post, liked, err := NewPostRepo(db).ToggleLike(context.Background(), "p1", "u1")
	require.NoError(t, err)
	assert.False(t, liked)
	assert.False(t, post.LikedBy("u1"))
	assert.True(t, post.LikedBy("u2"))
}

func TestPostRepoToggleLikeMissingPost(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id FROM posts WHERE id = \? FOR UPDATE`).
		WithArgs("p1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectRollback()

	_, _, err := NewPostRepo(db).ToggleLike(context.Background(), "p1", "u1")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestPostRepoAppendComment(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id FROM posts WHERE id = \? FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("p1"))
	mock.ExpectExec(`INSERT INTO post_comments \(post_id, body\) VALUES \(\?, \?\)`).
		WithArgs("p1", "second").
		WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectExec(`UPDATE posts SET updated_at`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	expectPostReload(mock, nil, [][2]string{{"p1", "first"}, {"p1", "second"}})
	mock.ExpectCommit()

	post, err := NewPostRepo(db).AppendComment(context.Background(), "p1", "second")
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, post.Comments)
}

func TestPostRepoListAttachesEngagement(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery(`(?s)SELECT .+ FROM posts ORDER BY created_at DESC, id DESC LIMIT \?`).
		WithArgs(10).
		WillReturnRows(postRows().
			AddRow("p2", "u1", "A", "B", "", "two", "", "", ts.Add(time.Minute), ts).
			AddRow("p1", "u1", "A", "B", "", "one", "", "", ts, ts))
	mock.ExpectQuery(`SELECT post_id, user_id FROM post_likes WHERE post_id IN \(\?, \?\)`).
		WithArgs("p2", "p1").
		WillReturnRows(sqlmock.NewRows([]string{"post_id", "user_id"}).AddRow("p1", "u5"))
	mock.ExpectQuery(`SELECT post_id, body FROM post_comments`).
		WithArgs("p2", "p1").
		WillReturnRows(sqlmock.NewRows([]string{"post_id", "body"}).AddRow("p2", "nice"))

	posts, err := NewPostRepo(db).List(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, posts, 2)
	assert.Equal(t, "p2", posts[0].ID)
	assert.Equal(t, []string{"nice"}, posts[0].Comments)
	assert.Empty(t, posts[0].Likes)
	assert.True(t, posts[1].LikedBy("u5"))
}

func TestPostRepoListByUserEmpty(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery(`(?s)SELECT .+ FROM posts WHERE user_id = \?`).
		WithArgs("u1").
		WillReturnRows(postRows())

	posts, err := NewPostRepo(db).ListByUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.Empty(t, posts)
}
