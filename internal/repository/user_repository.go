package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/iliyamo/vibe/internal/model"
)

const userColumns = `id, first_name, last_name, email, password_hash, picture_path, location,
	occupation, provider, provider_subject, viewed_profile, impressions, created_at, updated_at`

// UserRepo is the MySQL CredentialStore. Friend ids live in the friendships
// table and are attached on single-record reads.
type UserRepo struct{ DB *sqlx.DB }

func NewUserRepo(db *sqlx.DB) *UserRepo { return &UserRepo{DB: db} }

// Create inserts the identity. A duplicate email surfaces as
// model.ErrDuplicateIdentity via the unique index.
func (r *UserRepo) Create(ctx context.Context, u *model.User) error {
	u.Email = NormalizeEmail(u.Email)
	_, err := r.DB.NamedExecContext(ctx,
		`INSERT INTO users (`+userColumns+`) VALUES (:id, :first_name, :last_name, :email, :password_hash,
			:picture_path, :location, :occupation, :provider, :provider_subject, :viewed_profile,
			:impressions, :created_at, :updated_at)`, u)
	if err != nil {
		if isDuplicateKey(err) {
			return fmt.Errorf("%w: %s", model.ErrDuplicateIdentity, u.Email)
		}
		return err
	}
	if u.Friends == nil {
		u.Friends = []string{}
	}
	return nil
}

// GetByEmail fetches an identity by normalized email.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	var u model.User
	err := r.DB.GetContext(ctx, &u,
		"SELECT "+userColumns+" FROM users WHERE email = ? LIMIT 1", NormalizeEmail(email))
	if err != nil {
		return nil, notFound(err)
	}
	if err := r.attachFriends(ctx, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// GetByID fetches an identity by id.
func (r *UserRepo) GetByID(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	err := r.DB.GetContext(ctx, &u,
		"SELECT "+userColumns+" FROM users WHERE id = ? LIMIT 1", id)
	if err != nil {
		return nil, notFound(err)
	}
	if err := r.attachFriends(ctx, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// GetByIDs resolves many identities with one IN query. Friend lists are not
// attached; callers only need the summary fields.
func (r *UserRepo) GetByIDs(ctx context.Context, ids []string) ([]model.User, error) {
	if len(ids) == 0 {
		return []model.User{}, nil
	}
	q, args, err := sqlx.In("SELECT "+userColumns+" FROM users WHERE id IN (?)", ids)
	if err != nil {
		return nil, err
	}
	var rows []model.User
	if err := r.DB.SelectContext(ctx, &rows, r.DB.Rebind(q), args...); err != nil {
		return nil, err
	}
	return orderByIDs(rows, ids), nil
}

func (r *UserRepo) attachFriends(ctx context.Context, u *model.User) error {
	ids := []string{}
	if err := r.DB.SelectContext(ctx, &ids,
		"SELECT friend_id FROM friendships WHERE user_id = ? ORDER BY created_at, friend_id", u.ID); err != nil {
		return err
	}
	u.Friends = ids
	return nil
}

// orderByIDs returns users in the order of ids, skipping ids with no match.
func orderByIDs(users []model.User, ids []string) []model.User {
	byID := make(map[string]model.User, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}
	out := make([]model.User, 0, len(users))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if u, ok := byID[id]; ok && !seen[id] {
			out = append(out, u)
			seen[id] = true
		}
	}
	return out
}
