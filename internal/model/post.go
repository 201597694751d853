package model

import "time"

// Post is a feed entry together with its engagement record. Likes holds
// one presence marker per identity id; Comments is append-only and ordered
// oldest first.
type Post struct {
	ID              string          `db:"id" bson:"_id" json:"_id"`
	UserID          string          `db:"user_id" bson:"user_id" json:"userId"`
	FirstName       string          `db:"first_name" bson:"first_name" json:"firstName"`
	LastName        string          `db:"last_name" bson:"last_name" json:"lastName"`
	Location        string          `db:"location" bson:"location" json:"location"`
	Description     string          `db:"description" bson:"description" json:"description"`
	PicturePath     string          `db:"picture_path" bson:"picture_path" json:"picturePath"`
	UserPicturePath string          `db:"user_picture_path" bson:"user_picture_path" json:"userPicturePath"`
	Likes           map[string]bool `db:"-" bson:"likes" json:"likes"`
	Comments        []string        `db:"-" bson:"comments" json:"comments"`
	CreatedAt       time.Time       `db:"created_at" bson:"created_at" json:"createdAt"`
	UpdatedAt       time.Time       `db:"updated_at" bson:"updated_at" json:"updatedAt"`
}

// LikedBy reports whether the identity currently has a like marker on the post.
func (p *Post) LikedBy(userID string) bool {
	return p.Likes[userID]
}
