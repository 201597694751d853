package model

import "time"

// DefaultPicturePath is assigned to identities that register without a
// profile picture.
const DefaultPicturePath = "default-profile.png"

// ProviderGoogle names the only federated identity provider currently
// accepted by the auth service.
const ProviderGoogle = "google"

// User represents an identity record as persisted by the credential store.
// The same struct is scanned by sqlx (db tags), decoded from MongoDB (bson
// tags) and rendered to clients (json tags).
//
// Fields:
//
//	ID              – opaque UUID string, primary key.
//	Email           – unique, lower-cased and trimmed.
//	PasswordHash    – bcrypt hash; nil for federated-only accounts. Never rendered.
//	Provider        – federated provider name ("google") or empty.
//	ProviderSubject – subject claim at the provider or empty.
//	Friends         – adjacent identity ids. Filled by the store on reads.
type User struct {
	ID              string    `db:"id" bson:"_id" json:"_id"`
	FirstName       string    `db:"first_name" bson:"first_name" json:"firstName"`
	LastName        string    `db:"last_name" bson:"last_name" json:"lastName"`
	Email           string    `db:"email" bson:"email" json:"email"`
	PasswordHash    *string   `db:"password_hash" bson:"password_hash,omitempty" json:"-"`
	PicturePath     string    `db:"picture_path" bson:"picture_path" json:"picturePath"`
	Location        string    `db:"location" bson:"location" json:"location"`
	Occupation      string    `db:"occupation" bson:"occupation" json:"occupation"`
	Provider        string    `db:"provider" bson:"provider,omitempty" json:"provider,omitempty"`
	ProviderSubject string    `db:"provider_subject" bson:"provider_subject,omitempty" json:"-"`
	ViewedProfile   int       `db:"viewed_profile" bson:"viewed_profile" json:"viewedProfile"`
	Impressions     int       `db:"impressions" bson:"impressions" json:"impressions"`
	Friends         []string  `db:"-" bson:"friends" json:"friends"`
	CreatedAt       time.Time `db:"created_at" bson:"created_at" json:"createdAt"`
	UpdatedAt       time.Time `db:"updated_at" bson:"updated_at" json:"updatedAt"`
}

// HasLocalPassword reports whether the account can log in with a password.
func (u *User) HasLocalPassword() bool {
	return u.PasswordHash != nil && *u.PasswordHash != ""
}

// FriendSummary is the projection of a User returned by friend listings.
type FriendSummary struct {
	ID          string `db:"id" bson:"_id" json:"_id"`
	FirstName   string `db:"first_name" bson:"first_name" json:"firstName"`
	LastName    string `db:"last_name" bson:"last_name" json:"lastName"`
	Occupation  string `db:"occupation" bson:"occupation" json:"occupation"`
	Location    string `db:"location" bson:"location" json:"location"`
	PicturePath string `db:"picture_path" bson:"picture_path" json:"picturePath"`
}

// Summary projects the user into a FriendSummary.
func (u *User) Summary() FriendSummary {
	return FriendSummary{
		ID:          u.ID,
		FirstName:   u.FirstName,
		LastName:    u.LastName,
		Occupation:  u.Occupation,
		Location:    u.Location,
		PicturePath: u.PicturePath,
	}
}
