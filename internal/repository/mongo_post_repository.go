package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/iliyamo/vibe/internal/database"
	"github.com/iliyamo/vibe/internal/model"
)

// maxLikeAttempts bounds the conditional-update loop in ToggleLike.
const maxLikeAttempts = 5

// MongoPostRepo is the MongoDB PostStore. Likes are a sub-document keyed by
// identity id, so each toggle touches exactly one key.
type MongoPostRepo struct {
	coll *mongo.Collection
	now  func() time.Time
}

func NewMongoPostRepo(db *mongo.Database) *MongoPostRepo {
	return &MongoPostRepo{coll: db.Collection(database.PostsCollection), now: time.Now}
}

func (r *MongoPostRepo) Create(ctx context.Context, p *model.Post) error {
	if p.Likes == nil {
		p.Likes = map[string]bool{}
	}
	if p.Comments == nil {
		p.Comments = []string{}
	}
	_, err := r.coll.InsertOne(ctx, p)
	return err
}

func (r *MongoPostRepo) Get(ctx context.Context, id string) (*model.Post, error) {
	var p model.Post
	if err := r.coll.FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&p); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, model.ErrNotFound
		}
		return nil, err
	}
	fillEngagement(&p)
	return &p, nil
}

func (r *MongoPostRepo) List(ctx context.Context, limit int) ([]model.Post, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	return r.find(ctx, bson.D{}, opts)
}

func (r *MongoPostRepo) ListByUser(ctx context.Context, userID string) ([]model.Post, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})
	return r.find(ctx, bson.D{{Key: "user_id", Value: userID}}, opts)
}

func (r *MongoPostRepo) find(ctx context.Context, filter bson.D, opts *options.FindOptionsBuilder) ([]model.Post, error) {
	cur, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	posts := []model.Post{}
	if err := cur.All(ctx, &posts); err != nil {
		return nil, err
	}
	for i := range posts {
		fillEngagement(&posts[i])
	}
	return posts, nil
}

// ToggleLike reads the caller's current presence marker and applies the
// opposite with a filter that only matches while the marker is unchanged.
// A miss means another writer got there first, so the read is repeated.
func (r *MongoPostRepo) ToggleLike(ctx context.Context, postID, userID string) (*model.Post, bool, error) {
	if err := validLikeKey(userID); err != nil {
		return nil, false, err
	}
	field := "likes." + userID
	for attempt := 0; attempt < maxLikeAttempts; attempt++ {
		current, err := r.Get(ctx, postID)
		if err != nil {
			return nil, false, err
		}
		observed := current.LikedBy(userID)

		filter := bson.D{
			{Key: "_id", Value: postID},
			{Key: field, Value: bson.D{{Key: "$exists", Value: observed}}},
		}
		update := likeUpdate(field, !observed, r.now().UTC())

		var out model.Post
		err = r.coll.FindOneAndUpdate(ctx, filter, update,
			options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&out)
		if errors.Is(err, mongo.ErrNoDocuments) {
			continue
		}
		if err != nil {
			return nil, false, err
		}
		fillEngagement(&out)
		return &out, !observed, nil
	}
	return nil, false, fmt.Errorf("%w: like toggle on post %s kept racing", model.ErrConflict, postID)
}

func likeUpdate(field string, like bool, now time.Time) bson.D {
	if like {
		return bson.D{{Key: "$set", Value: bson.D{
			{Key: field, Value: true},
			{Key: "updated_at", Value: now},
		}}}
	}
	return bson.D{
		{Key: "$unset", Value: bson.D{{Key: field, Value: ""}}},
		{Key: "$set", Value: bson.D{{Key: "updated_at", Value: now}}},
	}
}

// AppendComment pushes text onto the comment array and returns the post as
// it is after the push.
func (r *MongoPostRepo) AppendComment(ctx context.Context, postID, text string) (*model.Post, error) {
	update := bson.D{
		{Key: "$push", Value: bson.D{{Key: "comments", Value: text}}},
		{Key: "$set", Value: bson.D{{Key: "updated_at", Value: r.now().UTC()}}},
	}
	var out model.Post
	err := r.coll.FindOneAndUpdate(ctx, bson.D{{Key: "_id", Value: postID}}, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&out)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, model.ErrNotFound
		}
		return nil, err
	}
	fillEngagement(&out)
	return &out, nil
}

// validLikeKey rejects ids that would be read as a nested path or operator
// when used as a field name.
func validLikeKey(userID string) error {
	if userID == "" || strings.ContainsAny(userID, ".$") {
		return fmt.Errorf("%w: invalid identity id %q", model.ErrValidation, userID)
	}
	return nil
}

func fillEngagement(p *model.Post) {
	if p.Likes == nil {
		p.Likes = map[string]bool{}
	}
	if p.Comments == nil {
		p.Comments = []string{}
	}
}
