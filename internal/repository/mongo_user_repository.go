package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/iliyamo/vibe/internal/database"
	"github.com/iliyamo/vibe/internal/model"
)

const compensationTimeout = 5 * time.Second

// MongoUserRepo is the MongoDB CredentialStore and FriendStore. Friend ids
// are kept in each user document's friends array.
type MongoUserRepo struct {
	client *mongo.Client
	coll   *mongo.Collection
	log    logrus.FieldLogger

	// noTxn is set once the deployment has rejected a transaction
	// (standalone mongod), after which toggles use the compensating path.
	noTxn atomic.Bool
}

func NewMongoUserRepo(client *mongo.Client, db *mongo.Database, log logrus.FieldLogger) *MongoUserRepo {
	return &MongoUserRepo{
		client: client,
		coll:   db.Collection(database.UsersCollection),
		log:    log,
	}
}

func (r *MongoUserRepo) Create(ctx context.Context, u *model.User) error {
	u.Email = NormalizeEmail(u.Email)
	if u.Friends == nil {
		u.Friends = []string{}
	}
	if _, err := r.coll.InsertOne(ctx, u); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: %s", model.ErrDuplicateIdentity, u.Email)
		}
		return err
	}
	return nil
}

func (r *MongoUserRepo) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	return r.findOne(ctx, bson.D{{Key: "email", Value: NormalizeEmail(email)}})
}

func (r *MongoUserRepo) GetByID(ctx context.Context, id string) (*model.User, error) {
	return r.findOne(ctx, bson.D{{Key: "_id", Value: id}})
}

func (r *MongoUserRepo) GetByIDs(ctx context.Context, ids []string) ([]model.User, error) {
	if len(ids) == 0 {
		return []model.User{}, nil
	}
	cur, err := r.coll.Find(ctx, bson.D{{Key: "_id", Value: bson.D{{Key: "$in", Value: ids}}}})
	if err != nil {
		return nil, err
	}
	var users []model.User
	if err := cur.All(ctx, &users); err != nil {
		return nil, err
	}
	return orderByIDs(users, ids), nil
}

func (r *MongoUserRepo) findOne(ctx context.Context, filter bson.D) (*model.User, error) {
	var u model.User
	if err := r.coll.FindOne(ctx, filter).Decode(&u); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, model.ErrNotFound
		}
		return nil, err
	}
	if u.Friends == nil {
		u.Friends = []string{}
	}
	return &u, nil
}

func (r *MongoUserRepo) ListFriendIDs(ctx context.Context, id string) ([]string, error) {
	u, err := r.findOne(ctx, bson.D{{Key: "_id", Value: id}})
	if err != nil {
		return nil, err
	}
	return u.Friends, nil
}

// ToggleFriend flips the a<->b edge. On a replica set both array updates run
// in one transaction. On a standalone server a's side is written first, then
// b's, each conditional on the state observed before the toggle. A failure
// on b's side is compensated on a's side. A failed compensation, or a pair
// left one-sided by a concurrent toggle, is reported as
// model.ErrEdgeInconsistent.
func (r *MongoUserRepo) ToggleFriend(ctx context.Context, a, b string) (bool, error) {
	if a == b {
		return false, model.ErrSelfFriend
	}
	if !r.noTxn.Load() {
		added, err := r.toggleInTxn(ctx, a, b)
		if !isTxnUnsupported(err) {
			return added, err
		}
		r.noTxn.Store(true)
		r.log.WithError(err).Warn("mongo transactions unavailable, friend toggles fall back to compensating writes")
	}

	add, err := r.edgeMissing(ctx, a, b)
	if err != nil {
		return false, err
	}
	write := func(ctx context.Context, owner, op, other string) (bool, error) {
		res, err := r.coll.UpdateOne(ctx,
			edgeFilter(owner, op, other),
			bson.D{{Key: op, Value: bson.D{{Key: "friends", Value: other}}}})
		if err != nil {
			return false, err
		}
		return res.MatchedCount > 0, nil
	}
	if err := applyEdge(ctx, write, r.edgeSides, a, b, add, r.log); err != nil {
		return false, err
	}
	return add, nil
}

func (r *MongoUserRepo) toggleInTxn(ctx context.Context, a, b string) (bool, error) {
	sess, err := r.client.StartSession()
	if err != nil {
		return false, err
	}
	defer sess.EndSession(ctx)

	res, err := sess.WithTransaction(ctx, func(ctx context.Context) (interface{}, error) {
		add, err := r.edgeMissing(ctx, a, b)
		if err != nil {
			return false, err
		}
		op := edgeOp(add)
		for _, side := range [][2]string{{a, b}, {b, a}} {
			if _, err := r.coll.UpdateOne(ctx,
				bson.D{{Key: "_id", Value: side[0]}},
				bson.D{{Key: op, Value: bson.D{{Key: "friends", Value: side[1]}}}}); err != nil {
				return false, err
			}
		}
		return add, nil
	})
	if err != nil {
		return false, err
	}
	added, _ := res.(bool)
	return added, nil
}

// edgeMissing loads both identities and reports whether a's list lacks b.
func (r *MongoUserRepo) edgeMissing(ctx context.Context, a, b string) (bool, error) {
	var owner model.User
	proj := options.FindOne().SetProjection(bson.D{{Key: "friends", Value: 1}})
	if err := r.coll.FindOne(ctx, bson.D{{Key: "_id", Value: a}}, proj).Decode(&owner); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return false, model.ErrNotFound
		}
		return false, err
	}
	n, err := r.coll.CountDocuments(ctx, bson.D{{Key: "_id", Value: b}})
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, model.ErrNotFound
	}
	for _, f := range owner.Friends {
		if f == b {
			return false, nil
		}
	}
	return true, nil
}

// edgeSides reads both identities and reports which side lists the other.
func (r *MongoUserRepo) edgeSides(ctx context.Context, a, b string) (bool, bool, error) {
	proj := options.Find().SetProjection(bson.D{{Key: "friends", Value: 1}})
	cur, err := r.coll.Find(ctx, bson.D{{Key: "_id", Value: bson.D{{Key: "$in", Value: []string{a, b}}}}}, proj)
	if err != nil {
		return false, false, err
	}
	var users []model.User
	if err := cur.All(ctx, &users); err != nil {
		return false, false, err
	}
	var aHasB, bHasA bool
	for _, u := range users {
		switch u.ID {
		case a:
			aHasB = contains(u.Friends, b)
		case b:
			bHasA = contains(u.Friends, a)
		}
	}
	return aHasB, bHasA, nil
}

// edgeWriter applies op ("$addToSet" or "$pull") of other to owner's list
// if the list is still in the state op expects, and reports whether the
// document matched.
type edgeWriter func(ctx context.Context, owner, op, other string) (bool, error)

// edgeReader reports whether a lists b and whether b lists a.
type edgeReader func(ctx context.Context, a, b string) (aHasB, bHasA bool, err error)

func edgeOp(add bool) string {
	if add {
		return "$addToSet"
	}
	return "$pull"
}

// edgeFilter matches owner only while op would change its list.
func edgeFilter(owner, op, other string) bson.D {
	if op == "$pull" {
		return bson.D{{Key: "_id", Value: owner}, {Key: "friends", Value: other}}
	}
	return bson.D{{Key: "_id", Value: owner}, {Key: "friends", Value: bson.D{{Key: "$ne", Value: other}}}}
}

// applyEdge writes a's side then b's side, then reads the pair back. An
// unmatched write on a's side means another toggle got there first and
// nothing is written. An unmatched write on b's side means b already
// holds the target state. Every caller verifies after its last write, so
// whichever toggle finishes last sees a one-sided result.
func applyEdge(ctx context.Context, write edgeWriter, read edgeReader, a, b string, add bool, log logrus.FieldLogger) error {
	op, inverse := edgeOp(add), edgeOp(!add)
	matched, err := write(ctx, a, op, b)
	if err != nil {
		return err
	}
	if !matched {
		return fmt.Errorf("%w: friend edge %s/%s changed concurrently", model.ErrConflict, a, b)
	}

	// The request context may be the reason a later call fails; compensation
	// and verification use a fresh one.
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
	defer cancel()
	entry := log.WithFields(logrus.Fields{"user_id": a, "friend_id": b, "op": op})

	if _, err := write(ctx, b, op, a); err != nil {
		if _, cerr := write(cctx, a, inverse, b); cerr != nil {
			entry.WithField("cause", err.Error()).WithError(cerr).Error("friend edge compensation failed")
			return fmt.Errorf("%w: %s/%s: %v", model.ErrEdgeInconsistent, a, b, cerr)
		}
		return err
	}

	aHasB, bHasA, err := read(cctx, a, b)
	if err != nil {
		entry.WithError(err).Warn("friend edge written but not verified")
		return nil
	}
	if aHasB != bHasA {
		entry.WithFields(logrus.Fields{"a_lists_b": aHasB, "b_lists_a": bHasA}).
			Error("friend edge one-sided after concurrent toggles")
		return fmt.Errorf("%w: %s/%s left one-sided", model.ErrEdgeInconsistent, a, b)
	}
	return nil
}

// isTxnUnsupported recognises the server's refusal to start a transaction
// outside a replica set or sharded cluster.
func isTxnUnsupported(err error) bool {
	if err == nil {
		return false
	}
	var ce mongo.CommandError
	if errors.As(err, &ce) && ce.Code == 20 {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "Transaction numbers are only allowed") ||
		strings.Contains(msg, "transactions are not supported")
}
