package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/iliyamo/vibe/internal/model"
	"github.com/iliyamo/vibe/internal/queue"
	"github.com/iliyamo/vibe/internal/repository"
)

// FriendService reads identities and maintains the symmetric friend graph.
type FriendService struct {
	users   repository.CredentialStore
	friends repository.FriendStore
	deps    Deps
}

func NewFriendService(users repository.CredentialStore, friends repository.FriendStore, deps Deps) *FriendService {
	return &FriendService{users: users, friends: friends, deps: deps.withDefaults()}
}

// GetUser returns one identity.
func (s *FriendService) GetUser(ctx context.Context, id string) (*model.User, error) {
	return s.users.GetByID(ctx, id)
}

// ToggleFriend adds the a<->b edge when absent and removes it when present,
// then returns a's updated friend list and whether the edge now exists.
func (s *FriendService) ToggleFriend(ctx context.Context, a, b string) ([]model.FriendSummary, bool, error) {
	if a == b {
		return nil, false, model.ErrSelfFriend
	}
	added, err := s.friends.ToggleFriend(ctx, a, b)
	if err != nil {
		if errors.Is(err, model.ErrEdgeInconsistent) {
			s.deps.Log.WithFields(logrus.Fields{"user_id": a, "friend_id": b}).
				WithError(err).Error("friend edge left one-sided, requesting repair")
			s.deps.emit(ctx, queue.NewEvent(queue.FriendRepairNeeded, a, b))
		}
		return nil, false, err
	}

	s.deps.Metrics.RecordFriendToggle(added)
	evType := queue.FriendRemoved
	if added {
		evType = queue.FriendAdded
	}
	s.deps.emit(ctx, queue.NewEvent(evType, a, b))

	list, err := s.ListFriends(ctx, a)
	if err != nil {
		return nil, false, fmt.Errorf("list friends after toggle: %w", err)
	}
	return list, added, nil
}

// ListFriends resolves id's adjacent identities with one batched lookup.
// Ids that no longer resolve are left out.
func (s *FriendService) ListFriends(ctx context.Context, id string) ([]model.FriendSummary, error) {
	ids, err := s.friends.ListFriendIDs(ctx, id)
	if err != nil {
		return nil, err
	}
	users, err := s.users.GetByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("resolve friends: %w", err)
	}
	out := make([]model.FriendSummary, 0, len(users))
	for i := range users {
		out = append(out, users[i].Summary())
	}
	return out, nil
}
