// Package queue defines the domain events exchanged over RabbitMQ together
// with the publisher used by the API and the consumer run by the worker.
package queue

import (
	"time"

	"github.com/google/uuid"
)

// Event types.
const (
	IdentityRegistered           = "identity.registered"
	IdentityFederatedProvisioned = "identity.federated_provisioned"
	FriendAdded                  = "friend.added"
	FriendRemoved                = "friend.removed"
	FriendRepairNeeded           = "friend.repair_needed"
	PostCreated                  = "post.created"
	PostLiked                    = "post.liked"
	PostUnliked                  = "post.unliked"
	PostCommented                = "post.commented"
)

// Event is the envelope of every message on the events queue. ActorID is
// the identity that caused the event; SubjectID is what it acted on (the
// friend id or the post id). Consumers must tolerate unknown types.
type Event struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	OccurredAt time.Time         `json:"occurred_at"`
	ActorID    string            `json:"actor_id,omitempty"`
	SubjectID  string            `json:"subject_id,omitempty"`
	Data       map[string]string `json:"data,omitempty"`
}

// NewEvent stamps a new event with a random id and the current UTC time.
func NewEvent(eventType, actorID, subjectID string) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		OccurredAt: time.Now().UTC(),
		ActorID:    actorID,
		SubjectID:  subjectID,
	}
}

// With returns a copy of e carrying the extra key/value.
func (e Event) With(key, value string) Event {
	data := make(map[string]string, len(e.Data)+1)
	for k, v := range e.Data {
		data[k] = v
	}
	data[key] = value
	e.Data = data
	return e
}
