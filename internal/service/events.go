// Package service holds the business rules of the identity and social graph
// core. Services depend on the repository interfaces, never on a concrete
// store, and report failures with the sentinels from package model.
package service

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/iliyamo/vibe/internal/metrics"
	"github.com/iliyamo/vibe/internal/queue"
)

const publishTimeout = 2 * time.Second

// Deps are the ambient collaborators shared by every service.
type Deps struct {
	Publisher queue.Publisher
	Metrics   metrics.Recorder
	Log       logrus.FieldLogger
}

func (d Deps) withDefaults() Deps {
	if d.Publisher == nil {
		d.Publisher = queue.NopPublisher{}
	}
	if d.Metrics == nil {
		d.Metrics = metrics.Nop{}
	}
	if d.Log == nil {
		d.Log = logrus.StandardLogger()
	}
	return d
}

// emit publishes ev after the mutation it describes has been committed.
// A broker failure is logged and counted but never fails the request, and
// a client that has already gone away does not cancel the publish.
func (d Deps) emit(ctx context.Context, ev queue.Event) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	err := d.Publisher.Publish(ctx, ev)
	d.Metrics.RecordEventPublish(ev.Type, err == nil)
	if err != nil {
		d.Log.WithError(err).WithFields(logrus.Fields{
			"event_type": ev.Type,
			"event_id":   ev.ID,
		}).Warn("publish event failed")
	}
}
