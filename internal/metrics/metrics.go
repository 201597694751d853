// Package metrics collects and exposes Prometheus metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is the metrics surface the services and middleware depend on.
type Recorder interface {
	RecordRequest(method, route string, status int, latency time.Duration)
	RecordAuth(method, outcome string)
	RecordFriendToggle(added bool)
	RecordLikeToggle(liked bool)
	RecordComment()
	RecordFederatedVerify(outcome string, latency time.Duration)
	RecordEventPublish(eventType string, ok bool)
}

// Collector is the Prometheus-backed Recorder.
type Collector struct {
	requests       *prometheus.CounterVec
	requestLatency *prometheus.HistogramVec
	auth           *prometheus.CounterVec
	friendToggles  *prometheus.CounterVec
	likeToggles    *prometheus.CounterVec
	comments       prometheus.Counter
	federated      *prometheus.HistogramVec
	events         *prometheus.CounterVec
}

// NewCollector creates a Collector and registers its metrics with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vibe_http_requests_total",
			Help: "HTTP requests by method, route and status code.",
		}, []string{"method", "route", "status_code"}),
		requestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vibe_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		auth: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vibe_auth_attempts_total",
			Help: "Authentication attempts by method and outcome.",
		}, []string{"method", "outcome"}),
		friendToggles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vibe_friend_toggles_total",
			Help: "Friend edge toggles by resulting action.",
		}, []string{"action"}),
		likeToggles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vibe_like_toggles_total",
			Help: "Like toggles by resulting action.",
		}, []string{"action"}),
		comments: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vibe_comments_appended_total",
			Help: "Comments appended to posts.",
		}),
		federated: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vibe_federated_verify_duration_seconds",
			Help:    "Federated assertion verification latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"outcome"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vibe_events_published_total",
			Help: "Domain events handed to the broker by type and result.",
		}, []string{"type", "result"}),
	}

	reg.MustRegister(
		c.requests,
		c.requestLatency,
		c.auth,
		c.friendToggles,
		c.likeToggles,
		c.comments,
		c.federated,
		c.events,
	)
	return c
}

func (c *Collector) RecordRequest(method, route string, status int, latency time.Duration) {
	c.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.requestLatency.WithLabelValues(method, route).Observe(latency.Seconds())
}

func (c *Collector) RecordAuth(method, outcome string) {
	c.auth.WithLabelValues(method, outcome).Inc()
}

func (c *Collector) RecordFriendToggle(added bool) {
	c.friendToggles.WithLabelValues(action(added, "added", "removed")).Inc()
}

func (c *Collector) RecordLikeToggle(liked bool) {
	c.likeToggles.WithLabelValues(action(liked, "liked", "unliked")).Inc()
}

func (c *Collector) RecordComment() { c.comments.Inc() }

func (c *Collector) RecordFederatedVerify(outcome string, latency time.Duration) {
	c.federated.WithLabelValues(outcome).Observe(latency.Seconds())
}

func (c *Collector) RecordEventPublish(eventType string, ok bool) {
	c.events.WithLabelValues(eventType, action(ok, "ok", "error")).Inc()
}

func action(b bool, yes, no string) string {
	if b {
		return yes
	}
	return no
}

// Nop discards every measurement.
type Nop struct{}

func (Nop) RecordRequest(string, string, int, time.Duration) {}
func (Nop) RecordAuth(string, string) {}
func (Nop) RecordFriendToggle(bool) {}
func (Nop) RecordLikeToggle(bool) {}
func (Nop) RecordComment() {}
func (Nop) RecordFederatedVerify(string, time.Duration) {}
func (Nop) RecordEventPublish(string, bool) {}

// Handler returns the Prometheus scrape handler for gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
