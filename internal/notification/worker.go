// Package notification delivers the side effects of state transitions:
// change notifications to the webhook stream and messages to users. Both are
// queued to a worker pool after the transition commits and never block it.
package notification

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"locker-reservation-backend/internal/metrics"
	"locker-reservation-backend/internal/model"
)

// NotificationSender defines the interface for sending a web push notification.
type NotificationSender interface {
	Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// WebPushSender is a real implementation of NotificationSender using the webpush library.
type WebPushSender struct{}

// Send sends a notification using the webpush library.
func (s *WebPushSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotification(payload, sub, options)
}

// SubscriptionStore is the part of the store the pool reads subscriptions from.
type SubscriptionStore interface {
	SubscriptionsForUser(ctx context.Context, userID uuid.UUID) ([]model.PushSubscription, error)
	DeleteSubscription(ctx context.Context, endpoint string) error
}

// StatusChange is the payload published for every transition.
type StatusChange struct {
	TenantID uuid.UUID         `json:"tenant_id"`
	EventID  uuid.UUID         `json:"event_id"`
	Status   model.EventStatus `json:"status"`
	At       time.Time         `json:"at"`
}

// Message is a templated message to one user.
type Message struct {
	UserID   uuid.UUID
	Template string
	Args     map[string]string
}

type job struct {
	change  *StatusChange
	message *Message
}

// Options configures a WorkerPool.
type Options struct {
	Size      int
	QueueSize int
	WebPush   *webpush.Options
	Publisher Publisher
	Metrics   *metrics.Metrics
}

// WorkerPool manages a pool of workers for sending notifications.
type WorkerPool struct {
	size      int
	jobs      chan job
	subs      SubscriptionStore
	webpush   *webpush.Options
	sender    NotificationSender
	publisher Publisher
	metrics   *metrics.Metrics
	log       *zap.Logger
	now       func() time.Time
}

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(opts Options, subs SubscriptionStore, log *zap.Logger) *WorkerPool {
	if opts.Size <= 0 {
		opts.Size = 1
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = opts.Size
	}
	if opts.Publisher == nil {
		opts.Publisher = LogPublisher{Log: log}
	}
	if opts.WebPush == nil {
		opts.WebPush = &webpush.Options{}
	}
	return &WorkerPool{
		size:      opts.Size,
		jobs:      make(chan job, opts.QueueSize),
		subs:      subs,
		webpush:   opts.WebPush,
		sender:    &WebPushSender{}, // Use the real sender by default
		publisher: opts.Publisher,
		metrics:   opts.Metrics,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < wp.size; i++ {
		go wp.worker(ctx, i)
	}
}

// worker is the actual worker goroutine.
func (wp *WorkerPool) worker(ctx context.Context, id int) {
	log := wp.log.With(zap.Int("worker", id))
	log.Debug("notification worker started")
	for {
		select {
		case j := <-wp.jobs:
			wp.process(ctx, j)
		case <-ctx.Done():
			log.Debug("notification worker shutting down")
			return
		}
	}
}

// Notify queues a change notification. It never blocks; when the queue is
// full the notification is dropped and logged.
func (wp *WorkerPool) Notify(tenantID, eventID uuid.UUID, status model.EventStatus) {
	wp.dispatch(job{change: &StatusChange{
		TenantID: tenantID,
		EventID:  eventID,
		Status:   status,
		At:       wp.now(),
	}})
}

// SendMessage queues a templated message to every push subscription of the user.
func (wp *WorkerPool) SendMessage(userID uuid.UUID, template string, args map[string]string) {
	wp.dispatch(job{message: &Message{UserID: userID, Template: template, Args: args}})
}

func (wp *WorkerPool) dispatch(j job) {
	select {
	case wp.jobs <- j:
	default:
		kind := "change"
		if j.message != nil {
			kind = "message"
		}
		wp.count(kind, "dropped")
		wp.log.Warn("notification queue full, dropping", zap.String("kind", kind))
	}
}

func (wp *WorkerPool) process(ctx context.Context, j job) {
	switch {
	case j.change != nil:
		wp.publishChange(ctx, *j.change)
	case j.message != nil:
		wp.sendMessage(ctx, *j.message)
	}
}

func (wp *WorkerPool) publishChange(ctx context.Context, c StatusChange) {
	value, err := json.Marshal(c)
	if err != nil {
		wp.log.Error("failed to encode change notification", zap.Error(err))
		return
	}
	err = wp.publisher.Publish(ctx, []byte(c.EventID.String()), value)
	wp.count("change", metrics.Outcome(err))
	if err != nil {
		wp.log.Error("failed to publish change notification",
			zap.String("event_id", c.EventID.String()),
			zap.String("status", string(c.Status)),
			zap.Error(err))
	}
}

func (wp *WorkerPool) sendMessage(ctx context.Context, m Message) {
	subscriptions, err := wp.subs.SubscriptionsForUser(ctx, m.UserID)
	if err != nil {
		wp.log.Error("failed to fetch subscriptions", zap.String("user_id", m.UserID.String()), zap.Error(err))
		return
	}
	if len(subscriptions) == 0 {
		return
	}

	payload := []byte(Render(m.Template, m.Args))
	for _, sub := range subscriptions {
		wp.sendNotification(ctx, sub, payload)
	}
}

// sendNotification sends a single web push notification.
func (wp *WorkerPool) sendNotification(ctx context.Context, sub model.PushSubscription, payload []byte) {
	// Manually construct the webpush.Subscription object
	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256DH,
			Auth:   sub.Auth,
		},
	}

	resp, err := wp.sender.Send(payload, wpSub, wp.webpush)
	if err != nil {
		wp.count("message", "error")
		wp.log.Warn("failed to send push message", zap.String("endpoint", sub.Endpoint), zap.Error(err))
		return
	}
	defer resp.Body.Close()

	// Handle expired subscriptions
	if resp.StatusCode == http.StatusGone {
		wp.count("message", "expired")
		wp.log.Info("push subscription expired, deleting", zap.String("endpoint", sub.Endpoint))
		if err := wp.subs.DeleteSubscription(ctx, sub.Endpoint); err != nil {
			wp.log.Error("failed to delete expired subscription", zap.String("endpoint", sub.Endpoint), zap.Error(err))
		}
		return
	}
	wp.count("message", "ok")
}

func (wp *WorkerPool) count(kind, outcome string) {
	if wp.metrics != nil {
		wp.metrics.Notifications.WithLabelValues(kind, outcome).Inc()
	}
}
