package service

import (
	"context"
	"encoding/json"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/tutorhive/tutorhive-api/internal/models"
	"github.com/tutorhive/tutorhive-api/pkg/jobs"
)

type notificationStore interface {
	Create(ctx context.Context, n *models.Notification) (bool, error)
	CreateWithTx(ctx context.Context, tx *sqlx.Tx, n *models.Notification) (bool, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]models.Notification, error)
	MarkRead(ctx context.Context, id, userID string) error
}

// RealtimePublisher pushes an event to a connected user. Best effort, no
// delivery guarantee; the core stays correct when pushes are lost entirely.
type RealtimePublisher interface {
	PushToUser(ctx context.Context, userID, event string, payload interface{}) error
}

// NoopPublisher discards pushes; used when the realtime collaborator is absent.
type NoopPublisher struct{}

// PushToUser implements RealtimePublisher.
func (NoopPublisher) PushToUser(context.Context, string, string, interface{}) error { return nil }

type pushJob struct {
	UserID  string
	Event   string
	Payload models.Notification
}

// NotifierService persists notifications and fans them out to the realtime
// channel through a background worker queue, keeping pushes off the request
// and engine paths.
type NotifierService struct {
	store     notificationStore
	publisher RealtimePublisher
	queue     *jobs.Queue
	logger    *zap.Logger
}

// NewNotifierService constructs NotifierService.
func NewNotifierService(store notificationStore, publisher RealtimePublisher, queueCfg jobs.QueueConfig, logger *zap.Logger) *NotifierService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if publisher == nil {
		publisher = NoopPublisher{}
	}
	s := &NotifierService{store: store, publisher: publisher, logger: logger}
	s.queue = jobs.NewQueue("notifications", s.handlePush, queueCfg)
	return s
}

// Start begins the fan-out workers.
func (s *NotifierService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop drains the fan-out workers.
func (s *NotifierService) Stop() {
	s.queue.Stop()
}

func (s *NotifierService) handlePush(ctx context.Context, job jobs.Job) error {
	push, ok := job.Payload.(pushJob)
	if !ok {
		s.logger.Warn("unexpected push payload", zap.String("job_id", job.ID))
		return nil
	}
	return s.publisher.PushToUser(ctx, push.UserID, push.Event, push.Payload)
}

// Notify persists and dispatches a notification to one user.
func (s *NotifierService) Notify(ctx context.Context, userID, notifType, title, message string, data interface{}) error {
	return s.notify(ctx, nil, userID, notifType, title, message, data, nil)
}

// NotifyTx persists the notification inside the caller's transaction. The
// realtime push is still enqueued immediately: it is best effort, and a
// rolled-back transaction only costs one phantom push.
func (s *NotifierService) NotifyTx(ctx context.Context, tx *sqlx.Tx, userID, notifType, title, message string, data interface{}) error {
	return s.notify(ctx, tx, userID, notifType, title, message, data, nil)
}

// NotifyDedup persists a notification keyed by a stable idempotency key.
// Returns false without dispatching when the key was already used.
func (s *NotifierService) NotifyDedup(ctx context.Context, dedupKey, userID, notifType, title, message string, data interface{}) (bool, error) {
	inserted := false
	err := s.notifyInserted(ctx, nil, userID, notifType, title, message, data, &dedupKey, &inserted)
	return inserted, err
}

func (s *NotifierService) notify(ctx context.Context, tx *sqlx.Tx, userID, notifType, title, message string, data interface{}, dedupKey *string) error {
	var inserted bool
	return s.notifyInserted(ctx, tx, userID, notifType, title, message, data, dedupKey, &inserted)
}

func (s *NotifierService) notifyInserted(ctx context.Context, tx *sqlx.Tx, userID, notifType, title, message string, data interface{}, dedupKey *string, inserted *bool) error {
	raw := json.RawMessage("{}")
	if data != nil {
		encoded, err := json.Marshal(data)
		if err != nil {
			s.logger.Warn("failed to encode notification data", zap.Error(err))
		} else {
			raw = encoded
		}
	}

	n := &models.Notification{
		UserID:   userID,
		Type:     notifType,
		Title:    title,
		Message:  message,
		Data:     raw,
		DedupKey: dedupKey,
	}

	var err error
	if tx != nil {
		*inserted, err = s.store.CreateWithTx(ctx, tx, n)
	} else {
		*inserted, err = s.store.Create(ctx, n)
	}
	if err != nil {
		return err
	}
	if !*inserted {
		return nil
	}

	job := jobs.Job{ID: n.ID, Type: n.Type, Payload: pushJob{UserID: userID, Event: n.Type, Payload: *n}}
	if err := s.queue.Enqueue(job); err != nil {
		// Push is best effort; the persisted row is the source of truth.
		s.logger.Debug("realtime push skipped", zap.String("notification_id", n.ID), zap.Error(err))
	}
	return nil
}

// ListForUser returns a user's recent notifications.
func (s *NotifierService) ListForUser(ctx context.Context, userID string, limit int) ([]models.Notification, error) {
	return s.store.ListByUser(ctx, userID, limit)
}

// MarkRead stamps one notification as read.
func (s *NotifierService) MarkRead(ctx context.Context, id, userID string) error {
	return s.store.MarkRead(ctx, id, userID)
}
