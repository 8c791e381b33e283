package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Leadrat/Quotation-Management-System-sub012/pkg/jobs"
)

// JobTypeResetEmail identifies queued password reset notifications.
const JobTypeResetEmail = "password_reset_email"

// ResetEmailPayload carries what the mail worker needs to compose a reset
// message. The token travels only through this in-process payload.
type ResetEmailPayload struct {
	Email     string
	FullName  string
	Token     string
	ExpiresAt time.Time
}

// MailDispatcher hands mail jobs to a background queue. Actual SMTP delivery
// is owned by the worker handler wired at startup.
type MailDispatcher struct {
	queue  *jobs.Queue
	logger *zap.Logger
}

// NewMailDispatcher constructs a dispatcher over the given queue.
func NewMailDispatcher(queue *jobs.Queue, logger *zap.Logger) *MailDispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MailDispatcher{queue: queue, logger: logger}
}

// SendResetEmail enqueues a password reset notification.
func (d *MailDispatcher) SendResetEmail(ctx context.Context, payload ResetEmailPayload) error {
	if d == nil || d.queue == nil {
		return nil
	}
	return d.queue.Enqueue(jobs.Job{
		ID:      uuid.NewString(),
		Type:    JobTypeResetEmail,
		Payload: payload,
	})
}

// NewMailQueue builds the background queue used for outbound mail. The
// handler logs delivery without ever logging token material; swapping in an
// SMTP client is a startup concern.
func NewMailQueue(workers, buffer int, logger *zap.Logger) *jobs.Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	handler := func(ctx context.Context, job jobs.Job) error {
		payload, ok := job.Payload.(ResetEmailPayload)
		if !ok {
			logger.Warn("mail job with unexpected payload", zap.String("job_id", job.ID), zap.String("type", job.Type))
			return nil
		}
		logger.Info("dispatching password reset email",
			zap.String("job_id", job.ID),
			zap.String("email", payload.Email),
			zap.Time("expires_at", payload.ExpiresAt),
		)
		return nil
	}
	return jobs.NewQueue("mailer", handler, jobs.QueueConfig{
		Workers:    workers,
		BufferSize: buffer,
		Logger:     logger,
	})
}
