package jobqueue

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ManuelReschke/ReflectCoach/internal/pkg/logging"
	"github.com/ManuelReschke/ReflectCoach/internal/pkg/mail"
)

// WelcomeNotifier sends the welcome message synchronously.
type WelcomeNotifier interface {
	NotifyWelcome(ctx context.Context, userID uint) error
}

// WelcomeDispatcher moves welcome mails off the webhook request path. When
// the queue is missing or Redis refuses the job, it sends inline.
type WelcomeDispatcher struct {
	queue  *Queue
	inline WelcomeNotifier
	log    zerolog.Logger
}

func NewWelcomeDispatcher(queue *Queue, inline WelcomeNotifier) *WelcomeDispatcher {
	d := &WelcomeDispatcher{queue: queue, inline: inline, log: logging.Component("welcome")}
	if queue != nil {
		queue.Register(JobTypeWelcomeEmail, d.handle)
	}
	return d
}

func (d *WelcomeDispatcher) NotifyWelcome(ctx context.Context, userID uint) error {
	if d.queue != nil {
		_, err := d.queue.EnqueueJob(ctx, JobTypeWelcomeEmail, WelcomeEmailJobPayload{UserID: userID}.ToMap())
		if err == nil {
			return nil
		}
		d.log.Warn().Err(err).Uint("user_id", userID).Msg("Welcome job not queued, sending inline")
	}
	return d.inline.NotifyWelcome(ctx, userID)
}

func (d *WelcomeDispatcher) handle(ctx context.Context, job *Job) error {
	payload, err := WelcomeEmailJobPayloadFromMap(job.Payload)
	if err != nil || payload.UserID == 0 {
		return fmt.Errorf("%w: bad welcome payload", ErrDiscard)
	}
	if err := d.inline.NotifyWelcome(ctx, payload.UserID); err != nil {
		if mail.IsPermanent(err) {
			return fmt.Errorf("%w: %v", ErrDiscard, err)
		}
		return err
	}
	return nil
}
