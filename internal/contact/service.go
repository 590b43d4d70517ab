package contact

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/serroba/proto-clique/internal/leads"
	"github.com/serroba/proto-clique/internal/messaging"
	"github.com/serroba/proto-clique/internal/metrics"
	"go.uber.org/zap"
)

// ErrDeliveryFailure is returned when the mail transport rejected a submission.
var ErrDeliveryFailure = errors.New("delivery failed")

// Mailer delivers a submission to the site owner.
type Mailer interface {
	Send(ctx context.Context, sub *Submission) error
}

// Recorder receives outcome notifications, typically Prometheus counters.
type Recorder interface {
	Submission(outcome string)
	ObserveDelivery(d time.Duration)
}

// IDGenerator generates submission identifiers.
type IDGenerator func() string

// Service accepts contact form submissions and forwards them by email.
type Service struct {
	mailer      Mailer
	publishLead messaging.Publish[leads.LeadSubmittedEvent]
	generateID  IDGenerator
	recorder    Recorder
	logger      *zap.Logger
	now         func() time.Time
}

// NewService creates a new contact service.
func NewService(
	mailer Mailer,
	publishLead messaging.Publish[leads.LeadSubmittedEvent],
	generateID IDGenerator,
	recorder Recorder,
	logger *zap.Logger,
) *Service {
	return &Service{
		mailer:      mailer,
		publishLead: publishLead,
		generateID:  generateID,
		recorder:    recorder,
		logger:      logger,
		now:         time.Now,
	}
}

// Submit validates and delivers a submission. Delivery is attempted once;
// failures are returned wrapped in ErrDeliveryFailure and never retried.
func (s *Service) Submit(ctx context.Context, sub *Submission) (*Receipt, error) {
	sub.Sanitize()

	if err := sub.Validate(); err != nil {
		s.recorder.Submission(metrics.OutcomeInvalid)

		return nil, err
	}

	sub.ID = s.generateID()

	start := s.now()
	err := s.mailer.Send(ctx, sub)
	s.recorder.ObserveDelivery(s.now().Sub(start))

	if err != nil {
		s.recorder.Submission(metrics.OutcomeDeliveryFailed)
		s.logger.Error("failed to deliver submission",
			zap.String("submission_id", sub.ID),
			zap.String("client_ip", sub.ClientIP),
			zap.Error(err),
		)

		return nil, fmt.Errorf("%w: %w", ErrDeliveryFailure, err)
	}

	s.recorder.Submission(metrics.OutcomeAccepted)

	receipt := &Receipt{ID: sub.ID, ReceivedAt: s.now()}

	event := &leads.LeadSubmittedEvent{
		ID:              sub.ID,
		Name:            sub.Name,
		Email:           sub.Email,
		Phone:           sub.Phone,
		Message:         sub.Message,
		AttachmentNames: sub.AttachmentNames(),
		AttachmentBytes: sub.AttachmentBytes(),
		ClientIP:        sub.ClientIP,
		UserAgent:       sub.UserAgent,
		SubmittedAt:     receipt.ReceivedAt,
	}

	if err := s.publishLead(ctx, event); err != nil {
		s.logger.Error("failed to publish lead event",
			zap.String("submission_id", sub.ID),
			zap.Error(err),
		)
	}

	s.logger.Info("submission delivered",
		zap.String("submission_id", sub.ID),
		zap.String("client_ip", sub.ClientIP),
		zap.Int("attachments", len(sub.Attachments)),
	)

	return receipt, nil
}
