package store

import (
	"context"

	"github.com/serroba/proto-clique/internal/leads"
	"go.uber.org/zap"
)

// Log is an implementation of leads.Store that only logs events.
type Log struct {
	logger *zap.Logger
}

// NewLog creates a new logging lead store.
func NewLog(logger *zap.Logger) *Log {
	return &Log{logger: logger}
}

func (l *Log) SaveLead(_ context.Context, event *leads.LeadSubmittedEvent) error {
	l.logger.Info("lead received",
		zap.String("id", event.ID),
		zap.String("email", event.Email),
		zap.Strings("attachments", event.AttachmentNames),
		zap.Int64("attachmentBytes", event.AttachmentBytes),
		zap.String("clientIp", event.ClientIP),
		zap.Time("submittedAt", event.SubmittedAt),
	)

	return nil
}

// Compile-time check.
var _ leads.Store = (*Log)(nil)
