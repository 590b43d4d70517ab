// Package leads carries accepted contact submissions to downstream consumers.
package leads

import "time"

// TopicLeadSubmitted is the topic accepted submissions are published on.
const TopicLeadSubmitted = "lead.submitted"

// LeadSubmittedEvent is emitted after a submission was handed to the mail transport.
// Attachment content never travels on the bus, only names and total size.
type LeadSubmittedEvent struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Email           string    `json:"email"`
	Phone           string    `json:"phone,omitempty"`
	Message         string    `json:"message,omitempty"`
	AttachmentNames []string  `json:"attachmentNames,omitempty"`
	AttachmentBytes int64     `json:"attachmentBytes"`
	ClientIP        string    `json:"clientIp"`
	UserAgent       string    `json:"userAgent,omitempty"`
	SubmittedAt     time.Time `json:"submittedAt"`
}
