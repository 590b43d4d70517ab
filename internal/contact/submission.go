package contact

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// MaxAttachments is the number of files accepted with one submission.
const MaxAttachments = 10

// ErrInvalidSubmission is returned when a submission fails validation.
var ErrInvalidSubmission = errors.New("invalid submission")

// Attachment is an uploaded file forwarded with the email.
type Attachment struct {
	Filename    string `validate:"required,max=255"`
	ContentType string
	Content     []byte
}

// Submission is a contact form entry from the site.
type Submission struct {
	ID          string
	Name        string       `validate:"required,max=200"`
	Email       string       `validate:"required,email,max=254"`
	Phone       string       `validate:"max=50"`
	Message     string       `validate:"max=10000"`
	Attachments []Attachment `validate:"max=10,dive"`
	ClientIP    string
	UserAgent   string
}

// Receipt confirms an accepted submission.
type Receipt struct {
	ID         string
	ReceivedAt time.Time
}

// AttachmentNames lists the attachment filenames in upload order.
func (s *Submission) AttachmentNames() []string {
	names := make([]string, 0, len(s.Attachments))
	for _, a := range s.Attachments {
		names = append(names, a.Filename)
	}

	return names
}

// AttachmentBytes is the total size of all attachments.
func (s *Submission) AttachmentBytes() int64 {
	var total int64
	for _, a := range s.Attachments {
		total += int64(len(a.Content))
	}

	return total
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Sanitize trims the text fields and reduces filenames to their base name.
// Field content is otherwise kept as submitted; escaping is the job of
// whatever renders it.
func (s *Submission) Sanitize() {
	s.Name = strings.TrimSpace(s.Name)
	s.Email = strings.TrimSpace(s.Email)
	s.Phone = strings.TrimSpace(s.Phone)
	s.Message = strings.TrimSpace(s.Message)

	for i := range s.Attachments {
		s.Attachments[i].Filename = sanitizeFilename(s.Attachments[i].Filename)
	}
}

// Validate checks the submission and wraps failures in ErrInvalidSubmission.
func (s *Submission) Validate() error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidSubmission, describe(fieldErrs[0]))
	}

	return fmt.Errorf("%w: %w", ErrInvalidSubmission, err)
}

func describe(fe validator.FieldError) string {
	field := strings.ToLower(fe.Field())

	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "email":
		return field + " must be a valid email address"
	case "max":
		if fe.Field() == "Attachments" {
			return fmt.Sprintf("at most %s files can be attached", fe.Param())
		}

		return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	default:
		return field + " is invalid"
	}
}

// sanitizeFilename keeps only the base name, browsers on some platforms send full paths.
func sanitizeFilename(name string) string {
	name = strings.TrimSpace(name)
	if idx := strings.LastIndexAny(name, `/\`); idx != -1 {
		name = name[idx+1:]
	}

	return name
}
