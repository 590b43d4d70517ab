package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"go.uber.org/zap"

	"github.com/serroba/proto-clique/internal/contact"
)

// Submitter accepts contact submissions.
type Submitter interface {
	Submit(ctx context.Context, sub *contact.Submission) (*contact.Receipt, error)
}

// ContactHandler serves the contact form endpoint.
type ContactHandler struct {
	service Submitter
	logger  *zap.Logger
}

// NewContactHandler creates a new contact handler.
func NewContactHandler(service Submitter, logger *zap.Logger) *ContactHandler {
	return &ContactHandler{service: service, logger: logger}
}

// Send forwards a submitted form by email.
func (h *ContactHandler) Send(ctx context.Context, req *SendRequest) (*SendResponse, error) {
	meta := RequestMetaFromContext(ctx)

	attachments, err := readAttachments(req.RawBody.File["file"])
	if err != nil {
		h.logger.Error("failed to read upload", zap.String("client_ip", meta.ClientIP), zap.Error(err))

		return failure(http.StatusInternalServerError, "failed to read uploaded files"), nil
	}

	sub := &contact.Submission{
		Name:        formValue(req.RawBody, "name"),
		Email:       formValue(req.RawBody, "email"),
		Phone:       formValue(req.RawBody, "phone"),
		Message:     formValue(req.RawBody, "message"),
		Attachments: attachments,
		ClientIP:    meta.ClientIP,
		UserAgent:   meta.UserAgent,
	}

	receipt, err := h.service.Submit(ctx, sub)

	switch {
	case err == nil:
		resp := &SendResponse{Status: http.StatusOK}
		resp.Body.Success = true
		resp.Body.ID = receipt.ID

		return resp, nil
	case errors.Is(err, contact.ErrInvalidSubmission):
		return failure(http.StatusBadRequest, err.Error()), nil
	case errors.Is(err, contact.ErrDeliveryFailure):
		return failure(http.StatusInternalServerError, err.Error()), nil
	default:
		h.logger.Error("unexpected submission error", zap.Error(err))

		return failure(http.StatusInternalServerError, "internal server error"), nil
	}
}

func failure(status int, msg string) *SendResponse {
	resp := &SendResponse{Status: status}
	resp.Body.Error = msg

	return resp
}

func formValue(form multipart.Form, key string) string {
	if values := form.Value[key]; len(values) > 0 {
		return values[0]
	}

	return ""
}

func readAttachments(files []*multipart.FileHeader) ([]contact.Attachment, error) {
	attachments := make([]contact.Attachment, 0, len(files))

	for _, fh := range files {
		content, err := readFile(fh)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", fh.Filename, err)
		}

		attachments = append(attachments, contact.Attachment{
			Filename:    fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Content:     content,
		})
	}

	return attachments, nil
}

func readFile(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return io.ReadAll(f)
}
