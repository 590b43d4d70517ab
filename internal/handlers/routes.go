package handlers

import (
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/serroba/proto-clique/internal/ratelimit"
)

// DefaultMaxBodyBytes bounds a whole multipart submission.
const DefaultMaxBodyBytes int64 = 25 << 20

// RegisterRoutes registers the contact endpoint. It is guarded by the rate
// limiter; maxBodyBytes <= 0 selects DefaultMaxBodyBytes.
func RegisterRoutes(api huma.API, contactHandler *ContactHandler, maxBodyBytes int64) {
	if maxBodyBytes <= 0 {
		maxBodyBytes = DefaultMaxBodyBytes
	}

	huma.Register(api, huma.Operation{
		OperationID:  "send-contact",
		Method:       http.MethodPost,
		Path:         "/api/send",
		Summary:      "Send contact form",
		Description:  "Forwards the submitted fields and attached files to the studio mailbox.",
		Tags:         []string{"Contact"},
		MaxBodyBytes: maxBodyBytes,
		Metadata:     ratelimit.Guarded(),
	}, contactHandler.Send)
}
