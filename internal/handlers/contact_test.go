package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/serroba/proto-clique/internal/contact"
	"github.com/serroba/proto-clique/internal/handlers"
	"github.com/serroba/proto-clique/internal/middleware"
	"github.com/serroba/proto-clique/internal/ratelimit"
	"github.com/serroba/proto-clique/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockSubmitter struct {
	got []*contact.Submission
	err error
}

func (m *mockSubmitter) Submit(_ context.Context, sub *contact.Submission) (*contact.Receipt, error) {
	m.got = append(m.got, sub)
	if m.err != nil {
		return nil, m.err
	}

	return &contact.Receipt{ID: "abc123", ReceivedAt: time.Now()}, nil
}

type nopRecorder struct{}

func (nopRecorder) Decision(string) {}

type file struct {
	name    string
	content string
}

func multipartBody(t *testing.T, fields map[string]string, files ...file) (*bytes.Buffer, string) {
	t.Helper()

	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)

	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}

	for _, f := range files {
		part, err := w.CreateFormFile("file", f.name)
		require.NoError(t, err)
		_, err = part.Write([]byte(f.content))
		require.NoError(t, err)
	}

	require.NoError(t, w.Close())

	return buf, w.FormDataContentType()
}

func validFields() map[string]string {
	return map[string]string{
		"name":    "Mario Rossi",
		"email":   "mario@example.com",
		"phone":   "333 1234567",
		"message": "Preventivo per 20 pezzi",
	}
}

func setupRouter(submitter handlers.Submitter, limiter ratelimit.Limiter) *chi.Mux {
	router := chi.NewMux()
	api := humachi.New(router, huma.DefaultConfig("Test", "1.0.0"))
	api.UseMiddleware(
		middleware.RequestMeta(api, middleware.NewClientIPResolver()),
		middleware.RateLimit(api, limiter, zap.NewNop(), nopRecorder{}),
	)
	handlers.RegisterRoutes(api, handlers.NewContactHandler(submitter, zap.NewNop()), 0)

	return router
}

func newLimiter() ratelimit.Limiter {
	return ratelimit.NewFixedWindowLimiter(store.NewRateLimitMemoryStore(), 5, 10*time.Minute)
}

func post(router http.Handler, body *bytes.Buffer, contentType, forwardedFor string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/send", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("User-Agent", "TestAgent/1.0")

	if forwardedFor != "" {
		req.Header.Set("X-Forwarded-For", forwardedFor)
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	delete(body, "$schema")

	return body
}

func TestContactHandler_Send(t *testing.T) {
	t.Run("accepts submission with files", func(t *testing.T) {
		submitter := &mockSubmitter{}
		router := setupRouter(submitter, newLimiter())

		body, ct := multipartBody(t, validFields(),
			file{name: "bracket.stl", content: "solid bracket"},
			file{name: "drawing.pdf", content: "%PDF-1.4"},
		)

		w := post(router, body, ct, "198.51.100.4")

		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Equal(t, map[string]any{"success": true, "id": "abc123"}, decode(t, w))
		assert.Equal(t, "5", w.Header().Get("X-RateLimit-Limit"))
		assert.Equal(t, "4", w.Header().Get("X-RateLimit-Remaining"))

		require.Len(t, submitter.got, 1)
		sub := submitter.got[0]
		assert.Equal(t, "Mario Rossi", sub.Name)
		assert.Equal(t, "mario@example.com", sub.Email)
		assert.Equal(t, "333 1234567", sub.Phone)
		assert.Equal(t, "Preventivo per 20 pezzi", sub.Message)
		assert.Equal(t, "198.51.100.4", sub.ClientIP)
		assert.Equal(t, "TestAgent/1.0", sub.UserAgent)
		require.Len(t, sub.Attachments, 2)
		assert.Equal(t, "bracket.stl", sub.Attachments[0].Filename)
		assert.Equal(t, []byte("solid bracket"), sub.Attachments[0].Content)
	})

	t.Run("accepts submission without files", func(t *testing.T) {
		submitter := &mockSubmitter{}
		router := setupRouter(submitter, newLimiter())

		body, ct := multipartBody(t, validFields())

		w := post(router, body, ct, "198.51.100.4")

		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		require.Len(t, submitter.got, 1)
		assert.Empty(t, submitter.got[0].Attachments)
	})

	t.Run("invalid submission is 400", func(t *testing.T) {
		submitter := &mockSubmitter{err: fmt.Errorf("%w: email is required", contact.ErrInvalidSubmission)}
		router := setupRouter(submitter, newLimiter())

		body, ct := multipartBody(t, map[string]string{"name": "Mario"})

		w := post(router, body, ct, "198.51.100.4")

		assert.Equal(t, http.StatusBadRequest, w.Code)

		resp := decode(t, w)
		assert.Equal(t, false, resp["success"])
		assert.Contains(t, resp["error"], "email is required")
	})

	t.Run("delivery failure is 500 with the transport message", func(t *testing.T) {
		submitter := &mockSubmitter{
			err: fmt.Errorf("%w: %w", contact.ErrDeliveryFailure, errors.New("dial tcp: connection refused")),
		}
		router := setupRouter(submitter, newLimiter())

		body, ct := multipartBody(t, validFields())

		w := post(router, body, ct, "198.51.100.4")

		assert.Equal(t, http.StatusInternalServerError, w.Code)

		resp := decode(t, w)
		assert.Equal(t, false, resp["success"])
		assert.Contains(t, resp["error"], "connection refused")
	})

	t.Run("sixth submission within the window is 429", func(t *testing.T) {
		submitter := &mockSubmitter{}
		router := setupRouter(submitter, newLimiter())

		for i := range 5 {
			body, ct := multipartBody(t, validFields())
			w := post(router, body, ct, "198.51.100.4")
			require.Equal(t, http.StatusOK, w.Code, "request %d", i+1)
		}

		body, ct := multipartBody(t, validFields())
		w := post(router, body, ct, "198.51.100.4")

		assert.Equal(t, http.StatusTooManyRequests, w.Code)
		assert.NotEmpty(t, w.Header().Get("Retry-After"))
		assert.Equal(t, map[string]any{"success": false, "error": "too many requests"}, decode(t, w))
		assert.Len(t, submitter.got, 5, "rejected request must not reach the service")

		body, ct = multipartBody(t, validFields())
		w = post(router, body, ct, "198.51.100.5")

		assert.Equal(t, http.StatusOK, w.Code, "other clients are unaffected")
	})

	t.Run("rotating client-written forwarded entries does not reset the window", func(t *testing.T) {
		submitter := &mockSubmitter{}
		router := setupRouter(submitter, newLimiter())

		accepted := 0

		for i := range 20 {
			body, ct := multipartBody(t, validFields())
			w := post(router, body, ct, fmt.Sprintf("10.0.0.%d, 198.51.100.4", i+1))

			if w.Code == http.StatusOK {
				accepted++
			} else {
				assert.Equal(t, http.StatusTooManyRequests, w.Code)
			}
		}

		assert.Equal(t, 5, accepted)
		assert.Len(t, submitter.got, 5)
	})

	t.Run("failed deliveries still count against the limit", func(t *testing.T) {
		submitter := &mockSubmitter{err: fmt.Errorf("%w: timeout", contact.ErrDeliveryFailure)}
		router := setupRouter(submitter, newLimiter())

		for range 5 {
			body, ct := multipartBody(t, validFields())
			w := post(router, body, ct, "198.51.100.4")
			require.Equal(t, http.StatusInternalServerError, w.Code)
		}

		body, ct := multipartBody(t, validFields())
		w := post(router, body, ct, "198.51.100.4")

		assert.Equal(t, http.StatusTooManyRequests, w.Code)
	})

	t.Run("unresolvable client address is 400", func(t *testing.T) {
		submitter := &mockSubmitter{}
		router := setupRouter(submitter, newLimiter())

		body, ct := multipartBody(t, validFields())

		w := post(router, body, ct, "not-an-ip")

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, map[string]any{
			"success": false,
			"error":   "unable to determine client address",
		}, decode(t, w))
		assert.Empty(t, submitter.got)
	})
}
