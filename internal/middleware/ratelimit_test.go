package middleware_test

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/serroba/proto-clique/internal/handlers"
	"github.com/serroba/proto-clique/internal/middleware"
	"github.com/serroba/proto-clique/internal/ratelimit"
	"github.com/serroba/proto-clique/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testClientIP = "203.0.113.9"

func newTestAPI() huma.API {
	return humachi.New(chi.NewMux(), huma.DefaultConfig("Test", "1.0.0"))
}

type mockLimiter struct {
	record ratelimit.Record
	err    error
	now    time.Time
	calls  []string
}

func (m *mockLimiter) CheckAndRecord(_ context.Context, identifier string) (ratelimit.Record, error) {
	m.calls = append(m.calls, identifier)

	return m.record, m.err
}

func (m *mockLimiter) Limit() int64 { return 5 }

func (m *mockLimiter) Now() time.Time {
	if m.now.IsZero() {
		return time.Now()
	}

	return m.now
}

type mockRecorder struct {
	decisions []string
}

func (m *mockRecorder) Decision(decision string) {
	m.decisions = append(m.decisions, decision)
}

func guardedContext(ip string) *mockHumaContext {
	ctx := newMockHumaContext()
	ctx.operation = &huma.Operation{Path: "/api/send", Metadata: ratelimit.Guarded()}
	ctx.ctx = handlers.ContextWithRequestMeta(context.Background(), handlers.RequestMeta{ClientIP: ip})

	return ctx
}

func decodeResult(t *testing.T, ctx *mockHumaContext) handlers.ResultBody {
	t.Helper()

	var body handlers.ResultBody
	require.NoError(t, json.Unmarshal(ctx.written, &body))

	return body
}

func TestRateLimit(t *testing.T) {
	t.Run("admits request and sets limit headers", func(t *testing.T) {
		windowEnd := time.Now().Add(10 * time.Minute)
		limiter := &mockLimiter{record: ratelimit.Record{Hits: 2, WindowEnd: windowEnd}}
		recorder := &mockRecorder{}
		mw := middleware.RateLimit(newTestAPI(), limiter, zap.NewNop(), recorder)

		ctx := guardedContext(testClientIP)
		nextCalled := false

		mw(ctx, func(_ huma.Context) { nextCalled = true })

		assert.True(t, nextCalled)
		assert.Equal(t, []string{testClientIP}, limiter.calls)
		assert.Equal(t, "5", ctx.respHeader["X-RateLimit-Limit"])
		assert.Equal(t, "3", ctx.respHeader["X-RateLimit-Remaining"])
		assert.Equal(t, strconv.FormatInt(windowEnd.Unix(), 10), ctx.respHeader["X-RateLimit-Reset"])
		assert.Equal(t, []string{"allowed"}, recorder.decisions)
	})

	t.Run("returns 429 with retry-after when exceeded", func(t *testing.T) {
		windowEnd := time.Now().Add(90 * time.Second)
		limiter := &mockLimiter{
			record: ratelimit.Record{Hits: 5, WindowEnd: windowEnd},
			err:    ratelimit.ErrRateLimitExceeded,
		}
		recorder := &mockRecorder{}
		mw := middleware.RateLimit(newTestAPI(), limiter, zap.NewNop(), recorder)

		ctx := guardedContext(testClientIP)
		nextCalled := false

		mw(ctx, func(_ huma.Context) { nextCalled = true })

		assert.False(t, nextCalled)
		assert.Equal(t, 429, ctx.statusCode)

		retry, err := strconv.Atoi(ctx.respHeader["Retry-After"])
		require.NoError(t, err)
		assert.InDelta(t, 90, retry, 2)
		assert.Equal(t, "0", ctx.respHeader["X-RateLimit-Remaining"])

		body := decodeResult(t, ctx)
		assert.False(t, body.Success)
		assert.Equal(t, "too many requests", body.Error)
		assert.Equal(t, []string{"rejected"}, recorder.decisions)
	})

	t.Run("retry-after follows the limiter clock", func(t *testing.T) {
		now := time.Date(2020, 1, 1, 9, 0, 0, 0, time.UTC)
		windowEnd := now.Add(4*time.Minute + 500*time.Millisecond)
		limiter := &mockLimiter{
			record: ratelimit.Record{Hits: 5, WindowEnd: windowEnd},
			err:    ratelimit.ErrRateLimitExceeded,
			now:    now,
		}
		mw := middleware.RateLimit(newTestAPI(), limiter, zap.NewNop(), &mockRecorder{})

		ctx := guardedContext(testClientIP)
		mw(ctx, func(_ huma.Context) {})

		assert.Equal(t, "241", ctx.respHeader["Retry-After"])
		assert.Equal(t, strconv.FormatInt(windowEnd.Unix(), 10), ctx.respHeader["X-RateLimit-Reset"])
	})

	t.Run("retry-after is at least one second", func(t *testing.T) {
		limiter := &mockLimiter{
			record: ratelimit.Record{Hits: 5, WindowEnd: time.Now()},
			err:    ratelimit.ErrRateLimitExceeded,
		}
		mw := middleware.RateLimit(newTestAPI(), limiter, zap.NewNop(), &mockRecorder{})

		ctx := guardedContext(testClientIP)
		mw(ctx, func(_ huma.Context) {})

		assert.Equal(t, "1", ctx.respHeader["Retry-After"])
	})

	t.Run("returns 400 when client address is unknown", func(t *testing.T) {
		limiter := &mockLimiter{}
		recorder := &mockRecorder{}
		mw := middleware.RateLimit(newTestAPI(), limiter, zap.NewNop(), recorder)

		ctx := guardedContext("")
		nextCalled := false

		mw(ctx, func(_ huma.Context) { nextCalled = true })

		assert.False(t, nextCalled)
		assert.Empty(t, limiter.calls, "limiter must not be consulted")
		assert.Equal(t, 400, ctx.statusCode)
		assert.Equal(t, "unable to determine client address", decodeResult(t, ctx).Error)
		assert.Equal(t, []string{"unavailable"}, recorder.decisions)
	})

	t.Run("maps an unavailable identifier from the limiter to 400", func(t *testing.T) {
		limiter := &mockLimiter{err: ratelimit.ErrIdentifierUnavailable}
		recorder := &mockRecorder{}
		mw := middleware.RateLimit(newTestAPI(), limiter, zap.NewNop(), recorder)

		ctx := guardedContext(testClientIP)
		mw(ctx, func(_ huma.Context) {})

		assert.Equal(t, 400, ctx.statusCode)
		assert.Equal(t, []string{"unavailable"}, recorder.decisions)
	})

	t.Run("returns 500 when the store fails", func(t *testing.T) {
		limiter := &mockLimiter{err: errors.New("connection refused")}
		recorder := &mockRecorder{}
		mw := middleware.RateLimit(newTestAPI(), limiter, zap.NewNop(), recorder)

		ctx := guardedContext(testClientIP)
		nextCalled := false

		mw(ctx, func(_ huma.Context) { nextCalled = true })

		assert.False(t, nextCalled)
		assert.Equal(t, 500, ctx.statusCode)

		body := decodeResult(t, ctx)
		assert.Equal(t, "internal server error", body.Error)
		assert.NotContains(t, string(ctx.written), "connection refused")
		assert.Equal(t, []string{"error"}, recorder.decisions)
	})

	t.Run("skips operations without metadata", func(t *testing.T) {
		limiter := &mockLimiter{}
		mw := middleware.RateLimit(newTestAPI(), limiter, zap.NewNop(), &mockRecorder{})

		ctx := newMockHumaContext()
		ctx.operation = &huma.Operation{Path: "/health"}
		nextCalled := false

		mw(ctx, func(_ huma.Context) { nextCalled = true })

		assert.True(t, nextCalled)
		assert.Empty(t, limiter.calls)
	})

	t.Run("skips disabled endpoints", func(t *testing.T) {
		limiter := &mockLimiter{}
		mw := middleware.RateLimit(newTestAPI(), limiter, zap.NewNop(), &mockRecorder{})

		ctx := guardedContext(testClientIP)
		ctx.operation.Metadata = map[string]any{
			ratelimit.MetadataKey: ratelimit.EndpointConfig{Disabled: true},
		}
		nextCalled := false

		mw(ctx, func(_ huma.Context) { nextCalled = true })

		assert.True(t, nextCalled)
		assert.Empty(t, limiter.calls)
	})

	t.Run("sixth request from one address is rejected with a real limiter", func(t *testing.T) {
		limiter := ratelimit.NewFixedWindowLimiter(store.NewRateLimitMemoryStore(), 5, 10*time.Minute)
		mw := middleware.RateLimit(newTestAPI(), limiter, zap.NewNop(), &mockRecorder{})

		statuses := make([]int, 0, 6)

		for range 6 {
			ctx := guardedContext(testClientIP)
			ctx.statusCode = 200
			mw(ctx, func(_ huma.Context) {})
			statuses = append(statuses, ctx.statusCode)
		}

		assert.Equal(t, []int{200, 200, 200, 200, 200, 429}, statuses)
	})
}
