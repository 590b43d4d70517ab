package middleware

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"go.uber.org/zap"

	"github.com/serroba/proto-clique/internal/handlers"
	"github.com/serroba/proto-clique/internal/metrics"
	"github.com/serroba/proto-clique/internal/ratelimit"
)

// DecisionRecorder counts limiter outcomes.
type DecisionRecorder interface {
	Decision(decision string)
}

const (
	msgUnavailable = "unable to determine client address"
	msgTooMany     = "too many requests"
	msgInternal    = "internal server error"
)

// RateLimit returns a Huma middleware that admits at most limiter.Limit()
// requests per window for each client IP. Only operations carrying
// ratelimit.Guarded metadata are counted. It must run after RequestMeta.
func RateLimit(
	api huma.API,
	limiter ratelimit.Limiter,
	logger *zap.Logger,
	recorder DecisionRecorder,
) func(ctx huma.Context, next func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		if !ratelimit.IsGuarded(ctx) {
			next(ctx)

			return
		}

		ip := handlers.RequestMetaFromContext(ctx.Context()).ClientIP

		record, err := checkClient(ctx, limiter, ip)

		switch {
		case err == nil:
			recorder.Decision(metrics.DecisionAllowed)
			setLimitHeaders(ctx, limiter.Limit(), record)
			next(ctx)
		case errors.Is(err, ratelimit.ErrIdentifierUnavailable):
			recorder.Decision(metrics.DecisionUnavailable)
			logger.Warn("rejecting request without client address",
				zap.String("remote_addr", ctx.RemoteAddr()))
			writeResult(api, ctx, http.StatusBadRequest, msgUnavailable)
		case errors.Is(err, ratelimit.ErrRateLimitExceeded):
			recorder.Decision(metrics.DecisionRejected)
			logger.Warn("rate limit exceeded",
				zap.String("client_ip", ip),
				zap.Int64("hits", record.Hits),
				zap.Time("window_end", record.WindowEnd),
			)
			setLimitHeaders(ctx, limiter.Limit(), record)
			ctx.SetHeader("Retry-After", strconv.FormatInt(retryAfter(limiter.Now(), record.WindowEnd), 10))
			writeResult(api, ctx, http.StatusTooManyRequests, msgTooMany)
		default:
			recorder.Decision(metrics.DecisionError)
			logger.Error("rate limit check failed", zap.String("client_ip", ip), zap.Error(err))
			writeResult(api, ctx, http.StatusInternalServerError, msgInternal)
		}
	}
}

// checkClient counts the request unless no client address was resolved.
func checkClient(ctx huma.Context, limiter ratelimit.Limiter, ip string) (ratelimit.Record, error) {
	if ip == "" {
		return ratelimit.Record{}, ratelimit.ErrIdentifierUnavailable
	}

	return limiter.CheckAndRecord(ctx.Context(), ip)
}

func setLimitHeaders(ctx huma.Context, limit int64, record ratelimit.Record) {
	remaining := max(limit-record.Hits, 0)

	ctx.SetHeader("X-RateLimit-Limit", strconv.FormatInt(limit, 10))
	ctx.SetHeader("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))

	if !record.WindowEnd.IsZero() {
		ctx.SetHeader("X-RateLimit-Reset", strconv.FormatInt(record.WindowEnd.Unix(), 10))
	}
}

// retryAfter is the whole number of seconds from now until windowEnd, at least 1.
func retryAfter(now, windowEnd time.Time) int64 {
	secs := int64(math.Ceil(windowEnd.Sub(now).Seconds()))

	return max(secs, 1)
}

func writeResult(api huma.API, ctx huma.Context, status int, msg string) {
	ctx.SetHeader("Content-Type", "application/json")
	ctx.SetStatus(status)
	_ = api.Marshal(ctx.BodyWriter(), "application/json", handlers.ResultBody{Error: msg})
}
