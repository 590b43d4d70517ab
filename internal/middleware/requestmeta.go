package middleware

import (
	"fmt"
	"net/netip"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"github.com/serroba/proto-clique/internal/handlers"
	"github.com/serroba/proto-clique/internal/ratelimit"
)

// DefaultForwardedIndex selects the X-Forwarded-For entry appended by the
// proxy closest to this server. Entries to its left are written by the client.
const DefaultForwardedIndex = -1

// ClientIPResolver picks the address that identifies a client.
//
// ForwardedIndex selects one entry of X-Forwarded-For: negative values count
// from the right, -1 being the hop added by the nearest proxy, and values >= 0
// count from the left. Use -2, -3 and so on when several trusted proxies sit in
// front of the service. When the header has no entry at that position it is
// ignored. X-Real-IP is only read when TrustRealIP is set. The connection's
// remote address is the last resort.
type ClientIPResolver struct {
	ForwardedIndex int
	TrustRealIP    bool
}

// NewClientIPResolver returns a resolver using the nearest proxy hop.
func NewClientIPResolver() ClientIPResolver {
	return ClientIPResolver{ForwardedIndex: DefaultForwardedIndex}
}

// Resolve returns the normalized client IP. It fails with
// ratelimit.ErrIdentifierUnavailable when the selected value is not an address.
func (r ClientIPResolver) Resolve(ctx huma.Context) (string, error) {
	raw := ctx.RemoteAddr()

	if entry, ok := r.forwarded(ctx.Header("X-Forwarded-For")); ok {
		raw = entry
	} else if xri := ctx.Header("X-Real-IP"); r.TrustRealIP && xri != "" {
		raw = xri
	}

	ip := normalizeIP(raw)
	if ip == "" {
		return "", fmt.Errorf("%w: %q", ratelimit.ErrIdentifierUnavailable, raw)
	}

	return ip, nil
}

func (r ClientIPResolver) forwarded(header string) (string, bool) {
	if header == "" {
		return "", false
	}

	entries := strings.Split(header, ",")

	idx := r.ForwardedIndex
	if idx < 0 {
		idx += len(entries)
	}

	if idx < 0 || idx >= len(entries) {
		return "", false
	}

	entry := strings.TrimSpace(entries[idx])

	return entry, entry != ""
}

// normalizeIP accepts a bare address or host:port and returns the canonical
// address text. IPv4-mapped IPv6 addresses are unmapped and zones dropped.
func normalizeIP(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	addr, err := netip.ParseAddr(raw)
	if err != nil {
		ap, perr := netip.ParseAddrPort(raw)
		if perr != nil {
			return ""
		}

		addr = ap.Addr()
	}

	return addr.Unmap().WithZone("").String()
}

// RequestMeta is a middleware that adds client IP, user-agent, and referrer to the request context.
func RequestMeta(_ huma.API, resolver ClientIPResolver) func(ctx huma.Context, next func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		// An empty ClientIP is rejected by RateLimit on guarded operations.
		ip, _ := resolver.Resolve(ctx)

		meta := handlers.RequestMeta{
			ClientIP:  ip,
			UserAgent: ctx.Header("User-Agent"),
			Referrer:  ctx.Header("Referer"),
		}

		newCtx := handlers.ContextWithRequestMeta(ctx.Context(), meta)
		ctx = huma.WithContext(ctx, newCtx)

		next(ctx)
	}
}
