package ratelimit

import "github.com/danielgtaylor/huma/v2"

// MetadataKey is the key used to store rate limit config in operation metadata.
const MetadataKey = "rateLimit"

// EndpointConfig marks a Huma operation as guarded by the limiter.
// Operations without it in their Metadata are never counted.
type EndpointConfig struct {
	// Disabled keeps the metadata in place but skips limiting, which is handy
	// for local development.
	Disabled bool
}

// Guarded returns the metadata map for an operation that should be rate limited.
func Guarded() map[string]any {
	return map[string]any{MetadataKey: EndpointConfig{}}
}

// GetEndpointConfig extracts the EndpointConfig from operation metadata, if present.
func GetEndpointConfig(ctx huma.Context) *EndpointConfig {
	op := ctx.Operation()
	if op == nil || op.Metadata == nil {
		return nil
	}

	cfg, ok := op.Metadata[MetadataKey].(EndpointConfig)
	if !ok {
		return nil
	}

	return &cfg
}

// IsGuarded reports whether the request targets an operation that must pass the limiter.
func IsGuarded(ctx huma.Context) bool {
	cfg := GetEndpointConfig(ctx)

	return cfg != nil && !cfg.Disabled
}
