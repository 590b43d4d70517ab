// Package container wires the service together with samber/do.
package container

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	_ "github.com/danielgtaylor/huma/v2/formats/cbor" // CBOR format support for huma
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jaevor/go-nanoid"
	"github.com/redis/go-redis/v9"
	"github.com/samber/do"
	"go.uber.org/zap"

	"github.com/serroba/proto-clique/internal/contact"
	"github.com/serroba/proto-clique/internal/handlers"
	"github.com/serroba/proto-clique/internal/health"
	"github.com/serroba/proto-clique/internal/leads"
	leadstore "github.com/serroba/proto-clique/internal/leads/store"
	"github.com/serroba/proto-clique/internal/mail"
	"github.com/serroba/proto-clique/internal/messaging"
	"github.com/serroba/proto-clique/internal/metrics"
	"github.com/serroba/proto-clique/internal/middleware"
	"github.com/serroba/proto-clique/internal/ratelimit"
	"github.com/serroba/proto-clique/internal/store"
)

const (
	submissionIDLength = 12
	startupTimeout     = 10 * time.Second
	consumerGroupName  = "leads"
)

// Redis holds the shared Redis client. Client is nil when no address is configured.
type Redis struct {
	Client *redis.Client
}

// Shutdown closes the client.
func (r *Redis) Shutdown() error {
	if r.Client == nil {
		return nil
	}

	return r.Client.Close()
}

// Postgres holds the shared connection pool. Pool is nil when no URL is configured.
type Postgres struct {
	Pool *pgxpool.Pool
}

// Shutdown closes the pool.
func (p *Postgres) Shutdown() error {
	if p.Pool != nil {
		p.Pool.Close()
	}

	return nil
}

// EventBus holds the publisher and subscriber of the configured backend.
// Both are nil when events are disabled.
type EventBus struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber
}

// Enabled reports whether a backend is configured.
func (b *EventBus) Enabled() bool {
	return b.Publisher != nil
}

// LoggerPackage provides the zap logger.
func LoggerPackage(i *do.Injector) {
	do.Provide(i, func(i *do.Injector) (*zap.Logger, error) {
		opts := do.MustInvoke[*Options](i)

		return NewLogger(opts.LogFormat, opts.LogLevel)
	})
}

// NewLogger builds a production (json) or development (console) logger.
func NewLogger(format, level string) (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	if format == "json" {
		cfg = zap.NewProductionConfig()
	}

	if level != "" {
		lvl, err := zap.ParseAtomicLevel(level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level: %w", err)
		}

		cfg.Level = lvl
	}

	return cfg.Build()
}

// RedisPackage provides the optional Redis client.
func RedisPackage(i *do.Injector) {
	do.Provide(i, func(i *do.Injector) (*Redis, error) {
		opts := do.MustInvoke[*Options](i)
		if opts.RedisAddr == "" {
			return &Redis{}, nil
		}

		return &Redis{Client: redis.NewClient(&redis.Options{Addr: opts.RedisAddr})}, nil
	})
}

// PostgresPackage provides the optional PostgreSQL pool.
func PostgresPackage(i *do.Injector) {
	do.Provide(i, func(i *do.Injector) (*Postgres, error) {
		opts := do.MustInvoke[*Options](i)
		if opts.DatabaseURL == "" {
			return &Postgres{}, nil
		}

		ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
		defer cancel()

		pool, err := pgxpool.New(ctx, opts.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}

		return &Postgres{Pool: pool}, nil
	})
}

// RateLimitPackage provides the limiter backed by the configured store.
func RateLimitPackage(i *do.Injector) {
	do.Provide(i, func(i *do.Injector) (ratelimit.Store, error) {
		opts := do.MustInvoke[*Options](i)

		switch opts.RateLimitStore {
		case StoreMemory, "":
			return store.NewRateLimitMemoryStore(), nil
		case StoreRedis:
			rdb := do.MustInvoke[*Redis](i)
			if rdb.Client == nil {
				return nil, fmt.Errorf("rate limit store %q needs a redis address", opts.RateLimitStore)
			}

			return store.NewRateLimitRedisStore(rdb.Client), nil
		case StorePostgres:
			pg := do.MustInvoke[*Postgres](i)
			if pg.Pool == nil {
				return nil, fmt.Errorf("rate limit store %q needs a database url", opts.RateLimitStore)
			}

			s := store.NewRateLimitPostgresStore(pg.Pool)

			ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
			defer cancel()

			if err := s.EnsureSchema(ctx); err != nil {
				return nil, err
			}

			return s, nil
		default:
			return nil, fmt.Errorf("unknown rate limit store %q", opts.RateLimitStore)
		}
	})

	do.Provide(i, func(i *do.Injector) (ratelimit.Limiter, error) {
		opts := do.MustInvoke[*Options](i)
		s := do.MustInvoke[ratelimit.Store](i)
		window := time.Duration(opts.RateLimitWindowSeconds) * time.Second

		return ratelimit.NewFixedWindowLimiter(s, opts.RateLimitMax, window), nil
	})
}

// MetricsPackage provides the Prometheus collectors.
func MetricsPackage(i *do.Injector) {
	do.Provide(i, func(_ *do.Injector) (*metrics.Metrics, error) {
		return metrics.New(), nil
	})
}

// MailerPackage provides the SMTP mailer.
func MailerPackage(i *do.Injector) {
	do.Provide(i, func(i *do.Injector) (contact.Mailer, error) {
		opts := do.MustInvoke[*Options](i)

		return mail.NewSMTPMailer(MailConfig(opts))
	})
}

// MailConfig maps options onto the mail configuration.
func MailConfig(opts *Options) mail.Config {
	cfg := mail.DefaultConfig()
	cfg.Host = opts.SMTPHost
	cfg.Port = opts.SMTPPort
	cfg.Username = opts.SMTPUser
	cfg.Password = opts.SMTPPass
	cfg.TLSMode = opts.SMTPTLSMode
	cfg.From = opts.MailFrom
	cfg.FromName = opts.MailFromName
	cfg.Subject = opts.MailSubject
	cfg.To = splitList(opts.MailTo)

	return cfg
}

func splitList(s string) []string {
	var out []string

	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}

	return out
}

// EventBusPackage provides the lead event bus.
func EventBusPackage(i *do.Injector) {
	do.Provide(i, func(i *do.Injector) (*EventBus, error) {
		opts := do.MustInvoke[*Options](i)
		logger := messaging.NewZapLogger(do.MustInvoke[*zap.Logger](i).Named("watermill"))

		switch opts.EventsBackend {
		case EventsNone, "":
			return &EventBus{}, nil
		case EventsMemory:
			ch := gochannel.NewGoChannel(gochannel.Config{}, logger)

			return &EventBus{Publisher: ch, Subscriber: ch}, nil
		case EventsRedis:
			rdb := do.MustInvoke[*Redis](i)
			if rdb.Client == nil {
				return nil, fmt.Errorf("events backend %q needs a redis address", opts.EventsBackend)
			}

			return newRedisBus(rdb.Client, logger)
		default:
			return nil, fmt.Errorf("unknown events backend %q", opts.EventsBackend)
		}
	})
}

func newRedisBus(client *redis.Client, logger *messaging.ZapLogger) (*EventBus, error) {
	publisher, err := redisstream.NewPublisher(redisstream.PublisherConfig{
		Client:     client,
		Marshaller: redisstream.DefaultMarshallerUnmarshaller{},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create redis publisher: %w", err)
	}

	subscriber, err := redisstream.NewSubscriber(redisstream.SubscriberConfig{
		Client:        client,
		Unmarshaller:  redisstream.DefaultMarshallerUnmarshaller{},
		ConsumerGroup: consumerGroupName,
	}, logger)
	if err != nil {
		_ = publisher.Close()

		return nil, fmt.Errorf("create redis subscriber: %w", err)
	}

	return &EventBus{Publisher: publisher, Subscriber: subscriber}, nil
}

// PublisherGroupPackage provides the typed lead publisher.
func PublisherGroupPackage(i *do.Injector) {
	do.Provide(i, func(i *do.Injector) (*messaging.PublisherGroup, error) {
		bus := do.MustInvoke[*EventBus](i)
		if !bus.Enabled() {
			return messaging.NewPublisherGroup(nopPublisher{}), nil
		}

		return messaging.NewPublisherGroup(bus.Publisher), nil
	})

	do.Provide(i, func(i *do.Injector) (messaging.Publish[leads.LeadSubmittedEvent], error) {
		if !do.MustInvoke[*EventBus](i).Enabled() {
			return messaging.Discard[leads.LeadSubmittedEvent](), nil
		}

		group := do.MustInvoke[*messaging.PublisherGroup](i)

		return messaging.NewPublishFunc[leads.LeadSubmittedEvent](group.Publisher(), leads.TopicLeadSubmitted), nil
	})
}

type nopPublisher struct{}

func (nopPublisher) Publish(string, ...*message.Message) error { return nil }
func (nopPublisher) Close() error                              { return nil }

// ContactPackage provides the submission service.
func ContactPackage(i *do.Injector) {
	do.Provide(i, func(i *do.Injector) (*contact.Service, error) {
		generateID, err := nanoid.Standard(submissionIDLength)
		if err != nil {
			return nil, fmt.Errorf("create id generator: %w", err)
		}

		return contact.NewService(
			do.MustInvoke[contact.Mailer](i),
			do.MustInvoke[messaging.Publish[leads.LeadSubmittedEvent]](i),
			generateID,
			do.MustInvoke[*metrics.Metrics](i),
			do.MustInvoke[*zap.Logger](i),
		), nil
	})
}

// HTTPPackage provides the router and the Huma API with all routes registered.
func HTTPPackage(i *do.Injector) {
	do.Provide(i, func(i *do.Injector) (*chi.Mux, error) {
		opts := do.MustInvoke[*Options](i)
		m := do.MustInvoke[*metrics.Metrics](i)

		router := chi.NewMux()
		router.Use(chimw.Recoverer)
		router.Use(chimw.RequestSize(maxBodyBytes(opts)))
		router.Handle("/metrics", m.Handler())

		return router, nil
	})

	do.Provide(i, func(i *do.Injector) (huma.API, error) {
		opts := do.MustInvoke[*Options](i)
		router := do.MustInvoke[*chi.Mux](i)
		logger := do.MustInvoke[*zap.Logger](i)

		api := humachi.New(router, huma.DefaultConfig("Clique Prototipazione", "1.0.0"))
		api.UseMiddleware(
			middleware.RequestMeta(api, middleware.ClientIPResolver{
				ForwardedIndex: opts.ForwardedIndex,
				TrustRealIP:    opts.TrustRealIP,
			}),
			middleware.RateLimit(api,
				do.MustInvoke[ratelimit.Limiter](i),
				logger.Named("ratelimit"),
				do.MustInvoke[*metrics.Metrics](i),
			),
		)

		contactHandler := handlers.NewContactHandler(do.MustInvoke[*contact.Service](i), logger)
		handlers.RegisterRoutes(api, contactHandler, maxBodyBytes(opts))
		health.RegisterRoutes(api, newHealthHandler(i))

		return api, nil
	})
}

func maxBodyBytes(opts *Options) int64 {
	if opts.MaxBodyBytes <= 0 {
		return handlers.DefaultMaxBodyBytes
	}

	return opts.MaxBodyBytes
}

func newHealthHandler(i *do.Injector) *health.Handler {
	var redisChecker, postgresChecker health.Checker

	if rdb := do.MustInvoke[*Redis](i); rdb.Client != nil {
		redisChecker = health.NewRedisChecker(rdb.Client)
	}

	if pg := do.MustInvoke[*Postgres](i); pg.Pool != nil {
		postgresChecker = health.NewPostgresChecker(pg.Pool)
	}

	return health.NewHandler(redisChecker, postgresChecker)
}

// LeadStorePackage provides where consumed leads are kept: PostgreSQL when
// configured, the log otherwise.
func LeadStorePackage(i *do.Injector) {
	do.Provide(i, func(i *do.Injector) (leads.Store, error) {
		logger := do.MustInvoke[*zap.Logger](i)

		pg := do.MustInvoke[*Postgres](i)
		if pg.Pool == nil {
			return leadstore.NewLog(logger), nil
		}

		s := leadstore.NewPostgres(pg.Pool)

		ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
		defer cancel()

		if err := s.EnsureSchema(ctx); err != nil {
			return nil, err
		}

		return s, nil
	})
}

// ConsumerGroupPackage provides the consumers of lead events.
func ConsumerGroupPackage(i *do.Injector) {
	do.Provide(i, func(i *do.Injector) (*messaging.ConsumerGroup, error) {
		bus := do.MustInvoke[*EventBus](i)
		if !bus.Enabled() {
			return nil, fmt.Errorf("consumers need an events backend, got %q",
				do.MustInvoke[*Options](i).EventsBackend)
		}

		logger := do.MustInvoke[*zap.Logger](i)

		group := messaging.NewConsumerGroup(bus.Subscriber, logger)
		group.Add(leads.NewConsumer(bus.Subscriber, do.MustInvoke[leads.Store](i), logger))

		return group, nil
	})
}
