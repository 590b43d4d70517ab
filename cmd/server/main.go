package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/go-chi/chi/v5"
	"github.com/samber/do"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/serroba/proto-clique/internal/container"
	"github.com/serroba/proto-clique/internal/messaging"
)

func registerPackages(injector *do.Injector, options *container.Options) {
	do.ProvideValue(injector, options)
	container.LoggerPackage(injector)
	container.RedisPackage(injector)
	container.PostgresPackage(injector)
	container.RateLimitPackage(injector)
	container.MetricsPackage(injector)
	container.MailerPackage(injector)
	container.EventBusPackage(injector)
	container.PublisherGroupPackage(injector)
	container.LeadStorePackage(injector)
	container.ConsumerGroupPackage(injector)
	container.ContactPackage(injector)
	container.HTTPPackage(injector)
}

func main() {
	cli := humacli.New(func(hooks humacli.Hooks, options *container.Options) {
		injector := do.New()
		registerPackages(injector, options)

		logger := do.MustInvoke[*zap.Logger](injector)

		var (
			server *http.Server
			cancel context.CancelFunc = func() {}
		)

		hooks.OnStart(func() {
			router := do.MustInvoke[*chi.Mux](injector)

			// Invoke API to trigger route registration
			_ = do.MustInvoke[huma.API](injector)

			// The in-process bus has no one else to consume it.
			if options.EventsBackend == container.EventsMemory {
				var ctx context.Context
				ctx, cancel = context.WithCancel(context.Background())

				group := do.MustInvoke[*messaging.ConsumerGroup](injector)
				if err := group.Start(ctx); err != nil {
					logger.Fatal("failed to start consumer group", zap.Error(err))
				}
			}

			server = &http.Server{
				Addr:              fmt.Sprintf(":%d", options.Port),
				Handler:           router,
				ReadHeaderTimeout: 10 * time.Second,
			}

			logger.Info("server starting",
				zap.Int("port", options.Port),
				zap.String("ratelimit_store", options.RateLimitStore),
				zap.String("events_backend", options.EventsBackend),
			)

			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Fatal("server failed", zap.Error(err))
			}
		})

		hooks.OnStop(func() {
			logger.Info("shutting down")

			ctx, stop := context.WithTimeout(context.Background(), 30*time.Second)
			defer stop()

			if server != nil {
				if err := server.Shutdown(ctx); err != nil {
					logger.Error("server shutdown error", zap.Error(err))
				}
			}

			cancel()

			if err := injector.Shutdown(); err != nil {
				logger.Error("service shutdown error", zap.Error(err))
			}

			logger.Info("shutdown complete")
			_ = logger.Sync()
		})
	})

	cli.Root().AddCommand(&cobra.Command{
		Use:   "openapi",
		Short: "Print the OpenAPI document as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts := &container.Options{
				LogFormat:   "console",
				LogLevel:    "error",
				SMTPHost:    "localhost",
				SMTPPort:    25,
				SMTPTLSMode: "none",
				MailFrom:    "noreply@localhost",
				MailTo:      "noreply@localhost",
			}

			injector := do.New()
			registerPackages(injector, opts)

			defer func() { _ = injector.Shutdown() }()

			api, err := do.Invoke[huma.API](injector)
			if err != nil {
				return err
			}

			b, err := json.MarshalIndent(api.OpenAPI(), "", "  ")
			if err != nil {
				return err
			}

			_, err = cmd.OutOrStdout().Write(b)

			return err
		},
	})

	cli.Run()
}
