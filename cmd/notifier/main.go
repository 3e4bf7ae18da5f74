package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/sapliy/supplyhub/internal/config"
	"github.com/sapliy/supplyhub/internal/notification"
	"github.com/sapliy/supplyhub/pkg/database"
	"github.com/sapliy/supplyhub/pkg/jsonutil"
	"github.com/sapliy/supplyhub/pkg/messaging"
	"github.com/sapliy/supplyhub/pkg/observability"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "notifier",
	Short: "Real-time notification delivery service",
	Long:  `Serves the live notification stream, read-state endpoints and the batched email fan-out for the SupplyHub platform.`,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the notification service",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		return run(cfg)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (optional; env vars are enough)")
	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	logger := observability.NewLogger("notifications")
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Tracing
	shutdownTracer, err := observability.InitTracer(ctx, observability.Config{
		ServiceName:    "notifications",
		ServiceVersion: "0.1.0",
		Endpoint:       cfg.OTLPEndpoint,
		Environment:    cfg.Environment,
	})
	if err != nil {
		log.Printf("Failed to init tracer: %v", err)
	} else {
		defer shutdownTracer(context.Background())
	}

	// Storage. A missing database degrades to the in-memory store so local
	// development works without Docker, same as the other services tolerate
	// missing infrastructure.
	var (
		store notification.Store
		prefs notification.PreferenceSource
	)
	db, err := database.Connect(cfg.DatabaseDSN)
	if err != nil {
		log.Printf("Warning: Database connection failed, using in-memory store: %v", err)
		store = notification.NewMemoryStore()
		prefs = notification.StaticPreferences{}
	} else {
		defer db.Close()
		log.Println("Database connection established")

		if _, err := db.Exec(notification.Schema); err != nil {
			log.Printf("Failed to apply schema: %v", err)
		}

		store = notification.NewRepository(db)
		prefs = notification.NewPreferenceRepository(db)
	}

	// Change publication
	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Printf("Warning: Redis connection failed, live updates stay process-local: %v", err)
			rdb = nil
		}
	}

	hub := notification.NewHub(cfg.HubBufferSize)
	defer hub.Close()
	hub.SetDropCallback(func() { notification.DroppedSubscribers.Inc() })

	publisher := notification.NewPublisher(rdb, hub)
	publisher.StartListener(ctx)

	// Audit events
	var events notification.EventProducer
	if len(cfg.KafkaBrokers) > 0 {
		producer := messaging.NewKafkaProducer(cfg.KafkaBrokers, cfg.AuditTopic)
		defer producer.Close()
		events = producer
	}

	emailSvc := notification.NewEmailService(cfg.ResendAPIKey, cfg.EmailFrom, cfg.AppBaseURL)
	svc := notification.NewService(store, prefs, emailSvc, publisher, events)

	// Queue-driven creation from internal producers
	if cfg.RabbitURL != "" {
		rabbitClient, err := messaging.NewRabbitMQClient(messaging.Config{URL: cfg.RabbitURL})
		if err != nil {
			log.Printf("Warning: RabbitMQ connection failed, queue intake disabled: %v", err)
		} else {
			defer rabbitClient.Close()
			if _, err := rabbitClient.DeclareQueue(notification.CreateQueue); err != nil {
				log.Printf("Failed to declare create queue: %v", err)
			} else {
				worker := notification.NewWorker(svc)
				go func() {
					if err := rabbitClient.ConsumeWithContext(ctx, notification.CreateQueue, worker.HandleTask); err != nil {
						log.Printf("Create-task consumer stopped: %v", err)
					}
				}()
				log.Printf("Consuming create tasks from %s", notification.CreateQueue)
			}
		}
	}

	// HTTP
	router := mux.NewRouter()
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		jsonutil.WriteJSON(w, http.StatusOK, map[string]string{
			"status":  "active",
			"service": "notifications",
		})
	})
	router.Handle("/metrics", promhttp.Handler())

	api := router.PathPrefix("/api").Subrouter()
	api.Use(notification.AuthMiddleware(cfg.JWTSecret))
	notification.NewHandler(svc, hub, cfg.SnapshotLimit).Register(api)

	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: otelhttp.NewHandler(router, "notifications-request"),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("notification service starting", "addr", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Println("Shutting down...")
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	}

	// Close the hub first so live stream handlers unblock and Shutdown can
	// drain them.
	hub.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
