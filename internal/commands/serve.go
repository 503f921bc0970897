package commands

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/relaywire/relay/internal/admission"
	"github.com/relaywire/relay/internal/config"
	"github.com/relaywire/relay/internal/handlers"
	"github.com/relaywire/relay/internal/hub"
	"github.com/relaywire/relay/internal/logging"
	"github.com/relaywire/relay/internal/mirror"
	"github.com/relaywire/relay/internal/server"
	"github.com/relaywire/relay/internal/verifier"
	"github.com/relaywire/relay/internal/ws"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the relay server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := logging.New(
		logging.ParseLevel(cfg.Logging.Level),
		cfg.Logging.Format,
	).With(logging.Service("relay"))
	logging.SetDefault(logger)

	slog.Info("Starting relay",
		slog.Int("port", cfg.Server.Port),
		slog.String("log_level", cfg.Logging.Level),
	)

	// Signature verifier; a missing secret keeps the server up but answers
	// every submission with a 500 until configured.
	var verify handlers.Verifier
	if cfg.Webhook.Secret != "" {
		verify = verifier.New(cfg.Webhook.Secret)
	} else {
		log.Println("WARNING: webhook.secret not set - submissions will be rejected")
	}

	// Admission limiter
	var limiter admission.Limiter
	switch {
	case !cfg.Admission.Enabled:
		limiter = admission.NoOpLimiter{}
		log.Println("Admission control disabled in configuration")
	case cfg.Admission.Backend == "redis":
		redisLimiter, err := admission.NewRedisLimiter(cfg.Admission.RedisURL, cfg.Admission.MaxEvents, cfg.Admission.Window)
		if err != nil {
			log.Printf("WARNING: Failed to initialize Redis admission limiter: %v", err)
			log.Println("Falling back to in-memory admission control")
			limiter = admission.NewMemoryLimiter(cfg.Admission.MaxEvents, cfg.Admission.Window)
		} else {
			limiter = redisLimiter
			log.Printf("Redis admission control: %d events per %s", cfg.Admission.MaxEvents, cfg.Admission.Window)
		}
	default:
		limiter = admission.NewMemoryLimiter(cfg.Admission.MaxEvents, cfg.Admission.Window)
		log.Printf("In-memory admission control: %d events per %s", cfg.Admission.MaxEvents, cfg.Admission.Window)
	}
	defer limiter.Close()

	// Consumer hub and WebSocket transport
	eventHub := hub.New(logger.Logger)
	consumer := ws.NewHandler(eventHub, logger.Logger)

	// Optional NATS mirror
	var eventMirror handlers.Mirror
	if cfg.NATS.Enabled {
		pub, err := mirror.New(cfg.NATS.URL, cfg.NATS.SubjectPrefix, logger.Logger)
		if err != nil {
			log.Printf("WARNING: Failed to connect NATS mirror: %v", err)
			log.Println("Continuing without broker mirroring")
		} else {
			eventMirror = pub
			defer pub.Close()
			log.Printf("NATS mirror enabled: %s -> %s", cfg.NATS.URL, cfg.NATS.SubjectPrefix)
		}
	}

	webhook := handlers.NewWebhookHandler(verify, limiter, eventHub, eventMirror, cfg.Webhook.MaxBodySize, logger.Logger)
	status := handlers.NewStatusHandler(eventHub, limiter)
	router := server.NewRouter(webhook, status, consumer)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Printf("Relay listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	// Give consumers a shutdown notice before their connections drop.
	eventHub.Shutdown()
	time.Sleep(100 * time.Millisecond)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.WriteTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Println("Server stopped")
	return nil
}
