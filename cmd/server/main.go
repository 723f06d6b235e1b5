// Command server runs the offers backend: REST API, STOMP endpoint and the
// unread-notification sweeper, all sharing one SQLite database.
//
// @title                       Offers API
// @version                     1.0
// @description                 Offers on requested services, per-offer conversations and read tracking.
// @BasePath                    /api/v1
// @securityDefinitions.apikey  BearerAuth
// @in                          header
// @name                        Authorization
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"golang.org/x/text/language"

	_ "github.com/tbourn/go-offers-backend/docs"
	"github.com/tbourn/go-offers-backend/internal/auth"
	"github.com/tbourn/go-offers-backend/internal/config"
	httpapi "github.com/tbourn/go-offers-backend/internal/http"
	"github.com/tbourn/go-offers-backend/internal/notify"
	"github.com/tbourn/go-offers-backend/internal/observability"
	"github.com/tbourn/go-offers-backend/internal/repo"
	"github.com/tbourn/go-offers-backend/internal/services"
	"github.com/tbourn/go-offers-backend/internal/stomp"
	"github.com/tbourn/go-offers-backend/internal/sysutil"
	"github.com/tbourn/go-offers-backend/internal/worker"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	// A missing .env is fine; real deployments use the environment.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}
	sysutil.ConfigureLogger(os.Stderr, cfg.LogLevel, cfg.LogPretty || sysutil.IsTruthy(os.Getenv("DEV")))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, sysutil.FirstNonEmpty(os.Getenv("APP_VERSION"), version))
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup")
	}

	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("open database")
	}
	if cfg.OTEL.Enabled {
		if err := repo.Instrument(db); err != nil {
			log.Fatal().Err(err).Msg("instrument database")
		}
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("migrate")
	}

	verifier := auth.NewVerifier([]byte(cfg.Auth.JWTSecret), auth.WithLeeway(cfg.Auth.Leeway))
	dispatcher := newDispatcher(cfg.SMTP)

	members := &services.MembershipService{DB: db}
	offers := services.NewOfferService(db, dispatcher)
	messages := services.NewMessageService(db)

	broker := stomp.NewBroker(&stomp.Gate{Verifier: verifier, Members: members}, messages, stomp.BrokerConfig{
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		WriteTimeout:   cfg.Stomp.WriteTimeout,
		PingInterval:   cfg.Stomp.PingInterval,
	})
	messages.Publisher = broker

	sweeper := worker.NewSweeper(messages, dispatcher, worker.Config{
		Period:       cfg.Sweeper.Period,
		Threshold:    cfg.Sweeper.UnreadThreshold,
		CycleTimeout: cfg.Sweeper.Timeout,
	})
	go sweeper.Run(ctx)

	gin.SetMode(cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, cfg, httpapi.Deps{
		DB:       db,
		Verifier: verifier,
		Offers:   offers,
		Messages: messages,
		Members:  members,
		Stomp:    broker,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("stomp", cfg.Stomp.Endpoint).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	case err := <-errCh:
		log.Error().Err(err).Msg("server failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown")
	}
	log.Info().Int("sessions", broker.Sessions()).Msg("closing stomp sessions")
	if err := broker.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("stomp shutdown")
	}
	sweeper.Stop()
	messages.Drain()
	if err := shutdownOTel(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("otel shutdown")
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	log.Info().Msg("bye")
}

// newDispatcher picks SMTP when a relay is configured and logs otherwise.
func newDispatcher(c config.SMTPConfig) *notify.Dispatcher {
	tag, err := language.Parse(c.Language)
	if err != nil {
		log.Warn().Err(err).Str("lang", c.Language).Msg("unknown NOTIFY_LANG, using en")
		tag = language.English
	}
	if c.Host == "" {
		return notify.NewDispatcher(notify.LogTransport{}, tag)
	}
	return notify.NewDispatcher(
		notify.NewSMTPTransport(c.Host, strconv.Itoa(c.Port), c.Username, c.Password, c.From),
		tag,
	)
}
