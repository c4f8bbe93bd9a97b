/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the mess engine server. Handles configuration,
  dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env (if present) and environment configuration
  2. Initialize SQLite store
  3. Build policies and the core ledger
  4. Configure HTTP router
  5. Start server with graceful shutdown

CONFIGURATION:
  All via environment (see config/config.go): PORT, DB_PATH,
  ADMIN_TOKEN, LUNCH_CUTOFF_HOUR, DINNER_CUTOFF_HOUR, TIMEZONE,
  CREDITS_PER_DAY, AUTO_CONVERT_THRESHOLD, MAX_CREDITS.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close database connection
  4. Exit

SEE ALSO:
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/tiffin/mess-engine/api"
	"github.com/tiffin/mess-engine/config"
	"github.com/tiffin/mess-engine/ledger"
	"github.com/tiffin/mess-engine/logger"
	"github.com/tiffin/mess-engine/policy"
	"github.com/tiffin/mess-engine/store/sqlite"
)

func main() {
	log := logger.New()

	// .env is optional; real deployments set the environment directly.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Msg("failed to load .env")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize database")
	}
	defer store.Close()

	thresholds := policy.DefaultThresholds()
	thresholds.LunchCutoffHour = cfg.LunchCutoffHour
	thresholds.DinnerCutoffHour = cfg.DinnerCutoffHour
	if loc, err := time.LoadLocation(cfg.Timezone); err == nil {
		thresholds.Location = loc
	} else {
		log.Warn().Err(err).Str("timezone", cfg.Timezone).Msg("unknown timezone, keeping default")
	}

	conversion := policy.Conversion{
		CreditsPerDay:        cfg.CreditsPerDay,
		AutoConvertThreshold: cfg.AutoConvertThreshold,
		MaxCredits:           cfg.MaxCredits,
	}

	engine := ledger.New(store, thresholds, conversion)
	handler := api.NewHandler(engine, log)
	router := api.NewRouter(handler, cfg.AdminToken)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.Port).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}
