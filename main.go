package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/xtymac/eventflow-sub004/internal/config"
	"github.com/xtymac/eventflow-sub004/internal/db"
	"github.com/xtymac/eventflow-sub004/internal/logging"
	"github.com/xtymac/eventflow-sub004/internal/middleware"
	"github.com/xtymac/eventflow-sub004/internal/roadsync"
)

func RootHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	fmt.Fprintln(w, "Server is up!")
}

func main() {
	_ = godotenv.Load(".env.local")
	logging.Init(logging.ConfigFromEnv())

	cfg := config.LoadFromEnv()
	if err := cfg.Validate(); err != nil {
		logging.Fatal().Err(err).Msg("Invalid configuration")
	}
	if cfg.AdminTokenHash == "" {
		logging.Warn().Msg("ROADSYNC_ADMIN_TOKEN_HASH not set; run and cancel routes are disabled")
	}

	db.Connect(cfg.DatabaseURL)
	roadsync.Init(roadsync.LoadConfigFromEnv())

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORSMiddleware(cfg.AllowedOrigins))
	r.Get("/", RootHandler)
	r.Handle("/metrics", promhttp.Handler())

	r.Mount("/roadsync", roadsync.SetupRoutes(cfg.AdminTokenHash))

	srv := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logging.Info().Str("port", cfg.Port).Msg("Server listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logging.Fatal().Err(err).Msg("Server stopped")
	}
}
