package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"video-vault/internal/platform/config"
	"video-vault/internal/platform/logger"
	"video-vault/internal/platform/metrics"
	"video-vault/internal/vault"

	"github.com/go-chi/chi/v5"
)

const shutdownTimeout = 10 * time.Second

func main() {
	_ = config.Load()

	port := config.GetEnv("PORT", "8080")
	logLevel := config.GetEnv("LOG_LEVEL", "info")
	logFormat := config.GetEnv("LOG_FORMAT", "json")

	log := logger.New(logLevel, logFormat)

	signingSecret, err := config.Require("SIGNING_SECRET")
	if err != nil {
		log.Error("configuration error", "error", err)
		os.Exit(1)
	}
	botToken, err := config.Require("BOT_TOKEN")
	if err != nil {
		log.Error("configuration error", "error", err)
		os.Exit(1)
	}
	channelID, err := config.Require("CHANNEL_ID")
	if err != nil {
		log.Error("configuration error", "error", err)
		os.Exit(1)
	}
	botAPIBase := config.GetEnv("BOT_API_BASE", "https://chat.example.com/api")
	relayBase, err := config.Require("RELAY_BASE_URL")
	if err != nil {
		log.Error("configuration error", "error", err)
		os.Exit(1)
	}

	tokenTTL := config.GetEnvDuration("STREAM_TOKEN_TTL", vault.DefaultTokenTTL)
	cacheSize := config.GetEnvInt("CACHE_SIZE", 1024)
	cacheTTL := config.GetEnvDuration("CACHE_TTL", 5*time.Minute)

	ctx := context.Background()

	var store vault.Store
	if dsn := config.GetEnv("DATABASE_URL", ""); dsn != "" {
		pg, err := vault.NewPostgresStore(ctx, dsn)
		if err != nil {
			log.Error("store init error", "error", err)
			os.Exit(1)
		}
		defer pg.Close()
		store = pg
		log.Info("using postgres store")
	} else {
		store = vault.NewMemoryStore()
		log.Warn("DATABASE_URL not set, using in-memory store; catalog is lost on restart")
	}

	met := metrics.New()
	repo := vault.NewStoreRepository(store)

	if repaired, err := repo.Reconcile(ctx); err != nil {
		log.Warn("index reconcile failed", "error", err)
	} else if repaired > 0 {
		log.Info("index reconciled", "repaired_entries", repaired)
	}

	cache := vault.NewRecordCache(cacheSize, cacheTTL, met)
	tokens := vault.NewTokenCodec(signingSecret, tokenTTL)
	bot := vault.NewBotClient(botAPIBase, botToken, channelID, log)
	relay := vault.NewRelayClient(relayBase)
	svc := vault.NewService(repo, cache, tokens, bot, relay, log, met)
	h := vault.NewHandler(svc, log, met)

	r := chi.NewRouter()
	r.Use(vault.CORS)
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Get("/metrics", func(w http.ResponseWriter, req *http.Request) {
		met.Handler(func() {
			if ids, err := repo.ListIDs(req.Context()); err == nil {
				met.SetVideosTotal(len(ids))
			}
		}).ServeHTTP(w, req)
	})
	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)
		r.Post("/upload", h.Upload)
		r.Post("/save-metadata", h.SaveMetadata)
		r.Get("/videos", h.ListVideos)
		r.Route("/video/{id}", func(r chi.Router) {
			r.Get("/", h.GetVideo)
			r.Get("/stream", h.StreamVideo)
			r.Delete("/", h.DeleteVideo)
		})
	})

	addr := ":" + port
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	log.Info("server starting",
		"port", port,
		"token_ttl", tokenTTL.String(),
		"log_level", logLevel,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutdown signal received, draining connections")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", "error", err)
		os.Exit(1)
	}

	log.Info("server stopped")
}
