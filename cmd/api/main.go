package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"logbook/api/internal/app"
	"logbook/api/internal/attachments"
	"logbook/api/internal/config"
	"logbook/api/internal/directory"
	"logbook/api/internal/email"
	"logbook/api/internal/history"
	"logbook/api/internal/logging"
	"logbook/api/internal/mentions"
	"logbook/api/internal/store"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}
	logging.Setup(cfg.Log.Level, cfg.Log.Format)
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.Database.URL, store.PoolOptions{MaxOpenConns: cfg.Database.MaxOpenConns})
	if err != nil {
		log.Fatal().Err(err).Msg("database connection failed")
	}
	defer db.Close()

	applied, err := store.ApplyMigrations(ctx, db, cfg.Database.MigrationsDir)
	if err != nil {
		log.Fatal().Err(err).Msg("migrations failed")
	}
	log.Info().Int("applied", len(applied)).Msg("migrations up to date")

	if err := os.MkdirAll(cfg.History.ReposDir, 0o755); err != nil {
		log.Fatal().Err(err).Str("dir", cfg.History.ReposDir).Msg("failed to create repos dir")
	}

	dataStore := store.NewPostgresStore(db)

	var index directory.Index
	if strings.TrimSpace(cfg.Meili.URL) != "" {
		meiliClient := directory.NewMeili(cfg.Meili.URL, cfg.Meili.MasterKey)
		defer meiliClient.Close()
		index = meiliClient
	}
	var cache directory.Cache
	if strings.TrimSpace(cfg.Redis.URL) != "" {
		candidateCache, err := directory.NewCandidateCache(cfg.Redis.URL, cfg.Typeahead.CandidateTTL)
		if err != nil {
			log.Warn().Err(err).Msg("redis unavailable, candidate lists will not be cached")
		} else {
			defer candidateCache.Close()
			cache = candidateCache
		}
	}
	directoryService := directory.NewService(dataStore, index, directory.NewPgFTS(db), cache)

	objects, err := attachments.NewMinioObjects(ctx, attachments.MinioConfig{
		Endpoint:  cfg.Minio.Endpoint,
		AccessKey: cfg.Minio.AccessKey,
		SecretKey: cfg.Minio.SecretKey,
		Bucket:    cfg.Minio.Bucket,
		UseSSL:    cfg.Minio.UseSSL,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("object storage connection failed")
	}

	deps := app.Deps{
		Store:       dataStore,
		History:     history.New(cfg.History.ReposDir),
		Directory:   directoryService,
		Attachments: attachments.NewService(dataStore, objects),
	}
	mailer := email.NewService(email.Config{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		From:     cfg.SMTP.From,
		FromName: cfg.SMTP.FromName,
	})
	if mailer.IsConfigured() {
		deps.Notifier = mentions.NewNotifier(app.NewRecipients(dataStore), mailer)
	} else {
		log.Info().Msg("smtp not configured, mention notifications disabled")
	}
	service := app.New(cfg, deps)

	httpServer := app.NewHTTPServer(service, cfg.API.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.API.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.API.Addr).Msg("logbook api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
	service.Wait()
}
