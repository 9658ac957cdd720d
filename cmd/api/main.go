package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"huddle/api/db"
	"huddle/api/internal/app"
	"huddle/api/internal/config"
	"huddle/api/internal/email"
	"huddle/api/internal/export"
	"huddle/api/internal/feed"
	"huddle/api/internal/realtime"
	"huddle/api/internal/search"
	"huddle/api/internal/store"
)

type changeFeed interface {
	feed.Publisher
	feed.Subscriber
}

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("WARNING: .env not loaded: %v", err)
	}
	cfg := config.Load()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		dataStore app.Store
		fallback  search.Searcher
	)
	switch cfg.StoreDriver {
	case "memory":
		log.Printf("Using in-memory store (data is lost on restart)")
		dataStore = store.NewMemoryStore()
		fallback = search.NewMemoryIndex()
	default:
		conn, err := store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("database connection failed: %v", err)
		}
		defer conn.Close()
		if err := migrate(ctx, conn, cfg.MigrationsDir); err != nil {
			log.Fatalf("migrations failed: %v", err)
		}
		dataStore = store.NewPostgresStore(conn)
		fallback = search.NewPgFTS(conn)
	}

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}

	var changes changeFeed
	if strings.TrimSpace(cfg.RedisURL) != "" {
		log.Printf("Using Redis channel %q for the change feed", cfg.FeedChannel)
		redisFeed, err := feed.NewRedisFeed(cfg.RedisURL, cfg.FeedChannel)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		if err := redisFeed.Start(ctx); err != nil {
			log.Fatalf("redis subscribe failed: %v", err)
		}
		defer redisFeed.Close()
		changes = redisFeed
	} else {
		changes = feed.NewHub()
	}

	deps := app.Deps{
		Feed:     changes,
		Search:   search.NewService(meiliClient, fallback),
		Exporter: export.NewService(),
	}

	if strings.TrimSpace(cfg.MinIOEndpoint) != "" {
		archive, err := export.NewArchive(export.ArchiveConfig{
			Endpoint:  cfg.MinIOEndpoint,
			AccessKey: cfg.MinIOAccessKey,
			SecretKey: cfg.MinIOSecretKey,
			Bucket:    cfg.MinIOBucket,
			UseSSL:    cfg.MinIOUseSSL,
		})
		if err != nil {
			log.Fatalf("minio client failed: %v", err)
		}
		if err := archive.EnsureBucket(ctx); err != nil {
			log.Printf("WARNING: transcript archive disabled: %v", err)
		} else {
			deps.Archive = archive
		}
	}

	mail := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})
	if mail.IsConfigured() {
		deps.Mail = mail
	} else {
		log.Printf("SMTP not configured, emails disabled")
	}

	service := app.New(cfg, dataStore, deps)
	if err := service.Bootstrap(ctx); err != nil {
		log.Printf("WARNING: bootstrap error (will retry on next restart): %v", err)
	}

	broadcaster := realtime.New(service, changes)
	defer broadcaster.Close()

	mux := http.NewServeMux()
	// The websocket upgrade needs the raw ResponseWriter, so it sits
	// outside the JSON middleware.
	mux.Handle("/api/ws", broadcaster)
	mux.Handle("/", app.NewHTTPServer(service, cfg.CORSOrigin).Handler())

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Huddle API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}

// migrate prefers an on-disk migrations directory so operators can patch SQL
// without a rebuild; otherwise the embedded copy is used.
func migrate(ctx context.Context, conn *sql.DB, dir string) error {
	if info, err := os.Stat(dir); err == nil && info.IsDir() {
		return store.ApplyMigrations(ctx, conn, dir)
	}
	return store.ApplyMigrationsFS(ctx, conn, db.Migrations())
}
