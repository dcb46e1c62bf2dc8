package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aiandbotsgalore/snugglesLIVE/internal/config"
	"github.com/aiandbotsgalore/snugglesLIVE/internal/convo"
	"github.com/aiandbotsgalore/snugglesLIVE/internal/httpserver"
	"github.com/aiandbotsgalore/snugglesLIVE/internal/llm"
	"github.com/aiandbotsgalore/snugglesLIVE/internal/storage"
)

func main() {
	// Include sub-second precision in all log timestamps
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	cfg := config.Load()

	var (
		store      convo.Store
		continuity convo.Continuity
	)
	switch cfg.StorageBackend {
	case config.StorageSupabase:
		if cfg.SupabaseURL == "" || cfg.SupabaseServiceRoleKey == "" {
			log.Fatalf("supabase storage selected but SUPABASE_URL or SUPABASE_SERVICE_ROLE_KEY is missing")
		}
		sb, err := storage.NewSupabase(storage.SupabaseConfig{
			URL:            cfg.SupabaseURL,
			ServiceRoleKey: cfg.SupabaseServiceRoleKey,
		})
		if err != nil {
			log.Fatalf("supabase init failed: %v", err)
		}
		store, continuity = sb, sb
	default:
		db, err := storage.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			log.Fatalf("sqlite open failed: %v", err)
		}
		defer db.Close()
		store, continuity = db, db
	}

	brain := llm.New(cfg.OpenAIKey, cfg.OpenAIModelID, cfg.OpenAIBaseURL)

	srv := httpserver.New(httpserver.Deps{
		Store:      store,
		Continuity: continuity,
		Generator:  brain,
		Summarizer: brain,
		Config:     cfg,
	})

	server := &http.Server{
		Addr:              cfg.HTTPAddress,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Start server in background
	serverErrors := make(chan error, 1)
	go func() {
		log.Printf("server listening on %s", cfg.HTTPAddress)
		serverErrors <- server.ListenAndServe()
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	case sig := <-sigChan:
		log.Printf("shutdown signal received: %v", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = server.Close()
	}
}
