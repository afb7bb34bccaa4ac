/*
Package main is the entry point of the relaychat server.

It loads configuration, initializes logging, opens the message store, seeds the identity
directory and the hub from it, serves HTTP and WebSocket traffic, and shuts everything down
in order on SIGINT or SIGTERM.
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"relaychat/internal/app/chat"
	"relaychat/internal/app/directory"
	"relaychat/internal/app/storage"
	"relaychat/internal/app/store"
	"relaychat/internal/configs"
	"relaychat/internal/handler"
	"relaychat/internal/pkg/logx"
	"relaychat/internal/pkg/pow"
)

func main() {
	// Load configuration from environment variables
	cfg, err := configs.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logx.InitGlobalLogger(cfg.IsDevelopment())
	logx.Logger().Info().
		Str("environment", cfg.Environment).
		Int("port", cfg.Port).
		Strs("allowed_origins", cfg.AllowedOrigins).
		Int("pow_difficulty", cfg.PowDifficulty).
		Str("store_driver", cfg.StoreDriver).
		Bool("subscribe_new_identities", cfg.SubscribeNewIdentities).
		Msg("Configuration loaded successfully")

	// Create a context that listens for the interrupt signal from the OS.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, store.Config{
		Driver:      cfg.StoreDriver,
		Path:        cfg.StorePath,
		DatabaseDSN: cfg.DatabaseDSN,
		RedisURL:    cfg.RedisURL,
	})
	if err != nil {
		logx.Fatal(err, "Failed to open message store", "driver", cfg.StoreDriver)
	}

	doc, err := st.Load(ctx)
	if err != nil {
		logx.Fatal(err, "Failed to load persisted state")
	}

	dir := directory.New(st, doc.Users, 0)
	hub := chat.NewHub(st, dir, chat.Config{SubscribeNewIdentities: cfg.SubscribeNewIdentities}, doc.Messages.MaxID())
	go hub.Run()

	logx.Info("Persisted state loaded", "identities", len(doc.Users), "rooms", len(doc.Messages))

	objects, err := storage.New(ctx, storage.Config{
		BucketName:      cfg.S3BucketName,
		Endpoint:        cfg.S3Endpoint,
		AccessKeyID:     cfg.S3AccessKeyID,
		SecretAccessKey: cfg.S3SecretAccessKey,
	})
	switch {
	case errors.Is(err, storage.ErrDisabled):
		logx.Info("Object storage not configured; image uploads disabled")
	case err != nil:
		logx.Fatal(err, "Failed to initialize object storage")
	}

	powManager := pow.NewManager(cfg.PowDifficulty)
	defer powManager.Stop()

	router := handler.Router(&handler.AppDeps{
		Config:    cfg,
		Hub:       hub,
		Directory: dir,
		Storage:   objects,
		PoW:       powManager,
	})

	serverAddr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logx.Info(fmt.Sprintf("relaychat server starting on http://localhost%s", serverAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logx.Fatal(err, "Server failed to start")
		}
	}()

	<-ctx.Done()
	logx.Info("Received shutdown signal. Starting graceful shutdown...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logx.Error(err, "Server forced to shutdown")
	}

	hub.Stop()

	if err := st.Close(); err != nil {
		logx.Error(err, "Failed to close message store")
	}

	logx.Info("Server gracefully stopped.")
}
