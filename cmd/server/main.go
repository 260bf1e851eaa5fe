package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/lsat-prep/cat/internal/auth"
	"github.com/lsat-prep/cat/internal/config"
	"github.com/lsat-prep/cat/internal/database"
	"github.com/lsat-prep/cat/internal/middleware"
	"github.com/lsat-prep/cat/internal/quiz"
	"github.com/lsat-prep/cat/internal/store"
	"github.com/lsat-prep/cat/internal/telemetry"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logCloser, err := telemetry.InitLogger(cfg.LogFile)
	if err != nil {
		log.Fatalf("Failed to initialize logging: %v", err)
	}
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	telemetryDir := "logs"
	if cfg.LogFile != "" {
		telemetryDir = filepath.Dir(cfg.LogFile)
	}
	shutdownTelemetry, err := telemetry.InitTelemetry(ctx, telemetryDir)
	if err != nil {
		log.Fatalf("Failed to initialize telemetry: %v", err)
	}
	defer shutdownTelemetry()

	kv, err := openStore(cfg)
	if err != nil {
		log.Fatalf("Failed to open %s store: %v", cfg.Store, err)
	}
	defer kv.Close()

	// Initialize services and handlers
	quizService := quiz.NewService(quiz.NewStore(kv), quiz.Options{
		Defaults:  cfg.Quiz,
		Optimizer: cfg.Optimizer,
		Seed:      cfg.Seed,
	})
	quizHandler := quiz.NewHandler(quizService)
	authHandler := auth.NewHandler([]byte(cfg.JWTSecret), cfg.ClientID, cfg.ClientSecretHash)

	// Setup router
	r := mux.NewRouter()
	r.Use(middleware.RequestID, middleware.Logger, middleware.Recovery)
	api := r.PathPrefix("/api/v1").Subrouter()

	// Public routes
	if cfg.JWTSecret != "" {
		api.HandleFunc("/auth/token", authHandler.Token).Methods("POST")
	}

	// Protected routes
	protected := api.PathPrefix("").Subrouter()
	protected.Use(middleware.Auth([]byte(cfg.JWTSecret)))
	quizHandler.RegisterRoutes(protected)

	// Health check
	status := func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	}
	r.HandleFunc("/", status).Methods("GET")
	r.HandleFunc("/health", status).Methods("GET")

	// CORS
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
		ExposedHeaders:   []string{middleware.RequestIDHeader},
		AllowCredentials: true,
	})

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           c.Handler(r),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		log.Printf("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("Shutdown error: %v", err)
		}
	}()

	log.Printf("Server starting on %s (store=%s, auth=%t)", cfg.Addr(), cfg.Store, cfg.JWTSecret != "")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("Server failed: %v", err)
	}
}

func openStore(cfg *config.Config) (store.KV, error) {
	switch cfg.Store {
	case config.StorePostgres:
		db, err := database.Connect(cfg.Postgres)
		if err != nil {
			return nil, err
		}
		if err := database.Migrate(cfg.Postgres.URL()); err != nil {
			db.Close()
			return nil, err
		}
		return store.NewSQL(db, store.Postgres), nil

	case config.StoreSQLite:
		db, err := database.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		if err := database.Migrate(database.SQLiteURL(cfg.SQLitePath)); err != nil {
			db.Close()
			return nil, err
		}
		return store.NewSQL(db, store.SQLite), nil

	default:
		return store.NewMemory(), nil
	}
}
