package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"

	"github.com/vanshansh-prajav/Hack36/internal/config"
	"github.com/vanshansh-prajav/Hack36/internal/database"
	"github.com/vanshansh-prajav/Hack36/internal/handlers"
	"github.com/vanshansh-prajav/Hack36/internal/middleware"
	"github.com/vanshansh-prajav/Hack36/internal/routes"
)

func main() {
	// Load env
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Connect the graph backend
	startCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	store, closeStore, err := database.OpenGraphStore(startCtx, cfg)
	cancel()
	if err != nil {
		log.Fatal("Failed to open graph store:", err)
	}
	defer closeStore()
	handlers.SetGraphStore(store)
	log.Printf("✅ Graph store ready (%s)", cfg.GraphBackend)

	// Initialize Cloudinary service
	if cfg.CloudinaryConfigured() {
		if err := handlers.InitCloudinaryService(cfg); err != nil {
			log.Printf("Warning: Failed to initialize Cloudinary: %v", err)
			log.Println("Image uploads will not be available")
		} else {
			log.Println("✅ Cloudinary service initialized")
		}
	} else {
		log.Println("Warning: Cloudinary credentials not found. Clients will inline images")
	}

	r := chi.NewRouter()
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	// Production: SecurityHeaders → HostCheck → GlobalRateLimit → WriteRateLimit
	// Non-production: Redis write window when the graph lives in Redis
	if cfg.IsProduction() {
		for _, mw := range middleware.ProductionSecurity(cfg.AllowedHost) {
			r.Use(mw)
		}
		log.Println("✅ Production security enabled (security headers, per-IP + write rate limiting)")
	} else if database.RedisClient != nil {
		r.Use(middleware.RedisRateLimit(database.RedisClient))
	}

	routes.SetupRoutes(r)

	log.Println("📋 Registered routes:")
	log.Println("  GET  /health")
	log.Println("  GET  /graph/node")
	log.Println("  PUT  /graph/node")
	log.Println("  POST /graph/set")
	log.Println("  GET  /graph/map")
	log.Println("  GET  /ws/graph")
	log.Println("  POST /api/upload")

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		log.Println("Shutting down relay...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("⚠️  Graceful shutdown failed: %v", err)
		}
	}()

	log.Printf("🚀 Chat relay running on :%s", cfg.Port)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal("Failed to start server:", err)
	}
}
