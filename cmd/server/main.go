package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/rmalik/vidvault/internal/chunker"
	"github.com/rmalik/vidvault/internal/chunkstore"
	"github.com/rmalik/vidvault/internal/config"
	"github.com/rmalik/vidvault/internal/handlers"
	"github.com/rmalik/vidvault/internal/media"
	"github.com/rmalik/vidvault/internal/storage"
	"github.com/rmalik/vidvault/internal/tracing"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	log.Println("Starting VidVault service...")

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	log.Printf("Service: %s, Port: %s, Backend: %s", cfg.ServiceName, cfg.ServicePort, cfg.StorageBackend)

	// Initialize OpenTelemetry tracing
	shutdownTracer, err := tracing.InitTracer(cfg.ServiceName, cfg.JaegerEndpoint)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(ctx); err != nil {
			log.Printf("Error shutting down tracer: %v", err)
		}
	}()

	// Connect the storage backends before the listener starts: the chunk
	// store must never be reachable through a handler while its backends are
	// still coming up.
	var (
		catalog storage.Catalog
		blobs   storage.BlobStore
		cache   storage.RecordCache
	)

	switch cfg.StorageBackend {
	case config.BackendMemory:
		log.Println("Using in-memory storage backend")
		mem := storage.NewMemoryStore()
		catalog, blobs = mem, mem

	default:
		log.Println("Connecting to MinIO...")
		minioStore, err := storage.NewMinioBlobStore(
			cfg.MinIOEndpoint,
			cfg.MinIOAccessKey,
			cfg.MinIOSecretKey,
			cfg.MinIOBucketName,
			cfg.MinIOUseSSL,
		)
		if err != nil {
			log.Fatalf("Failed to initialize MinIO client: %v", err)
		}
		log.Println("MinIO client initialized")

		log.Println("Connecting to MySQL...")
		mysqlCatalog, err := storage.NewMySQLCatalog(cfg.GetDSN())
		if err != nil {
			log.Fatalf("Failed to initialize MySQL catalog: %v", err)
		}
		defer mysqlCatalog.Close()
		log.Println("MySQL catalog initialized")

		log.Println("Connecting to Redis...")
		redisCache, err := storage.NewRedisRecordCache(cfg.GetRedisAddr(), cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			log.Fatalf("Failed to initialize Redis client: %v", err)
		}
		defer redisCache.Close()
		log.Println("Redis client initialized")

		catalog, blobs, cache = mysqlCatalog, minioStore, redisCache
	}

	// Initialize the chunk store and the upload pipeline
	store := chunkstore.New(blobs, catalog, cache, cfg.GetChunkSizeBytes())
	svc := media.NewService(store, catalog, chunker.NewChunker(cfg.GetChunkSizeBytes()))

	// Initialize handlers
	uploadHandler := handlers.NewUploadHandler(svc, cfg.GetMaxUploadBytes())
	videosHandler := handlers.NewVideosHandler(catalog)
	videoHandler := handlers.NewVideoStreamHandler(store)
	thumbnailHandler := handlers.NewThumbnailHandler(store)
	deleteHandler := handlers.NewDeleteVideoHandler(svc)

	// Setup HTTP router
	router := mux.NewRouter()

	// Health check endpoint (no tracing needed)
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET")

	// Media operations with tracing
	router.Handle("/upload", otelhttp.NewHandler(uploadHandler, "POST /upload")).Methods("POST")
	router.Handle("/getVideos", otelhttp.NewHandler(videosHandler, "GET /getVideos")).Methods("GET")
	router.Handle("/video", otelhttp.NewHandler(videoHandler, "GET /video")).Methods("GET")
	router.Handle("/video", otelhttp.NewHandler(deleteHandler, "DELETE /video")).Methods("DELETE")
	router.Handle("/thumbnail", otelhttp.NewHandler(thumbnailHandler, "GET /thumbnail")).Methods("GET")

	// Create HTTP server. No WriteTimeout: a range stream of a long video
	// legitimately outlives any fixed deadline.
	srv := &http.Server{
		Addr:              ":" + cfg.ServicePort,
		Handler:           handlers.CORS(router),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Printf("Server listening on port %s", cfg.ServicePort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}
