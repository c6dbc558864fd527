package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/otcheredev/dicom-store/internal/cache"
	"github.com/otcheredev/dicom-store/internal/config"
	"github.com/otcheredev/dicom-store/internal/database"
	"github.com/otcheredev/dicom-store/internal/finder"
	"github.com/otcheredev/dicom-store/internal/handlers"
	"github.com/otcheredev/dicom-store/internal/index"
	"github.com/otcheredev/dicom-store/internal/jobs"
	"github.com/otcheredev/dicom-store/internal/jobs/ops"
	"github.com/otcheredev/dicom-store/internal/metrics"
	"github.com/otcheredev/dicom-store/internal/middleware"
	"github.com/otcheredev/dicom-store/internal/repository"
	"github.com/otcheredev/dicom-store/internal/scp"
	"github.com/otcheredev/dicom-store/internal/services"
	"github.com/otcheredev/dicom-store/internal/storage"
	"github.com/otcheredev/dicom-store/pkg/dicom/transcode"
	"github.com/otcheredev/dicom-store/pkg/dimse"
	"github.com/otcheredev/dicom-store/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	// Initialize logger
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	log.Info().Msg("Starting DICOM store")

	// Connect to database
	dbConfig := database.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		DBName:   cfg.Database.DBName,
		SSLMode:  cfg.Database.SSLMode,
		LogLevel: cfg.Database.LogLevel,
	}

	if err := database.Connect(dbConfig); err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer database.Close()

	// Initialize cache
	var cacheImpl cache.Cache
	if cfg.Cache.Enabled && cfg.Cache.Type == "redis" {
		addr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
		cacheImpl, err = cache.NewRedisCache(addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		log.Info().Msg("Redis cache initialized")
	} else {
		cacheImpl = cache.NewMemoryCache()
		log.Info().Msg("Memory cache initialized")
	}

	// Storage area and index
	area, err := storage.NewFilesystemArea(cfg.Storage.Directory)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open storage area")
	}
	idx := index.NewGormIndex()

	// DICOM plumbing
	dimse.SetDefaultTimeout(uint32(cfg.Dicom.ScuTimeout / time.Second))
	transcoder := transcode.NewTranscoder()
	instanceReader := ops.NewInstanceReader(idx, area)
	jsonReader := cache.NewInstanceJSONReader(cacheImpl, idx, area)
	resourceFinder := finder.NewFinder(idx, jsonReader)

	// Job engine: restore the persisted registry, then start the workers
	engine := jobs.NewEngine(cfg.Jobs.Workers, cfg.Jobs.MaxCompletedJobs)

	registry := prometheus.NewRegistry()
	m := metrics.New(registry, engine)
	if err := engine.AddObserver(m.Observer()); err != nil {
		log.Fatal().Err(err).Msg("Failed to register metrics observer")
	}

	jobRepo := repository.NewJobRepository()
	unserializer := ops.NewJobUnserializer(instanceReader, transcoder)
	if snapshot, err := jobRepo.LoadRegistry(context.Background()); err != nil {
		log.Warn().Err(err).Msg("Failed to load the persisted jobs registry")
	} else if err := engine.Restore(snapshot, unserializer); err != nil {
		log.Warn().Err(err).Msg("Failed to restore the jobs registry")
	}

	if err := engine.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start the job engine")
	}

	// SCP drivers
	modalityRepo := repository.NewModalityRepository()
	resolver := scp.NewRepositoryResolver(modalityRepo)
	storeSCP := scp.NewStoreSCP(idx, area, jsonReader)
	findSCP := scp.NewFindSCP(idx, resourceFinder, cfg.Dicom.CaseSensitivePN,
		cfg.Dicom.FilterIssuerAet, cfg.Dicom.FindLimit)
	moveSCP := scp.NewMoveSCP(idx, resolver, instanceReader, transcoder, engine,
		cfg.Dicom.AET, cfg.Dicom.SynchronousMove)
	getSCP := scp.NewGetSCP(idx, instanceReader, transcoder, true)

	dicomServer := scp.NewServer(scp.ServerConfig{
		LocalAET:       cfg.Dicom.AET,
		CheckCalledAET: cfg.Dicom.CheckCalledAET,
		AlwaysAllowGet: cfg.Dicom.AlwaysAllowGet,
	}, storeSCP, findSCP, moveSCP, getSCP, resolver, scp.NewIndexCommitment(idx))

	dicomCtx, stopDicom := context.WithCancel(context.Background())
	go func() {
		addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Dicom.Port)
		if err := dicomServer.ListenAndServe(dicomCtx, addr); err != nil {
			log.Fatal().Err(err).Msg("DICOM server failed")
		}
	}()

	// Services and handlers
	modalityService := services.NewModalityService(modalityRepo, cfg.Dicom.AET, engine)

	healthHandler := handlers.NewHealthHandler(engine)
	jobsHandler := handlers.NewJobsHandler(engine)
	resourcesHandler := handlers.NewResourcesHandler(idx, resourceFinder, area, storeSCP)
	modalitiesHandler := handlers.NewModalitiesHandler(modalityService)

	// Setup router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Recovery)
	r.Use(middleware.Logging)
	r.Use(chimiddleware.Compress(5))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORS.AllowedOrigins,
		AllowedMethods:   cfg.CORS.AllowedMethods,
		AllowedHeaders:   cfg.CORS.AllowedHeaders,
		ExposedHeaders:   []string{"Content-Length", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Health endpoints
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// Metrics endpoint
	if cfg.Metrics.Enabled {
		r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		// Job engine surface
		r.Get("/jobs", jobsHandler.ListJobs)
		r.Get("/jobs/statistics", jobsHandler.GetStatistics)
		r.Get("/jobs/{id}", jobsHandler.GetJob)
		r.Post("/jobs/{id}/pause", jobsHandler.PauseJob)
		r.Post("/jobs/{id}/resume", jobsHandler.ResumeJob)
		r.Post("/jobs/{id}/cancel", jobsHandler.CancelJob)
		r.Post("/jobs/{id}/resubmit", jobsHandler.ResubmitJob)
		r.Put("/jobs/{id}/priority", jobsHandler.SetPriority)

		// Resources
		r.Post("/query", resourcesHandler.Query)
		r.Post("/instances", resourcesHandler.UploadInstance)
		r.Get("/resources/{id}", resourcesHandler.GetResource)
		r.Get("/resources/{id}/children", resourcesHandler.ListChildren)
		r.Get("/instances/{id}/file", resourcesHandler.DownloadInstance)

		// Modalities
		r.Post("/modalities", modalitiesHandler.CreateModality)
		r.Get("/modalities", modalitiesHandler.ListModalities)
		r.Get("/modalities/{id}", modalitiesHandler.GetModality)
		r.Put("/modalities/{id}", modalitiesHandler.UpdateModality)
		r.Delete("/modalities/{id}", modalitiesHandler.DeleteModality)
		r.Post("/modalities/{id}/echo", modalitiesHandler.EchoModality)
		r.Post("/modalities/{id}/retrieve", modalitiesHandler.RetrieveFromModality)
	})

	// Create server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in a goroutine
	go func() {
		log.Info().Str("addr", addr).Msg("Server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	stopDicom()
	dicomServer.Close()
	engine.Stop()

	// Checkpoint the jobs registry
	if snapshot, err := engine.Serialize(); err != nil {
		log.Error().Err(err).Msg("Failed to serialize the jobs registry")
	} else if err := jobRepo.SaveRegistry(ctx, snapshot); err != nil {
		log.Error().Err(err).Msg("Failed to persist the jobs registry")
	}

	log.Info().Msg("Server stopped")
}
