package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"cardtracker/config"
	"cardtracker/controller"
	"cardtracker/database"
	"cardtracker/ingest"
	"cardtracker/logging"
	"cardtracker/middlewares"
	"cardtracker/processor"
	"cardtracker/route"
	"cardtracker/storage"
	"cardtracker/vision"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stdout)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	client, err := database.Connect(ctx, cfg.MongoURI)
	if err != nil {
		return err
	}
	defer client.Disconnect(context.Background())

	cards := database.NewCardStore(client.Database(cfg.MongoDatabase))
	if err := cards.EnsureIndexes(ctx); err != nil {
		logger.Warn("card indexes", "error", err)
	}

	store, err := storage.NewFromConfig(ctx, cfg)
	if err != nil {
		return err
	}

	extractor := vision.NewExtractor(vision.Config{
		APIKey:    cfg.OpenAIAPIKey,
		Enabled:   cfg.VisionEnabled,
		BaseURL:   cfg.VisionBaseURL,
		Model:     cfg.VisionModel,
		Timeout:   cfg.VisionTimeout,
		MaxTokens: cfg.VisionMaxTokens,
		Detail:    cfg.VisionDetail,
	}, logger)
	if !extractor.Available() {
		logger.Warn("vision extraction disabled, cards will be stored without metadata")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	svc := ingest.NewService(ingest.Deps{
		Records:    cards,
		Storage:    store,
		Normalizer: processor.NewNormalizer(cfg.ImageMaxDimension, cfg.ImageJPEGQuality),
		Names:      processor.NewNameGenerator(),
		Extractor:  extractor,
		Logger:     logger,
		Metrics:    ingest.NewMetrics(reg),
	}, ingest.Limits{MaxUploadSize: cfg.MaxUploadSize, MaxPixels: cfg.ImageMaxPixels})

	gin.SetMode(cfg.GinMode)
	router := gin.New()
	router.Use(gin.Recovery(), middlewares.RequestID(), middlewares.AccessLog(logger))
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Content-Length", "Accept", middlewares.RequestIDHeader},
		ExposeHeaders:    []string{"Content-Length", middlewares.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	opts := route.Options{
		Cards:    controller.NewCardController(svc, cards, store, cfg.MaxUploadSize, logger),
		Gatherer: reg,
	}
	if local, ok := store.(*storage.LocalBackend); ok {
		opts.UploadDir = local.BaseDir()
		opts.UploadURLPrefix = cfg.UploadURLPrefix
	}
	if cfg.RateLimit > 0 {
		rl := middlewares.NewRateLimiter(cfg.RateLimit, cfg.RateWindow)
		defer rl.Stop()
		opts.APIMiddleware = append(opts.APIMiddleware, rl.Middleware())
	}
	route.Register(router, opts)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening",
			"addr", srv.Addr,
			"storage", cfg.StorageType,
			"origins", strings.Join(cfg.AllowedOrigins, ","))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
