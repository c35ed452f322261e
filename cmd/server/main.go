package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/example/ehailing/internal/callable"
	"github.com/example/ehailing/internal/config"
	"github.com/example/ehailing/internal/dispatch"
	"github.com/example/ehailing/internal/drivers"
	"github.com/example/ehailing/internal/eta"
	"github.com/example/ehailing/internal/geo"
	httpapi "github.com/example/ehailing/internal/http"
	"github.com/example/ehailing/internal/ingest"
	"github.com/example/ehailing/internal/logging"
	"github.com/example/ehailing/internal/maps"
	"github.com/example/ehailing/internal/marketplace"
	"github.com/example/ehailing/internal/matcher"
	"github.com/example/ehailing/internal/media"
	"github.com/example/ehailing/internal/payments"
	"github.com/example/ehailing/internal/presence"
	"github.com/example/ehailing/internal/rides"
	"github.com/example/ehailing/internal/storage"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("could not read .env", "error", err)
	}
	cfg, err := config.LoadServerConfig()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.NewLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger) error {
	auth, err := httpapi.NewAuthenticator(cfg.JWTSecret)
	if err != nil {
		return err
	}

	store, ready, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	var index geo.Presence
	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		rg := geo.NewRedisGeo(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisGeoKey, logger)
		redisClient = rg.Client()
		defer redisClient.Close()
		index = rg
		logger.Info("presence backed by redis", "addr", cfg.RedisAddr, "key", cfg.RedisGeoKey)
	} else {
		index = geo.NewIndex()
		logger.Info("presence backed by in-memory index")
	}

	hub := dispatch.NewHub(logger)
	sinks := dispatch.Multi{hub}
	var producer *ingest.KafkaProducer
	if len(cfg.KafkaBrokers) > 0 {
		producer = ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaLocationTopic, cfg.KafkaRideTopic)
		defer producer.Close()
		sinks = append(sinks, producer)
		logger.Info("kafka producer enabled", "brokers", cfg.KafkaBrokers)
	}
	if cfg.FCMEndpoint != "" {
		sinks = append(sinks, dispatch.NewFCMDispatcher(cfg.FCMEndpoint, cfg.FCMKey, store, logger))
	}

	pres := &presence.Service{
		Index:    index,
		Drivers:  store,
		Throttle: presence.NewThrottle(cfg.PresenceMinInterval, cfg.PresenceMinDistanceM),
		Logger:   logger,
	}
	if producer != nil {
		pres.Publisher = producer
	}

	rideSvc := &rides.Service{
		Store:        store,
		Drivers:      store,
		Presence:     pres,
		Events:       sinks,
		Logger:       logger,
		ActiveWindow: cfg.ActiveRideWindow,
	}

	var mapsCache maps.Cache = maps.NewMemoryCache(cfg.GeoCacheTTL)
	if redisClient != nil {
		mapsCache = &maps.RedisCache{Client: redisClient, TTL: cfg.GeoCacheTTL, Prefix: "maps:"}
	}
	resolver := &maps.Resolver{Logger: logger}
	if cfg.IPInfoToken != "" {
		resolver.IPInfo = maps.NewIPInfoClient(cfg.IPInfoToken)
	}
	var places httpapi.Places
	var etaClient eta.Client
	if cfg.GoogleMapsAPIKey != "" {
		g := maps.NewGoogleClient(cfg.GoogleMapsAPIKey, mapsCache, logger)
		places, resolver.Geocoder, etaClient = g, g, g
	}
	if cfg.OSRMEndpoint != "" {
		etaClient = eta.NewOSRMClient(cfg.OSRMEndpoint)
	}

	match := &matcher.Service{
		Geo:             index,
		RadiusKm:        cfg.CandidateRadiusKm,
		Limit:           cfg.CandidateLimit,
		DefaultSpeedMps: cfg.DefaultSpeedMps,
		ETAClient:       etaClient,
		ETACache:        eta.NewCache(cfg.ETACacheTTL),
	}

	calls := callable.NewClient(cfg.FunctionsURL(), cfg.FunctionsTimeout)
	var topUp payments.TopUpProvider = &payments.PayPal{Calls: calls}
	if cfg.TopUpProvider == config.TopUpStripe {
		topUp = payments.NewStripeCheckout(cfg.StripeAPIKey, calls)
	}
	orchestrator := &payments.Orchestrator{Calls: calls, Rides: rideSvc, TopUp: topUp, Scheme: cfg.AppScheme, Logger: logger}

	driverSvc := &drivers.Service{Store: store, Logger: logger}
	if cfg.S3.Bucket != "" {
		up, err := media.NewS3Uploader(ctx, media.S3Config{
			Bucket:           cfg.S3.Bucket,
			Region:           cfg.S3.Region,
			AccessKeyID:      cfg.S3.AccessKeyID,
			SecretAccessKey:  cfg.S3.SecretAccessKey,
			CloudFrontDomain: cfg.S3.CloudFrontDomain,
		})
		if err != nil {
			return err
		}
		driverSvc.Uploader = up
	}

	srv := httpapi.NewServer(httpapi.Deps{
		Rides:       rideSvc,
		Presence:    pres,
		Matcher:     match,
		Payments:    orchestrator,
		Drivers:     driverSvc,
		Marketplace: &marketplace.Service{Calls: calls},
		Places:      places,
		Resolver:    resolver,
		Hub:         hub,
		Auth:        auth,
		Ready:       ready,
	}, logger)

	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("ehailing api listening", "addr", cfg.HTTPAddr, "topup_provider", cfg.TopUpProvider)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// openStore picks Postgres when PG_DSN is set and the in-memory store otherwise.
func openStore(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger) (storage.Store, func(context.Context) error, func(), error) {
	if cfg.PGDSN == "" {
		logger.Info("rides backed by in-memory store")
		return storage.NewMemoryStore(), nil, func() {}, nil
	}
	ps, err := storage.NewPostgresStore(cfg.PGDSN, logger)
	if err != nil {
		return nil, nil, nil, err
	}
	if cfg.RunMigrations {
		b, err := os.ReadFile(filepath.Join("migrations", "001_init.sql"))
		if err != nil {
			_ = ps.Close()
			return nil, nil, nil, err
		}
		if err := ps.Migrate(ctx, string(b)); err != nil {
			_ = ps.Close()
			return nil, nil, nil, err
		}
		logger.Info("migration applied", "file", "001_init.sql")
	}
	ready := func(ctx context.Context) error { return ps.DB().PingContext(ctx) }
	return ps, ready, func() { _ = ps.Close() }, nil
}
