package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/kafka-go"

	"github.com/example/ehailing/internal/config"
	"github.com/example/ehailing/internal/geo"
	"github.com/example/ehailing/internal/ingest"
	"github.com/example/ehailing/internal/logging"
	"github.com/example/ehailing/internal/models"
	"github.com/example/ehailing/internal/presence"
)

var (
	msgsConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_messages_consumed_total",
		Help: "Total driver location messages consumed",
	})
	msgsInvalid = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_messages_invalid_total",
		Help: "Total invalid messages received",
	})
	msgsSkipped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_messages_skipped_total",
		Help: "Messages already applied by the API",
	})
	redisUpdates = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_redis_updates_total",
		Help: "Total successful redis updates",
	})
	redisErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_redis_errors_total",
		Help: "Total redis errors",
	})
)

func init() {
	prometheus.MustRegister(msgsConsumed, msgsInvalid, msgsSkipped, redisUpdates, redisErrors)
}

func main() {
	_ = godotenv.Load()
	cfg, err := config.LoadConsumerConfig()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.NewLogger(cfg.LogLevel)

	rg := geo.NewRedisGeo(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisGeoKey, logger)
	rc := rg.Client()
	live := &presence.Service{Index: rg, Logger: logger}

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
		mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
			if err := rc.Ping(r.Context()).Err(); err != nil {
				http.Error(w, "redis not ready", http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
		})
		logger.Info("metrics/health listening", "addr", cfg.MetricsAddr)
		if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
			logger.Error("metrics server stopped", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r := kafka.NewReader(kafka.ReaderConfig{Brokers: cfg.KafkaBrokers, Topic: cfg.KafkaTopic, GroupID: cfg.KafkaGroup, MinBytes: 10e3, MaxBytes: 10e6})
	defer func() {
		_ = r.Close()
		_ = rc.Close()
	}()

	logger.Info("consumer listening", "topic", cfg.KafkaTopic, "brokers", cfg.KafkaBrokers, "group", cfg.KafkaGroup)

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("shutting down consumer")
				return
			}
			logger.Warn("kafka read error", "error", err, "backoff", backoff)
			time.Sleep(backoff)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = time.Second
		msgsConsumed.Inc()
		handleMessage(ctx, logger, live, m)
	}
}

// LiveWriter is the presence write path the consumer feeds.
type LiveWriter interface {
	UpsertDriverLive(ctx context.Context, uid string, u presence.Update) (models.Presence, error)
}

func handleMessage(ctx context.Context, logger *slog.Logger, w LiveWriter, m kafka.Message) {
	if fromAPI(m) {
		msgsSkipped.Inc()
		return
	}
	doc, err := decode(m)
	if err != nil {
		msgsInvalid.Inc()
		logger.Warn("invalid message", "offset", m.Offset, "error", err)
		return
	}
	if err := upsertWithRetry(ctx, w, doc, 3, 200*time.Millisecond); err != nil {
		redisErrors.Inc()
		logger.Error("presence update failed", "driver_id", doc.UID, "error", err)
		return
	}
	redisUpdates.Inc()
}

// fromAPI reports whether the API wrote this location itself.
func fromAPI(m kafka.Message) bool {
	for _, h := range m.Headers {
		if h.Key == ingest.OriginHeader && string(h.Value) == ingest.OriginAPI {
			return true
		}
	}
	return false
}

// decode normalizes any known location layout. The message key names the
// driver when the document does not.
func decode(m kafka.Message) (presence.Document, error) {
	doc, err := presence.NormalizeLocation(m.Value)
	if err != nil {
		return doc, err
	}
	if doc.UID == "" {
		doc.UID = string(m.Key)
	}
	if doc.UID == "" {
		return doc, fmt.Errorf("location without driver id")
	}
	return doc, nil
}

// upsertWithRetry applies doc with exponential backoff. Invalid positions
// are not retried.
func upsertWithRetry(ctx context.Context, w LiveWriter, doc presence.Document, attempts int, delay time.Duration) error {
	var err error
	for i := 0; i < attempts; i++ {
		if _, err = w.UpsertDriverLive(ctx, doc.UID, doc.Update); err == nil {
			return nil
		}
		if errors.Is(err, presence.ErrInvalidPosition) || i == attempts-1 {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}
