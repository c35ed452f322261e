package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ServerConfig captures all tunable parameters for the HTTP API process.
// Values are loaded from environment variables with defaults so the binary
// runs locally with in-memory stores and no external services.
type ServerConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	RedisAddr     string
	RedisPassword string
	RedisGeoKey   string

	KafkaBrokers       []string
	KafkaLocationTopic string
	KafkaRideTopic     string

	PGDSN string

	CandidateRadiusKm    float64
	CandidateLimit       int
	ActiveRideWindow     int
	PresenceMinInterval  time.Duration
	PresenceMinDistanceM float64
	DefaultSpeedMps      float64
	OSRMEndpoint         string
	ETACacheTTL          time.Duration

	FirebaseProjectID string
	FunctionsRegion   string
	FunctionsBaseURL  string
	FunctionsTimeout  time.Duration

	GoogleMapsAPIKey string
	IPInfoToken      string
	GeoCacheTTL      time.Duration

	JWTSecret string

	TopUpProvider string
	StripeAPIKey  string
	AppScheme     string

	S3 S3Config

	FCMEndpoint string
	FCMKey      string

	LogLevel      string
	RunMigrations bool
}

type S3Config struct {
	Bucket           string
	Region           string
	AccessKeyID      string
	SecretAccessKey  string
	CloudFrontDomain string
}

const (
	TopUpPayPal = "paypal"
	TopUpStripe = "stripe"
)

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:             ":8080",
		ReadTimeout:          5 * time.Second,
		WriteTimeout:         10 * time.Second,
		IdleTimeout:          120 * time.Second,
		ShutdownTimeout:      15 * time.Second,
		RedisGeoKey:          "drivers_geo",
		KafkaLocationTopic:   "driver-locations",
		KafkaRideTopic:       "ride-events",
		CandidateRadiusKm:    10,
		CandidateLimit:       20,
		ActiveRideWindow:     5,
		PresenceMinInterval:  4 * time.Second,
		PresenceMinDistanceM: 15,
		DefaultSpeedMps:      8.33,
		ETACacheTTL:          30 * time.Second,
		FunctionsRegion:      "us-central1",
		FunctionsTimeout:     15 * time.Second,
		GeoCacheTTL:          24 * time.Hour,
		TopUpProvider:        TopUpPayPal,
		AppScheme:            "ehailing",
		S3:                   S3Config{Region: "af-south-1"},
		LogLevel:             "info",
	}
}

func LoadServerConfig() (ServerConfig, error) {
	cfg := defaultServerConfig()
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisGeoKey, "REDIS_GEO_KEY")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaLocationTopic, "KAFKA_LOCATION_TOPIC")
	setStringFromEnv(&cfg.KafkaRideTopic, "KAFKA_RIDE_TOPIC")

	cfg.PGDSN = os.Getenv("PG_DSN")

	setFloatFromEnv(&cfg.CandidateRadiusKm, "CANDIDATE_RADIUS_KM", &errs)
	setIntFromEnv(&cfg.CandidateLimit, "CANDIDATE_LIMIT", &errs)
	setIntFromEnv(&cfg.ActiveRideWindow, "ACTIVE_RIDE_WINDOW", &errs)
	setDurationFromEnv(&cfg.PresenceMinInterval, "PRESENCE_MIN_INTERVAL", &errs)
	setFloatFromEnv(&cfg.PresenceMinDistanceM, "PRESENCE_MIN_DISTANCE_M", &errs)
	setFloatFromEnv(&cfg.DefaultSpeedMps, "DEFAULT_SPEED_MPS", &errs)
	setStringFromEnv(&cfg.OSRMEndpoint, "OSRM_ENDPOINT")
	setDurationFromEnv(&cfg.ETACacheTTL, "ETA_CACHE_TTL", &errs)

	setStringFromEnv(&cfg.FirebaseProjectID, "FIREBASE_PROJECT_ID")
	setStringFromEnv(&cfg.FunctionsRegion, "FUNCTIONS_REGION")
	setStringFromEnv(&cfg.FunctionsBaseURL, "FUNCTIONS_BASE_URL")
	setDurationFromEnv(&cfg.FunctionsTimeout, "FUNCTIONS_TIMEOUT", &errs)

	setStringFromEnv(&cfg.GoogleMapsAPIKey, "GOOGLE_MAPS_API_KEY")
	setStringFromEnv(&cfg.IPInfoToken, "IPINFO_TOKEN")
	setDurationFromEnv(&cfg.GeoCacheTTL, "GEO_CACHE_TTL", &errs)

	cfg.JWTSecret = os.Getenv("JWT_SECRET")

	if v := os.Getenv("TOPUP_PROVIDER"); v != "" {
		cfg.TopUpProvider = strings.ToLower(strings.TrimSpace(v))
	}
	cfg.StripeAPIKey = os.Getenv("STRIPE_API_KEY")
	setStringFromEnv(&cfg.AppScheme, "APP_SCHEME")

	setStringFromEnv(&cfg.S3.Bucket, "S3_BUCKET")
	setStringFromEnv(&cfg.S3.Region, "S3_REGION")
	cfg.S3.AccessKeyID = os.Getenv("S3_ACCESS_KEY_ID")
	cfg.S3.SecretAccessKey = os.Getenv("S3_SECRET_ACCESS_KEY")
	setStringFromEnv(&cfg.S3.CloudFrontDomain, "S3_CLOUDFRONT_DOMAIN")

	setStringFromEnv(&cfg.FCMEndpoint, "FCM_ENDPOINT")
	cfg.FCMKey = os.Getenv("FCM_KEY")

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	cfg.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")

	if cfg.CandidateRadiusKm <= 0 {
		errs = append(errs, fmt.Errorf("CANDIDATE_RADIUS_KM must be > 0"))
	}
	if cfg.CandidateLimit <= 0 {
		errs = append(errs, fmt.Errorf("CANDIDATE_LIMIT must be > 0"))
	}
	if cfg.ActiveRideWindow <= 0 {
		errs = append(errs, fmt.Errorf("ACTIVE_RIDE_WINDOW must be > 0"))
	}
	switch cfg.TopUpProvider {
	case TopUpPayPal:
	case TopUpStripe:
		if cfg.StripeAPIKey == "" {
			errs = append(errs, fmt.Errorf("STRIPE_API_KEY is required when TOPUP_PROVIDER=stripe"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown TOPUP_PROVIDER %q", cfg.TopUpProvider))
	}

	return cfg, errors.Join(errs...)
}

// FunctionsURL is the callable endpoint base, honouring the emulator override.
func (c ServerConfig) FunctionsURL() string {
	if c.FunctionsBaseURL != "" {
		return strings.TrimRight(c.FunctionsBaseURL, "/")
	}
	return fmt.Sprintf("https://%s-%s.cloudfunctions.net", c.FunctionsRegion, c.FirebaseProjectID)
}

// ConsumerConfig configures the driver location consumer.
type ConsumerConfig struct {
	MetricsAddr   string
	KafkaBrokers  []string
	KafkaTopic    string
	KafkaGroup    string
	RedisAddr     string
	RedisPassword string
	RedisGeoKey   string
	LogLevel      string
}

func LoadConsumerConfig() (ConsumerConfig, error) {
	cfg := ConsumerConfig{
		MetricsAddr:  ":2112",
		KafkaBrokers: []string{"localhost:9092"},
		KafkaTopic:   "driver-locations",
		KafkaGroup:   "ehailing-location-consumer",
		RedisAddr:    "localhost:6379",
		RedisGeoKey:  "drivers_geo",
		LogLevel:     "info",
	}
	setStringFromEnv(&cfg.MetricsAddr, "METRICS_ADDR")
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_LOCATION_TOPIC")
	setStringFromEnv(&cfg.KafkaGroup, "KAFKA_GROUP")
	setStringFromEnv(&cfg.RedisAddr, "REDIS_ADDR")
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisGeoKey, "REDIS_GEO_KEY")
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
	if len(cfg.KafkaBrokers) == 0 {
		return cfg, fmt.Errorf("KAFKA_BROKERS must name at least one broker")
	}
	return cfg, nil
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setFloatFromEnv(target *float64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = f
	}
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
