package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"civicsync-dispatch/services/duplicate"
	"civicsync-dispatch/services/lifecycle"
	"civicsync-dispatch/services/optimizer"

	"github.com/m-mizutani/goerr/v2"
)

// Settings is the service configuration read from the environment.
type Settings struct {
	Port    string
	GoEnv   string
	Domain  string
	Origins []string

	MongoURI      string
	MongoDatabase string

	RedisAddress   string
	RedisPassword  string
	RateLimitQueue string
	IssueRateLimit int

	JWTSecret string
	// AdminEmails register with the admin role.
	AdminEmails []string

	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool

	NATSURL       string
	ClassifierURL string

	LogLevel  string
	LogFormat string

	DuplicateWindow     time.Duration
	DuplicateSimilarity float64
	DuplicateRadiusKm   float64
	MaxDistanceKm       float64
	BatchMinPriority    float64
	BatchLimit          int
}

// Load reads Settings from the environment. Malformed numbers are errors;
// unset values take their defaults.
func Load() (*Settings, error) {
	s := &Settings{
		Port:           getEnv("PORT", "8080"),
		GoEnv:          getEnv("GO_ENV", "development"),
		Domain:         getEnv("DOMAIN", "localhost"),
		MongoURI:       os.Getenv("MONGODB_URI"),
		MongoDatabase:  getEnv("MONGODB_DATABASE", "civicsync"),
		RedisAddress:   os.Getenv("REDIS_ADDRESS"),
		RedisPassword:  os.Getenv("REDIS_PASSWORD"),
		RateLimitQueue: getEnv("REDIS_QUEUE_FOR_ISSUE_LIMIT", "issue_limit"),
		JWTSecret:      os.Getenv("JWT_SECRET"),
		MinioEndpoint:  os.Getenv("MINIO_ENDPOINT"),
		MinioAccessKey: os.Getenv("MINIO_ACCESS_KEY"),
		MinioSecretKey: os.Getenv("MINIO_SECRET_KEY"),
		MinioBucket:    getEnv("MINIO_BUCKET", "civicsync-issues"),
		NATSURL:        os.Getenv("NATS_URL"),
		ClassifierURL:  os.Getenv("CLASSIFIER_URL"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LogFormat:      getEnv("LOG_FORMAT", "auto"),
	}

	s.Origins = splitList(os.Getenv("ALLOWED_ORIGINS"))
	s.AdminEmails = splitList(os.Getenv("ADMIN_EMAILS"))

	dup := duplicate.DefaultConfig()
	opt := optimizer.DefaultConfig()
	batch := lifecycle.DefaultBatchConfig()

	var err error
	if s.MinioUseSSL, err = getEnvBool("MINIO_USE_SSL", false); err != nil {
		return nil, err
	}
	if s.IssueRateLimit, err = getEnvInt("ISSUE_RATE_LIMIT", 10); err != nil {
		return nil, err
	}
	if s.DuplicateWindow, err = getEnvDuration("DUPLICATE_WINDOW", dup.Window); err != nil {
		return nil, err
	}
	if s.DuplicateSimilarity, err = getEnvFloat("DUPLICATE_SIMILARITY", dup.MinSimilarity); err != nil {
		return nil, err
	}
	if s.DuplicateRadiusKm, err = getEnvFloat("DUPLICATE_RADIUS_KM", dup.RadiusKm); err != nil {
		return nil, err
	}
	if s.MaxDistanceKm, err = getEnvFloat("OPTIMIZER_MAX_DISTANCE_KM", opt.MaxDistanceKm); err != nil {
		return nil, err
	}
	if s.BatchMinPriority, err = getEnvFloat("BATCH_MIN_PRIORITY", batch.MinPriority); err != nil {
		return nil, err
	}
	if s.BatchLimit, err = getEnvInt("BATCH_LIMIT", batch.Limit); err != nil {
		return nil, err
	}

	if s.IsProduction() && s.JWTSecret == "" {
		return nil, goerr.New("JWT_SECRET must be set in production")
	}
	return s, nil
}

func (s *Settings) IsProduction() bool {
	return s.GoEnv == "production"
}

func (s *Settings) Duplicate() duplicate.Config {
	return duplicate.Config{
		Window:        s.DuplicateWindow,
		MinSimilarity: s.DuplicateSimilarity,
		RadiusKm:      s.DuplicateRadiusKm,
	}
}

func (s *Settings) Optimizer() optimizer.Config {
	return optimizer.Config{MaxDistanceKm: s.MaxDistanceKm}
}

func (s *Settings) Batch() lifecycle.BatchConfig {
	return lifecycle.BatchConfig{MinPriority: s.BatchMinPriority, Limit: s.BatchLimit}
}

func splitList(value string) []string {
	var out []string
	for _, v := range strings.Split(value, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, goerr.Wrap(err, "invalid boolean setting", goerr.V("key", key), goerr.V("value", value))
	}
	return b, nil
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, goerr.Wrap(err, "invalid integer setting", goerr.V("key", key), goerr.V("value", value))
	}
	return n, nil
}

func getEnvFloat(key string, defaultValue float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, goerr.Wrap(err, "invalid number setting", goerr.V("key", key), goerr.V("value", value))
	}
	return f, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, goerr.Wrap(err, "invalid duration setting", goerr.V("key", key), goerr.V("value", value))
	}
	return d, nil
}
