package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config holds everything the service reads from the environment.
type Config struct {
	Port    string `validate:"required,numeric"`
	GinMode string `validate:"oneof=debug release test"`

	MongoURI      string `validate:"required"`
	MongoDatabase string `validate:"required"`

	StorageType     string `validate:"oneof=local s3"`
	UploadDir       string `validate:"required_if=StorageType local"`
	UploadURLPrefix string `validate:"required,startswith=/"`

	S3Bucket        string `validate:"required_if=StorageType s3"`
	S3Region        string `validate:"required_if=StorageType s3"`
	S3Endpoint      string `validate:"omitempty,url"`
	S3Prefix        string
	S3PublicBaseURL string        `validate:"omitempty,url"`
	S3PresignTTL    time.Duration `validate:"min=0s"`

	MaxUploadSize     int64 `validate:"min=1"`
	ImageMaxDimension int   `validate:"min=16,max=8192"`
	ImageJPEGQuality  int   `validate:"min=1,max=100"`
	ImageMaxPixels    int64 `validate:"min=1"`

	OpenAIAPIKey    string
	VisionEnabled   bool
	VisionBaseURL   string        `validate:"required,url"`
	VisionModel     string        `validate:"required"`
	VisionTimeout   time.Duration `validate:"min=1s"`
	VisionMaxTokens int           `validate:"min=1"`
	VisionDetail    string        `validate:"oneof=low high auto"`

	AllowedOrigins []string
	RateLimit      int           `validate:"min=0"`
	RateWindow     time.Duration `validate:"min=1s"`

	LogLevel  string `validate:"oneof=debug info warn error"`
	LogFormat string `validate:"oneof=text json"`
}

// Load reads an optional .env file followed by the process environment.
// A missing .env file is ignored.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv()
}

// FromEnv builds and validates a Config from the current environment.
func FromEnv() (*Config, error) {
	var errs []string
	intVar := func(key string, def int) int {
		v, err := envInt(key, def)
		if err != nil {
			errs = append(errs, err.Error())
		}
		return v
	}
	durVar := func(key string, def time.Duration) time.Duration {
		v, err := envDuration(key, def)
		if err != nil {
			errs = append(errs, err.Error())
		}
		return v
	}

	cfg := &Config{
		Port:    env("PORT", "8007"),
		GinMode: env("GIN_MODE", "release"),

		MongoURI:      env("MONGO_URI", "mongodb://localhost:27017"),
		MongoDatabase: env("MONGO_DATABASE", "cardtracker"),

		StorageType:     strings.ToLower(env("STORAGE_TYPE", "local")),
		UploadDir:       env("UPLOAD_DIR", "./uploads"),
		UploadURLPrefix: strings.TrimRight(env("UPLOAD_URL_PREFIX", "/uploads"), "/"),

		S3Bucket:        os.Getenv("S3_BUCKET"),
		S3Region:        env("S3_REGION", env("AWS_REGION", "us-east-1")),
		S3Endpoint:      os.Getenv("S3_ENDPOINT"),
		S3Prefix:        os.Getenv("S3_PREFIX"),
		S3PublicBaseURL: os.Getenv("S3_PUBLIC_BASE_URL"),
		S3PresignTTL:    durVar("S3_PRESIGN_TTL", 10*time.Minute),

		MaxUploadSize:     int64(intVar("MAX_UPLOAD_SIZE", 10*1024*1024)),
		ImageMaxDimension: intVar("IMAGE_MAX_DIMENSION", 1024),
		ImageJPEGQuality:  intVar("IMAGE_JPEG_QUALITY", 85),
		ImageMaxPixels:    int64(intVar("IMAGE_MAX_PIXELS", 89_478_485)),

		OpenAIAPIKey:    os.Getenv("OPENAI_API_KEY"),
		VisionEnabled:   envBool("VISION_ENABLED", true),
		VisionBaseURL:   strings.TrimRight(env("VISION_BASE_URL", "https://api.openai.com/v1"), "/"),
		VisionModel:     env("VISION_MODEL", "gpt-4o"),
		VisionTimeout:   durVar("VISION_TIMEOUT", 20*time.Second),
		VisionMaxTokens: intVar("VISION_MAX_TOKENS", 500),
		VisionDetail:    strings.ToLower(env("VISION_DETAIL", "high")),

		AllowedOrigins: splitList(env("ALLOWED_ORIGINS", "http://localhost:5173,http://localhost:3000")),
		RateLimit:      intVar("RATE_LIMIT", 0),
		RateWindow:     durVar("RATE_WINDOW", time.Minute),

		LogLevel:  strings.ToLower(env("LOG_LEVEL", "info")),
		LogFormat: strings.ToLower(env("LOG_FORMAT", "text")),
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}

	if cfg.UploadURLPrefix == "" {
		cfg.UploadURLPrefix = "/uploads"
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// VisionAvailable reports whether metadata extraction can be attempted at all.
func (c *Config) VisionAvailable() bool {
	return c.VisionEnabled && c.OpenAIAPIKey != ""
}

func env(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func envInt(key string, def int) (int, error) {
	v := env(key, "")
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def, fmt.Errorf("%s: %q is not an integer", key, v)
	}
	return n, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := env(key, "")
	if v == "" {
		return def, nil
	}
	// bare integers are seconds
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def, fmt.Errorf("%s: %q is not a duration", key, v)
	}
	return d, nil
}

func envBool(key string, def bool) bool {
	v := env(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
