package config

import (
	"os"
	"strings"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
// If FOO_FILE is set, reads the file content and sets FOO.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	fileKey := envKey + "_FILE"
	filePath := os.Getenv(fileKey)
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	val := strings.TrimSpace(string(data))
	os.Setenv(envKey, val)
}

// DefaultRemoteBaseURL is used when no remote.base_url is supplied.
const DefaultRemoteBaseURL = "http://localhost:3001"

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Remote    RemoteConfig    `yaml:"remote"`
	Poll      PollConfig      `yaml:"poll"`
	Redial    RedialConfig    `yaml:"redial"`
	Redis     RedisConfig     `yaml:"redis"`
	Auth      AuthConfig      `yaml:"auth"`
	OIDC      OIDCConfig      `yaml:"oidc"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	Storage   StorageConfig   `yaml:"storage"`
}

type ServerConfig struct {
	Port      string `yaml:"port"`
	Env       string `yaml:"env"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// RemoteConfig points at the Remote Batch Service.
type RemoteConfig struct {
	BaseURL string `yaml:"base_url"`
	Timeout int    `yaml:"timeout"` // seconds
}

type PollConfig struct {
	IntervalSeconds int `yaml:"interval_seconds"`
}

// Interval returns the poll interval as a duration.
func (p PollConfig) Interval() time.Duration {
	return time.Duration(p.IntervalSeconds) * time.Second
}

// Redial dispatch modes
const (
	RedialModeInline = "inline"
	RedialModeQueue  = "queue"
)

type RedialConfig struct {
	Mode string `yaml:"mode"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Enabled  bool   `yaml:"enabled"`
}

type AuthConfig struct {
	JWTSecret  string `yaml:"jwt_secret"`
	Passcode   string `yaml:"passcode"`
	Expiration int    `yaml:"expiration"` // hours
}

type OIDCConfig struct {
	Issuer   string `yaml:"issuer"`
	ClientID string `yaml:"client_id"`
}

type RateLimitConfig struct {
	UploadPerHour int `yaml:"upload_per_hour"`
	RedialPerMin  int `yaml:"redial_per_min"`
}

// StorageConfig describes an S3-compatible bucket for archiving uploads.
type StorageConfig struct {
	Endpoint        string `yaml:"endpoint"`
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	BucketName      string `yaml:"bucket_name"`
	PublicURL       string `yaml:"public_url"`
}

// Configured reports whether archive storage has credentials and a bucket.
func (s StorageConfig) Configured() bool {
	return s.AccessKeyID != "" && s.SecretAccessKey != "" && s.BucketName != ""
}

func Load() (*Config, error) {
	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("JWT_SECRET")
	readSecret("AUTH_PASSCODE")
	readSecret("STORAGE_ACCESS_KEY_ID")
	readSecret("STORAGE_SECRET_ACCESS_KEY")

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Environment variables
	viper.AutomaticEnv()

	// Bind environment variables with underscores to nested config keys
	_ = viper.BindEnv("server.port", "SERVER_PORT")
	_ = viper.BindEnv("server.env", "SERVER_ENV")
	_ = viper.BindEnv("server.log_level", "LOG_LEVEL")
	_ = viper.BindEnv("server.log_format", "LOG_FORMAT")
	_ = viper.BindEnv("remote.base_url", "REMOTE_BASE_URL", "SERVER_BASE_URL")
	_ = viper.BindEnv("remote.timeout", "REMOTE_TIMEOUT")
	_ = viper.BindEnv("poll.interval_seconds", "POLL_INTERVAL_SECONDS")
	_ = viper.BindEnv("redial.mode", "REDIAL_MODE")
	_ = viper.BindEnv("redis.addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = viper.BindEnv("redis.db", "REDIS_DB")
	_ = viper.BindEnv("redis.enabled", "REDIS_ENABLED")
	_ = viper.BindEnv("auth.jwt_secret", "JWT_SECRET")
	_ = viper.BindEnv("auth.passcode", "AUTH_PASSCODE")
	_ = viper.BindEnv("auth.expiration", "JWT_EXPIRATION")
	_ = viper.BindEnv("oidc.issuer", "OIDC_ISSUER")
	_ = viper.BindEnv("oidc.client_id", "OIDC_CLIENT_ID")
	_ = viper.BindEnv("ratelimit.upload_per_hour", "RATELIMIT_UPLOAD_PER_HOUR")
	_ = viper.BindEnv("ratelimit.redial_per_min", "RATELIMIT_REDIAL_PER_MIN")
	_ = viper.BindEnv("storage.endpoint", "STORAGE_ENDPOINT")
	_ = viper.BindEnv("storage.region", "STORAGE_REGION")
	_ = viper.BindEnv("storage.access_key_id", "STORAGE_ACCESS_KEY_ID")
	_ = viper.BindEnv("storage.secret_access_key", "STORAGE_SECRET_ACCESS_KEY")
	_ = viper.BindEnv("storage.bucket_name", "STORAGE_BUCKET_NAME")
	_ = viper.BindEnv("storage.public_url", "STORAGE_PUBLIC_URL")

	setDefaults()

	// Try to read config file (optional)
	_ = viper.ReadInConfig()

	return fromViper(), nil
}

func setDefaults() {
	viper.SetDefault("server.port", "8000")
	viper.SetDefault("server.env", "development")
	viper.SetDefault("server.log_level", "info")
	viper.SetDefault("server.log_format", "text")

	// Remote batch service defaults
	viper.SetDefault("remote.base_url", DefaultRemoteBaseURL)
	viper.SetDefault("remote.timeout", 30)

	viper.SetDefault("poll.interval_seconds", 30)
	viper.SetDefault("redial.mode", RedialModeInline)

	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.enabled", true)

	viper.SetDefault("auth.jwt_secret", "change-me-in-production")
	viper.SetDefault("auth.passcode", "")
	viper.SetDefault("auth.expiration", 24)

	viper.SetDefault("ratelimit.upload_per_hour", 50)
	viper.SetDefault("ratelimit.redial_per_min", 30)

	viper.SetDefault("storage.region", "auto")
}

func fromViper() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Port:      viper.GetString("server.port"),
			Env:       viper.GetString("server.env"),
			LogLevel:  viper.GetString("server.log_level"),
			LogFormat: viper.GetString("server.log_format"),
		},
		Remote: RemoteConfig{
			BaseURL: strings.TrimRight(viper.GetString("remote.base_url"), "/"),
			Timeout: viper.GetInt("remote.timeout"),
		},
		Poll: PollConfig{
			IntervalSeconds: viper.GetInt("poll.interval_seconds"),
		},
		Redial: RedialConfig{
			Mode: strings.ToLower(viper.GetString("redial.mode")),
		},
		Redis: RedisConfig{
			Addr:     viper.GetString("redis.addr"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
			Enabled:  viper.GetBool("redis.enabled"),
		},
		Auth: AuthConfig{
			JWTSecret:  viper.GetString("auth.jwt_secret"),
			Passcode:   viper.GetString("auth.passcode"),
			Expiration: viper.GetInt("auth.expiration"),
		},
		OIDC: OIDCConfig{
			Issuer:   viper.GetString("oidc.issuer"),
			ClientID: viper.GetString("oidc.client_id"),
		},
		RateLimit: RateLimitConfig{
			UploadPerHour: viper.GetInt("ratelimit.upload_per_hour"),
			RedialPerMin:  viper.GetInt("ratelimit.redial_per_min"),
		},
		Storage: StorageConfig{
			Endpoint:        viper.GetString("storage.endpoint"),
			Region:          viper.GetString("storage.region"),
			AccessKeyID:     viper.GetString("storage.access_key_id"),
			SecretAccessKey: viper.GetString("storage.secret_access_key"),
			BucketName:      viper.GetString("storage.bucket_name"),
			PublicURL:       viper.GetString("storage.public_url"),
		},
	}

	if cfg.Remote.BaseURL == "" {
		cfg.Remote.BaseURL = DefaultRemoteBaseURL
	}
	if cfg.Poll.IntervalSeconds <= 0 {
		cfg.Poll.IntervalSeconds = 30
	}
	if cfg.Redial.Mode != RedialModeQueue {
		cfg.Redial.Mode = RedialModeInline
	}

	return cfg
}
