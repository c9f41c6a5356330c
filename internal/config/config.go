package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Environment string
	Server      ServerConfig
	Logging     LoggingConfig
	Redis       RedisConfig
	Kafka       KafkaConfig
	Recaptcha   RecaptchaConfig
	OTP         OTPConfig
	RateLimit   RateLimitConfig
	Channel     ChannelConfig
}

type ServerConfig struct {
	Port           int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	AllowedOrigins []string
}

type LoggingConfig struct {
	Level  string
	Format string
}

type RedisConfig struct {
	URL      string
	DB       int
	PoolSize int
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

type RecaptchaConfig struct {
	Secret    string
	VerifyURL string
}

type OTPConfig struct {
	TTL             time.Duration
	TryCap          int
	StoreTTLMargin  time.Duration
	MinElapsed      time.Duration
	DispatchTimeout time.Duration
}

type RateLimitConfig struct {
	Window           time.Duration
	MaxPerIP         int
	MaxPerIdentifier int
}

type ChannelConfig struct {
	CountryCode string
}

// Load reads configuration from the environment, with a .env file as
// fallback for local development.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Port:           getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:    getEnvDuration("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:   getEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:    getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			AllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", []string{"https://*"}),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Redis: RedisConfig{
			URL:      getEnv("REDIS_URL", "redis://localhost:6379"),
			DB:       getEnvInt("REDIS_DB", 0),
			PoolSize: getEnvInt("REDIS_POOL_SIZE", 50),
		},
		Kafka: KafkaConfig{
			Brokers: getEnvList("KAFKA_BROKERS", nil),
			Topic:   getEnv("KAFKA_TOPIC", "otp.security-events"),
		},
		Recaptcha: RecaptchaConfig{
			Secret:    getEnv("RECAPTCHA_SECRET", ""),
			VerifyURL: getEnv("RECAPTCHA_VERIFY_URL", "https://www.google.com/recaptcha/api/siteverify"),
		},
		OTP: OTPConfig{
			TTL:             getEnvDuration("OTP_TTL", 600*time.Second),
			TryCap:          getEnvInt("OTP_TRY_CAP", 5),
			StoreTTLMargin:  getEnvDuration("STORE_TTL_MARGIN", 900*time.Second),
			MinElapsed:      getEnvDuration("MIN_ELAPSED", 1200*time.Millisecond),
			DispatchTimeout: getEnvDuration("DISPATCH_TIMEOUT", 30*time.Second),
		},
		RateLimit: RateLimitConfig{
			Window:           getEnvDuration("RATE_WINDOW", 600*time.Second),
			MaxPerIP:         getEnvInt("RATE_MAX_PER_IP", 5),
			MaxPerIdentifier: getEnvInt("RATE_MAX_PER_ID", 3),
		},
		Channel: ChannelConfig{
			CountryCode: getEnv("COUNTRY_CODE", "+91"),
		},
	}
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		// bare numbers are treated as seconds
		if n, err := strconv.Atoi(v); err == nil {
			return time.Duration(n) * time.Second
		}
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return fallback
}
