package factory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"verify-service/internal/audit"
	"verify-service/internal/captcha"
	"verify-service/internal/channel"
	"verify-service/internal/client"
	"verify-service/internal/config"
	"verify-service/internal/model"
	"verify-service/internal/service"
	"verify-service/internal/store"
	"verify-service/internal/util"
)

// Factory manages the lifecycle of all application dependencies
type Factory struct {
	config *config.Config

	// Clients
	redisClient   *client.RedisClient
	kafkaProducer *client.KafkaProducer

	// Core components
	sessionStore  *store.SessionStore
	rateLimiter   *store.RateLimiter
	policy        *channel.Policy
	verifier      captcha.Verifier
	events        *audit.Publisher
	verifyService *service.VerifyService

	closeOnce sync.Once
}

// NewFactory creates and initializes all application dependencies
func NewFactory() (*Factory, error) {
	cfg := config.Load()

	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)

	f := &Factory{config: cfg}

	if err := f.initializeClients(); err != nil {
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}
	f.initializeCore()

	util.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.Bool("kafka_enabled", f.kafkaProducer != nil),
	)

	return f, nil
}

func (f *Factory) initializeClients() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Redis is the only hard dependency: it owns sessions and counters.
	redisClient, err := client.NewRedisClient(f.config, util.Get())
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	f.redisClient = redisClient
	if err := f.redisClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("redis health check: %w", err)
	}
	util.Info("Redis client initialized and healthy")

	// Kafka is optional: without it, audit events are log-only.
	if len(f.config.Kafka.Brokers) > 0 {
		if producer, err := client.NewKafkaProducer(f.config, util.Get()); err != nil {
			util.Warn("Kafka producer initialization failed - proceeding without Kafka", util.ErrorField(err))
		} else {
			f.kafkaProducer = producer
		}
	}

	return nil
}

func (f *Factory) initializeCore() {
	cfg := f.config

	f.sessionStore = store.NewSessionStore(f.redisClient, cfg.OTP.StoreTTLMargin, cfg.OTP.TryCap)
	f.rateLimiter = store.NewRateLimiter(f.redisClient)
	f.policy = channel.NewPolicy(
		channel.NewDevSender(model.ChannelEmail),
		channel.NewDevSender(model.ChannelSMS),
		channel.NewDevSender(model.ChannelWhatsApp),
		cfg.Channel.CountryCode,
	)
	f.verifier = captcha.NewRecaptchaVerifier(cfg.Recaptcha.Secret, cfg.Recaptcha.VerifyURL)
	f.events = audit.NewPublisher(f.kafkaProducer, cfg.Kafka.Topic)

	f.verifyService = service.NewVerifyService(
		cfg,
		f.sessionStore,
		f.rateLimiter,
		f.policy,
		f.verifier,
		f.events,
		service.LogSink{},
	)
}

func (f *Factory) Config() *config.Config {
	return f.config
}

func (f *Factory) VerifyService() *service.VerifyService {
	return f.verifyService
}

// HealthCheck reports the health of all initialized dependencies.
func (f *Factory) HealthCheck(ctx context.Context) map[string]error {
	healthErrors := make(map[string]error)

	if f.redisClient != nil {
		if err := f.redisClient.HealthCheck(ctx); err != nil {
			healthErrors["redis"] = err
		}
	} else {
		healthErrors["redis"] = fmt.Errorf("redis client not initialized")
	}

	if f.kafkaProducer != nil {
		if err := f.kafkaProducer.HealthCheck(ctx); err != nil {
			healthErrors["kafka"] = err
		}
	}

	return healthErrors
}

func (f *Factory) Close() error {
	f.closeOnce.Do(func() {
		util.Info("Shutting down factory...")

		// Let in-flight OTP dispatches finish before tearing down clients.
		if f.verifyService != nil {
			f.verifyService.Drain()
		}

		if f.kafkaProducer != nil {
			if err := f.kafkaProducer.Close(); err != nil {
				util.Error("Failed to close Kafka producer", util.ErrorField(err))
			}
		}

		if f.redisClient != nil {
			if err := f.redisClient.Close(); err != nil {
				util.Error("Failed to close Redis client", util.ErrorField(err))
			}
		}

		util.Sync()
		util.Info("Factory shutdown completed")
	})

	return nil
}
