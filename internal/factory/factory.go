package factory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"portal-auth/internal/client"
	"portal-auth/internal/config"
	"portal-auth/internal/events"
	"portal-auth/internal/handler"
	"portal-auth/internal/hashing"
	"portal-auth/internal/mail"
	"portal-auth/internal/repository/mysqlrepo"
	"portal-auth/internal/repository/redisrepo"
	"portal-auth/internal/service"
	"portal-auth/internal/util"
)

// Factory manages the lifecycle of all application dependencies
type Factory struct {
	config *config.Config

	// Clients
	redisClient   *client.RedisClient
	mysqlClient   *client.MySQLClient
	kafkaProducer *client.KafkaProducer
	sesClient     *client.SESClient

	// Collaborators
	hasher    *hashing.PasswordHasher
	mailer    mail.Mailer
	publisher events.Publisher

	// Repositories
	accountRepository mysqlrepo.AccountRepository
	sessionRepository mysqlrepo.SessionRepository
	otpSessionStore   redisrepo.OTPSessionStore

	// Services
	authService  *service.AuthService
	oauthService *service.OAuthService

	closeOnce sync.Once
	closed    chan struct{}
}

// NewFactory creates and initializes all application dependencies
func NewFactory() (*Factory, error) {
	cfg := config.LoadConfig()

	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)

	factory := &Factory{
		config: cfg,
		closed: make(chan struct{}),
	}

	if err := factory.initializeClients(); err != nil {
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}

	factory.initializeCollaborators()

	util.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.Bool("kafka_enabled", cfg.Kafka.Enabled),
		util.Bool("mail_enabled", cfg.Mail.Enabled),
	)

	return factory, nil
}

// initializeClients initializes all external service clients with health checks
func (f *Factory) initializeClients() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// MySQL
	mysqlClient, err := client.NewMySQLClient(f.config, util.Get())
	if err != nil {
		return fmt.Errorf("mysql: %w", err)
	}
	f.mysqlClient = mysqlClient
	if err := f.mysqlClient.Migrate(); err != nil {
		return fmt.Errorf("mysql migrate: %w", err)
	}
	util.Info("MySQL client initialized and migrated")

	// Redis
	redisClient, err := client.NewRedisClient(f.config, util.Get())
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	f.redisClient = redisClient
	if err := f.redisClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("redis health check: %w", err)
	}
	util.Info("Redis client initialized and healthy")

	// Kafka is best effort; auth must keep working without the audit stream
	if f.config.Kafka.Enabled {
		if producer, err := client.NewKafkaProducer(f.config, util.Get()); err != nil {
			util.Warn("Kafka producer initialization failed - proceeding without Kafka", util.ErrorField(err))
		} else {
			f.kafkaProducer = producer
			util.Info("Kafka producer initialized")
		}
	}

	// SES, only when mail dispatch is enabled
	if f.config.Mail.Enabled {
		sesClient, err := client.NewSESClient(f.config, util.Get())
		if err != nil {
			return fmt.Errorf("ses: %w", err)
		}
		f.sesClient = sesClient
		util.Info("SES client initialized")
	}

	return nil
}

// initializeCollaborators wires the hashing, mail, and event collaborators.
func (f *Factory) initializeCollaborators() {
	f.hasher = hashing.NewPasswordHasher()

	if f.sesClient != nil {
		f.mailer = mail.NewSESMailer(f.sesClient, util.Get())
	} else {
		f.mailer = mail.NewLogMailer(util.Get())
	}

	if f.kafkaProducer != nil {
		f.publisher = events.NewKafkaPublisher(f.kafkaProducer, util.Get())
	} else {
		f.publisher = events.NopPublisher{}
	}
}

func (f *Factory) AccountRepository() mysqlrepo.AccountRepository {
	if f.accountRepository == nil {
		f.accountRepository = mysqlrepo.NewAccountRepository(f.mysqlClient.DB)
	}
	return f.accountRepository
}

func (f *Factory) SessionRepository() mysqlrepo.SessionRepository {
	if f.sessionRepository == nil {
		f.sessionRepository = mysqlrepo.NewSessionRepository(f.mysqlClient.DB, f.config.Auth.SessionLifetime)
	}
	return f.sessionRepository
}

func (f *Factory) OTPSessionStore() redisrepo.OTPSessionStore {
	if f.otpSessionStore == nil {
		f.otpSessionStore = redisrepo.NewOTPSessionStore(f.redisClient, f.config.Auth.OTPExpiry, f.config.Auth.OTPRetention)
	}
	return f.otpSessionStore
}

func (f *Factory) AuthService() *service.AuthService {
	if f.authService == nil {
		f.authService = service.NewAuthService(
			f.AccountRepository(),
			f.SessionRepository(),
			f.OTPSessionStore(),
			f.hasher,
			f.mailer,
			f.publisher,
			f.config.Auth.OTPExpiry,
			util.Get(),
		)
	}
	return f.authService
}

func (f *Factory) OAuthService() *service.OAuthService {
	if f.oauthService == nil {
		f.oauthService = service.NewOAuthService(
			f.AccountRepository(),
			f.SessionRepository(),
			f.publisher,
			f.config.Google,
			util.Get(),
		)
	}
	return f.oauthService
}

func (f *Factory) AuthHandler() *handler.AuthHandler {
	return handler.NewAuthHandler(f.AuthService(), f.OAuthService(), util.Get())
}

// HealthCheck probes the hard dependencies concurrently and reports each as
// "ok" or the failure text. Kafka is reported but never marked failing when
// it was configured off.
func (f *Factory) HealthCheck(ctx context.Context) map[string]string {
	var mu sync.Mutex
	statuses := make(map[string]string)
	report := func(name string, err error) {
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			statuses[name] = err.Error()
		} else {
			statuses[name] = "ok"
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		report("mysql", f.mysqlClient.HealthCheck(gctx))
		return nil
	})
	g.Go(func() error {
		report("redis", f.redisClient.HealthCheck(gctx))
		return nil
	})
	if f.kafkaProducer != nil {
		g.Go(func() error {
			report("kafka", f.kafkaProducer.HealthCheck(gctx))
			return nil
		})
	}
	_ = g.Wait()

	return statuses
}

func (f *Factory) Close() error {
	f.closeOnce.Do(func() {
		close(f.closed)
		util.Info("Shutting down factory...")

		if f.kafkaProducer != nil {
			if err := f.kafkaProducer.Close(); err != nil {
				util.Error("Failed to close Kafka producer", util.ErrorField(err))
			} else {
				util.Info("Kafka producer closed")
			}
		}

		if f.mysqlClient != nil {
			if err := f.mysqlClient.Close(); err != nil {
				util.Error("Failed to close MySQL client", util.ErrorField(err))
			} else {
				util.Info("MySQL client closed")
			}
		}

		if f.redisClient != nil {
			if err := f.redisClient.Close(); err != nil {
				util.Error("Failed to close Redis client", util.ErrorField(err))
			} else {
				util.Info("Redis client closed")
			}
		}

		util.Sync()
		util.Info("Factory shutdown completed")
	})

	return nil
}

func (f *Factory) WaitForClose() {
	<-f.closed
}

func (f *Factory) Config() *config.Config {
	return f.config
}
