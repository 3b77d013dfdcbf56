package factory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/sns"

	"github.com/The-Burnes-Center/ai-iep-sub001/internal/client"
	"github.com/The-Burnes-Center/ai-iep-sub001/internal/config"
	"github.com/The-Burnes-Center/ai-iep-sub001/internal/encryption"
	"github.com/The-Burnes-Center/ai-iep-sub001/internal/events"
	"github.com/The-Burnes-Center/ai-iep-sub001/internal/handler"
	"github.com/The-Burnes-Center/ai-iep-sub001/internal/hashing"
	"github.com/The-Burnes-Center/ai-iep-sub001/internal/otp"
	"github.com/The-Burnes-Center/ai-iep-sub001/internal/repository"
	"github.com/The-Burnes-Center/ai-iep-sub001/internal/repository/dynamo"
	"github.com/The-Burnes-Center/ai-iep-sub001/internal/repository/memory"
	redisrepo "github.com/The-Burnes-Center/ai-iep-sub001/internal/repository/redis"
	"github.com/The-Burnes-Center/ai-iep-sub001/internal/repository/scylla"
	"github.com/The-Burnes-Center/ai-iep-sub001/internal/service"
	"github.com/The-Burnes-Center/ai-iep-sub001/internal/util"
)

// eventDrainTimeout fits inside the runtime's SIGTERM grace period.
const eventDrainTimeout = 400 * time.Millisecond

// Factory manages the lifecycle of all application dependencies. One is
// built per Lambda cold start and reused across invocations.
type Factory struct {
	config *config.Config

	// Clients
	snsClient     *sns.Client
	dynamoClient  *dynamodb.Client
	kmsClient     *kms.Client
	redisClient   *client.RedisClient
	scyllaClient  *scylla.ScyllaClient
	kafkaProducer *client.KafkaProducer

	// Managers
	hasher            *hashing.Hasher
	encryptionManager *encryption.EncryptionManager
	recorder          *events.Recorder

	// Repositories
	profileRepository repository.ProfileRepository
	sendLimiter       *redisrepo.SendLimiter

	serviceFactory *service.ServiceFactory
	cognitoHandler *handler.CognitoHandler

	closeOnce sync.Once
	closed    chan struct{}
}

// NewFactory loads configuration and initializes all application dependencies
func NewFactory(ctx context.Context) (*Factory, error) {
	cfg := config.LoadConfig()

	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	factory := &Factory{
		config: cfg,
		closed: make(chan struct{}),
	}

	if err := factory.initializeClients(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}

	factory.initializeManagers()

	util.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.String("profile_store", cfg.Profile.Store),
		util.Bool("send_limiter_enabled", factory.redisClient != nil),
		util.Bool("auth_events_enabled", factory.kafkaProducer != nil),
		util.Bool("kms_enabled", factory.kmsClient != nil),
	)

	return factory, nil
}

// initializeClients initializes the external service clients. The profile
// store is required; Redis and Kafka are optional and are skipped with a
// warning when unreachable.
func (f *Factory) initializeClients(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	awsCfg, err := client.LoadAWSConfig(ctx, f.config)
	if err != nil {
		return err
	}
	f.snsClient = client.NewSNSClient(awsCfg)
	if f.config.KMS.Enabled {
		f.kmsClient = client.NewKMSClient(awsCfg)
	}

	switch f.config.Profile.Store {
	case config.ProfileStoreDynamoDB:
		f.dynamoClient = client.NewDynamoDBClient(awsCfg)
	case config.ProfileStoreScylla:
		scyllaClient, err := scylla.NewScyllaClient(f.config, util.Get())
		if err != nil {
			return fmt.Errorf("scylla: %w", err)
		}
		f.scyllaClient = scyllaClient
		if err := f.scyllaClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("scylla health check: %w", err)
		}
	}

	if f.config.Redis.URL != "" {
		if redisClient, err := client.NewRedisClient(f.config, util.Get()); err != nil {
			util.Warn("Redis unavailable - proceeding without the cross-session send limiter", util.ErrorField(err))
		} else {
			f.redisClient = redisClient
		}
	}

	if len(f.config.Kafka.Brokers) > 0 {
		if producer, err := client.NewKafkaProducer(f.config, util.Get()); err != nil {
			util.Warn("Kafka producer initialization failed - proceeding without auth events", util.ErrorField(err))
		} else {
			f.kafkaProducer = producer
			util.Info("Kafka producer initialized")
		}
	}

	return nil
}

// initializeManagers initializes hashing, encryption and the event recorder
func (f *Factory) initializeManagers() {
	f.hasher = hashing.NewHasher(f.config)

	var kmsAPI encryption.KMSAPI
	if f.kmsClient != nil {
		kmsAPI = f.kmsClient
	}
	f.encryptionManager = encryption.NewEncryptionManager(f.config, kmsAPI)

	var publisher events.Publisher = events.NopPublisher{}
	if f.kafkaProducer != nil {
		publisher = events.NewKafkaPublisher(f.kafkaProducer, f.config.Kafka.AuthEventsTopic)
	}

	// Phone numbers are attached to events only under KMS envelope encryption.
	var encryptor events.FieldEncryptor
	if f.kmsClient != nil {
		encryptor = f.encryptionManager
	}
	f.recorder = events.NewAsyncRecorder(publisher, f.hasher, encryptor, 0, util.Get().Named("events"))

	if f.redisClient != nil {
		f.sendLimiter = redisrepo.NewSendLimiter(
			f.redisClient.Client,
			f.config.Auth.MaxSendsPerWindow,
			f.config.Auth.RateLimitWindow,
			util.Get().Named("send_limiter"),
		)
	}
}

// ==============================
// Repository Initialization
// ==============================

func (f *Factory) ProfileRepository() repository.ProfileRepository {
	if f.profileRepository == nil {
		switch f.config.Profile.Store {
		case config.ProfileStoreScylla:
			f.profileRepository = scylla.NewProfileRepository(f.scyllaClient, util.Get())
		case config.ProfileStoreMemory:
			util.Warn("Using in-memory profile store - profiles are lost on restart")
			f.profileRepository = memory.NewProfileRepository()
		default:
			f.profileRepository = dynamo.NewProfileRepository(f.dynamoClient, f.config.Profile.TableName, util.Get())
		}
	}
	return f.profileRepository
}

// ==============================
// Service Factory
// ==============================

func (f *Factory) ServiceFactory() *service.ServiceFactory {
	if f.serviceFactory == nil {
		deps := service.Dependencies{
			Generator:   otp.NewGenerator(f.config.Auth.CodeLength),
			Notifier:    otp.NewSMSNotifier(f.snsClient, f.config.SMS, util.Get().Named("sms")),
			Hasher:      f.hasher,
			Recorder:    f.recorder,
			ProfileRepo: f.ProfileRepository(),
		}
		if f.sendLimiter != nil {
			deps.Limiter = f.sendLimiter
		}
		f.serviceFactory = service.NewServiceFactory(f.config, deps, util.Get())
	}
	return f.serviceFactory
}

// CognitoHandler returns the trigger handler shared by the Lambdas and the dev server
func (f *Factory) CognitoHandler() *handler.CognitoHandler {
	if f.cognitoHandler == nil {
		services := f.ServiceFactory()
		f.cognitoHandler = handler.NewCognitoHandler(
			services.ChallengeIssuer(),
			services.SessionArbiter(),
			services.AnswerVerifier(),
			f.config.Auth.TriggerTimeout,
			util.Get().Named("cognito"),
		)
	}
	return f.cognitoHandler
}

// ==============================
// Health Checks
// ==============================

// HealthChecks returns a check per optional backing service that is wired.
func (f *Factory) HealthChecks() map[string]handler.HealthCheck {
	checks := make(map[string]handler.HealthCheck)
	if f.redisClient != nil {
		checks["redis"] = f.redisClient.HealthCheck
	}
	if f.scyllaClient != nil {
		checks["scylla"] = f.scyllaClient.HealthCheck
	}
	if f.kafkaProducer != nil {
		checks["kafka"] = f.kafkaProducer.HealthCheck
	}
	return checks
}

func (f *Factory) Close() error {
	f.closeOnce.Do(func() {
		close(f.closed)
		util.Info("Shutting down factory...")

		// Queued auth events go out before the producer closes.
		drainCtx, cancel := context.WithTimeout(context.Background(), eventDrainTimeout)
		if err := f.recorder.Close(drainCtx); err != nil {
			util.Warn("Auth events left unpublished at shutdown", util.ErrorField(err))
		}
		cancel()

		if f.kafkaProducer != nil {
			if err := f.kafkaProducer.Close(); err != nil {
				util.Error("Failed to close Kafka producer", util.ErrorField(err))
			} else {
				util.Info("Kafka producer closed")
			}
		}

		if f.scyllaClient != nil {
			f.scyllaClient.Close()
		}

		if f.redisClient != nil {
			if err := f.redisClient.Close(); err != nil {
				util.Error("Failed to close Redis client", util.ErrorField(err))
			} else {
				util.Info("Redis client closed")
			}
		}

		if f.encryptionManager != nil {
			f.encryptionManager.ClearCache()
		}

		util.Info("Factory shutdown completed")
		util.Sync()
	})

	return nil
}

func (f *Factory) Config() *config.Config {
	return f.config
}
