package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// maxTriggerTimeout is the identity provider's limit for one trigger call.
const maxTriggerTimeout = 5 * time.Second

// Profile store backends
const (
	ProfileStoreDynamoDB = "dynamodb"
	ProfileStoreScylla   = "scylla"
	ProfileStoreMemory   = "memory"
)

type Config struct {
	Environment string
	Logging     LoggingConfig
	AWS         AWSConfig
	Auth        AuthConfig
	SMS         SMSConfig
	Profile     ProfileConfig
	Scylla      ScyllaConfig
	Redis       RedisConfig
	Kafka       KafkaConfig
	KMS         KMSConfig
	Hashing     HashingConfig
	Server      ServerConfig
}

type LoggingConfig struct {
	Level  string
	Format string
}

type AWSConfig struct {
	Region string
}

// AuthConfig holds the challenge protocol constants.
type AuthConfig struct {
	CodeLength        int
	ExpiryWindow      time.Duration
	MaxRounds         int
	MaxSendsPerWindow int
	RateLimitWindow   time.Duration
	// TriggerTimeout bounds one trigger invocation; it must stay below the
	// identity provider's trigger deadline.
	TriggerTimeout time.Duration
}

type SMSConfig struct {
	SenderID        string
	MaxPrice        string
	SendTimeout     time.Duration
	MessageTemplate string
}

type ProfileConfig struct {
	Store     string
	TableName string
	Timeout   time.Duration
}

type ScyllaConfig struct {
	Nodes    []string
	Keyspace string
	Username string
	Password string
	CAPath   string
}

type RedisConfig struct {
	URL      string
	Password string
	DB       int
	PoolSize int
}

type KafkaConfig struct {
	Brokers         []string
	AuthEventsTopic string
}

type KMSConfig struct {
	Enabled bool
	KeyID   string
}

type HashingConfig struct {
	PhonePepper string
}

type ServerConfig struct {
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// LoadConfig reads configuration from the environment. A .env file in the
// working directory is loaded first when present; real environment variables
// win over it.
func LoadConfig() *Config {
	_ = godotenv.Load()

	return &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		AWS: AWSConfig{
			Region: getEnv("AWS_REGION", "us-east-1"),
		},
		Auth: AuthConfig{
			CodeLength:        getEnvInt("OTP_CODE_LENGTH", 6),
			ExpiryWindow:      getEnvDuration("OTP_EXPIRY_WINDOW", 5*time.Minute),
			MaxRounds:         getEnvInt("AUTH_MAX_ROUNDS", 3),
			MaxSendsPerWindow: getEnvInt("SMS_MAX_SENDS_PER_HOUR", 5),
			RateLimitWindow:   getEnvDuration("SMS_RATE_WINDOW", time.Hour),
			TriggerTimeout:    getEnvDuration("TRIGGER_TIMEOUT", 4*time.Second),
		},
		SMS: SMSConfig{
			SenderID:        getEnv("SMS_SENDER_ID", "AIEP"),
			MaxPrice:        getEnv("SMS_MAX_PRICE", "0.50"),
			SendTimeout:     getEnvDuration("SMS_SEND_TIMEOUT", 3*time.Second),
			MessageTemplate: getEnv("SMS_MESSAGE_TEMPLATE", "Your verification code is: %s"),
		},
		Profile: ProfileConfig{
			Store:     strings.ToLower(getEnv("PROFILE_STORE", ProfileStoreDynamoDB)),
			TableName: getEnv("PROFILE_TABLE_NAME", "user_profiles"),
			Timeout:   getEnvDuration("PROFILE_TIMEOUT", 2*time.Second),
		},
		Scylla: ScyllaConfig{
			Nodes:    getEnvList("SCYLLA_NODES"),
			Keyspace: getEnv("SCYLLA_KEYSPACE", "iep"),
			Username: getEnv("SCYLLA_USERNAME", ""),
			Password: getEnv("SCYLLA_PASSWORD", ""),
			CAPath:   getEnv("SCYLLA_CA_PATH", ""),
		},
		Redis: RedisConfig{
			URL:      getEnv("REDIS_URL", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			PoolSize: getEnvInt("REDIS_POOL_SIZE", 10),
		},
		Kafka: KafkaConfig{
			Brokers:         getEnvList("KAFKA_BROKERS"),
			AuthEventsTopic: getEnv("KAFKA_AUTH_EVENTS_TOPIC", "auth-events"),
		},
		KMS: KMSConfig{
			Enabled: getEnvBool("KMS_ENABLED", false),
			KeyID:   getEnv("KMS_KEY_ID", ""),
		},
		Hashing: HashingConfig{
			PhonePepper: getEnv("PHONE_HASH_PEPPER", ""),
		},
		Server: ServerConfig{
			Port:         getEnvInt("DEV_SERVER_PORT", 8080),
			ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 10*time.Second),
			IdleTimeout:  getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
		},
	}
}

// Validate checks the values the auth flow cannot run without.
func (c *Config) Validate() error {
	if c.Auth.CodeLength < 4 || c.Auth.CodeLength > 10 {
		return fmt.Errorf("OTP_CODE_LENGTH must be between 4 and 10, got %d", c.Auth.CodeLength)
	}
	if c.Auth.ExpiryWindow <= 0 {
		return fmt.Errorf("OTP_EXPIRY_WINDOW must be positive")
	}
	if c.Auth.MaxRounds <= 0 {
		return fmt.Errorf("AUTH_MAX_ROUNDS must be positive")
	}
	if c.Auth.MaxSendsPerWindow <= 0 || c.Auth.RateLimitWindow <= 0 {
		return fmt.Errorf("SMS_MAX_SENDS_PER_HOUR and SMS_RATE_WINDOW must be positive")
	}
	if c.Auth.TriggerTimeout <= 0 || c.Auth.TriggerTimeout >= maxTriggerTimeout {
		return fmt.Errorf("TRIGGER_TIMEOUT must be positive and below %s, got %s", maxTriggerTimeout, c.Auth.TriggerTimeout)
	}
	if c.SMS.SendTimeout <= 0 || c.SMS.SendTimeout >= c.Auth.TriggerTimeout {
		return fmt.Errorf("SMS_SEND_TIMEOUT must be positive and below TRIGGER_TIMEOUT, got %s", c.SMS.SendTimeout)
	}
	if c.Profile.Timeout <= 0 || c.Profile.Timeout >= c.Auth.TriggerTimeout {
		return fmt.Errorf("PROFILE_TIMEOUT must be positive and below TRIGGER_TIMEOUT, got %s", c.Profile.Timeout)
	}
	if !singleStringVerb(c.SMS.MessageTemplate) {
		return fmt.Errorf("SMS_MESSAGE_TEMPLATE must contain exactly one %%s verb, got %q", c.SMS.MessageTemplate)
	}

	switch c.Profile.Store {
	case ProfileStoreDynamoDB:
		if c.Profile.TableName == "" {
			return fmt.Errorf("PROFILE_TABLE_NAME is required for the dynamodb profile store")
		}
	case ProfileStoreScylla:
		if len(c.Scylla.Nodes) == 0 {
			return fmt.Errorf("SCYLLA_NODES is required for the scylla profile store")
		}
	case ProfileStoreMemory:
	default:
		return fmt.Errorf("unknown PROFILE_STORE %q", c.Profile.Store)
	}

	if c.KMS.Enabled && c.KMS.KeyID == "" {
		return fmt.Errorf("KMS_KEY_ID is required when KMS_ENABLED is set")
	}
	return nil
}

// singleStringVerb reports whether template has one %s and no other verbs.
// Escaped percent signs are allowed.
func singleStringVerb(template string) bool {
	stripped := strings.ReplaceAll(template, "%%", "")
	return strings.Count(stripped, "%") == 1 && strings.Count(stripped, "%s") == 1
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// GetServerAddress returns the dev server listen address
func (c *Config) GetServerAddress() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return n
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return b
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return d
}

func getEnvList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
