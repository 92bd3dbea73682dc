package configuration

import (
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/pkg/errors"
	"pipestock/internal/logger"
)

const (
	BackendMongoDB = "mongodb"
	BackendRedis   = "redis"
	BackendMemory  = "memory"
)

type Config struct {
	ServerAddress           string
	LogLevel                logger.Level
	LogToFile               bool
	LogFile                 string
	AuthSecretKey           jwk.Key
	APIKeys                 []APIKey
	PrimaryBackend          string
	SecondaryBackend        string
	MongoDBURI              string
	MongoDBDatabase         string
	RedisAddress            string
	RedisPassword           string
	RedisDB                 int
	RedisKeyPrefix          string
	LowStockThreshold       int
	RecentTransactionsLimit int
	PrimaryAttemptTimeout   time.Duration
	PrimaryBreaker          bool
	DemoPlaceholders        bool
	FCMKey                  string
	FCMURL                  string
	FCMTopic                string
}

// APIKey maps a bcrypt hash of a static key to the actor it authenticates.
type APIKey struct {
	Actor string `toml:"actor" json:"actor"`
	Hash  string `toml:"hash" json:"-"`
}

type tomlConfig struct {
	ServerAddress           string   `toml:"server_address"`
	LogLevel                string   `toml:"log_level"`
	LogToFile               bool     `toml:"log_to_file"`
	LogFile                 string   `toml:"log_file"`
	AuthSecretKey           string   `toml:"auth_secret_key"`
	APIKeys                 []APIKey `toml:"api_keys"`
	PrimaryBackend          string   `toml:"primary_backend"`
	SecondaryBackend        string   `toml:"secondary_backend"`
	MongoDBURI              string   `toml:"mongodb_uri"`
	MongoDBDatabase         string   `toml:"mongodb_database"`
	RedisAddress            string   `toml:"redis_address"`
	RedisPassword           string   `toml:"redis_password"`
	RedisDB                 int      `toml:"redis_db"`
	RedisKeyPrefix          string   `toml:"redis_key_prefix"`
	LowStockThreshold       *int     `toml:"low_stock_threshold"`
	RecentTransactionsLimit int      `toml:"recent_transactions_limit"`
	PrimaryAttemptTimeout   string   `toml:"primary_attempt_timeout"`
	PrimaryBreaker          bool     `toml:"primary_breaker"`
	DemoPlaceholders        bool     `toml:"demo_placeholders"`
	FCMKey                  string   `toml:"fcm_key"`
	FCMURL                  string   `toml:"fcm_url"`
	FCMTopic                string   `toml:"fcm_topic"`
}

func GetConfig(path string) (*Config, error) {
	var tc tomlConfig
	_, err := toml.DecodeFile(path, &tc)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to decode toml file with path: %s", path)
	}
	c, err := tc.validate()
	return c, errors.WithMessagef(err, "invalid config in %s", path)
}

// ParseConfig is GetConfig for TOML already in memory.
func ParseConfig(data string) (*Config, error) {
	var tc tomlConfig
	if _, err := toml.Decode(data, &tc); err != nil {
		return nil, errors.Wrap(err, "failed to decode toml")
	}
	return tc.validate()
}

func (tc tomlConfig) validate() (*Config, error) {
	if tc.ServerAddress == "" {
		tc.ServerAddress = "localhost:8888"
	}

	if tc.LogLevel == "" {
		tc.LogLevel = "INFO"
	}
	logLevel, err := logger.ParseLevel(tc.LogLevel)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse log_level")
	}

	if tc.LogFile == "" {
		tc.LogFile = "pipestock.log"
	}

	if tc.AuthSecretKey == "" {
		return nil, errors.New("auth_secret_key is not set")
	}
	authSecretKey, err := jwk.FromRaw([]byte(tc.AuthSecretKey))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create key from auth_secret_key")
	}

	for i, k := range tc.APIKeys {
		if k.Actor == "" || k.Hash == "" {
			return nil, errors.Errorf("api_keys[%d] needs both actor and hash", i)
		}
	}

	if tc.PrimaryBackend == "" {
		tc.PrimaryBackend = BackendMongoDB
	}
	if tc.SecondaryBackend == "" {
		tc.SecondaryBackend = BackendRedis
	}
	tc.PrimaryBackend = strings.ToLower(tc.PrimaryBackend)
	tc.SecondaryBackend = strings.ToLower(tc.SecondaryBackend)
	for key, b := range map[string]string{"primary_backend": tc.PrimaryBackend, "secondary_backend": tc.SecondaryBackend} {
		switch b {
		case BackendMongoDB, BackendRedis, BackendMemory:
		default:
			return nil, errors.Errorf("%s must be one of %s, %s, %s, got: %s",
				key, BackendMongoDB, BackendRedis, BackendMemory, b)
		}
	}
	if tc.PrimaryBackend == tc.SecondaryBackend && tc.PrimaryBackend != BackendMemory {
		return nil, errors.Errorf("primary_backend and secondary_backend are both %s", tc.PrimaryBackend)
	}

	if tc.MongoDBURI == "" {
		tc.MongoDBURI = "mongodb://localhost:27017"
	}
	if tc.MongoDBDatabase == "" {
		tc.MongoDBDatabase = "pipestock"
	}
	if tc.RedisAddress == "" {
		tc.RedisAddress = "localhost:6379"
	}
	if tc.RedisKeyPrefix == "" {
		tc.RedisKeyPrefix = "pipestock"
	}

	lowStockThreshold := 5
	if tc.LowStockThreshold != nil {
		lowStockThreshold = *tc.LowStockThreshold
	}
	if lowStockThreshold < 0 {
		return nil, errors.Errorf("low_stock_threshold must not be negative, got: %d", lowStockThreshold)
	}

	if tc.RecentTransactionsLimit == 0 {
		tc.RecentTransactionsLimit = 5
	}
	if tc.RecentTransactionsLimit < 0 {
		return nil, errors.Errorf("recent_transactions_limit must be positive, got: %d", tc.RecentTransactionsLimit)
	}

	var primaryAttemptTimeout time.Duration
	if tc.PrimaryAttemptTimeout != "" {
		primaryAttemptTimeout, err = time.ParseDuration(tc.PrimaryAttemptTimeout)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse primary_attempt_timeout: %s", tc.PrimaryAttemptTimeout)
		}
		if primaryAttemptTimeout < 0 {
			return nil, errors.Errorf("primary_attempt_timeout must not be negative, got: %v", primaryAttemptTimeout)
		}
	}

	if tc.FCMURL == "" {
		tc.FCMURL = "https://fcm.googleapis.com/fcm/send"
	}
	if tc.FCMTopic == "" {
		tc.FCMTopic = "low-stock"
	}

	return &Config{
		ServerAddress:           tc.ServerAddress,
		LogLevel:                logLevel,
		LogToFile:               tc.LogToFile,
		LogFile:                 tc.LogFile,
		AuthSecretKey:           authSecretKey,
		APIKeys:                 tc.APIKeys,
		PrimaryBackend:          tc.PrimaryBackend,
		SecondaryBackend:        tc.SecondaryBackend,
		MongoDBURI:              tc.MongoDBURI,
		MongoDBDatabase:         tc.MongoDBDatabase,
		RedisAddress:            tc.RedisAddress,
		RedisPassword:           tc.RedisPassword,
		RedisDB:                 tc.RedisDB,
		RedisKeyPrefix:          tc.RedisKeyPrefix,
		LowStockThreshold:       lowStockThreshold,
		RecentTransactionsLimit: tc.RecentTransactionsLimit,
		PrimaryAttemptTimeout:   primaryAttemptTimeout,
		PrimaryBreaker:          tc.PrimaryBreaker,
		DemoPlaceholders:        tc.DemoPlaceholders,
		FCMKey:                  tc.FCMKey,
		FCMURL:                  tc.FCMURL,
		FCMTopic:                tc.FCMTopic,
	}, nil
}
