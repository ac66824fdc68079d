package config

import "time"

type Config struct {
	AppName            string `env:"APP_NAME" env-default:"clover-api"`
	Port               int    `env:"PORT" env-default:"3000"`
	LogLevel           string `env:"LOG_LEVEL" env-default:"info"`
	PrettyLogs         bool   `env:"PRETTY_LOGS" env-default:"false"`
	StartupMaxAttempts int    `env:"STARTUP_MAX_ATTEMPTS" env-default:"5"`

	// Database driver
	DatabaseDriver string `env:"DB_DRIVER" env-default:"postgres"`
	// Database host
	DatabaseHost string `env:"DB_HOST" env-default:""`
	// Database port
	DatabasePort string `env:"DB_PORT" env-default:"5432"`
	// Database user
	DatabaseUserName string `env:"DB_USER_NAME" env-default:""`
	// Database user password
	DatabasePassword string `env:"DB_PASSWORD" env-default:""`
	// Database name
	DatabaseName string `env:"DB_NAME" env-default:"clover"`
	// Database SSL Mode
	DatabaseSSLMode string `env:"DB_SQL_MODE" env-default:"disable"`
	// Max Open Conns
	DatabaseMaxOpenConns int `env:"DB_MAX_OPEN_CONNS" env-default:"25"`
	// Max Idle Conns
	DatabaseMaxIdleConns int `env:"DB_MAX_IDLE_CONNS" env-default:"10"`
	// Conn Max Lifetime
	DatabaseConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" env-default:"10s"`
	// Migration Folder Path
	DatabaseMigrationFolderPath string `env:"DB_MIGRATION_FOLDER_PATH" env-default:"db/pg"`
	// Database Migration Version
	DatabaseMigrationVersion int `env:"DB_MIGRATION_VERSION" env-default:"0"`
	// Database Migration Force
	DatabaseMigrationForce int `env:"DB_MIGRATION_FORCE" env-default:"0"`
	// Database Migration Auto Rollback
	DatabaseMigrationAutoRollback bool `env:"DB_MIGRATION_AUTO_ROLLBACK" env-default:"true"`

	// Redis host
	RedisHost string `env:"REDIS_HOST" env-default:"localhost"`
	// Redis port
	RedisPort int `env:"REDIS_PORT" env-default:"6379"`
	// Redis password
	RedisPassword string `env:"REDIS_PASSWORD" env-default:""`
	// Redis database number
	RedisDB int `env:"REDIS_DB" env-default:"0"`

	// Kafka brokers (comma-separated)
	KafkaBrokers string `env:"KAFKA_BROKERS" env-default:"localhost:9092"`
	// Kafka topic for qualifying revenue events consumed by the tier engine
	KafkaRevenueTopic string `env:"KAFKA_REVENUE_TOPIC" env-default:"revenue-events"`
	// Kafka consumer group for revenue events
	KafkaConsumerGroup string `env:"KAFKA_CONSUMER_GROUP" env-default:"clover-tier"`
	// Kafka topic for conquest lifecycle events (protections, threat changes, promotions)
	KafkaConquestTopic string `env:"KAFKA_CONQUEST_TOPIC" env-default:"conquest-events"`

	// Territory policy
	// How long a paid protection lasts from the moment it is granted (or renewed)
	ProtectionDuration time.Duration `env:"TERRITORY_PROTECTION_DURATION" env-default:"720h"`

	// Threat scoring policy. The combined score is
	//   winRate*ThreatWinRateWeight + valueRatio*ThreatValueWeight + recency*ThreatRecencyWeight
	// computed over the trailing ThreatWindow of outcomes, then bucketed by the
	// three thresholds below. These are operator-facing knobs: they change the
	// risk levels shown on dashboards, so they are env-configurable rather than
	// compiled in.
	ThreatWindow         time.Duration `env:"THREAT_WINDOW" env-default:"2160h"`
	ThreatWinRateWeight  float64       `env:"THREAT_WIN_RATE_WEIGHT" env-default:"0.5"`
	ThreatValueWeight    float64       `env:"THREAT_VALUE_WEIGHT" env-default:"0.3"`
	ThreatRecencyWeight  float64       `env:"THREAT_RECENCY_WEIGHT" env-default:"0.2"`
	ThreatMediumMinScore float64       `env:"THREAT_MEDIUM_MIN_SCORE" env-default:"0.35"`
	ThreatHighMinScore   float64       `env:"THREAT_HIGH_MIN_SCORE" env-default:"0.6"`
	ThreatCriticalScore  float64       `env:"THREAT_CRITICAL_MIN_SCORE" env-default:"0.8"`
	// Number of most recent outcomes returned as the dashboard trend
	ThreatTrendSize int `env:"THREAT_TREND_SIZE" env-default:"10"`

	// Tier thresholds: ordered "tier:minimumCumulativeRevenue" pairs. The engine
	// selects the highest tier whose minimum is met.
	TierThresholds string `env:"TIER_THRESHOLDS" env-default:"bronze:0,silver:25000,gold:100000,platinum:250000"`

	// Revenue window used by territory analytics
	AnalyticsRevenueWindow time.Duration `env:"ANALYTICS_REVENUE_WINDOW" env-default:"720h"`

	// Lock settings for per-entity serialization (outcome appends, revenue events)
	EntityLockTTL     time.Duration `env:"ENTITY_LOCK_TTL" env-default:"10s"`
	EntityLockTimeout time.Duration `env:"ENTITY_LOCK_TIMEOUT" env-default:"3s"`

	// Tracing settings
	// Enable OTLP tracing export (set to true to send traces to collector)
	OTLPEnabled bool `env:"OTLP_ENABLED" env-default:"false"`
	// OTLP collector endpoint
	OTLPEndpoint string `env:"OTLP_ENDPOINT" env-default:"localhost:4317"`
	// OTLP protocol (grpc or http)
	OTLPProtocol string `env:"OTLP_PROTOCOL" env-default:"grpc"`
	// Disable TLS for OTLP (for local development)
	OTLPInsecure bool `env:"OTLP_INSECURE" env-default:"true"`
}
