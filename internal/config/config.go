package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server         ServerConfig         `mapstructure:"server"`
	Storage        StorageConfig        `mapstructure:"storage"`
	Database       DatabaseConfig       `mapstructure:"database"`
	Redis          RedisConfig          `mapstructure:"redis"`
	Neo4j          Neo4jConfig          `mapstructure:"neo4j"`
	Kafka          KafkaConfig          `mapstructure:"kafka"`
	Logging        LoggingConfig        `mapstructure:"logging"`
	Recommendation RecommendationConfig `mapstructure:"recommendation"`
	Preferences    PreferenceConfig     `mapstructure:"preferences"`
	Collaborative  CollaborativeConfig  `mapstructure:"collaborative"`
	Content        ContentConfig        `mapstructure:"content"`
	Experiments    ExperimentConfig     `mapstructure:"experiments"`
	Models         ModelConfig          `mapstructure:"models"`
	Monitoring     MonitoringConfig     `mapstructure:"monitoring"`
	Security       SecurityConfig       `mapstructure:"security"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// StorageConfig selects the backing store: "postgres" or "memory".
type StorageConfig struct {
	Driver string `mapstructure:"driver"`
}

type DatabaseConfig struct {
	URL            string        `mapstructure:"url"`
	MaxConnections int           `mapstructure:"max_connections"`
	MaxIdleTime    time.Duration `mapstructure:"max_idle_time"`
	MaxLifetime    time.Duration `mapstructure:"max_lifetime"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

type RedisConfig struct {
	URL        string        `mapstructure:"url"`
	DB         int           `mapstructure:"db"`
	MaxRetries int           `mapstructure:"max_retries"`
	PoolSize   int           `mapstructure:"pool_size"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

type Neo4jConfig struct {
	URL      string `mapstructure:"url"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	// SyncInterval flushes pending graph writes at least this often.
	SyncInterval  time.Duration `mapstructure:"sync_interval"`
	SyncBatchSize int           `mapstructure:"sync_batch_size"`
}

type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	GroupID string   `mapstructure:"group_id"`
	Topics  struct {
		UserInteractions  string `mapstructure:"user_interactions"`
		InteractionEvents string `mapstructure:"interaction_events"`
		DeadLetter        string `mapstructure:"dead_letter"`
	} `mapstructure:"topics"`
	MaxRetries int `mapstructure:"max_retries"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type RecommendationConfig struct {
	CollaborativeWeight float64       `mapstructure:"collaborative_weight"`
	ContentWeight       float64       `mapstructure:"content_weight"`
	DefaultLimit        int           `mapstructure:"default_limit"`
	MaxLimit            int           `mapstructure:"max_limit"`
	CandidateMultiplier int           `mapstructure:"candidate_multiplier"`
	CacheTTL            time.Duration `mapstructure:"cache_ttl"`
	EstimatorTimeout    time.Duration `mapstructure:"estimator_timeout"`
	Model               struct {
		Enabled       bool          `mapstructure:"enabled"`
		Type          string        `mapstructure:"type"`
		Cutoff        float64       `mapstructure:"cutoff"`
		PoolSize      int           `mapstructure:"pool_size"`
		Timeout       time.Duration `mapstructure:"timeout"`
		LookupTimeout time.Duration `mapstructure:"lookup_timeout"`
	} `mapstructure:"model"`
}

type PreferenceConfig struct {
	ReinforcementStep float64       `mapstructure:"reinforcement_step"`
	IdleWindow        time.Duration `mapstructure:"idle_window"`
	DeactivateWindow  time.Duration `mapstructure:"deactivate_window"`
	WeightDecay       float64       `mapstructure:"weight_decay"`
	ConfidenceDecay   float64       `mapstructure:"confidence_decay"`
	WeightFloor       float64       `mapstructure:"weight_floor"`
	DecayInterval     time.Duration `mapstructure:"decay_interval"`
	DecaySchedule     time.Duration `mapstructure:"decay_schedule"`
}

type CollaborativeConfig struct {
	HistoryLimit        int           `mapstructure:"history_limit"`
	NeighborPool        int           `mapstructure:"neighbor_pool"`
	TopK                int           `mapstructure:"top_k"`
	MinSharedItems      int           `mapstructure:"min_shared_items"`
	SimilarityThreshold float64       `mapstructure:"similarity_threshold"`
	NeighborHistory     int           `mapstructure:"neighbor_history"`
	PopularWindow       time.Duration `mapstructure:"popular_window"`
}

type ContentConfig struct {
	CategoryWeight     float64 `mapstructure:"category_weight"`
	LocationWeight     float64 `mapstructure:"location_weight"`
	PriceRangeWeight   float64 `mapstructure:"price_range_weight"`
	TimeWeight         float64 `mapstructure:"time_weight"`
	CosineWeight       float64 `mapstructure:"cosine_weight"`
	TrendingConfidence float64 `mapstructure:"trending_confidence"`
	CandidatePool      int     `mapstructure:"candidate_pool"`
}

type ExperimentConfig struct {
	RecordImpressions bool   `mapstructure:"record_impressions"`
	Significance      string `mapstructure:"significance"`
}

type ModelConfig struct {
	// LinearPath optionally points at a JSON logistic model registered and
	// activated at startup.
	LinearPath string `mapstructure:"linear_path"`
	Breaker    struct {
		MaxRequests  uint32        `mapstructure:"max_requests"`
		Interval     time.Duration `mapstructure:"interval"`
		Timeout      time.Duration `mapstructure:"timeout"`
		MinRequests  uint32        `mapstructure:"min_requests"`
		FailureRatio float64       `mapstructure:"failure_ratio"`
	} `mapstructure:"breaker"`
}

type MonitoringConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	MetricsPath string `mapstructure:"metrics_path"`
}

type SecurityConfig struct {
	CORS CORSConfig `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
	AllowedHeaders []string `mapstructure:"allowed_headers"`
}

func Load() (*Config, error) {
	v := viper.GetViper()
	v.SetConfigName("app")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")

	setDefaults(v)

	// Environment variable overrides
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		// Config file is optional, continue with env vars and defaults
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// Default returns the built-in defaults without reading files or the environment.
func Default() *Config {
	v := viper.New()
	setDefaults(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		panic(err)
	}
	return &config
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "development")

	v.SetDefault("storage.driver", "postgres")

	// Database defaults
	v.SetDefault("database.url", "postgres://localhost:5432/eventrec")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.max_idle_time", "15m")
	v.SetDefault("database.max_lifetime", "1h")
	v.SetDefault("database.connect_timeout", "10s")

	// Redis defaults
	v.SetDefault("redis.url", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.timeout", "5s")

	// Neo4j is optional; an empty url disables the graph neighbor source
	v.SetDefault("neo4j.url", "")
	v.SetDefault("neo4j.username", "neo4j")
	v.SetDefault("neo4j.password", "")
	v.SetDefault("neo4j.sync_interval", "30s")
	v.SetDefault("neo4j.sync_batch_size", 100)

	// Kafka defaults
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.group_id", "recommendation-engine")
	v.SetDefault("kafka.topics.user_interactions", "user-interactions")
	v.SetDefault("kafka.topics.interaction_events", "interaction-events")
	v.SetDefault("kafka.topics.dead_letter", "user-interactions-dlq")
	v.SetDefault("kafka.max_retries", 3)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	// Fusion defaults
	v.SetDefault("recommendation.collaborative_weight", 0.6)
	v.SetDefault("recommendation.content_weight", 0.4)
	v.SetDefault("recommendation.default_limit", 10)
	v.SetDefault("recommendation.max_limit", 100)
	v.SetDefault("recommendation.candidate_multiplier", 3)
	v.SetDefault("recommendation.cache_ttl", "15m")
	v.SetDefault("recommendation.estimator_timeout", "2s")
	v.SetDefault("recommendation.model.enabled", true)
	v.SetDefault("recommendation.model.type", "ranking")
	v.SetDefault("recommendation.model.cutoff", 0.3)
	v.SetDefault("recommendation.model.pool_size", 200)
	v.SetDefault("recommendation.model.timeout", "500ms")
	v.SetDefault("recommendation.model.lookup_timeout", "100ms")

	// Preference defaults
	v.SetDefault("preferences.reinforcement_step", 0.1)
	v.SetDefault("preferences.idle_window", "720h")
	v.SetDefault("preferences.deactivate_window", "2160h")
	v.SetDefault("preferences.weight_decay", 0.9)
	v.SetDefault("preferences.confidence_decay", 0.95)
	v.SetDefault("preferences.weight_floor", 0.1)
	v.SetDefault("preferences.decay_interval", "24h")
	v.SetDefault("preferences.decay_schedule", "6h")

	// Collaborative defaults
	v.SetDefault("collaborative.history_limit", 100)
	v.SetDefault("collaborative.neighbor_pool", 100)
	v.SetDefault("collaborative.top_k", 50)
	v.SetDefault("collaborative.min_shared_items", 2)
	v.SetDefault("collaborative.similarity_threshold", 0.1)
	v.SetDefault("collaborative.neighbor_history", 200)
	v.SetDefault("collaborative.popular_window", "168h")

	// Content defaults
	v.SetDefault("content.category_weight", 0.30)
	v.SetDefault("content.location_weight", 0.20)
	v.SetDefault("content.price_range_weight", 0.15)
	v.SetDefault("content.time_weight", 0.10)
	v.SetDefault("content.cosine_weight", 0.35)
	v.SetDefault("content.trending_confidence", 0.3)
	v.SetDefault("content.candidate_pool", 200)

	// Experiment defaults
	v.SetDefault("experiments.record_impressions", true)
	v.SetDefault("experiments.significance", "sample_size")

	// Model breaker defaults
	v.SetDefault("models.linear_path", "")
	v.SetDefault("models.breaker.max_requests", 3)
	v.SetDefault("models.breaker.interval", "1m")
	v.SetDefault("models.breaker.timeout", "2m")
	v.SetDefault("models.breaker.min_requests", 10)
	v.SetDefault("models.breaker.failure_ratio", 0.6)

	// Monitoring defaults
	v.SetDefault("monitoring.enabled", true)
	v.SetDefault("monitoring.metrics_path", "/metrics")

	// Security defaults
	v.SetDefault("security.cors.allowed_origins", []string{"*"})
	v.SetDefault("security.cors.allowed_methods", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"})
	v.SetDefault("security.cors.allowed_headers", []string{"*"})
}
