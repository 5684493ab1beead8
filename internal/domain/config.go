package domain

import "time"

// Config holds the complete Kestrel configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Tier determines infrastructure choices
	Tier Tier `json:"tier"`

	// Component configurations
	Scoring   ScoringConfig   `json:"scoring"`
	Drift     DriftConfig     `json:"drift"`
	Providers ProviderConfig  `json:"providers"`
	KV        KVConfig        `json:"kv"`
	Cache     CacheConfig     `json:"cache"`
	EventBus  EventBusConfig  `json:"eventBus"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// ScoringConfig holds the score fusion settings. The two recognized
// presets are the two-model deployment (0.5/0.5/0, no risk multiplier)
// and the three-model deployment (0.4/0.4/0.2 with risk multiplier).
type ScoringConfig struct {
	AnomalyWeight    float64 `json:"anomalyWeight"`
	ClassifierWeight float64 `json:"classifierWeight"`
	GraphWeight      float64 `json:"graphWeight"`
	RiskMultiplier   bool    `json:"riskMultiplier"`
	TopK             int     `json:"topK"`
}

// DriftConfig holds concept-drift monitor settings.
type DriftConfig struct {
	WindowSize        int     `json:"windowSize"`
	PValueThreshold   float64 `json:"pValueThreshold"`
	CovRatioThreshold float64 `json:"covRatioThreshold"`
	PersistCycles     int     `json:"persistCycles"`

	// RefreshEvery re-captures the reference window after this many
	// completed test cycles. 0 keeps the first reference forever.
	RefreshEvery int `json:"refreshEvery"`
}

// ProviderConfig holds external model provider settings.
type ProviderConfig struct {
	// ModelURL is the base URL of the model-serving service exposing
	// /schema, /anomaly, /classify and /explain.
	ModelURL string `json:"modelUrl"`

	// GraphURL is the base URL of the optional graph-model service.
	// Empty disables the graph signal.
	GraphURL string `json:"graphUrl"`

	// TimeoutSecs bounds each provider call.
	TimeoutSecs int `json:"timeoutSecs"`

	// RefreshSecs re-resolves the provider set at this interval so a
	// retrained model is picked up without a restart. 0 disables.
	RefreshSecs int `json:"refreshSecs"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `json:"enabled"`
	ServiceName string `json:"serviceName"`
	Endpoint    string `json:"endpoint"`
}

// Tier represents the product tier.
type Tier string

const (
	// TierCommunity is the free tier with SQLite + channels
	TierCommunity Tier = "community"

	// TierPro is the paid tier with PostgreSQL + NATS + Redis
	TierPro Tier = "pro"
)

// DefaultConfig returns a default configuration for Community tier:
// two-model scoring, SQLite persistence, local cache, channel bus.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Tier: TierCommunity,
		Scoring: ScoringConfig{
			AnomalyWeight:    0.5,
			ClassifierWeight: 0.5,
			GraphWeight:      0,
			RiskMultiplier:   false,
			TopK:             5,
		},
		Drift: DriftConfig{
			WindowSize:        1000,
			PValueThreshold:   0.01,
			CovRatioThreshold: 1.5,
			PersistCycles:     3,
			RefreshEvery:      0,
		},
		Providers: ProviderConfig{
			TimeoutSecs: 5,
		},
		KV: KVConfig{
			Driver:     "sqlite",
			SQLitePath: "./kestrel.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "kestrel",
		},
	}
}

// ProConfig returns a configuration for Pro tier: three-model scoring
// with the customer-risk multiplier, PostgreSQL, Redis and NATS.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Scoring = ScoringConfig{
		AnomalyWeight:    0.4,
		ClassifierWeight: 0.4,
		GraphWeight:      0.2,
		RiskMultiplier:   true,
		TopK:             5,
	}
	cfg.KV = KVConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "kestrel",
	}
	cfg.Cache = CacheConfig{
		Type:         "redis",
		RedisAddr:    "localhost:6379",
		LocalMaxSize: 1000,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Tracing.Enabled = true
	return cfg
}
