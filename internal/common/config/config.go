// internal/common/config/config.go
package config

import "fmt"

// Config is the main application configuration struct.
type Config struct {
	App           AppConfig               `mapstructure:"app"`
	Camunda       CamundaConfig           `mapstructure:"camunda"`
	Database      DatabaseConfig          `mapstructure:"database"`
	Workers       map[string]WorkerConfig `mapstructure:"workers"`
	APIs          APIsConfig              `mapstructure:"apis"`
	Pipeline      PipelineConfig          `mapstructure:"pipeline"`
	Cache         CacheConfig             `mapstructure:"cache"`
	Conversation  ConversationConfig      `mapstructure:"conversation"`
	Logging       LoggingConfig           `mapstructure:"logging"`
	Observability ObservabilityConfig     `mapstructure:"observability"`
	Alerts        AlertsConfig            `mapstructure:"alerts"`
	RegistryPath  string                  `mapstructure:"registry_path"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

type CamundaConfig struct {
	BrokerAddress  string `mapstructure:"broker_address"`
	MaxJobsActive  int    `mapstructure:"max_jobs_active"`
	Timeout        int    `mapstructure:"timeout"`         // milliseconds
	RequestTimeout int    `mapstructure:"request_timeout"` // milliseconds
}

type DatabaseConfig struct {
	Postgres      PostgresConfig      `mapstructure:"postgres"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Redis         RedisConfig         `mapstructure:"redis"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
}

// GetDSN returns the PostgreSQL connection string
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type ElasticsearchConfig struct {
	Addresses []string `mapstructure:"addresses"`
	Username  string   `mapstructure:"username"`
	Password  string   `mapstructure:"password"`
	URL       string   `mapstructure:"url"`
}

// GetURL returns the first address or the URL field
func (e ElasticsearchConfig) GetURL() string {
	if e.URL != "" {
		return e.URL
	}
	if len(e.Addresses) > 0 {
		return e.Addresses[0]
	}
	return ""
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// WorkerConfig holds the core settings applicable to every worker.
type WorkerConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxJobsActive int  `mapstructure:"max_jobs_active"`
	Timeout       int  `mapstructure:"timeout"`     // milliseconds
	MaxRetries    int  `mapstructure:"max_retries"` // For error handling
}

// --- Specific Configuration Sections ---

// APIsConfig holds the GenAI gateway used for completion, embedding and rerank.
type APIsConfig struct {
	GenAI GenAIConfig `mapstructure:"genai"`
}

type GenAIConfig struct {
	BaseURL           string      `mapstructure:"base_url"`
	APIKey            string      `mapstructure:"api_key"`
	Timeout           int         `mapstructure:"timeout"` // milliseconds
	RequestsPerSecond float64     `mapstructure:"requests_per_second"`
	Burst             int         `mapstructure:"burst"`
	Models            ModelConfig `mapstructure:"models"`
}

// ModelConfig names the model used by each stage. All of them feed the
// question fingerprint.
type ModelConfig struct {
	Decomposition string `mapstructure:"decomposition"`
	Answer        string `mapstructure:"answer"`
	Synthesis     string `mapstructure:"synthesis"`
	Embedding     string `mapstructure:"embedding"`
	Rerank        string `mapstructure:"rerank"`
}

// PipelineConfig tunes the decomposition pipeline. Durations are milliseconds.
type PipelineConfig struct {
	TopK               int     `mapstructure:"top_k"`
	ScoreThreshold     float64 `mapstructure:"score_threshold"`
	MinSubQuestions    int     `mapstructure:"min_sub_questions"`
	MaxSubQuestions    int     `mapstructure:"max_sub_questions"`
	MaxAttempts        int     `mapstructure:"max_attempts"`
	MaxConcurrency     int     `mapstructure:"max_concurrency"`
	SubQuestionTimeout int     `mapstructure:"sub_question_timeout"`
	DecomposeTimeout   int     `mapstructure:"decompose_timeout"`
	SynthesizeTimeout  int     `mapstructure:"synthesize_timeout"`
	CallTimeout        int     `mapstructure:"call_timeout"`
	CandidatePool      int     `mapstructure:"candidate_pool"`
	RRFK               int     `mapstructure:"rrf_k"`
	EmbeddingCacheSize int     `mapstructure:"embedding_cache_size"`
	SearchIndex        string  `mapstructure:"search_index"`
	VectorTable        string  `mapstructure:"vector_table"`
}

// CacheConfig selects the stage result cache backend: redis, memory or none.
type CacheConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Backend   string `mapstructure:"backend"`
	TTL       int    `mapstructure:"ttl"` // seconds
	KeyPrefix string `mapstructure:"key_prefix"`
	Timeout   int    `mapstructure:"timeout"` // milliseconds
}

type ConversationConfig struct {
	SessionTTL      int    `mapstructure:"session_ttl"`    // milliseconds
	SweepInterval   int    `mapstructure:"sweep_interval"` // milliseconds
	MaxContextTurns int    `mapstructure:"max_context_turns"`
	MaxContextChars int    `mapstructure:"max_context_chars"`
	TokenModel      string `mapstructure:"token_model"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

type ObservabilityConfig struct {
	ServiceName    string `mapstructure:"service_name"`
	JaegerEndpoint string `mapstructure:"jaeger_endpoint"`
	MetricsAddr    string `mapstructure:"metrics_addr"`
}

// AlertsConfig holds settings for pipeline failure alerts over SNS and SES.
type AlertsConfig struct {
	Enabled     bool     `mapstructure:"enabled"`
	Region      string   `mapstructure:"region"`
	SNSTopicARN string   `mapstructure:"sns_topic_arn"`
	SESFrom     string   `mapstructure:"ses_from"`
	SESTo       []string `mapstructure:"ses_to"`
}
