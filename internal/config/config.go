package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"time"
)

// Config is the top-level configuration structure.
type Config struct {
	Server    ServerConfig     `json:"server"`
	Providers []ProviderConfig `json:"providers"`
	Engine    EngineConfig     `json:"engine"`
	Scheduler SchedulerConfig  `json:"scheduler"`
	Quota     QuotaConfig      `json:"quota"`
	Gateway   GatewayConfig    `json:"gateway"`
	Database  DatabaseConfig   `json:"database"`
	Embedding EmbeddingConfig  `json:"embedding"`
}

type ServerConfig struct {
	Port     int    `json:"port"`
	LogLevel string `json:"log_level"`
}

type ProviderConfig struct {
	ID       string            `json:"id"`
	Type     string            `json:"type"`
	Name     string            `json:"name"`
	Endpoint string            `json:"endpoint"`
	APIKey   string            `json:"api_key"`
	Models   []string          `json:"models,omitempty"`
	Extra    map[string]string `json:"extra,omitempty"`
}

// EngineConfig holds conversation lifecycle tunables. The termination
// thresholds were tuned empirically; they are configuration, not constants.
type EngineConfig struct {
	MinDuration        Duration `json:"min_duration"` // floor before conditional endings apply
	MaxDuration        Duration `json:"max_duration"` // unconditional cutoff
	MaxMessages        int      `json:"max_messages"` // unconditional hard cap
	GenerationRetries  int      `json:"generation_retries"`
	RetryBackoff       Duration `json:"retry_backoff"`
	ResponseDelay      Duration `json:"response_delay"` // fixed human-like pause per turn
	TypingDelayPerChar Duration `json:"typing_delay_per_char"`
	MaxTypingDelay     Duration `json:"max_typing_delay"`

	LowQualityScore          float64 `json:"low_quality_score"` // quality ending fires below this
	LowQualityMessages       int     `json:"low_quality_messages"`
	HighAgreement            float64 `json:"high_agreement"`
	HighTension              float64 `json:"high_tension"`
	TaperSilenceProb         float64 `json:"taper_silence_prob"` // amicable tapering
	TaperMessages            int     `json:"taper_messages"`
	ExhaustedDepth           float64 `json:"exhausted_depth"` // topic-exhausted ending
	ExhaustedMessages        int     `json:"exhausted_messages"`
	ExhaustedRelevance       float64 `json:"exhausted_relevance"`
	TopicExhaustionThreshold int     `json:"topic_exhaustion_threshold"`
}

// Defaults fills any zero-valued engine field with its default.
func (c *EngineConfig) Defaults() {
	if c.MinDuration == 0 {
		c.MinDuration = Duration(10 * time.Minute)
	}
	if c.MaxDuration == 0 {
		c.MaxDuration = Duration(20 * time.Minute)
	}
	if c.MaxMessages == 0 {
		c.MaxMessages = 100
	}
	if c.GenerationRetries == 0 {
		c.GenerationRetries = 3
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = Duration(2 * time.Second)
	}
	if c.ResponseDelay == 0 {
		c.ResponseDelay = Duration(1500 * time.Millisecond)
	}
	if c.TypingDelayPerChar == 0 {
		c.TypingDelayPerChar = Duration(30 * time.Millisecond)
	}
	if c.MaxTypingDelay == 0 {
		c.MaxTypingDelay = Duration(8 * time.Second)
	}
	if c.LowQualityScore == 0 {
		c.LowQualityScore = 0.35
	}
	if c.LowQualityMessages == 0 {
		c.LowQualityMessages = 20
	}
	if c.HighAgreement == 0 {
		c.HighAgreement = 0.7
	}
	if c.HighTension == 0 {
		c.HighTension = 0.8
	}
	if c.TaperSilenceProb == 0 {
		c.TaperSilenceProb = 0.85
	}
	if c.TaperMessages == 0 {
		c.TaperMessages = 10
	}
	if c.ExhaustedDepth == 0 {
		c.ExhaustedDepth = 0.7
	}
	if c.ExhaustedMessages == 0 {
		c.ExhaustedMessages = 30
	}
	if c.ExhaustedRelevance == 0 {
		c.ExhaustedRelevance = 0.4
	}
	if c.TopicExhaustionThreshold == 0 {
		c.TopicExhaustionThreshold = 5
	}
}

// SchedulerConfig controls the periodic triggers.
type SchedulerConfig struct {
	TickInterval      Duration `json:"tick_interval"`
	GeneratorInterval Duration `json:"generator_interval"`
	SweepInterval     Duration `json:"sweep_interval"`
	IdleBeforeSweep   Duration `json:"idle_before_sweep"`
	DecayInterval     Duration `json:"decay_interval"`   // relationship decay pass
	MaxActive         int      `json:"max_active"`       // concurrent conversation cap
	QuietHourStart    int      `json:"quiet_hour_start"` // local hour, inclusive
	QuietHourEnd      int      `json:"quiet_hour_end"`   // local hour, exclusive
}

func (c *SchedulerConfig) Defaults() {
	if c.TickInterval == 0 {
		c.TickInterval = Duration(5 * time.Second)
	}
	if c.GeneratorInterval == 0 {
		c.GeneratorInterval = Duration(2 * time.Minute)
	}
	if c.SweepInterval == 0 {
		c.SweepInterval = Duration(30 * time.Second)
	}
	if c.IdleBeforeSweep == 0 {
		c.IdleBeforeSweep = Duration(45 * time.Second)
	}
	if c.DecayInterval == 0 {
		c.DecayInterval = Duration(time.Hour)
	}
	if c.MaxActive == 0 {
		c.MaxActive = 8
	}
	if c.QuietHourStart == 0 {
		c.QuietHourStart = 1
	}
	if c.QuietHourEnd == 0 {
		c.QuietHourEnd = 7
	}
}

// QuotaConfig controls daily throughput limits.
type QuotaConfig struct {
	AgentDailyCap  int      `json:"agent_daily_cap"`
	GlobalDailyCap int      `json:"global_daily_cap"`
	BaseCooldown   Duration `json:"base_cooldown"`
	CooldownGrowth float64  `json:"cooldown_growth"` // k in cooldown*(1+k*dailyCalls)
}

func (c *QuotaConfig) Defaults() {
	if c.AgentDailyCap == 0 {
		c.AgentDailyCap = 12
	}
	if c.GlobalDailyCap == 0 {
		c.GlobalDailyCap = 500
	}
	if c.BaseCooldown == 0 {
		c.BaseCooldown = Duration(5 * time.Minute)
	}
	if c.CooldownGrowth == 0 {
		c.CooldownGrowth = 0.002
	}
}

type GatewayConfig struct {
	Slack   SlackGatewayConfig   `json:"slack"`
	Discord DiscordGatewayConfig `json:"discord"`
	Stream  StreamGatewayConfig  `json:"stream"`
}

type SlackGatewayConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"bot_token"`
	Channel  string `json:"channel"`
}

type DiscordGatewayConfig struct {
	Enabled   bool   `json:"enabled"`
	BotToken  string `json:"bot_token"`
	ChannelID string `json:"channel_id"`
}

type StreamGatewayConfig struct {
	Enabled bool   `json:"enabled"`
	URL     string `json:"url"` // redis url
}

type DatabaseConfig struct {
	Postgres PostgresConfig `json:"postgres"`
	Neo4j    Neo4jConfig    `json:"neo4j"`
	Qdrant   QdrantConfig   `json:"qdrant"`
}

type PostgresConfig struct {
	DSN string `json:"dsn"`
}

type Neo4jConfig struct {
	URI      string `json:"uri"`
	User     string `json:"user"`
	Password string `json:"password"`
}

type QdrantConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

type EmbeddingConfig struct {
	Provider  string `json:"provider"` // "api" or "local"
	Endpoint  string `json:"endpoint"`
	Model     string `json:"model"`
	APIKey    string `json:"api_key"`
	Dimension int    `json:"dimension"`
}

// Duration is a time.Duration that unmarshals from JSON strings like "10m".
type Duration time.Duration

func (d *Duration) UnmarshalJSON(data []byte) error {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch val := v.(type) {
	case float64:
		*d = Duration(time.Duration(val))
		return nil
	case string:
		parsed, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("parse duration %q: %w", val, err)
		}
		*d = Duration(parsed)
		return nil
	default:
		return fmt.Errorf("invalid duration value %v", v)
	}
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// Load reads a JSON config file and substitutes environment variable references.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	// Substitute ${VAR} and ${VAR:default} with environment values.
	resolved := envVarRe.ReplaceAllStringFunc(string(data), func(match string) string {
		parts := envVarRe.FindStringSubmatch(match)
		name := parts[1]
		defaultVal := parts[2]
		if v := os.Getenv(name); v != "" {
			return v
		}
		return defaultVal
	})

	var cfg Config
	if err := json.Unmarshal([]byte(resolved), &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.Engine.Defaults()
	cfg.Scheduler.Defaults()
	cfg.Quota.Defaults()
	return &cfg, nil
}
