// Package config provides configuration types and loading for adpilot.
package config

// Config is the root configuration struct.
// Top-level groups: Paths, Model, Providers, Agent, Integrations, Cache, Trace, Channels.
type Config struct {
	Paths        PathsConfig        `json:"paths"`
	Model        ModelConfig        `json:"model"`
	Providers    ProvidersConfig    `json:"providers"`
	Agent        AgentConfig        `json:"agent"`
	Integrations IntegrationsConfig `json:"integrations"`
	Cache        CacheConfig        `json:"cache"`
	Trace        TraceConfig        `json:"trace"`
	Channels     ChannelsConfig     `json:"channels"`
}

// PathsConfig groups filesystem path settings.
type PathsConfig struct {
	DataDir string `json:"dataDir" envconfig:"DATA_DIR"`
}

// ModelConfig groups LLM model and loop settings.
type ModelConfig struct {
	Name                string  `json:"name" envconfig:"MODEL"`
	MaxTokens           int     `json:"maxTokens" envconfig:"MAX_TOKENS"`
	Temperature         float64 `json:"temperature" envconfig:"TEMPERATURE"`
	MaxToolIterations   int     `json:"maxToolIterations" envconfig:"MAX_TOOL_ITERATIONS"`
	MaxStreamIterations int     `json:"maxStreamIterations" envconfig:"MAX_STREAM_ITERATIONS"`
	StreamTimeoutSecs   int     `json:"streamTimeoutSeconds" envconfig:"STREAM_TIMEOUT_SECONDS"`
}

// ProvidersConfig contains LLM provider credentials.
type ProvidersConfig struct {
	OpenAI OpenAIConfig `json:"openai"`
}

// OpenAIConfig configures the OpenAI-compatible provider.
type OpenAIConfig struct {
	APIKey  string `json:"apiKey" envconfig:"API_KEY"`
	APIBase string `json:"apiBase" envconfig:"API_BASE"`
}

// AgentConfig groups request-handling behaviour.
type AgentConfig struct {
	// Mode is the default execution mode: auto, plan, or ask.
	Mode string `json:"mode" envconfig:"MODE"`
	// IdempotencyWindowMinutes is the freshness window for deduplicated tool results.
	IdempotencyWindowMinutes int `json:"idempotencyWindowMinutes" envconfig:"IDEMPOTENCY_WINDOW_MINUTES"`
	// LockStaleSeconds is how long a conversation processing lock may be held
	// before another request may take it over.
	LockStaleSeconds int `json:"lockStaleSeconds" envconfig:"LOCK_STALE_SECONDS"`
}

// IntegrationsConfig lists which line-of-business integrations are connected.
// Preflight checks in the policy engine consult these flags.
type IntegrationsConfig struct {
	Ads       bool `json:"ads" envconfig:"ADS"`
	CRM       bool `json:"crm" envconfig:"CRM"`
	Messaging bool `json:"messaging" envconfig:"MESSAGING"`
	// AccountIDs lists the connected ad accounts. More than one account
	// makes account selection a clarifying question.
	AccountIDs []string `json:"accountIds" envconfig:"ACCOUNT_IDS"`
}

// CacheConfig configures the account-status cache.
type CacheConfig struct {
	RedisEnabled bool   `json:"redisEnabled" envconfig:"REDIS_ENABLED"`
	RedisURL     string `json:"redisUrl" envconfig:"REDIS_URL"`
	TTLSeconds   int    `json:"ttlSeconds" envconfig:"TTL_SECONDS"`
}

// TraceConfig configures trace span publishing.
type TraceConfig struct {
	KafkaEnabled bool   `json:"kafkaEnabled" envconfig:"KAFKA_ENABLED"`
	Brokers      string `json:"brokers" envconfig:"BROKERS"`
	Topic        string `json:"topic" envconfig:"TOPIC"`
}

// ChannelsConfig contains all channel configurations.
type ChannelsConfig struct {
	Slack SlackConfig `json:"slack"`
	NATS  NATSConfig  `json:"nats"`
}

// SlackConfig configures the Slack Socket Mode channel.
type SlackConfig struct {
	Enabled  bool   `json:"enabled" envconfig:"ENABLED"`
	BotToken string `json:"botToken" envconfig:"BOT_TOKEN"`
	AppToken string `json:"appToken" envconfig:"APP_TOKEN"`
}

// NATSConfig configures the NATS request/reply channel.
type NATSConfig struct {
	Enabled bool   `json:"enabled" envconfig:"ENABLED"`
	URL     string `json:"url" envconfig:"URL"`
	Subject string `json:"subject" envconfig:"SUBJECT"`
}
