package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"ragagent/internal/domain"
	"ragagent/internal/validation"
)

// DocumentsConfig points at the knowledge base.
type DocumentsConfig struct {
	Dir      string   `yaml:"dir" validate:"required"`
	Patterns []string `yaml:"patterns"`
}

// ChunkerConfig configures how documents are split into chunks. A nil
// Overlap takes the default; an explicit 0 disables overlap.
type ChunkerConfig struct {
	ChunkSize int  `yaml:"chunk_size" validate:"gt=0"`
	Overlap   *int `yaml:"overlap" validate:"required,gte=0,ltfield=ChunkSize"`
}

// OpenAIEmbedderConfig holds configuration for the OpenAI-compatible embedder.
type OpenAIEmbedderConfig struct {
	BaseURL     string `yaml:"base_url"`
	APIKeyEnv   string `yaml:"api_key_env"`
	Model       string `yaml:"model"`
	Dimension   int    `yaml:"dimension"`
	TimeoutSecs int    `yaml:"timeout_secs"`
	BatchSize   int    `yaml:"batch_size"`
	MaxRetries  *int   `yaml:"max_retries" validate:"required,gte=0"`
}

// EmbedderConfig selects and configures the text embedder implementation.
type EmbedderConfig struct {
	Type      string                `yaml:"type" validate:"oneof=hashing openai"`
	Dimension int                   `yaml:"dimension"`
	OpenAI    *OpenAIEmbedderConfig `yaml:"openai,omitempty" validate:"required_if=Type openai"`
}

// VectorStoreConfig selects and configures the vector store implementation.
type VectorStoreConfig struct {
	Type   string        `yaml:"type" validate:"oneof=memory qdrant"`
	Path   string        `yaml:"path"`
	Qdrant *QdrantConfig `yaml:"qdrant,omitempty" validate:"required_if=Type qdrant"`
}

// QdrantConfig contains connection details for a Qdrant vector store.
type QdrantConfig struct {
	URL         string `yaml:"url" validate:"required"`
	APIKeyEnv   string `yaml:"api_key_env"`
	Collection  string `yaml:"collection" validate:"required"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// RetrieverConfig configures query-time retrieval.
type RetrieverConfig struct {
	K           int `yaml:"k" validate:"gt=0"`
	TimeoutSecs int `yaml:"timeout_secs"`
}

// GeneratorConfig configures the chat model.
type GeneratorConfig struct {
	BaseURL     string  `yaml:"base_url"`
	APIKeyEnv   string  `yaml:"api_key_env"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature" validate:"gte=0,lte=2"`
	TimeoutSecs int     `yaml:"timeout_secs"`
	MaxRetries  *int    `yaml:"max_retries" validate:"required,gte=0"`
}

// AgentConfig bounds the tool-using generation loop. MaxToolRounds has no
// default and must be set explicitly.
type AgentConfig struct {
	SystemPrompt    string `yaml:"system_prompt"`
	MaxToolRounds   int    `yaml:"max_tool_rounds" validate:"required,gt=0"`
	ParallelTools   bool   `yaml:"parallel_tools"`
	ToolTimeoutSecs int    `yaml:"tool_timeout_secs"`
}

// CheckpointConfig selects where conversations are kept.
type CheckpointConfig struct {
	Type string `yaml:"type" validate:"oneof=memory sqlite"`
	Path string `yaml:"path" validate:"required_if=Type sqlite"`
}

// JudgeConfig selects the metric judge.
type JudgeConfig struct {
	Type              string  `yaml:"type" validate:"oneof=lexical llm"`
	Model             string  `yaml:"model"`
	RequestsPerSecond float64 `yaml:"requests_per_second" validate:"gte=0"`
	EmbedRelevancy    bool    `yaml:"embed_relevancy"`
}

// EvaluationConfig configures the evaluation harness.
type EvaluationConfig struct {
	Dataset     string      `yaml:"dataset"`
	Report      string      `yaml:"report" validate:"required"`
	Concurrency int         `yaml:"concurrency" validate:"gt=0"`
	TimeoutSecs int         `yaml:"timeout_secs"`
	Judge       JudgeConfig `yaml:"judge"`
}

// FeedbackConfig selects the feedback sink.
type FeedbackConfig struct {
	Type   string `yaml:"type" validate:"oneof=none log postgres"`
	DSNEnv string `yaml:"dsn_env" validate:"required_if=Type postgres"`
}

// ServerConfig configures the HTTP front end.
type ServerConfig struct {
	Addr               string   `yaml:"addr" validate:"required"`
	RequestTimeoutSecs int      `yaml:"request_timeout_secs"`
	AllowedOrigins     []string `yaml:"allowed_origins"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=json console"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	Documents   DocumentsConfig   `yaml:"documents"`
	Chunker     ChunkerConfig     `yaml:"chunker"`
	Embedder    EmbedderConfig    `yaml:"embedder"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	Retriever   RetrieverConfig   `yaml:"retriever"`
	Generator   GeneratorConfig   `yaml:"generator"`
	Agent       AgentConfig       `yaml:"agent"`
	Checkpoint  CheckpointConfig  `yaml:"checkpoint"`
	Evaluation  EvaluationConfig  `yaml:"evaluation"`
	Feedback    FeedbackConfig    `yaml:"feedback"`
	Server      ServerConfig      `yaml:"server"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// Load reads a config from a specified path. If the file does not exist, returns defaults.
// The result is validated.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg := defaultConfig()
			return cfg, Validate(cfg)
		}
		return nil, err
	}
	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, domain.Wrapf(domain.KindConfig, err, "parse %s", path)
	}
	applyConfigDefaults(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadDefault tries ./config.yaml first, then ~/.config/ragagent/config.yaml.
// If neither exists, it writes defaults to ~/.config/ragagent/config.yaml and returns them.
func LoadDefault() (*AppConfig, string, error) {
	cwdPath := "config.yaml"
	if _, err := os.Stat(cwdPath); err == nil {
		cfg, err := Load(cwdPath)
		return cfg, cwdPath, err
	}
	userPath, err := defaultUserConfigPath()
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(userPath); err == nil {
		cfg, err := Load(userPath)
		return cfg, userPath, err
	}
	cfg := defaultConfig()
	if err := Save(userPath, cfg); err != nil {
		return nil, "", err
	}
	return cfg, userPath, Validate(cfg)
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate checks field constraints. Failures are config errors.
func Validate(cfg *AppConfig) error {
	if err := validation.Struct(cfg); err != nil {
		return domain.Wrapf(domain.KindConfig, err, "invalid configuration")
	}
	return nil
}

// Seconds converts a *_secs field to a duration; zero stays zero.
func Seconds(n int) time.Duration { return time.Duration(n) * time.Second }

// Int returns a pointer to v for optional integer fields.
func Int(v int) *int { return &v }

// IntValue dereferences an optional integer field; nil reads as zero.
func IntValue(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "ragagent", "config.yaml"), nil
}

// DefaultSystemPrompt instructs the agent to ground answers in the knowledge base.
const DefaultSystemPrompt = `You are a technical assistant for the project's documentation.
Use the search_knowledge_base tool to look up facts before answering questions about the project.
Use the check_system_info tool when asked about the machine you run on.
Answer concisely and say so when the knowledge base does not contain the answer.`

// defaultConfig is written for new users, so it carries an explicit tool round cap.
func defaultConfig() *AppConfig {
	cfg := &AppConfig{
		Agent: AgentConfig{MaxToolRounds: 5},
	}
	applyConfigDefaults(cfg)
	return cfg
}

func applyConfigDefaults(cfg *AppConfig) {
	if cfg.Documents.Dir == "" {
		cfg.Documents.Dir = "data"
	}
	if len(cfg.Documents.Patterns) == 0 {
		cfg.Documents.Patterns = []string{"*.md"}
	}
	if cfg.Chunker.ChunkSize == 0 {
		cfg.Chunker.ChunkSize = 500
	}
	if cfg.Chunker.Overlap == nil {
		cfg.Chunker.Overlap = Int(min(50, cfg.Chunker.ChunkSize/10))
	}
	if cfg.Embedder.Type == "" {
		cfg.Embedder.Type = "hashing"
	}
	if cfg.Embedder.OpenAI != nil {
		if cfg.Embedder.OpenAI.BaseURL == "" {
			cfg.Embedder.OpenAI.BaseURL = "https://api.openai.com/v1"
		}
		if cfg.Embedder.OpenAI.APIKeyEnv == "" {
			cfg.Embedder.OpenAI.APIKeyEnv = "OPENAI_API_KEY"
		}
		if cfg.Embedder.OpenAI.Model == "" {
			cfg.Embedder.OpenAI.Model = "text-embedding-3-small"
		}
		if cfg.Embedder.OpenAI.TimeoutSecs == 0 {
			cfg.Embedder.OpenAI.TimeoutSecs = 30
		}
		if cfg.Embedder.OpenAI.BatchSize == 0 {
			cfg.Embedder.OpenAI.BatchSize = 32
		}
		if cfg.Embedder.OpenAI.MaxRetries == nil {
			cfg.Embedder.OpenAI.MaxRetries = Int(2)
		}
	}
	if cfg.VectorStore.Type == "" {
		cfg.VectorStore.Type = "memory"
	}
	if cfg.VectorStore.Path == "" {
		cfg.VectorStore.Path = "index"
	}
	if q := cfg.VectorStore.Qdrant; q != nil && q.TimeoutSecs == 0 {
		q.TimeoutSecs = 15
	}
	if cfg.Retriever.K == 0 {
		cfg.Retriever.K = 2
	}
	if cfg.Retriever.TimeoutSecs == 0 {
		cfg.Retriever.TimeoutSecs = 30
	}
	if cfg.Generator.APIKeyEnv == "" {
		cfg.Generator.APIKeyEnv = "OPENAI_API_KEY"
	}
	if cfg.Generator.Model == "" {
		cfg.Generator.Model = "gpt-4o-mini"
	}
	if cfg.Generator.TimeoutSecs == 0 {
		cfg.Generator.TimeoutSecs = 60
	}
	if cfg.Generator.MaxRetries == nil {
		cfg.Generator.MaxRetries = Int(2)
	}
	if cfg.Agent.SystemPrompt == "" {
		cfg.Agent.SystemPrompt = DefaultSystemPrompt
	}
	if cfg.Agent.ToolTimeoutSecs == 0 {
		cfg.Agent.ToolTimeoutSecs = 30
	}
	if cfg.Checkpoint.Type == "" {
		cfg.Checkpoint.Type = "memory"
	}
	if cfg.Evaluation.Report == "" {
		cfg.Evaluation.Report = "evaluation_report.csv"
	}
	if cfg.Evaluation.Concurrency == 0 {
		cfg.Evaluation.Concurrency = 4
	}
	if cfg.Evaluation.TimeoutSecs == 0 {
		cfg.Evaluation.TimeoutSecs = 60
	}
	if cfg.Evaluation.Judge.Type == "" {
		cfg.Evaluation.Judge.Type = "lexical"
	}
	if cfg.Feedback.Type == "" {
		cfg.Feedback.Type = "log"
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.RequestTimeoutSecs == 0 {
		cfg.Server.RequestTimeoutSecs = 120
	}
	if len(cfg.Server.AllowedOrigins) == 0 {
		cfg.Server.AllowedOrigins = []string{"*"}
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "console"
	}
}

// String renders the effective configuration for --print-config style output.
func (c *AppConfig) String() string {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Sprintf("<config: %v>", err)
	}
	return string(data)
}
