package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

// LLM 后端名称。
const (
	BackendArk    = "ark"
	BackendOpenAI = "openai"
)

// 画像存储后端名称。
const (
	MemoryBackendInMemory = "memory"
	MemoryBackendBadger   = "badger"
	MemoryBackendPostgres = "postgres"
)

// ConfigurationError 表示启动所需的配置缺失或取值非法。
type ConfigurationError struct {
	Key    string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Key, e.Reason)
}

// Config 聚合整个服务的配置项。
type Config struct {
	Server    ServerConfig
	AI        AIConfig
	Search    SearchConfig
	Retrieval RetrievalConfig
	Storage   StorageConfig
	Telemetry TelemetryConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	search, err := loadSearchConfig()
	if err != nil {
		return nil, err
	}

	retrieval, err := loadRetrievalConfig()
	if err != nil {
		return nil, err
	}

	storage := StorageConfig{
		DatabaseURL:   strings.TrimSpace(os.Getenv("DATABASE_URL")),
		MemoryBackend: strings.ToLower(getEnvOrDefault("MEMORY_BACKEND", MemoryBackendInMemory)),
		BadgerPath:    getEnvOrDefault("BADGER_PATH", "./data/profiles"),
	}

	insecure, err := parseBoolEnv("OTEL_EXPORTER_OTLP_INSECURE", true)
	if err != nil {
		return nil, err
	}
	telemetry := TelemetryConfig{
		MetricsNamespace: getEnvOrDefault("METRICS_NAMESPACE", "zrecall"),
		OTLPEndpoint:     strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")),
		OTLPInsecure:     insecure,
		ServiceName:      getEnvOrDefault("OTEL_SERVICE_NAME", "z-recall"),
	}

	return &Config{
		Server:    server,
		AI:        ai,
		Search:    search,
		Retrieval: retrieval,
		Storage:   storage,
		Telemetry: telemetry,
	}, nil
}

// Validate 检查启动时必需的配置，返回 *ConfigurationError。
func (c *Config) Validate() error {
	switch c.AI.Backend {
	case BackendArk:
		if !c.AI.Enabled() {
			return &ConfigurationError{Key: "ARK_API_KEY", Reason: "provide ARK_API_KEY + ARK_MODEL or an AK/SK pair"}
		}
	case BackendOpenAI:
		if !c.AI.OpenAI.Enabled() {
			return &ConfigurationError{Key: "OPENAI_API_KEY", Reason: "an API key is required for the openai backend"}
		}
	default:
		return &ConfigurationError{Key: "LLM_BACKEND", Reason: fmt.Sprintf("unsupported backend %q", c.AI.Backend)}
	}

	switch c.Storage.MemoryBackend {
	case MemoryBackendInMemory, MemoryBackendBadger:
	case MemoryBackendPostgres:
		if c.Storage.DatabaseURL == "" {
			return &ConfigurationError{Key: "DATABASE_URL", Reason: "required when MEMORY_BACKEND=postgres"}
		}
	default:
		return &ConfigurationError{Key: "MEMORY_BACKEND", Reason: fmt.Sprintf("unsupported backend %q", c.Storage.MemoryBackend)}
	}

	if c.Retrieval.ChunkOverlap >= c.Retrieval.ChunkSize {
		return &ConfigurationError{Key: "CHUNK_OVERLAP", Reason: "must be smaller than CHUNK_SIZE"}
	}
	return nil
}

// IsConfigurationError reports whether err carries a *ConfigurationError.
func IsConfigurationError(err error) bool {
	var cfgErr *ConfigurationError
	return errors.As(err, &cfgErr)
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr string
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// AIConfig 描述大模型相关配置。
type AIConfig struct {
	Backend     string
	APIKey      string
	AccessKey   string
	SecretKey   string
	Model       string
	BaseURL     string
	Region      string
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
	OpenAI      OpenAIConfig
}

// OpenAIConfig 描述 OpenAI 兼容接口的配置。
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// Enabled 表示是否提供了 OpenAI 密钥。
func (c OpenAIConfig) Enabled() bool {
	return c.APIKey != ""
}

// Enabled 表示是否提供了必需的 Ark 密钥。
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel 使用配置创建一个 Ark 模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, &ConfigurationError{Key: "ARK_API_KEY", Reason: "Ark 凭证或模型配置缺失，至少提供 ARK_API_KEY + ARK_MODEL 或 AK/SK 组合"}
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig() (AIConfig, error) {
	temperature, err := parseOptionalFloatEnv("LLM_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}
	if temperature == nil {
		// 默认温度与原有对话行为保持一致
		val := 0.7
		temperature = &val
	}

	topP, err := parseOptionalFloatEnv("LLM_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("LLM_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	return AIConfig{
		Backend:     strings.ToLower(getEnvOrDefault("LLM_BACKEND", BackendArk)),
		APIKey:      strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:   strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:   strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:       strings.TrimSpace(os.Getenv("ARK_MODEL")),
		BaseURL:     getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:      getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature: temperature,
		TopP:        topP,
		MaxTokens:   maxTokens,
		OpenAI: OpenAIConfig{
			APIKey:  strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
			BaseURL: strings.TrimSpace(os.Getenv("OPENAI_BASE_URL")),
			Model:   getEnvOrDefault("OPENAI_MODEL", "gpt-4o-mini"),
		},
	}, nil
}

// SearchConfig 描述 Tavily 网页搜索配置。
type SearchConfig struct {
	TavilyAPIKey string
	BaseURL      string
	Depth        string
	MaxResults   int
	Timeout      time.Duration
}

// Enabled 表示是否配置了 Tavily 密钥。
func (c SearchConfig) Enabled() bool {
	return c.TavilyAPIKey != ""
}

func loadSearchConfig() (SearchConfig, error) {
	maxResults := 5
	if override, err := parseOptionalIntEnv("TAVILY_MAX_RESULTS"); err != nil {
		return SearchConfig{}, err
	} else if override != nil && *override > 0 {
		maxResults = *override
	}

	timeout, err := parseDurationEnv("SEARCH_TIMEOUT", 10*time.Second)
	if err != nil {
		return SearchConfig{}, err
	}

	return SearchConfig{
		TavilyAPIKey: strings.TrimSpace(os.Getenv("TAVILY_API_KEY")),
		BaseURL:      getEnvOrDefault("TAVILY_BASE_URL", "https://api.tavily.com"),
		Depth:        getEnvOrDefault("TAVILY_DEPTH", "basic"),
		MaxResults:   maxResults,
		Timeout:      timeout,
	}, nil
}

// RetrievalConfig 描述向量检索与文档导入配置。
type RetrievalConfig struct {
	WeaviateURL  string
	APIKey       string
	ClassName    string
	Vectorizer   string
	TopK         int
	ChunkSize    int
	ChunkOverlap int
	UploadDir    string
}

// Enabled 表示是否配置了 Weaviate。
func (c RetrievalConfig) Enabled() bool {
	return c.WeaviateURL != ""
}

func loadRetrievalConfig() (RetrievalConfig, error) {
	topK, err := intEnvWithDefault("RETRIEVAL_TOP_K", 10)
	if err != nil {
		return RetrievalConfig{}, err
	}
	chunkSize, err := intEnvWithDefault("CHUNK_SIZE", 1000)
	if err != nil {
		return RetrievalConfig{}, err
	}
	chunkOverlap, err := intEnvWithDefault("CHUNK_OVERLAP", 200)
	if err != nil {
		return RetrievalConfig{}, err
	}

	return RetrievalConfig{
		WeaviateURL:  strings.TrimSpace(os.Getenv("WEAVIATE_URL")),
		APIKey:       strings.TrimSpace(os.Getenv("WEAVIATE_API_KEY")),
		ClassName:    getEnvOrDefault("RETRIEVAL_CLASS", "Document"),
		Vectorizer:   getEnvOrDefault("WEAVIATE_VECTORIZER", "text2vec-openai"),
		TopK:         topK,
		ChunkSize:    chunkSize,
		ChunkOverlap: chunkOverlap,
		UploadDir:    getEnvOrDefault("UPLOAD_DIR", "./uploads"),
	}, nil
}

// StorageConfig 描述持久化配置。
type StorageConfig struct {
	DatabaseURL   string
	MemoryBackend string
	BadgerPath    string
}

// TelemetryConfig 描述指标与链路追踪配置。
type TelemetryConfig struct {
	MetricsNamespace string
	OTLPEndpoint     string
	OTLPInsecure     bool
	ServiceName      string
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func intEnvWithDefault(key string, defaultValue int) (int, error) {
	val, err := parseOptionalIntEnv(key)
	if err != nil {
		return 0, err
	}
	if val == nil || *val <= 0 {
		return defaultValue, nil
	}
	return *val, nil
}

func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}
