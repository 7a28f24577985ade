package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server        ServerConfig
	Store         StoreConfig
	AI            AIConfig
	SummariesFile string
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	store, err := loadStoreConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:        server,
		Store:         store,
		AI:            ai,
		SummariesFile: strings.TrimSpace(os.Getenv("SUMMARIES_FILE")),
	}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr string
	// APIToken 为空时关闭鉴权。
	APIToken string
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	token := strings.TrimSpace(os.Getenv("API_TOKEN"))

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port, APIToken: token}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port, APIToken: token}, nil
}

// StoreBackend 会话存档的存储后端。
type StoreBackend string

const (
	StoreMemory   StoreBackend = "memory"
	StoreSQLite   StoreBackend = "sqlite"
	StoreDynamoDB StoreBackend = "dynamodb"
)

// StoreConfig 描述会话存档存储配置。
type StoreConfig struct {
	Backend         StoreBackend
	SQLitePath      string
	DynamoTable     string
	DynamoUserIndex string
}

func loadStoreConfig() (StoreConfig, error) {
	backend := StoreBackend(strings.ToLower(getEnvOrDefault("CONVERSATION_STORE", string(StoreMemory))))
	switch backend {
	case StoreMemory, StoreSQLite, StoreDynamoDB:
	default:
		return StoreConfig{}, fmt.Errorf("invalid CONVERSATION_STORE value: %q", backend)
	}

	return StoreConfig{
		Backend:         backend,
		SQLitePath:      getEnvOrDefault("SQLITE_PATH", "conversations.db"),
		DynamoTable:     getEnvOrDefault("DYNAMODB_TABLE", "conversations"),
		DynamoUserIndex: getEnvOrDefault("DYNAMODB_USER_INDEX", "userId-updatedAt-index"),
	}, nil
}

// ClientConfig 描述终端客户端的连接配置，命令行参数可覆盖。
type ClientConfig struct {
	WSURL  string
	APIURL string
	Token  string
	UserID string
}

// LoadClient 从环境变量加载客户端配置。
func LoadClient() ClientConfig {
	return ClientConfig{
		WSURL:  getEnvOrDefault("CHAT_WS_URL", "ws://localhost:8080"),
		APIURL: getEnvOrDefault("CHAT_API_URL", "http://localhost:8080/api"),
		Token:  strings.TrimSpace(os.Getenv("CHAT_TOKEN")),
		UserID: getEnvOrDefault("CHAT_USER_ID", "anonymous"),
	}
}

// AIConfig 描述大模型相关配置。
type AIConfig struct {
	APIKey      string
	AccessKey   string
	SecretKey   string
	Model       string
	BaseURL     string
	Region      string
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
}

// Enabled 表示是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel 使用配置创建一个模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("Ark 凭证或模型配置缺失，至少提供 ARK_API_KEY + Model 或 AK/SK 组合")
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: toFloat32(c.Temperature),
		TopP:        toFloat32(c.TopP),
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig() (AIConfig, error) {
	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("ARK_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	return AIConfig{
		APIKey:      strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:   strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:   strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:       strings.TrimSpace(os.Getenv("Model")),
		BaseURL:     getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:      getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature: temperature,
		TopP:        topP,
		MaxTokens:   maxTokens,
	}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	return parseOptionalEnv(key, func(v string) (float64, error) { return strconv.ParseFloat(v, 64) })
}

func parseOptionalIntEnv(key string) (*int, error) {
	return parseOptionalEnv(key, strconv.Atoi)
}

// parseOptionalEnv returns nil when key is unset or blank.
func parseOptionalEnv[T any](key string, parse func(string) (T, error)) (*T, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return nil, nil
	}

	val, err := parse(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func toFloat32(v *float64) *float32 {
	if v == nil {
		return nil
	}
	f := float32(*v)
	return &f
}
