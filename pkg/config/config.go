package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	SQLite   SQLiteConfig
	Milvus   MilvusConfig
	Redis    RedisConfig
	LLM      LLMConfig
	Personas PersonasConfig
	Rerank   RerankConfig
	Feedback FeedbackConfig
	KPI      KPIConfig
	Logging  LoggingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  int
	WriteTimeout int
	BodyLimit    int
}

type SQLiteConfig struct {
	Path string
}

type MilvusConfig struct {
	Endpoint       string
	APIKey         string
	CollectionName string
	VectorDim      int
	TopK           int
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

type LLMConfig struct {
	Provider       string
	Model          string
	APIKey         string
	Temperature    float32
	MaxTokens      int
	TimeoutSec     int
	EmbeddingModel string
	EmbeddingDim   int
}

type PersonasConfig struct {
	Default string
	Styles  map[string]string
}

type RerankConfig struct {
	BoostWeight   float64
	MinBoost      float64
	MaxBoost      float64
	DemotionRatio float64
}

type FeedbackConfig struct {
	ReplaceOnDuplicate    bool
	PromptMinRatings      int
	PromptSatisfactionBar float64
}

type KPIConfig struct {
	SuccessFloor   float64
	FailureCeiling float64
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/voicerag")

	viper.SetEnvPrefix("VOICERAG")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.readTimeout", 30)
	viper.SetDefault("server.writeTimeout", 30)
	viper.SetDefault("server.bodyLimit", 1048576)

	viper.SetDefault("sqlite.path", "./data/feedback.db")

	viper.SetDefault("milvus.endpoint", "localhost:19530")
	viper.SetDefault("milvus.collectionName", "research_passages")
	viper.SetDefault("milvus.vectorDim", 1536)
	viper.SetDefault("milvus.topK", 5)

	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("llm.provider", "openai")
	viper.SetDefault("llm.model", "gpt-4")
	viper.SetDefault("llm.temperature", 0.2)
	viper.SetDefault("llm.maxTokens", 1024)
	viper.SetDefault("llm.timeoutSec", 60)
	viper.SetDefault("llm.embeddingModel", "text-embedding-3-large")
	viper.SetDefault("llm.embeddingDim", 1536)

	viper.SetDefault("personas.default", "default")
	viper.SetDefault("personas.styles", map[string]string{
		"default": "Answer clearly and directly, citing the provided sources.",
	})

	viper.SetDefault("rerank.boostWeight", 0.3)
	viper.SetDefault("rerank.minBoost", 0.5)
	viper.SetDefault("rerank.maxBoost", 1.5)
	viper.SetDefault("rerank.demotionRatio", 0.75)

	viper.SetDefault("feedback.replaceOnDuplicate", false)
	viper.SetDefault("feedback.promptMinRatings", 3)
	viper.SetDefault("feedback.promptSatisfactionBar", 4.0)

	viper.SetDefault("kpi.successFloor", 0.40)
	viper.SetDefault("kpi.failureCeiling", 0.25)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.outputPath", "stdout")
}
