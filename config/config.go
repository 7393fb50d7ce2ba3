package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"

	RetrieverChromem  = "chromem"
	RetrieverPgvector = "pgvector"

	DriverPostgres = "pgx"
	DriverSQLite   = "sqlite"
)

type LLMConfig struct {
	Provider string
	Model    string
}

type EmbeddingsConfig struct {
	Provider  string
	Model     string
	Dimension int
}

type DataSourceConfig struct {
	Driver string
	DSN    string
}

type RAGConfig struct {
	Backend    string
	CacheDir   string
	Collection string
	Prefix     string
	TopK       int
}

type StorageConfig struct {
	Bucket          string
	CDNDomain       string
	CredentialsJSON string
}

type CacheConfig struct {
	RedisURL string
	TTL      time.Duration
}

type Config struct {
	LLM        LLMConfig
	Embeddings EmbeddingsConfig
	DataSource DataSourceConfig
	RAG        RAGConfig
	Storage    StorageConfig
	Cache      CacheConfig

	OllamaHost    string
	OpenAIAPIKey  string
	OpenAIBaseURL string

	PostgresDSN string
	Neo4jURI    string
	Neo4jUser   string
	Neo4jPass   string

	CrewConfigPath   string
	SynthesisTimeout time.Duration
	RenderTimeout    time.Duration

	DataDir  string
	HTTPAddr string
	LogMode  string
}

// Load reads the environment, after merging an optional .env file from the
// working directory.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		LLM: LLMConfig{
			Provider: getEnv("LLM_PROVIDER", ProviderOpenAI),
			Model:    getEnv("LLM_MODEL", "gpt-4o-mini"),
		},
		Embeddings: EmbeddingsConfig{
			Provider:  getEnv("EMBEDDINGS_PROVIDER", ProviderOpenAI),
			Model:     getEnv("EMBEDDINGS_MODEL", "text-embedding-3-small"),
			Dimension: getEnvInt("EMBEDDINGS_DIMENSION", 1536),
		},
		DataSource: DataSourceConfig{
			Driver: getEnv("DATA_SOURCE_DRIVER", DriverPostgres),
			DSN:    getEnv("DATA_SOURCE_DSN", "postgres://localhost:5432/pirls?sslmode=disable"),
		},
		RAG: RAGConfig{
			Backend:    getEnv("RAG_BACKEND", RetrieverChromem),
			CacheDir:   getEnv("RAG_CACHE_DIR", "rag"),
			Collection: getEnv("RAG_COLLECTION", "pirls_2021"),
			Prefix:     getEnv("RAG_PREFIX", "rag/collections_2"),
			TopK:       getEnvInt("RAG_TOP_K", 20),
		},
		Storage: StorageConfig{
			Bucket:          getEnv("ARTIFACT_BUCKET", "gdsc-bucket-058264313357"),
			CDNDomain:       getEnv("ARTIFACT_CDN_DOMAIN", ""),
			CredentialsJSON: getEnv("GOOGLE_APPLICATION_CREDENTIALS_JSON", ""),
		},
		Cache: CacheConfig{
			RedisURL: getEnv("TOOL_CACHE_REDIS_URL", ""),
			TTL:      getEnvDuration("TOOL_CACHE_TTL", time.Hour),
		},
		OllamaHost:       getEnv("OLLAMA_HOST", "http://localhost:11434"),
		OpenAIAPIKey:     getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:    getEnv("OPENAI_BASE_URL", ""),
		PostgresDSN:      getEnv("POSTGRES_DSN", "postgres://localhost:5432/survey-agent?sslmode=disable"),
		Neo4jURI:         getEnv("NEO4J_URI", ""),
		Neo4jUser:        getEnv("NEO4J_USERNAME", "neo4j"),
		Neo4jPass:        getEnv("NEO4J_PASSWORD", "password"),
		CrewConfigPath:   getEnv("CREW_CONFIG", ""),
		SynthesisTimeout: getEnvDuration("SYNTHESIS_TIMEOUT", 90*time.Second),
		RenderTimeout:    getEnvDuration("RENDER_TIMEOUT", 10*time.Second),
		DataDir:          getEnv("DATA_DIR", "data"),
		HTTPAddr:         getEnv("HTTP_ADDR", ":8080"),
		LogMode:          getEnv("LOG_MODE", "dev"),
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	raw := strings.TrimSpace(getEnv(key, ""))
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(getEnv(key, ""))
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return d
}
