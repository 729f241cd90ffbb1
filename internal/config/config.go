// Package config loads the single structured settings object that every
// component in the document intelligence core reads from. Configuration is
// environment-driven, with an optional .env file overlay, following the same
// pattern the rest of the stack uses for secrets and tuning knobs.
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// LLMProviderConfig carries the credentials and model tag for one LLM
// backend. The same shape is reused for the OpenAI, Anthropic, and Google
// genai providers; which concrete client gets built is decided by the
// provider tag in Settings, not by which struct is populated.
type LLMProviderConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

// StoreConfig groups the connection parameters for one backing store.
type StoreConfig struct {
	DSN string // Postgres DSN (metadata store)
}

type QdrantConfig struct {
	Host       string
	GRPCPort   int
	Collection string
}

type ElasticConfig struct {
	Addresses []string
	Index     string
	Analyzer  string // e.g. "ik_max_word" for Chinese segmentation
}

type S3SSEConfig struct {
	Mode     string // "", "sse-s3", "sse-kms"
	KMSKeyID string
}

type S3Config struct {
	Endpoint              string
	Region                string
	Bucket                string
	Prefix                string
	AccessKeyID           string
	SecretAccessKey       string
	UseSSL                bool
	UsePathStyle          bool
	TLSInsecureSkipVerify bool
	SSE                   S3SSEConfig
}

// Settings is the single structured configuration object consumed by every
// component of the core. See SPEC_FULL.md section 6 for the recognized
// options and their effects.
type Settings struct {
	// Chunker sizing (tokens).
	ChunkTargetSize int
	ChunkMaxSize    int
	ChunkOverlap    int

	// Embedding.
	EmbeddingDimension int

	// Retrieval tuning.
	RetrievalTopKVector  int
	RetrievalTopKBM25    int
	RetrievalRRFK        int
	RetrievalFinalTopK   int
	ContextWindowChunks  int
	RerankEnabled        bool

	// Generation.
	GenerationMaxContextTokens int
	RequireCitations           bool

	// Upload handling.
	SupportedExtensions []string
	MaxFileSizeMB       int

	// Concurrency.
	SummarizerConcurrency int
	AgentMaxSteps         int

	// LLM retry tuning (§7: 3 attempts, 2-30s backoff window). Load does not
	// read these from the environment and the LLM clients do not consume
	// them; each client uses llm.DefaultRetryConfig, which has the same values.
	LLMMaxRetries   int
	LLMBackoffMinMS int
	LLMBackoffMaxMS int

	// Provider selection and credentials.
	MainLLMProvider  string
	LightLLMProvider string
	OpenAI           LLMProviderConfig
	Anthropic        LLMProviderConfig
	Google           LLMProviderConfig

	// Version detection thresholds.
	TitleSimilarityThreshold   float64
	ContentSimilarityThreshold float64
	VersionMatchConfidence     float64

	// Stores.
	Metadata StoreConfig
	Qdrant   QdrantConfig
	Elastic  ElasticConfig
	S3       S3Config

	// Ambient.
	ServiceName string
	LogLevel    string
	Obs         ObsConfig
}

// ObsConfig carries OTLP exporter settings for tracing and metrics.
type ObsConfig struct {
	OTLP           string
	ServiceName    string
	ServiceVersion string
	Environment    string
}

// Load reads Settings from environment variables, optionally overlaid by a
// .env file in the working directory. Missing values fall back to the
// defaults given in SPEC_FULL.md.
func Load() (Settings, error) {
	_ = godotenv.Overload()

	s := Settings{
		ChunkTargetSize: 500,
		ChunkMaxSize:    800,
		ChunkOverlap:    50,

		EmbeddingDimension: 1024,

		RetrievalTopKVector: 20,
		RetrievalTopKBM25:   20,
		RetrievalRRFK:       60,
		RetrievalFinalTopK:  5,
		ContextWindowChunks: 1,
		RerankEnabled:       true,

		GenerationMaxContextTokens: 12000,
		RequireCitations:           true,

		SupportedExtensions: []string{".pdf", ".docx", ".doc", ".pptx", ".xlsx", ".csv", ".txt", ".md"},
		MaxFileSizeMB:       100,

		SummarizerConcurrency: 10,
		AgentMaxSteps:         8,

		LLMMaxRetries:   3,
		LLMBackoffMinMS: 2000,
		LLMBackoffMaxMS: 30000,

		MainLLMProvider:  "openai",
		LightLLMProvider: "anthropic",

		TitleSimilarityThreshold:   0.4,
		ContentSimilarityThreshold: 0.75,
		VersionMatchConfidence:     0.8,

		ServiceName: "docintel",
		LogLevel:    "info",
	}

	s.OpenAI.APIKey = strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	s.OpenAI.Model = firstNonEmpty(os.Getenv("OPENAI_MODEL"), "gpt-4o")
	s.OpenAI.BaseURL = strings.TrimSpace(os.Getenv("OPENAI_BASE_URL"))

	s.Anthropic.APIKey = strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY"))
	s.Anthropic.Model = firstNonEmpty(os.Getenv("ANTHROPIC_MODEL"), "claude-sonnet-4-20250514")
	s.Anthropic.BaseURL = strings.TrimSpace(os.Getenv("ANTHROPIC_BASE_URL"))

	s.Google.APIKey = strings.TrimSpace(os.Getenv("GOOGLE_API_KEY"))
	s.Google.Model = firstNonEmpty(os.Getenv("GOOGLE_MODEL"), "gemini-2.0-flash")

	if v := strings.TrimSpace(os.Getenv("MAIN_LLM_PROVIDER")); v != "" {
		s.MainLLMProvider = v
	}
	if v := strings.TrimSpace(os.Getenv("LIGHT_LLM_PROVIDER")); v != "" {
		s.LightLLMProvider = v
	}

	s.Metadata.DSN = strings.TrimSpace(os.Getenv("METADATA_DSN"))

	s.Qdrant.Host = firstNonEmpty(os.Getenv("QDRANT_HOST"), "localhost")
	s.Qdrant.GRPCPort = envInt("QDRANT_GRPC_PORT", 6334)
	s.Qdrant.Collection = firstNonEmpty(os.Getenv("QDRANT_COLLECTION"), "doc_chunks")

	if v := strings.TrimSpace(os.Getenv("ES_ADDRESSES")); v != "" {
		s.Elastic.Addresses = strings.Split(v, ",")
	} else {
		s.Elastic.Addresses = []string{"http://localhost:9200"}
	}
	s.Elastic.Index = firstNonEmpty(os.Getenv("ES_INDEX"), "doc_chunks")
	s.Elastic.Analyzer = firstNonEmpty(os.Getenv("ES_ANALYZER"), "ik_max_word")

	s.S3.Endpoint = strings.TrimSpace(os.Getenv("S3_ENDPOINT"))
	s.S3.Region = firstNonEmpty(os.Getenv("S3_REGION"), "us-east-1")
	s.S3.Bucket = firstNonEmpty(os.Getenv("S3_BUCKET"), "documents")
	s.S3.Prefix = strings.TrimSpace(os.Getenv("S3_PREFIX"))
	s.S3.AccessKeyID = strings.TrimSpace(os.Getenv("S3_ACCESS_KEY_ID"))
	s.S3.SecretAccessKey = strings.TrimSpace(os.Getenv("S3_SECRET_ACCESS_KEY"))
	s.S3.UseSSL = envBool("S3_USE_SSL", false)
	s.S3.UsePathStyle = envBool("S3_USE_PATH_STYLE", false)
	s.S3.TLSInsecureSkipVerify = envBool("S3_TLS_INSECURE_SKIP_VERIFY", false)
	s.S3.SSE.Mode = strings.ToLower(strings.TrimSpace(os.Getenv("S3_SSE_MODE")))
	s.S3.SSE.KMSKeyID = strings.TrimSpace(os.Getenv("S3_SSE_KMS_KEY_ID"))

	if v := envIntPtr("CHUNK_TARGET_SIZE"); v != nil {
		s.ChunkTargetSize = *v
	}
	if v := envIntPtr("CHUNK_MAX_SIZE"); v != nil {
		s.ChunkMaxSize = *v
	}
	if v := envIntPtr("CHUNK_OVERLAP"); v != nil {
		s.ChunkOverlap = *v
	}
	if v := envIntPtr("RETRIEVAL_TOP_K_VECTOR"); v != nil {
		s.RetrievalTopKVector = *v
	}
	if v := envIntPtr("RETRIEVAL_TOP_K_BM25"); v != nil {
		s.RetrievalTopKBM25 = *v
	}
	if v := envIntPtr("RETRIEVAL_RRF_K"); v != nil {
		s.RetrievalRRFK = *v
	}
	if v := envIntPtr("RETRIEVAL_FINAL_TOP_K"); v != nil {
		s.RetrievalFinalTopK = *v
	}
	if v := envIntPtr("CONTEXT_WINDOW_CHUNKS"); v != nil {
		s.ContextWindowChunks = *v
	}
	if v := envIntPtr("SUMMARIZER_CONCURRENCY"); v != nil {
		s.SummarizerConcurrency = *v
	}
	if v := envIntPtr("MAX_FILE_SIZE_MB"); v != nil {
		s.MaxFileSizeMB = *v
	}

	s.LogLevel = firstNonEmpty(os.Getenv("LOG_LEVEL"), s.LogLevel)
	s.ServiceName = firstNonEmpty(os.Getenv("SERVICE_NAME"), s.ServiceName)

	s.Obs.OTLP = strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	s.Obs.ServiceName = firstNonEmpty(os.Getenv("OTEL_SERVICE_NAME"), s.ServiceName)
	s.Obs.ServiceVersion = firstNonEmpty(os.Getenv("SERVICE_VERSION"), "dev")
	s.Obs.Environment = firstNonEmpty(os.Getenv("DEPLOY_ENVIRONMENT"), "development")

	return s, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		v = strings.TrimSpace(v)
		if v != "" {
			return v
		}
	}
	return ""
}

func envInt(key string, def int) int {
	if v := envIntPtr(key); v != nil {
		return *v
	}
	return def
}

func envIntPtr(key string) *int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return nil
	}
	return &n
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return strings.EqualFold(v, "true") || v == "1" || strings.EqualFold(v, "yes")
}
