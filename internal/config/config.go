package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ProjectConfigName is the per-folder config file.
const ProjectConfigName = ".amanrag.yaml"

// Config represents the complete amanrag configuration.
type Config struct {
	Version       int                 `yaml:"version" json:"version"`
	Ingest        IngestConfig        `yaml:"ingest" json:"ingest"`
	Retrieval     RetrievalConfig     `yaml:"retrieval" json:"retrieval"`
	Cache         CacheConfig         `yaml:"cache" json:"cache"`
	Embeddings    EmbeddingsConfig    `yaml:"embeddings" json:"embeddings"`
	Reranker      RerankerConfig      `yaml:"reranker" json:"reranker"`
	Generation    GenerationConfig    `yaml:"generation" json:"generation"`
	Transcription TranscriptionConfig `yaml:"transcription" json:"transcription"`
	Vectors       VectorsConfig       `yaml:"vectors" json:"vectors"`
	Server        ServerConfig        `yaml:"server" json:"server"`
}

// IngestConfig configures loading, chunking and index building.
type IngestConfig struct {
	// ChunkSize is the target chunk length in characters.
	ChunkSize    int `yaml:"chunk_size" json:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap" json:"chunk_overlap"`

	// SupportedExts lists lowercase extensions, dot included.
	SupportedExts []string `yaml:"supported_exts" json:"supported_exts"`

	// LoadConcurrency caps files being parsed or transcribed at once.
	LoadConcurrency int `yaml:"load_concurrency" json:"load_concurrency"`

	// BuildConcurrency caps collections being built at once.
	BuildConcurrency int `yaml:"build_concurrency" json:"build_concurrency"`

	// Workers sizes the pool for blocking work. Default: NumCPU.
	Workers int `yaml:"workers" json:"workers"`

	// DataDir holds the database, vector graphs and lock, relative to the folder.
	DataDir string `yaml:"data_dir" json:"data_dir"`

	// WatchDebounce is how long the watcher waits for events to settle.
	WatchDebounce string `yaml:"watch_debounce" json:"watch_debounce"`
}

// RetrievalConfig configures routing and reranking budgets.
type RetrievalConfig struct {
	// RetrieveK is the per-file candidate count for mentioned files and the
	// total budget split across files otherwise.
	RetrieveK int `yaml:"retrieve_k" json:"retrieve_k"`
	// TopK is the number of passages handed to generation.
	TopK int `yaml:"top_k" json:"top_k"`
	// MinPerFile is the floor when the budget is split across all files.
	MinPerFile int `yaml:"min_per_file" json:"min_per_file"`
}

// CacheConfig configures the semantic answer cache.
type CacheConfig struct {
	Disabled   bool    `yaml:"disabled" json:"disabled"`
	Threshold  float64 `yaml:"threshold" json:"threshold"`
	MaxEntries int     `yaml:"max_entries" json:"max_entries"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	// Provider is "ollama", "static" or empty for auto-detection.
	Provider   string `yaml:"provider" json:"provider"`
	Model      string `yaml:"model" json:"model"`
	OllamaHost string `yaml:"ollama_host" json:"ollama_host"`
	Dimensions int    `yaml:"dimensions" json:"dimensions"`
	BatchSize  int    `yaml:"batch_size" json:"batch_size"`
	CacheSize  int    `yaml:"cache_size" json:"cache_size"`

	// RequestsPerSecond throttles calls to the embedding server. 0 disables.
	RequestsPerSecond float64 `yaml:"requests_per_second" json:"requests_per_second"`
}

// RerankerConfig configures the cross-encoder scorer.
type RerankerConfig struct {
	// Provider is "http", "overlap" or "none".
	Provider string `yaml:"provider" json:"provider"`
	Endpoint string `yaml:"endpoint" json:"endpoint"`
	Model    string `yaml:"model" json:"model"`
	Timeout  string `yaml:"timeout" json:"timeout"`
}

// GenerationConfig configures the answer model.
type GenerationConfig struct {
	OllamaHost  string  `yaml:"ollama_host" json:"ollama_host"`
	Model       string  `yaml:"model" json:"model"`
	Temperature float64 `yaml:"temperature" json:"temperature"`
	Timeout     string  `yaml:"timeout" json:"timeout"`
}

// TranscriptionConfig configures the speech-to-text service.
type TranscriptionConfig struct {
	Endpoint string `yaml:"endpoint" json:"endpoint"`
	Model    string `yaml:"model" json:"model"`
	Timeout  string `yaml:"timeout" json:"timeout"`
}

// VectorsConfig selects where collections live.
type VectorsConfig struct {
	// Backend is "local" (SQLite + in-memory HNSW under the data dir) or
	// "qdrant".
	Backend string `yaml:"backend" json:"backend"`

	QdrantHost   string `yaml:"qdrant_host" json:"qdrant_host"`
	QdrantPort   int    `yaml:"qdrant_port" json:"qdrant_port"`
	QdrantAPIKey string `yaml:"qdrant_api_key" json:"-"`
	QdrantTLS    bool   `yaml:"qdrant_tls" json:"qdrant_tls"`

	// CollectionPrefix namespaces collection names on a shared Qdrant.
	CollectionPrefix string `yaml:"collection_prefix" json:"collection_prefix"`
}

// ServerConfig configures the MCP server.
type ServerConfig struct {
	LogLevel string `yaml:"log_level" json:"log_level"`
}

// defaultSupportedExts covers documents and the audio formats the
// transcription service accepts.
var defaultSupportedExts = []string{
	".pdf", ".docx", ".txt", ".md",
	".mp3", ".wav", ".m4a", ".flac", ".ogg",
}

// NewConfig creates a new Config with defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Ingest: IngestConfig{
			ChunkSize:        200,
			ChunkOverlap:     50,
			SupportedExts:    append([]string(nil), defaultSupportedExts...),
			LoadConcurrency:  5,
			BuildConcurrency: 3,
			Workers:          runtime.NumCPU(),
			DataDir:          ".amanrag",
			WatchDebounce:    "500ms",
		},
		Retrieval: RetrievalConfig{
			RetrieveK:  10,
			TopK:       5,
			MinPerFile: 2,
		},
		Cache: CacheConfig{
			Threshold:  0.85,
			MaxEntries: 1024,
		},
		Embeddings: EmbeddingsConfig{
			Provider:   "", // auto: Ollama when reachable, else static
			Model:      "nomic-embed-text",
			OllamaHost: "http://localhost:11434",
			BatchSize:  32,
			CacheSize:  10000,
		},
		Reranker: RerankerConfig{
			Provider: "overlap",
			Endpoint: "http://localhost:8787",
			Model:    "cross-encoder/ms-marco-MiniLM-L-6-v2",
			Timeout:  "30s",
		},
		Generation: GenerationConfig{
			OllamaHost:  "http://localhost:11434",
			Model:       "llama3.2",
			Temperature: 0.2,
			Timeout:     "2m",
		},
		Transcription: TranscriptionConfig{
			Endpoint: "http://localhost:9000",
			Model:    "whisper-base",
			Timeout:  "10m",
		},
		Vectors: VectorsConfig{
			Backend:          "local",
			QdrantHost:       "localhost",
			QdrantPort:       6334,
			CollectionPrefix: "amanrag_",
		},
		Server: ServerConfig{
			LogLevel: "info",
		},
	}
}

// GetUserConfigPath returns the user/global configuration file:
// $XDG_CONFIG_HOME/amanrag/config.yaml or ~/.config/amanrag/config.yaml.
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "amanrag", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "amanrag", "config.yaml")
	}
	return filepath.Join(home, ".config", "amanrag", "config.yaml")
}

// Load loads configuration for a folder. Precedence, lowest first:
//  1. Defaults
//  2. User config (~/.config/amanrag/config.yaml)
//  3. Folder config (.amanrag.yaml)
//  4. Environment (AMANRAG_*), after loading <dir>/.env
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if err := cfg.loadYAMLIfExists(GetUserConfigPath()); err != nil {
		return nil, fmt.Errorf("failed to load user config: %w", err)
	}
	if err := cfg.loadYAMLIfExists(filepath.Join(dir, ProjectConfigName)); err != nil {
		return nil, err
	}

	if err := loadDotEnv(filepath.Join(dir, ".env")); err != nil {
		return nil, err
	}
	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// loadDotEnv exports variables from path without overriding ones already set.
func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

func (c *Config) loadYAMLIfExists(path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}

	mergeInt(&c.Ingest.ChunkSize, other.Ingest.ChunkSize)
	mergeInt(&c.Ingest.ChunkOverlap, other.Ingest.ChunkOverlap)
	if len(other.Ingest.SupportedExts) > 0 {
		c.Ingest.SupportedExts = normalizeExts(other.Ingest.SupportedExts)
	}
	mergeInt(&c.Ingest.LoadConcurrency, other.Ingest.LoadConcurrency)
	mergeInt(&c.Ingest.BuildConcurrency, other.Ingest.BuildConcurrency)
	mergeInt(&c.Ingest.Workers, other.Ingest.Workers)
	mergeString(&c.Ingest.DataDir, other.Ingest.DataDir)
	mergeString(&c.Ingest.WatchDebounce, other.Ingest.WatchDebounce)

	mergeInt(&c.Retrieval.RetrieveK, other.Retrieval.RetrieveK)
	mergeInt(&c.Retrieval.TopK, other.Retrieval.TopK)
	mergeInt(&c.Retrieval.MinPerFile, other.Retrieval.MinPerFile)

	if other.Cache.Disabled {
		c.Cache.Disabled = true
	}
	if other.Cache.Threshold != 0 {
		c.Cache.Threshold = other.Cache.Threshold
	}
	mergeInt(&c.Cache.MaxEntries, other.Cache.MaxEntries)

	mergeString(&c.Embeddings.Provider, other.Embeddings.Provider)
	mergeString(&c.Embeddings.Model, other.Embeddings.Model)
	mergeString(&c.Embeddings.OllamaHost, other.Embeddings.OllamaHost)
	mergeInt(&c.Embeddings.Dimensions, other.Embeddings.Dimensions)
	mergeInt(&c.Embeddings.BatchSize, other.Embeddings.BatchSize)
	mergeInt(&c.Embeddings.CacheSize, other.Embeddings.CacheSize)
	if other.Embeddings.RequestsPerSecond != 0 {
		c.Embeddings.RequestsPerSecond = other.Embeddings.RequestsPerSecond
	}

	mergeString(&c.Reranker.Provider, other.Reranker.Provider)
	mergeString(&c.Reranker.Endpoint, other.Reranker.Endpoint)
	mergeString(&c.Reranker.Model, other.Reranker.Model)
	mergeString(&c.Reranker.Timeout, other.Reranker.Timeout)

	mergeString(&c.Generation.OllamaHost, other.Generation.OllamaHost)
	mergeString(&c.Generation.Model, other.Generation.Model)
	if other.Generation.Temperature != 0 {
		c.Generation.Temperature = other.Generation.Temperature
	}
	mergeString(&c.Generation.Timeout, other.Generation.Timeout)

	mergeString(&c.Transcription.Endpoint, other.Transcription.Endpoint)
	mergeString(&c.Transcription.Model, other.Transcription.Model)
	mergeString(&c.Transcription.Timeout, other.Transcription.Timeout)

	mergeString(&c.Vectors.Backend, other.Vectors.Backend)
	mergeString(&c.Vectors.QdrantHost, other.Vectors.QdrantHost)
	mergeInt(&c.Vectors.QdrantPort, other.Vectors.QdrantPort)
	mergeString(&c.Vectors.QdrantAPIKey, other.Vectors.QdrantAPIKey)
	if other.Vectors.QdrantTLS {
		c.Vectors.QdrantTLS = true
	}
	mergeString(&c.Vectors.CollectionPrefix, other.Vectors.CollectionPrefix)

	mergeString(&c.Server.LogLevel, other.Server.LogLevel)
}

func mergeInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func mergeString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func normalizeExts(exts []string) []string {
	out := make([]string, 0, len(exts))
	for _, e := range exts {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		out = append(out, e)
	}
	return out
}

// applyEnvOverrides applies AMANRAG_* environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("AMANRAG_OLLAMA_HOST"); v != "" {
		c.Embeddings.OllamaHost = v
		c.Generation.OllamaHost = v
	}
	if v := os.Getenv("AMANRAG_EMBEDDINGS_PROVIDER"); v != "" {
		c.Embeddings.Provider = v
	}
	if v := os.Getenv("AMANRAG_EMBEDDINGS_MODEL"); v != "" {
		c.Embeddings.Model = v
	}
	if v := os.Getenv("AMANRAG_GENERATION_MODEL"); v != "" {
		c.Generation.Model = v
	}
	if v := os.Getenv("AMANRAG_RERANKER_PROVIDER"); v != "" {
		c.Reranker.Provider = v
	}
	if v := os.Getenv("AMANRAG_RERANKER_ENDPOINT"); v != "" {
		c.Reranker.Endpoint = v
	}
	if v := os.Getenv("AMANRAG_TRANSCRIPTION_ENDPOINT"); v != "" {
		c.Transcription.Endpoint = v
	}
	if v := os.Getenv("AMANRAG_CACHE_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			c.Cache.Threshold = f
		}
	}
	if v := os.Getenv("AMANRAG_CACHE_DISABLED"); v != "" {
		c.Cache.Disabled = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("AMANRAG_LOAD_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Ingest.LoadConcurrency = n
		}
	}
	if v := os.Getenv("AMANRAG_BUILD_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Ingest.BuildConcurrency = n
		}
	}
	if v := os.Getenv("AMANRAG_VECTORS_BACKEND"); v != "" {
		c.Vectors.Backend = v
	}
	if v := os.Getenv("AMANRAG_QDRANT_HOST"); v != "" {
		c.Vectors.QdrantHost = v
	}
	if v := os.Getenv("AMANRAG_QDRANT_API_KEY"); v != "" {
		c.Vectors.QdrantAPIKey = v
	}
	if v := os.Getenv("AMANRAG_LOG_LEVEL"); v != "" {
		c.Server.LogLevel = v
	}
}

// Validate checks ranges and enumerations.
func (c *Config) Validate() error {
	if c.Ingest.ChunkSize <= 0 {
		return fmt.Errorf("ingest.chunk_size must be positive, got %d", c.Ingest.ChunkSize)
	}
	if c.Ingest.ChunkOverlap < 0 || c.Ingest.ChunkOverlap >= c.Ingest.ChunkSize {
		return fmt.Errorf("ingest.chunk_overlap must be in [0, chunk_size), got %d", c.Ingest.ChunkOverlap)
	}
	if len(c.Ingest.SupportedExts) == 0 {
		return fmt.Errorf("ingest.supported_exts must not be empty")
	}
	if c.Ingest.LoadConcurrency < 1 || c.Ingest.BuildConcurrency < 1 || c.Ingest.Workers < 1 {
		return fmt.Errorf("ingest concurrency limits must be at least 1")
	}
	if _, err := time.ParseDuration(c.Ingest.WatchDebounce); err != nil {
		return fmt.Errorf("ingest.watch_debounce: %w", err)
	}

	if c.Retrieval.RetrieveK < 1 || c.Retrieval.TopK < 1 || c.Retrieval.MinPerFile < 1 {
		return fmt.Errorf("retrieval budgets must be at least 1")
	}

	if c.Cache.Threshold <= 0 || c.Cache.Threshold > 1 {
		return fmt.Errorf("cache.threshold must be in (0, 1], got %g", c.Cache.Threshold)
	}
	if c.Cache.MaxEntries < 0 {
		return fmt.Errorf("cache.max_entries must be non-negative, got %d", c.Cache.MaxEntries)
	}

	switch strings.ToLower(c.Embeddings.Provider) {
	case "", "ollama", "static":
	default:
		return fmt.Errorf("embeddings.provider must be 'ollama', 'static', or empty (auto-detect), got %s", c.Embeddings.Provider)
	}

	switch strings.ToLower(c.Reranker.Provider) {
	case "http", "overlap", "none":
	default:
		return fmt.Errorf("reranker.provider must be 'http', 'overlap', or 'none', got %s", c.Reranker.Provider)
	}

	switch strings.ToLower(c.Vectors.Backend) {
	case "local", "qdrant":
	default:
		return fmt.Errorf("vectors.backend must be 'local' or 'qdrant', got %s", c.Vectors.Backend)
	}
	if c.Vectors.QdrantPort <= 0 || c.Vectors.QdrantPort > 65535 {
		return fmt.Errorf("vectors.qdrant_port out of range: %d", c.Vectors.QdrantPort)
	}

	for name, d := range map[string]string{
		"reranker.timeout":      c.Reranker.Timeout,
		"generation.timeout":    c.Generation.Timeout,
		"transcription.timeout": c.Transcription.Timeout,
	} {
		if _, err := time.ParseDuration(d); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}

	switch strings.ToLower(c.Server.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("server.log_level must be 'debug', 'info', 'warn', or 'error', got %s", c.Server.LogLevel)
	}
	return nil
}

// DataPath resolves the data directory for folder.
func (c *Config) DataPath(folder string) string {
	if filepath.IsAbs(c.Ingest.DataDir) {
		return c.Ingest.DataDir
	}
	return filepath.Join(folder, c.Ingest.DataDir)
}

// Duration parses a validated duration field, falling back to def.
func Duration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
