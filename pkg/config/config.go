package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

type Config struct {
	// Temperature and ChunkOverlap are pointers because zero is a legal
	// explicit setting; only a missing key falls back to the default.
	LLM struct {
		BaseURL     string   `yaml:"base_url"`
		Model       string   `yaml:"model"`
		EmbedModel  string   `yaml:"embed_model"`
		MaxTokens   int      `yaml:"max_tokens"`
		Temperature *float64 `yaml:"temperature"`
	} `yaml:"llm"`

	Storage struct {
		Backend   string `yaml:"backend"` // "file" or "pgvector"
		DataDir   string `yaml:"data_dir"`
		URL       string `yaml:"url"`
		TableName string `yaml:"table_name"`
		VectorDim int    `yaml:"vector_dim"`
	} `yaml:"storage"`

	Embedder struct {
		BatchSize  int     `yaml:"batch_size"`
		MaxRetries int     `yaml:"max_retries"`
		RateLimit  float64 `yaml:"rate_limit"`
	} `yaml:"embedder"`

	Chunker struct {
		ChunkSize    int  `yaml:"chunk_size"`
		ChunkOverlap *int `yaml:"chunk_overlap"`
	} `yaml:"chunker"`

	Query struct {
		KPerDoc       int `yaml:"k_per_doc"`
		KTotal        int `yaml:"k_total"`
		ContextBudget int `yaml:"context_budget"`
		HistoryTurns  int `yaml:"history_turns"`
	} `yaml:"query"`

	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`
}

func LoadConfig(path string) (*Config, error) {
	// If no path provided, try default locations
	if path == "" {
		locations := []string{
			"config.yaml",
			"config.yml",
			filepath.Join(os.Getenv("HOME"), ".config/notebook/config.yaml"),
			"/etc/notebook/config.yaml",
		}

		for _, loc := range locations {
			if _, err := os.Stat(loc); err == nil {
				path = loc
				break
			}
		}
	}

	if path == "" {
		return getDefaultConfig()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %v", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %v", err)
	}

	// Merge with environment variables
	mergeWithEnv(&config)

	// Apply defaults for unset values
	applyDefaults(&config)

	return &config, nil
}

func getDefaultConfig() (*Config, error) {
	config := &Config{}
	mergeWithEnv(config)
	applyDefaults(config)
	return config, nil
}

func applyDefaults(config *Config) {
	if config.LLM.Model == "" {
		config.LLM.Model = "mistral"
	}
	if config.LLM.EmbedModel == "" {
		config.LLM.EmbedModel = "nomic-embed-text:latest"
	}
	if config.LLM.MaxTokens == 0 {
		config.LLM.MaxTokens = 2000
	}
	if config.LLM.Temperature == nil {
		temperature := 0.2
		config.LLM.Temperature = &temperature
	}
	if config.LLM.BaseURL == "" {
		config.LLM.BaseURL = "http://localhost:11434"
	}

	if config.Storage.Backend == "" {
		config.Storage.Backend = "file"
	}
	if config.Storage.DataDir == "" {
		config.Storage.DataDir = "data"
	}
	if config.Storage.TableName == "" {
		config.Storage.TableName = "chunks"
	}
	if config.Storage.VectorDim == 0 {
		config.Storage.VectorDim = 768
	}

	if config.Embedder.BatchSize == 0 {
		config.Embedder.BatchSize = 32
	}
	if config.Embedder.MaxRetries == 0 {
		config.Embedder.MaxRetries = 3
	}
	if config.Embedder.RateLimit == 0 {
		config.Embedder.RateLimit = 2.0
	}

	if config.Chunker.ChunkSize == 0 {
		config.Chunker.ChunkSize = 1000
	}
	if config.Chunker.ChunkOverlap == nil {
		overlap := 200
		config.Chunker.ChunkOverlap = &overlap
	}

	if config.Query.KPerDoc == 0 {
		config.Query.KPerDoc = 4
	}
	if config.Query.KTotal == 0 {
		config.Query.KTotal = 8
	}
	if config.Query.ContextBudget == 0 {
		config.Query.ContextBudget = 6000
	}
	if config.Query.HistoryTurns == 0 {
		config.Query.HistoryTurns = 4
	}

	if config.Server.Addr == "" {
		config.Server.Addr = ":8080"
	}
}

func mergeWithEnv(config *Config) {
	if baseURL := os.Getenv("OLLAMA_BASE_URL"); baseURL != "" {
		config.LLM.BaseURL = baseURL
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		config.Storage.URL = dbURL
	}
	if dataDir := os.Getenv("NOTEBOOK_DATA_DIR"); dataDir != "" {
		config.Storage.DataDir = dataDir
	}
}
