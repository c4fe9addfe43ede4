package config

import (
	"fmt"
	"net/url"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	// Validate LLM config
	if c.LLM.BaseURL == "" {
		errors = append(errors, ValidationError{
			Field:   "llm.base_url",
			Message: "Ollama base URL is required",
		})
	} else if _, err := url.Parse(c.LLM.BaseURL); err != nil {
		errors = append(errors, ValidationError{
			Field:   "llm.base_url",
			Message: "invalid Ollama base URL",
		})
	}

	if c.LLM.MaxTokens < 1 || c.LLM.MaxTokens > 4096 {
		errors = append(errors, ValidationError{
			Field:   "llm.max_tokens",
			Message: "max_tokens must be between 1 and 4096",
		})
	}

	if c.LLM.Temperature != nil && (*c.LLM.Temperature < 0 || *c.LLM.Temperature > 2) {
		errors = append(errors, ValidationError{
			Field:   "llm.temperature",
			Message: "temperature must be between 0 and 2",
		})
	}

	// Validate Storage config
	switch c.Storage.Backend {
	case "file":
		if c.Storage.DataDir == "" {
			errors = append(errors, ValidationError{
				Field:   "storage.data_dir",
				Message: "data_dir is required for the file backend",
			})
		}
	case "pgvector":
		if c.Storage.URL == "" {
			errors = append(errors, ValidationError{
				Field:   "storage.url",
				Message: "connection URL is required for the pgvector backend",
			})
		} else if _, err := url.Parse(c.Storage.URL); err != nil {
			errors = append(errors, ValidationError{
				Field:   "storage.url",
				Message: "invalid database URL",
			})
		}
		if c.Storage.VectorDim < 1 {
			errors = append(errors, ValidationError{
				Field:   "storage.vector_dim",
				Message: "vector_dim must be positive",
			})
		}
	default:
		errors = append(errors, ValidationError{
			Field:   "storage.backend",
			Message: fmt.Sprintf("unknown backend: %s", c.Storage.Backend),
		})
	}

	// Validate Embedder config
	if c.Embedder.BatchSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "embedder.batch_size",
			Message: "batch_size must be positive",
		})
	}

	if c.Embedder.MaxRetries < 1 {
		errors = append(errors, ValidationError{
			Field:   "embedder.max_retries",
			Message: "max_retries must be positive",
		})
	}

	if c.Embedder.RateLimit <= 0 {
		errors = append(errors, ValidationError{
			Field:   "embedder.rate_limit",
			Message: "rate_limit must be positive",
		})
	}

	// Validate Chunker config
	if c.Chunker.ChunkSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "chunker.chunk_size",
			Message: "chunk_size must be positive",
		})
	}

	overlap := 0
	if c.Chunker.ChunkOverlap != nil {
		overlap = *c.Chunker.ChunkOverlap
	}
	if overlap < 0 || overlap >= c.Chunker.ChunkSize {
		errors = append(errors, ValidationError{
			Field:   "chunker.chunk_overlap",
			Message: "chunk_overlap must be non-negative and less than chunk_size",
		})
	}

	// Validate Query config
	if c.Query.KPerDoc < 1 {
		errors = append(errors, ValidationError{
			Field:   "query.k_per_doc",
			Message: "k_per_doc must be positive",
		})
	}

	if c.Query.KTotal < 1 {
		errors = append(errors, ValidationError{
			Field:   "query.k_total",
			Message: "k_total must be positive",
		})
	}

	if c.Query.ContextBudget < 1 {
		errors = append(errors, ValidationError{
			Field:   "query.context_budget",
			Message: "context_budget must be positive",
		})
	}

	if c.Query.HistoryTurns < 0 {
		errors = append(errors, ValidationError{
			Field:   "query.history_turns",
			Message: "history_turns cannot be negative",
		})
	}

	return errors
}
