package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"

	"notebook/internal/models"
)

// NoContextAnswer is returned without calling the provider when
// retrieval produced no grounding context.
const NoContextAnswer = "I could not find relevant content in the selected documents to answer that question. Try selecting other documents or rephrasing the question."

const defaultSystemTemplate = `Answer the user question using only the context below.
If the context does not contain the answer, say so instead of guessing.
Return the output in CommonMark so it renders cleanly in a Markdown viewer.`

// ChatConfig represents the configuration for the answer synthesizer.
type ChatConfig struct {
	Model          string
	BaseURL        string // Ollama server URL
	Temperature    float64
	MaxTokens      int
	SystemTemplate string
	ContextBudget  int // total characters of passage text in the prompt
	HistoryTurns   int // prior turns included in the prompt
}

// ChatEngine builds a bounded prompt from retrieved passages and calls
// the generation provider once per question.
type ChatEngine struct {
	config ChatConfig
	llm    llms.Model
}

// NewWithConfig creates a new ChatEngine with the given configuration.
func NewWithConfig(config ChatConfig) (*ChatEngine, error) {
	if config.Model == "" {
		config.Model = "mistral"
	}
	if config.Temperature < 0 || config.Temperature > 2 {
		return nil, fmt.Errorf("temperature must be between 0 and 2")
	}
	if config.MaxTokens < 0 {
		return nil, fmt.Errorf("max tokens cannot be negative")
	} else if config.MaxTokens == 0 {
		config.MaxTokens = 2000
	}
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:11434"
	}

	model, err := ollama.New(
		ollama.WithModel(config.Model),
		ollama.WithServerURL(config.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize LLM: %w", err)
	}

	return NewWithModel(config, model), nil
}

// NewWithModel wires an explicit model. Used by NewWithConfig and by tests.
func NewWithModel(config ChatConfig, model llms.Model) *ChatEngine {
	if config.SystemTemplate == "" {
		config.SystemTemplate = defaultSystemTemplate
	}
	if config.ContextBudget <= 0 {
		config.ContextBudget = 6000
	}
	if config.HistoryTurns < 0 {
		config.HistoryTurns = 0
	}

	return &ChatEngine{
		config: config,
		llm:    model,
	}
}

// Answer generates a grounded response. Passages must arrive in
// descending score order; the tail is dropped whole to stay under the
// context budget. With no passages at all the fixed NoContextAnswer is
// returned and the provider is not called.
func (ce *ChatEngine) Answer(ctx context.Context, question string, passages []models.RetrievedPassage, history []models.ConversationTurn) (string, error) {
	if len(passages) == 0 {
		return NoContextAnswer, nil
	}

	system := ce.config.SystemTemplate + "\n\nContext:\n" + ce.buildContext(passages)

	content := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, system),
	}

	for _, turn := range ce.recentHistory(history) {
		content = append(content,
			llms.TextParts(llms.ChatMessageTypeHuman, turn.Question),
			llms.TextParts(llms.ChatMessageTypeAI, turn.Answer))
	}

	content = append(content, llms.TextParts(llms.ChatMessageTypeHuman, question))

	response, err := ce.llm.GenerateContent(ctx, content,
		llms.WithMaxTokens(ce.config.MaxTokens),
		llms.WithTemperature(ce.config.Temperature))
	if err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrGenerationProvider, err)
	}
	if len(response.Choices) == 0 {
		return "", fmt.Errorf("%w: empty response", models.ErrGenerationProvider)
	}

	return response.Choices[0].Content, nil
}

// buildContext concatenates passages in rank order until the character
// budget is spent. Passages are never truncated mid-text; the top
// passage is always included so the prompt is never context-free.
func (ce *ChatEngine) buildContext(passages []models.RetrievedPassage) string {
	var contextBuilder strings.Builder

	for i, passage := range passages {
		entry := fmt.Sprintf("[document %s, page %d]\n%s\n\n",
			passage.DocumentID, passage.SourcePage, passage.Text)

		if i > 0 && contextBuilder.Len()+len(entry) > ce.config.ContextBudget {
			break
		}
		contextBuilder.WriteString(entry)
	}

	return contextBuilder.String()
}

func (ce *ChatEngine) recentHistory(history []models.ConversationTurn) []models.ConversationTurn {
	if ce.config.HistoryTurns == 0 || len(history) == 0 {
		return nil
	}
	if len(history) > ce.config.HistoryTurns {
		return history[len(history)-ce.config.HistoryTurns:]
	}
	return history
}
