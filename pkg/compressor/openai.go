package compressor

import (
	"context"
	"os"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/entrhq/distill/pkg/tokenizer"
	"github.com/entrhq/distill/pkg/types"
)

// OpenAIService implements Service against any OpenAI-compatible chat
// completion API.
type OpenAIService struct {
	client openai.Client
	model  string
	tok    *tokenizer.Tokenizer
}

// ServiceOption configures an OpenAIService.
type ServiceOption func(*serviceConfig)

type serviceConfig struct {
	model   string
	baseURL string
}

// WithModel sets the default model for compression calls.
func WithModel(model string) ServiceOption {
	return func(c *serviceConfig) { c.model = model }
}

// WithBaseURL points the service at a non-default OpenAI-compatible API,
// such as a local model server.
func WithBaseURL(baseURL string) ServiceOption {
	return func(c *serviceConfig) { c.baseURL = baseURL }
}

// NewOpenAIService creates the OpenAI-backed compression service.
//
// If apiKey is empty it falls back to the OPENAI_API_KEY environment
// variable. The default model is gpt-4o-mini.
func NewOpenAIService(apiKey string, opts ...ServiceOption) (*OpenAIService, error) {
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, types.InvalidSettings("OpenAI API key is required (parameter or OPENAI_API_KEY)")
	}

	cfg := serviceConfig{model: "gpt-4o-mini"}
	for _, opt := range opts {
		opt(&cfg)
	}

	clientOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(cfg.baseURL))
	}

	tok, _ := tokenizer.New() // fallback counting is acceptable here

	return &OpenAIService{
		client: openai.NewClient(clientOpts...),
		model:  cfg.model,
		tok:    tok,
	}, nil
}

// Compress implements Service. It is a single blocking completion call;
// there is no streaming and no cancellation beyond ctx.
func (s *OpenAIService) Compress(ctx context.Context, req Request) (*Result, error) {
	model := req.Model
	if model == "" {
		model = s.model
	}

	completion, err := s.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(BuildPrompt(req)),
		},
	})
	if err != nil {
		return nil, types.CompressionFailed(err, "compression service call failed")
	}
	if len(completion.Choices) == 0 {
		return nil, types.CompressionFailed(nil, "compression service returned no choices")
	}

	text := completion.Choices[0].Message.Content
	outputTokens := int(completion.Usage.CompletionTokens)
	if outputTokens == 0 {
		outputTokens = s.tok.CountText(text)
	}

	return &Result{
		Text:           text,
		OutputTokens:   outputTokens,
		OutputMessages: countBlocks(text),
	}, nil
}

// countBlocks approximates the output message count as the number of
// paragraph blocks in the compressed text.
func countBlocks(text string) int {
	count := 0
	for _, block := range strings.Split(text, "\n\n") {
		if strings.TrimSpace(block) != "" {
			count++
		}
	}
	if count == 0 && strings.TrimSpace(text) != "" {
		count = 1
	}
	return count
}
