package provider

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/yerroong/lg-chatbot/internal/log"
)

// OpenAIConfig holds the generation parameters for the OpenAI backend.
type OpenAIConfig struct {
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
}

// OpenAI streams chat completions from the OpenAI API. The client is built
// once at construction; a missing API key fails here rather than on the first
// user message.
type OpenAI struct {
	client openai.Client
	cfg    OpenAIConfig
	logger log.Logger
}

// NewOpenAI creates an OpenAI streamer from explicit configuration.
func NewOpenAI(cfg OpenAIConfig, logger log.Logger) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai provider: API key is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("openai provider: model is required")
	}
	if logger == nil {
		logger = log.NewNop()
	}

	return &OpenAI{
		client: openai.NewClient(option.WithAPIKey(cfg.APIKey)),
		cfg:    cfg,
		logger: logger,
	}, nil
}

// StreamCompletion implements Streamer over the chat completions streaming
// endpoint.
func (o *OpenAI) StreamCompletion(ctx context.Context, messages []Message, fn func(chunk string) error) error {
	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(o.cfg.Model),
		Messages:    toParams(messages),
		Temperature: openai.Float(o.cfg.Temperature),
	}
	if o.cfg.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(o.cfg.MaxTokens))
	}

	stream := o.client.Chat.Completions.NewStreaming(ctx, params)
	defer func() { _ = stream.Close() }()

	var chunks int
	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		content := chunk.Choices[0].Delta.Content
		if content == "" {
			continue
		}
		chunks++
		if err := fn(content); err != nil {
			return err
		}
	}
	if err := stream.Err(); err != nil {
		return fmt.Errorf("streaming completion: %w", err)
	}

	o.logger.Debug("completion stream finished", "model", o.cfg.Model, "chunks", chunks)
	return nil
}

func toParams(messages []Message) []openai.ChatCompletionMessageParamUnion {
	params := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			params = append(params, openai.SystemMessage(m.Content))
		case RoleAssistant:
			params = append(params, openai.AssistantMessage(m.Content))
		default:
			params = append(params, openai.UserMessage(m.Content))
		}
	}
	return params
}
