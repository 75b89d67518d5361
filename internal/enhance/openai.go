package enhance

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/dusk-indust/legacylens/internal/orchestrator"
)

const (
	defaultModel        = "gpt-4o-mini"
	defaultSystemPrompt = "You are a mainframe modernization assistant. Explain legacy COBOL, JCL and HLASM programs, " +
		"their risks and a safe modernization path. Be concise and concrete."
)

// OpenAIConfig configures OpenAIEnhancer.
type OpenAIConfig struct {
	APIKey       string
	BaseURL      string
	Model        string
	SystemPrompt string
	MaxTokens    int
	Temperature  float32
	// RequestsPerMinute caps the call rate; zero means unlimited.
	RequestsPerMinute int
	Logger            *slog.Logger
}

// OpenAIEnhancer generates content with an OpenAI compatible chat
// completion endpoint.
type OpenAIEnhancer struct {
	client  *openai.Client
	cfg     OpenAIConfig
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewOpenAIEnhancer builds an enhancer. The API key falls back to the
// OPENAI_API_KEY environment variable.
func NewOpenAIEnhancer(cfg OpenAIConfig) (*OpenAIEnhancer, error) {
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.APIKey == "" {
		return nil, &EnhancementError{Provider: "openai", Message: "no API key configured"}
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = defaultSystemPrompt
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 1)
	}

	logger.Info("initializing OpenAI enhancer", "model", cfg.Model)
	return &OpenAIEnhancer{
		client:  openai.NewClientWithConfig(clientCfg),
		cfg:     cfg,
		limiter: limiter,
		logger:  logger,
	}, nil
}

// Model returns the configured model name.
func (o *OpenAIEnhancer) Model() string { return o.cfg.Model }

func (o *OpenAIEnhancer) Enhance(ctx context.Context, content string, tc orchestrator.TaskContext) (*Enhanced, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrNoContent
	}
	if err := o.limiter.Wait(ctx); err != nil {
		return nil, &EnhancementError{Provider: "openai", Message: "rate limit wait", Err: err}
	}

	req := openai.ChatCompletionRequest{
		Model: o.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: o.cfg.SystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: content},
		},
		Temperature: o.cfg.Temperature,
	}
	if o.cfg.MaxTokens > 0 {
		req.MaxCompletionTokens = o.cfg.MaxTokens
	}

	o.logger.Debug("requesting completion", "task_id", tc.TaskID, "model", o.cfg.Model)
	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		o.logger.Warn("completion failed", "task_id", tc.TaskID, "error", err)
		return nil, &EnhancementError{Provider: "openai", Message: "chat completion", Err: err}
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return nil, &EnhancementError{Provider: "openai", Message: "no choices returned"}
	}

	model := resp.Model
	if model == "" {
		model = o.cfg.Model
	}
	o.logger.Debug("completion received", "task_id", tc.TaskID, "finish_reason", resp.Choices[0].FinishReason)
	return &Enhanced{Content: resp.Choices[0].Message.Content, Model: model}, nil
}
