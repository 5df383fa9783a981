package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"

	"github.com/qs3c/visibility_server/config"
	"github.com/qs3c/visibility_server/internal/model"
	"github.com/qs3c/visibility_server/internal/pkg/resilience"
	"github.com/qs3c/visibility_server/internal/tracking"
)

var ErrAPIKeyNotSet = errors.New("openai api key not set: please set OPENAI_API_KEY")

const promptSystemTemplate = `You are an expert at generating realistic search prompts that users would ask AI assistants when looking for products or services in a specific category.

Generate %d diverse, natural prompts that someone might ask when researching "%s".

Requirements:
- Mix different intent types: comparison, recommendation, problem-solving, feature-specific
- Vary prompt length (15-30 words)
- Include context (team size, use case, constraints)
- Make them conversational and realistic
- Cover different angles: pricing, features, integrations, ease of use, etc.

Return ONLY a JSON array of strings (the prompts), nothing else.`

const querySystemPrompt = `You are a helpful AI assistant that provides comprehensive, unbiased recommendations.
When discussing products or services, naturally mention specific brand names when relevant.
Provide detailed comparisons and explain why you recommend certain options.
Include specific URLs or documentation links when mentioning brands (you can use placeholder URLs).`

// Client OpenAI 实现的 PromptSource 和 ExternalQuery；重试由 resilience.Executor 负责
type Client struct {
	client      openai.Client
	model       string
	promptModel string
	maxTokens   int64
	temperature float64
}

func NewClient(cfg *config.OpenAIConfig, opts ...option.RequestOption) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, ErrAPIKeyNotSet
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	reqOpts = append(reqOpts, opts...)

	promptModel := cfg.PromptModel
	if promptModel == "" {
		promptModel = cfg.Model
	}

	return &Client{
		client:      openai.NewClient(reqOpts...),
		model:       cfg.Model,
		promptModel: promptModel,
		maxTokens:   int64(cfg.MaxTokens),
		temperature: cfg.Temperature,
	}, nil
}

// GeneratePrompts 让模型生成 count 条提示词
func (c *Client) GeneratePrompts(ctx context.Context, category string, count int) ([]string, error) {
	content, err := c.complete(ctx, c.promptModel, 0.8,
		fmt.Sprintf(promptSystemTemplate, count, category),
		fmt.Sprintf("Generate %d prompts for category: %s", count, category))
	if err != nil {
		return nil, err
	}

	var prompts []string
	if err := json.Unmarshal([]byte(stripCodeFence(content)), &prompts); err != nil {
		return nil, fmt.Errorf("invalid prompt list: %w", err)
	}
	return prompts, nil
}

// Ask 执行一次查询并分析回答中的实体
func (c *Client) Ask(ctx context.Context, req tracking.QueryRequest) (*model.QueryResult, error) {
	prompt := FramePrompt(req.Prompt, req.Mode, req.Competitors)

	answer, err := c.complete(ctx, c.model, c.temperature, querySystemPrompt, prompt)
	if err != nil {
		return nil, err
	}

	return &model.QueryResult{
		Prompt:   prompt,
		Response: answer,
		Mentions: AnalyzeMentions(answer, req.Entities),
	}, nil
}

// FramePrompt 竞品模式下以第一个竞品员工的视角提问
func FramePrompt(prompt, mode string, competitors []string) string {
	if mode == model.ModeCompetitor && len(competitors) > 0 {
		return fmt.Sprintf("From the perspective of someone who works at %s, %s", competitors[0], prompt)
	}
	return prompt
}

func (c *Client) complete(ctx context.Context, modelName string, temperature float64, system, user string) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model: shared.ChatModel(modelName),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
		Temperature: openai.Float(temperature),
	}
	if c.maxTokens > 0 {
		params.MaxTokens = openai.Int(c.maxTokens)
	}

	completion, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", classify(ctx, err)
	}
	if len(completion.Choices) == 0 {
		return "", resilience.Transient(errors.New("no completion choices returned"))
	}
	return completion.Choices[0].Message.Content, nil
}

// classify 把 SDK 错误映射为带分类的错误
func classify(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return resilience.FromStatus(apiErr.StatusCode, fmt.Errorf("openai api call failed: %w", err))
	}
	return resilience.Transient(fmt.Errorf("openai api call failed: %w", err))
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
