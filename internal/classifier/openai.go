package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"github.com/rs/zerolog"
)

const (
	// OpenAIProviderName identifies the OpenAI-backed provider.
	OpenAIProviderName = "openai"

	defaultOpenAIModel   = "gpt-5-mini"
	defaultOpenAITimeout = 45 * time.Second
)

const clusterSystemPrompt = `You cluster mountain-accident reports. Each candidate record describes one accident extracted from one published source. Decide for every candidate whether it describes the same real-world accident as one of the known events.

Respond with a JSON array only, no prose. One object per candidate, in the candidate order given:
  {"record_id": "<candidate record_id>", "event_key": "<matching event_key or empty string>"}

Use an empty event_key when the candidate matches none of the known events. Match on date, mountain or region, activity and the described circumstances. When unsure, prefer the empty event_key.`

const fusionSystemPrompt = `You merge conflicting narrative descriptions of the same mountain accident into one coherent text. The variants come from independent sources describing one accident. Write a single merged narrative that keeps every verifiable fact, drops duplicated sentences and resolves contradictions in favor of the more specific variant. Respond with the merged text only, no prose around it.`

// OpenAIConfig configures the OpenAI-backed provider.
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	FusionModel string
	Timeout     time.Duration
}

type chatCompletions interface {
	New(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// OpenAIProvider issues clustering verdicts and narrative fusion through
// the OpenAI chat completions API. Every call consumes one budget slot.
type OpenAIProvider struct {
	completions chatCompletions
	model       string
	fusionModel string
	timeout     time.Duration
	budget      *CallBudget
	logger      zerolog.Logger
}

func NewOpenAIProvider(cfg OpenAIConfig, budget *CallBudget, logger zerolog.Logger) (*OpenAIProvider, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}

	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimSpace(cfg.BaseURL)))
	}
	client := openai.NewClient(opts...)

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultOpenAIModel
	}
	fusionModel := strings.TrimSpace(cfg.FusionModel)
	if fusionModel == "" {
		fusionModel = model
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultOpenAITimeout
	}

	return &OpenAIProvider{
		completions: &client.Chat.Completions,
		model:       model,
		fusionModel: fusionModel,
		timeout:     timeout,
		budget:      budget,
		logger:      logger,
	}, nil
}

func (p *OpenAIProvider) Name() string { return OpenAIProviderName }

// Classify asks for one verdict per candidate. Partial responses are
// passed through; the caller treats missing tail verdicts as unanswered.
func (p *OpenAIProvider) Classify(ctx context.Context, req Request) (*Response, error) {
	if len(req.Candidates) == 0 {
		return &Response{}, nil
	}
	if !p.budget.Acquire() {
		return nil, fmt.Errorf("classifier call budget exhausted: %w", ErrUnavailable)
	}

	userPayload, err := json.Marshal(map[string]any{
		"candidates":   req.Candidates,
		"known_events": req.KnownEvents,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal classify request: %w", ErrUnavailable)
	}

	content, err := p.complete(ctx, p.model, clusterSystemPrompt, string(userPayload))
	if err != nil {
		return nil, err
	}

	verdicts, err := parseVerdicts(content)
	if err != nil {
		p.logger.Warn().Err(err).Msg("classifier response did not parse")
		return nil, fmt.Errorf("parse classifier response: %w", ErrUnavailable)
	}

	if len(verdicts) > len(req.Candidates) {
		verdicts = verdicts[:len(req.Candidates)]
	}
	return &Response{Verdicts: verdicts}, nil
}

// FuseNarratives merges conflicting narrative variants into one text.
func (p *OpenAIProvider) FuseNarratives(ctx context.Context, req FusionRequest) (*FusionResponse, error) {
	if len(req.Variants) == 0 {
		return nil, fmt.Errorf("no variants to fuse: %w", ErrUnavailable)
	}
	if !p.budget.Acquire() {
		return nil, fmt.Errorf("classifier call budget exhausted: %w", ErrUnavailable)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Field: %s\n", req.Field)
	for i, variant := range req.Variants {
		fmt.Fprintf(&b, "\nVariant %d:\n%s\n", i+1, variant)
	}

	content, err := p.complete(ctx, p.fusionModel, fusionSystemPrompt, b.String())
	if err != nil {
		return nil, err
	}

	text := strings.TrimSpace(content)
	if text == "" {
		return nil, fmt.Errorf("empty fusion response: %w", ErrUnavailable)
	}
	return &FusionResponse{Text: text}, nil
}

func (p *OpenAIProvider) complete(ctx context.Context, model, system, user string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	completion, err := p.completions.New(callCtx, openai.ChatCompletionNewParams{
		Model: shared.ChatModel(model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
	})
	if err != nil {
		p.logger.Warn().Err(err).Str("model", model).Msg("openai call failed")
		return "", fmt.Errorf("openai call failed: %w", ErrUnavailable)
	}
	if completion == nil || len(completion.Choices) == 0 {
		return "", fmt.Errorf("openai returned no choices: %w", ErrUnavailable)
	}
	return completion.Choices[0].Message.Content, nil
}

func parseVerdicts(content string) ([]Verdict, error) {
	payload := strings.TrimSpace(stripCodeFence(content))
	if payload == "" {
		return nil, fmt.Errorf("response is empty")
	}

	var verdicts []Verdict
	if err := json.Unmarshal([]byte(payload), &verdicts); err != nil {
		return nil, fmt.Errorf("decode verdict array: %w", err)
	}
	return verdicts, nil
}

// stripCodeFence tolerates models that wrap JSON in a markdown fence.
func stripCodeFence(content string) string {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}

	trimmed = strings.TrimPrefix(trimmed, "```")
	if newline := strings.IndexByte(trimmed, '\n'); newline >= 0 {
		first := strings.TrimSpace(trimmed[:newline])
		if first == "json" || first == "" {
			trimmed = trimmed[newline+1:]
		}
	}
	return strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
}
