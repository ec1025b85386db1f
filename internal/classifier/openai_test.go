package classifier

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/rs/zerolog"
)

type scriptedCompletions struct {
	content string
	err     error
	calls   int
}

func (s *scriptedCompletions) New(_ context.Context, _ openai.ChatCompletionNewParams, _ ...option.RequestOption) (*openai.ChatCompletion, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: s.content}},
		},
	}, nil
}

func newTestProvider(t *testing.T, completions chatCompletions, budget *CallBudget) *OpenAIProvider {
	t.Helper()
	return &OpenAIProvider{
		completions: completions,
		model:       defaultOpenAIModel,
		fusionModel: defaultOpenAIModel,
		timeout:     time.Second,
		budget:      budget,
		logger:      zerolog.Nop(),
	}
}

func TestClassifyParsesVerdicts(t *testing.T) {
	t.Parallel()

	completions := &scriptedCompletions{content: `[
		{"record_id":"rec-1","event_key":"abc123"},
		{"record_id":"rec-2","event_key":""}
	]`}
	provider := newTestProvider(t, completions, nil)

	resp, err := provider.Classify(context.Background(), Request{
		Candidates: []Candidate{{RecordID: "rec-1"}, {RecordID: "rec-2"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.Verdicts) != 2 {
		t.Fatalf("expected 2 verdicts, got %d", len(resp.Verdicts))
	}
	if resp.Verdicts[0].EventKey != "abc123" || resp.Verdicts[1].EventKey != "" {
		t.Fatalf("unexpected verdicts: %+v", resp.Verdicts)
	}
}

func TestClassifyToleratesCodeFence(t *testing.T) {
	t.Parallel()

	completions := &scriptedCompletions{content: "```json\n[{\"record_id\":\"rec-1\",\"event_key\":\"k\"}]\n```"}
	provider := newTestProvider(t, completions, nil)

	resp, err := provider.Classify(context.Background(), Request{
		Candidates: []Candidate{{RecordID: "rec-1"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.Verdicts) != 1 || resp.Verdicts[0].EventKey != "k" {
		t.Fatalf("unexpected verdicts: %+v", resp.Verdicts)
	}
}

func TestClassifyTrimsExcessVerdicts(t *testing.T) {
	t.Parallel()

	completions := &scriptedCompletions{content: `[
		{"record_id":"rec-1","event_key":"a"},
		{"record_id":"rec-2","event_key":"b"},
		{"record_id":"ghost","event_key":"c"}
	]`}
	provider := newTestProvider(t, completions, nil)

	resp, err := provider.Classify(context.Background(), Request{
		Candidates: []Candidate{{RecordID: "rec-1"}, {RecordID: "rec-2"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.Verdicts) != 2 {
		t.Fatalf("expected excess verdicts to be trimmed, got %d", len(resp.Verdicts))
	}
}

func TestClassifyTransportErrorIsUnavailable(t *testing.T) {
	t.Parallel()

	completions := &scriptedCompletions{err: fmt.Errorf("connection refused")}
	provider := newTestProvider(t, completions, nil)

	_, err := provider.Classify(context.Background(), Request{
		Candidates: []Candidate{{RecordID: "rec-1"}},
	})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestClassifyMalformedResponseIsUnavailable(t *testing.T) {
	t.Parallel()

	completions := &scriptedCompletions{content: "the records look unrelated to me"}
	provider := newTestProvider(t, completions, nil)

	_, err := provider.Classify(context.Background(), Request{
		Candidates: []Candidate{{RecordID: "rec-1"}},
	})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable for prose response, got %v", err)
	}
}

func TestClassifyRespectsBudget(t *testing.T) {
	t.Parallel()

	completions := &scriptedCompletions{content: `[{"record_id":"rec-1","event_key":""}]`}
	provider := newTestProvider(t, completions, NewCallBudget(1))
	req := Request{Candidates: []Candidate{{RecordID: "rec-1"}}}

	if _, err := provider.Classify(context.Background(), req); err != nil {
		t.Fatalf("first call should be within budget: %v", err)
	}
	_, err := provider.Classify(context.Background(), req)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected budget exhaustion as ErrUnavailable, got %v", err)
	}
	if completions.calls != 1 {
		t.Fatalf("expected no API call after budget exhaustion, got %d calls", completions.calls)
	}
}

func TestClassifyEmptyBatchSkipsCall(t *testing.T) {
	t.Parallel()

	completions := &scriptedCompletions{content: `[]`}
	provider := newTestProvider(t, completions, NewCallBudget(1))

	resp, err := provider.Classify(context.Background(), Request{})
	if err != nil || len(resp.Verdicts) != 0 {
		t.Fatalf("expected empty response without error, got %+v / %v", resp, err)
	}
	if completions.calls != 0 {
		t.Fatalf("empty batch must not consume an API call")
	}
}

func TestFuseNarratives(t *testing.T) {
	t.Parallel()

	completions := &scriptedCompletions{content: "  A climber fell on the north face and was rescued.  "}
	provider := newTestProvider(t, completions, nil)

	resp, err := provider.FuseNarratives(context.Background(), FusionRequest{
		Field:    "summary_text",
		Variants: []string{"A climber fell.", "A climber was rescued on the north face."},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text != "A climber fell on the north face and was rescued." {
		t.Fatalf("unexpected fused text: %q", resp.Text)
	}
}

func TestRegistryFallsBackToDisabled(t *testing.T) {
	t.Parallel()

	registry := NewRegistry("")
	if err := registry.Register(disabledProvider{}); err != nil {
		t.Fatalf("register disabled provider: %v", err)
	}

	provider, err := registry.Provider("")
	if err == nil {
		// Default name "openai" is unregistered here; the registry from
		// config would have rewritten the default, plain NewRegistry does
		// not.
		t.Fatalf("expected unknown default provider error, got %v", provider.Name())
	}

	provider, err = registry.Provider(DisabledProviderName)
	if err != nil {
		t.Fatalf("resolve disabled provider: %v", err)
	}
	if _, err := provider.Classify(context.Background(), Request{Candidates: []Candidate{{RecordID: "r"}}}); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected disabled provider to report ErrUnavailable, got %v", err)
	}
}
