package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/haasonsaas/maestro/pkg/models"
)

// fakeModel replays scripted deltas.
type fakeModel struct {
	deltas []Delta
}

func (f *fakeModel) Invoke(ctx context.Context, messages []models.Message) (*Response, error) {
	return collect(ctx, f, messages)
}

func (f *fakeModel) Stream(ctx context.Context, messages []models.Message) (<-chan Delta, error) {
	out := make(chan Delta)
	go func() {
		defer close(out)
		for _, d := range f.deltas {
			select {
			case <-ctx.Done():
				out <- Delta{Err: ctx.Err()}
				return
			case out <- d:
			}
		}
	}()
	return out, nil
}

func (f *fakeModel) BindTools(tools []ToolSpec) ChatModel { return f }
func (f *fakeModel) WithStructuredOutput(schema map[string]any) (ChatModel, error) {
	return f, nil
}
func (f *fakeModel) Name() string { return "fake" }

func TestCollectFoldsDeltas(t *testing.T) {
	model := &fakeModel{deltas: []Delta{
		{Content: "hel"},
		{Reasoning: "thinking"},
		{Content: "lo"},
		{ToolCalls: []models.ToolCall{{ID: "1", Name: "echo", Input: []byte(`{}`)}}},
		{Usage: &models.Usage{InputTokens: 7, OutputTokens: 3, TotalTokens: 10}},
	}}

	resp, err := model.Invoke(context.Background(), []models.Message{models.HumanMessage("hi")})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if resp.Content != "hello" {
		t.Errorf("content = %q, want %q", resp.Content, "hello")
	}
	if resp.Reasoning != "thinking" {
		t.Errorf("reasoning = %q", resp.Reasoning)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Name != "echo" {
		t.Errorf("tool calls = %+v", resp.ToolCalls)
	}
	if resp.Usage == nil || resp.Usage.TotalTokens != 10 {
		t.Errorf("usage = %+v", resp.Usage)
	}
}

func TestCollectSurfacesDeltaError(t *testing.T) {
	wantErr := errors.New("boom")
	model := &fakeModel{deltas: []Delta{{Content: "partial"}, {Err: wantErr}}}

	_, err := model.Invoke(context.Background(), nil)
	if !errors.Is(err, wantErr) {
		t.Fatalf("Invoke error = %v, want %v", err, wantErr)
	}
}

func TestSplitSystemJoinsWithBlankLine(t *testing.T) {
	system, rest := splitSystem([]models.Message{
		models.SystemMessage("first"),
		models.HumanMessage("hi"),
		models.SystemMessage("second"),
	})
	if system != "first\n\nsecond" {
		t.Errorf("system = %q", system)
	}
	if len(rest) != 1 || rest[0].Role != models.RoleHuman {
		t.Errorf("rest = %+v", rest)
	}
}

func TestIsRetryable(t *testing.T) {
	if !isRetryable(errors.New("429 rate limit exceeded")) {
		t.Error("rate limit should be retryable")
	}
	if !isRetryable(errors.New("server returned 503")) {
		t.Error("5xx should be retryable")
	}
	if isRetryable(errors.New("invalid api key")) {
		t.Error("auth failure should not be retryable")
	}
	if isRetryable(nil) {
		t.Error("nil should not be retryable")
	}
}
