package assistant

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAI is a Backend on the OpenAI Assistants API.
type OpenAI struct {
	client      *openai.Client
	assistantID string
}

// OpenAIOpts holds parameters for creating an OpenAI backend.
type OpenAIOpts struct {
	APIKey      string
	AssistantID string
	BaseURL     string            // optional; for proxies and tests
	Timeout     time.Duration     // per HTTP request; defaults to 30s
	Transport   http.RoundTripper // defaults to http.DefaultTransport
}

// NewOpenAI creates an OpenAI backend whose HTTP client retries transient
// transport failures once.
func NewOpenAI(opts OpenAIOpts) (*OpenAI, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("assistant: openai: api key is required")
	}
	if opts.AssistantID == "" {
		return nil, fmt.Errorf("assistant: openai: assistant id is required")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	}
	cfg.HTTPClient = &http.Client{
		Timeout:   timeout,
		Transport: NewRetryTransport(opts.Transport),
	}
	return &OpenAI{
		client:      openai.NewClientWithConfig(cfg),
		assistantID: opts.AssistantID,
	}, nil
}

func (o *OpenAI) CreateThread(ctx context.Context) (string, error) {
	th, err := o.client.CreateThread(ctx, openai.ThreadRequest{})
	if err != nil {
		return "", fmt.Errorf("assistant: create thread: %w", err)
	}
	return th.ID, nil
}

// DeleteThread treats an already-missing thread as deleted.
func (o *OpenAI) DeleteThread(ctx context.Context, threadID string) error {
	_, err := o.client.DeleteThread(ctx, threadID)
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("assistant: delete thread %s: %w", threadID, err)
	}
	return nil
}

func (o *OpenAI) AddMessage(ctx context.Context, threadID, role, content string) error {
	_, err := o.client.CreateMessage(ctx, threadID, openai.MessageRequest{
		Role:    role,
		Content: content,
	})
	if err != nil {
		return fmt.Errorf("assistant: add message to %s: %w", threadID, err)
	}
	return nil
}

func (o *OpenAI) StartRun(ctx context.Context, threadID string, tools []ToolSpec) (Run, error) {
	req := openai.RunRequest{AssistantID: o.assistantID}
	for _, t := range tools {
		req.Tools = append(req.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	run, err := o.client.CreateRun(ctx, threadID, req)
	if err != nil {
		return Run{}, fmt.Errorf("assistant: start run on %s: %w", threadID, err)
	}
	return fromOpenAIRun(run), nil
}

func (o *OpenAI) GetRun(ctx context.Context, threadID, runID string) (Run, error) {
	run, err := o.client.RetrieveRun(ctx, threadID, runID)
	if err != nil {
		return Run{}, fmt.Errorf("assistant: get run %s: %w", runID, err)
	}
	return fromOpenAIRun(run), nil
}

func (o *OpenAI) SubmitToolOutputs(ctx context.Context, threadID, runID string, outputs []ToolOutput) (Run, error) {
	req := openai.SubmitToolOutputsRequest{}
	for _, out := range outputs {
		req.ToolOutputs = append(req.ToolOutputs, openai.ToolOutput{
			ToolCallID: out.ToolCallID,
			Output:     out.Output,
		})
	}
	run, err := o.client.SubmitToolOutputs(ctx, threadID, runID, req)
	if err != nil {
		return Run{}, fmt.Errorf("assistant: submit tool outputs for %s: %w", runID, err)
	}
	return fromOpenAIRun(run), nil
}

func (o *OpenAI) CancelRun(ctx context.Context, threadID, runID string) error {
	if _, err := o.client.CancelRun(ctx, threadID, runID); err != nil {
		return fmt.Errorf("assistant: cancel run %s: %w", runID, err)
	}
	return nil
}

func (o *OpenAI) ListMessages(ctx context.Context, threadID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 10
	}
	order := "desc"
	list, err := o.client.ListMessage(ctx, threadID, &limit, &order, nil, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("assistant: list messages of %s: %w", threadID, err)
	}
	msgs := make([]Message, 0, len(list.Messages))
	for _, m := range list.Messages {
		msgs = append(msgs, fromOpenAIMessage(m))
	}
	return msgs, nil
}

func fromOpenAIRun(r openai.Run) Run {
	run := Run{
		ID:       r.ID,
		ThreadID: r.ThreadID,
		Status:   RunStatus(r.Status),
	}
	if r.RequiredAction != nil && r.RequiredAction.SubmitToolOutputs != nil {
		for _, tc := range r.RequiredAction.SubmitToolOutputs.ToolCalls {
			run.ToolCalls = append(run.ToolCalls, ToolCall{
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			})
		}
	}
	if r.LastError != nil {
		run.LastError = fmt.Sprintf("%s: %s", r.LastError.Code, r.LastError.Message)
	}
	return run
}

func fromOpenAIMessage(m openai.Message) Message {
	msg := Message{
		ID:        m.ID,
		Role:      m.Role,
		CreatedAt: time.Unix(int64(m.CreatedAt), 0),
	}
	if m.RunID != nil {
		msg.RunID = *m.RunID
	}
	var parts []string
	for _, c := range m.Content {
		if c.Type == "text" && c.Text != nil {
			parts = append(parts, c.Text.Value)
		}
	}
	msg.Text = strings.Join(parts, "\n")
	return msg
}

func isNotFound(err error) bool {
	var apiErr *openai.APIError
	return errors.As(err, &apiErr) && apiErr.HTTPStatusCode == http.StatusNotFound
}
