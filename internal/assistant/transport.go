package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/ashita-ai/kohai/internal/retry"
)

// Transport is the set of remote calls the engine needs. Implementations
// return *APIError for rejections, wrap ErrMalformedResponse for responses
// missing required fields and pass context errors through unchanged.
type Transport interface {
	ListAssistants(ctx context.Context, after string) (AssistantPage, error)
	CreateAssistant(ctx context.Context, spec AssistantSpec) (Assistant, error)
	CreateThread(ctx context.Context, metadata map[string]string) (string, error)
	DeleteThread(ctx context.Context, threadID string) error
	CreateMessage(ctx context.Context, threadID string, msg Message) error
	ListMessages(ctx context.Context, threadID string, order Order, limit int, after string) (MessagePage, error)
	CreateRun(ctx context.Context, threadID, assistantID string, metadata map[string]string) (Run, error)
	RetrieveRun(ctx context.Context, threadID, runID string) (Run, error)
	CancelRun(ctx context.Context, threadID, runID string) error
	SubmitToolOutputs(ctx context.Context, threadID, runID string, outputs []ToolOutput) error
}

const (
	defaultRequestTimeout = 30 * time.Second
	defaultMaxRetries     = 3
	retryBaseDelay        = 250 * time.Millisecond
	listPageSize          = 100
)

// TransportConfig holds the settings for OpenAITransport.
type TransportConfig struct {
	APIKey  string
	BaseURL string // empty uses the public endpoint

	// HTTPClient overrides the instrumented default client.
	HTTPClient *http.Client
	Timeout    time.Duration

	// MaxRetries bounds retries of list reads on 429 and 5xx. Run status
	// fetches are not retried here; the poll loop counts each one.
	// Zero uses the default; negative disables retries.
	MaxRetries int
}

// OpenAITransport talks to the OpenAI Assistants v2 API.
type OpenAITransport struct {
	client     *openai.Client
	maxRetries int
}

// NewOpenAITransport creates a transport. The API key is required.
func NewOpenAITransport(cfg TransportConfig) (*OpenAITransport, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrNotConfigured
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultRequestTimeout
		}
		httpClient = &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	oc.HTTPClient = httpClient

	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	} else if maxRetries == 0 {
		maxRetries = defaultMaxRetries
	}

	return &OpenAITransport{
		client:     openai.NewClientWithConfig(oc),
		maxRetries: maxRetries,
	}, nil
}

func (t *OpenAITransport) ListAssistants(ctx context.Context, after string) (AssistantPage, error) {
	limit := listPageSize
	order := "desc"
	var afterPtr *string
	if after != "" {
		afterPtr = &after
	}

	var list openai.AssistantsList
	err := retry.Do(ctx, t.maxRetries, retryBaseDelay, isRetriable, func() error {
		var err error
		list, err = t.client.ListAssistants(ctx, &limit, &order, afterPtr, nil)
		return convertError("list assistants", err)
	})
	if err != nil {
		return AssistantPage{}, err
	}
	if list.Assistants == nil {
		return AssistantPage{}, fmt.Errorf("assistant: list assistants: %w: missing data", ErrMalformedResponse)
	}

	page := AssistantPage{HasMore: list.HasMore}
	for _, a := range list.Assistants {
		page.Assistants = append(page.Assistants, Assistant{ID: a.ID, Name: deref(a.Name), Model: a.Model})
	}
	if list.LastID != nil {
		page.LastID = *list.LastID
	}
	return page, nil
}

func (t *OpenAITransport) CreateAssistant(ctx context.Context, spec AssistantSpec) (Assistant, error) {
	req := openai.AssistantRequest{
		Model:    spec.Model,
		Name:     &spec.Name,
		Metadata: anyMap(spec.Metadata),
	}
	if spec.Instructions != "" {
		req.Instructions = &spec.Instructions
	}
	a, err := t.client.CreateAssistant(ctx, req)
	if err != nil {
		return Assistant{}, convertError("create assistant", err)
	}
	if a.ID == "" {
		return Assistant{}, fmt.Errorf("assistant: create assistant: %w: missing id", ErrMalformedResponse)
	}
	name := deref(a.Name)
	if name == "" {
		name = spec.Name
	}
	return Assistant{ID: a.ID, Name: name, Model: a.Model}, nil
}

func (t *OpenAITransport) CreateThread(ctx context.Context, metadata map[string]string) (string, error) {
	th, err := t.client.CreateThread(ctx, openai.ThreadRequest{Metadata: anyMap(metadata)})
	if err != nil {
		return "", convertError("create thread", err)
	}
	if th.ID == "" {
		return "", fmt.Errorf("assistant: create thread: %w: missing id", ErrMalformedResponse)
	}
	return th.ID, nil
}

func (t *OpenAITransport) DeleteThread(ctx context.Context, threadID string) error {
	_, err := t.client.DeleteThread(ctx, threadID)
	return convertError("delete thread", err)
}

func (t *OpenAITransport) CreateMessage(ctx context.Context, threadID string, msg Message) error {
	m, err := t.client.CreateMessage(ctx, threadID, openai.MessageRequest{
		Role:    string(msg.Role),
		Content: msg.Content,
	})
	if err != nil {
		return convertError("create message", err)
	}
	if m.ID == "" {
		return fmt.Errorf("assistant: create message: %w: missing id", ErrMalformedResponse)
	}
	return nil
}

func (t *OpenAITransport) ListMessages(ctx context.Context, threadID string, order Order, limit int, after string) (MessagePage, error) {
	if limit <= 0 {
		limit = listPageSize
	}
	ord := string(order)
	if ord == "" {
		ord = string(OrderNewestFirst)
	}
	var afterPtr *string
	if after != "" {
		afterPtr = &after
	}

	var list openai.MessagesList
	err := retry.Do(ctx, t.maxRetries, retryBaseDelay, isRetriable, func() error {
		var err error
		list, err = t.client.ListMessage(ctx, threadID, &limit, &ord, afterPtr, nil, nil)
		return convertError("list messages", err)
	})
	if err != nil {
		return MessagePage{}, err
	}
	if list.Messages == nil {
		return MessagePage{}, fmt.Errorf("assistant: list messages: %w: missing data", ErrMalformedResponse)
	}

	page := MessagePage{HasMore: list.HasMore}
	for _, m := range list.Messages {
		tm := ThreadMessage{ID: m.ID, Role: Role(m.Role)}
		for _, c := range m.Content {
			if c.Type == "text" && c.Text != nil {
				tm.Content = c.Text.Value
				tm.HasText = true
				break
			}
		}
		page.Messages = append(page.Messages, tm)
	}
	if list.LastID != nil {
		page.LastID = *list.LastID
	}
	return page, nil
}

func (t *OpenAITransport) CreateRun(ctx context.Context, threadID, assistantID string, metadata map[string]string) (Run, error) {
	r, err := t.client.CreateRun(ctx, threadID, openai.RunRequest{
		AssistantID: assistantID,
		Metadata:    anyMap(metadata),
	})
	if err != nil {
		return Run{}, convertError("create run", err)
	}
	if r.ID == "" {
		return Run{}, fmt.Errorf("assistant: create run: %w: missing id", ErrMalformedResponse)
	}
	return runFromOpenAI(r), nil
}

func (t *OpenAITransport) RetrieveRun(ctx context.Context, threadID, runID string) (Run, error) {
	r, err := t.client.RetrieveRun(ctx, threadID, runID)
	if err != nil {
		return Run{}, convertError("retrieve run", err)
	}
	run := runFromOpenAI(r)
	if run.ID == "" {
		run.ID = runID
	}
	return run, nil
}

func (t *OpenAITransport) CancelRun(ctx context.Context, threadID, runID string) error {
	_, err := t.client.CancelRun(ctx, threadID, runID)
	return convertError("cancel run", err)
}

func (t *OpenAITransport) SubmitToolOutputs(ctx context.Context, threadID, runID string, outputs []ToolOutput) error {
	req := openai.SubmitToolOutputsRequest{ToolOutputs: make([]openai.ToolOutput, 0, len(outputs))}
	for _, o := range outputs {
		req.ToolOutputs = append(req.ToolOutputs, openai.ToolOutput{ToolCallID: o.ToolCallID, Output: o.Output})
	}
	_, err := t.client.SubmitToolOutputs(ctx, threadID, runID, req)
	return convertError("submit tool outputs", err)
}

func runFromOpenAI(r openai.Run) Run {
	run := Run{
		ID:          r.ID,
		ThreadID:    r.ThreadID,
		AssistantID: r.AssistantID,
		Status:      RunStatus(r.Status),
	}
	if r.RequiredAction != nil && r.RequiredAction.SubmitToolOutputs != nil {
		for _, tc := range r.RequiredAction.SubmitToolOutputs.ToolCalls {
			run.ToolCalls = append(run.ToolCalls, ToolCall{
				ID:           tc.ID,
				FunctionName: tc.Function.Name,
				Arguments:    tc.Function.Arguments,
			})
		}
	}
	if r.LastError != nil {
		run.LastError = &RunFailure{Code: string(r.LastError.Code), Message: r.LastError.Message}
	}
	return run
}

// convertError maps go-openai errors onto the package's error types.
func convertError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("assistant: %s: %w", op, err)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("assistant: %s: %w", op, &APIError{
			StatusCode: apiErr.HTTPStatusCode,
			Code:       codeString(apiErr.Code),
			Message:    apiErr.Message,
		})
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		msg := strings.TrimSpace(string(reqErr.Body))
		if msg == "" && reqErr.Err != nil {
			msg = reqErr.Err.Error()
		}
		return fmt.Errorf("assistant: %s: %w", op, &APIError{StatusCode: reqErr.HTTPStatusCode, Message: msg})
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) ||
		errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("assistant: %s: %w: %v", op, ErrMalformedResponse, err)
	}
	return fmt.Errorf("assistant: %s: %w", op, err)
}

func codeString(code any) string {
	switch c := code.(type) {
	case nil:
		return ""
	case string:
		return c
	default:
		return fmt.Sprint(c)
	}
}

func anyMap(m map[string]string) map[string]any {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
