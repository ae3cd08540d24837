package model

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

const HostedAdapterName = "hosted"

const loadTimeout = time.Minute * 5

type loadState int

const (
	stateNotLoaded loadState = iota
	stateLoading
	stateReady
	stateFailed
)

type hostedModel struct {
	mu    sync.Mutex
	state loadState
	info  ModelInfo
}

// HostedClient drives single-turn models on an external hosted runtime.
// It is the context-free adapter: only the latest user message is sent, the
// runtime generates in one blocking call, and the result is re-emitted rune
// by rune to keep the streaming contract uniform.
type HostedClient struct {
	baseUrl    string
	httpClient *http.Client
	models     map[string]*hostedModel
}

func NewHostedClient(baseUrl string, modelNames []string) *HostedClient {
	c := &HostedClient{
		baseUrl:    baseUrl,
		httpClient: &http.Client{Timeout: MaxGenerateTimeout},
		models:     make(map[string]*hostedModel),
	}
	for _, name := range modelNames {
		c.models[name] = &hostedModel{info: ModelInfo{Name: name}}
	}
	return c
}

func (c *HostedClient) Name() string {
	return HostedAdapterName
}

func (c *HostedClient) Models(ctx context.Context) ([]ModelInfo, error) {
	out := make([]ModelInfo, 0, len(c.models))
	for _, m := range c.models {
		out = append(out, m.info)
	}
	return out, nil
}

func (c *HostedClient) IsAvailable(ctx context.Context, modelName string) bool {
	_, ok := c.models[modelName]
	return ok
}

// ensureLoaded lazily initializes the model on the runtime. The per-model
// mutex is held for the whole load so concurrent requests for the same
// unready model wait instead of triggering duplicate loads. A failed load
// is retried on the next request.
func (c *HostedClient) ensureLoaded(ctx context.Context, modelName string) error {
	m, ok := c.models[modelName]
	if !ok {
		return fmt.Errorf("%w: %s", ErrModelNotAvailable, modelName)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == stateReady {
		return nil
	}
	m.state = stateLoading
	zap.S().Infow("loading hosted model", "model", modelName)
	loadCtx, cancel := context.WithTimeout(ctx, loadTimeout)
	defer cancel()
	body, _ := json.Marshal(map[string]string{"model": modelName})
	req, err := http.NewRequestWithContext(loadCtx, http.MethodPost, c.baseUrl+"/load", bytes.NewReader(body))
	if err != nil {
		m.state = stateFailed
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		m.state = stateFailed
		return fmt.Errorf("load model %s: %w", modelName, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		m.state = stateFailed
		return fmt.Errorf("load model %s: status %d", modelName, resp.StatusCode)
	}
	m.state = stateReady
	zap.S().Infow("hosted model ready", "model", modelName)
	return nil
}

func (c *HostedClient) ChatStream(ctx context.Context, modelName string, history []openai.ChatCompletionMessage) *TokenStream {
	stream := NewTokenStream(16)
	go c.generate(ctx, modelName, history, stream)
	return stream
}

func (c *HostedClient) generate(ctx context.Context, modelName string, history []openai.ChatCompletionMessage, stream *TokenStream) {
	if err := c.ensureLoaded(ctx, modelName); err != nil {
		stream.Close(err)
		return
	}
	// single-turn model: only the latest user message matters
	var latest string
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == openai.ChatMessageRoleUser {
			latest = history[i].Content
			break
		}
	}
	req := openai.ChatCompletionRequest{
		Model: modelName,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: latest},
		},
	}
	payload, err := json.Marshal(&req)
	if err != nil {
		stream.Close(err)
		return
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseUrl+"/generate", bytes.NewReader(payload))
	if err != nil {
		stream.Close(err)
		return
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		stream.Emit(fmt.Sprintf("Error connecting to hosted runtime: %v", err))
		stream.Close(nil)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		stream.Emit(fmt.Sprintf("Error: %d - %s", resp.StatusCode, string(msg)))
		stream.Close(nil)
		return
	}
	var completion openai.ChatCompletionResponse
	if err = json.NewDecoder(resp.Body).Decode(&completion); err != nil {
		stream.Emit(fmt.Sprintf("Error decoding hosted response: %v", err))
		stream.Close(nil)
		return
	}
	if len(completion.Choices) == 0 {
		stream.Emit("Error: no answer choice")
		stream.Close(nil)
		return
	}
	for _, r := range cleanResponse(completion.Choices[0].Message.Content) {
		select {
		case <-ctx.Done():
			stream.Close(ctx.Err())
			return
		default:
		}
		stream.Emit(string(r))
	}
	stream.Close(nil)
}

// turn markers the single-turn models tend to echo back from their prompt
var turnMarkers = []string{"User:", "Assistant:", "System:"}

// cleanResponse strips echoed turn markers and truncates the text at the
// first sentence boundary, so prompt structure never leaks to the client.
func cleanResponse(text string) string {
	for _, marker := range turnMarkers {
		text = strings.ReplaceAll(text, marker, "")
	}
	text = strings.TrimSpace(text)
	if idx := strings.IndexAny(text, ".!?"); idx >= 0 {
		text = text[:idx+1]
	}
	return strings.TrimSpace(text)
}
