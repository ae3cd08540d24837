package model

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

const OllamaAdapterName = "ollama"

// MaxGenerateTimeout bounds a single chat call to the model server.
const MaxGenerateTimeout = time.Second * 300

// OllamaClient talks to a locally served model catalog over its native HTTP
// API. It is the context-preserving adapter: every call carries the full
// prior history and fragments stream back as the server produces them.
type OllamaClient struct {
	baseUrl    string
	httpClient *http.Client
}

func NewOllamaClient(baseUrl string) *OllamaClient {
	return &OllamaClient{
		baseUrl:    baseUrl,
		httpClient: &http.Client{Timeout: MaxGenerateTimeout},
	}
}

func (c *OllamaClient) Name() string {
	return OllamaAdapterName
}

type ollamaTagsResponse struct {
	Models []struct {
		Name       string `json:"name"`
		Size       int64  `json:"size"`
		ModifiedAt string `json:"modified_at"`
	} `json:"models"`
}

// Models refreshes the catalog from the server on every call; the served
// set changes at runtime as models are pulled or removed.
func (c *OllamaClient) Models(ctx context.Context) ([]ModelInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseUrl+"/api/tags", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list models: status %d", resp.StatusCode)
	}
	var tags ollamaTagsResponse
	if err = json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, fmt.Errorf("decode tags: %w", err)
	}
	out := make([]ModelInfo, 0, len(tags.Models))
	for _, m := range tags.Models {
		out = append(out, ModelInfo{Name: m.Name, Size: m.Size, ModifiedAt: m.ModifiedAt})
	}
	return out, nil
}

func (c *OllamaClient) IsAvailable(ctx context.Context, modelName string) bool {
	models, err := c.Models(ctx)
	if err != nil {
		zap.S().Warnw("ollama catalog unavailable", "err", err)
		return false
	}
	for _, m := range models {
		if m.Name == modelName {
			return true
		}
	}
	return false
}

// Pull asks the server to download a model from its registry.
func (c *OllamaClient) Pull(ctx context.Context, modelName string) error {
	body, _ := json.Marshal(map[string]string{"name": modelName})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseUrl+"/api/pull", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("pull model %s: %w", modelName, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("pull model %s: status %d", modelName, resp.StatusCode)
	}
	return nil
}

type ollamaChatRequest struct {
	Model    string                 `json:"model"`
	Messages []ollamaChatMessage    `json:"messages"`
	Stream   bool                   `json:"stream"`
	Options  map[string]interface{} `json:"options,omitempty"`
}

type ollamaChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatChunk struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Done bool `json:"done"`
}

func (c *OllamaClient) ChatStream(ctx context.Context, modelName string, history []openai.ChatCompletionMessage) *TokenStream {
	stream := NewTokenStream(16)
	go c.chat(ctx, modelName, history, stream)
	return stream
}

func (c *OllamaClient) chat(ctx context.Context, modelName string, history []openai.ChatCompletionMessage, stream *TokenStream) {
	msgs := make([]ollamaChatMessage, 0, len(history))
	for _, m := range history {
		msgs = append(msgs, ollamaChatMessage{Role: m.Role, Content: m.Content})
	}
	payload := ollamaChatRequest{
		Model:    modelName,
		Messages: msgs,
		Stream:   true,
		Options: map[string]interface{}{
			"temperature": 0.7,
			"top_p":       0.9,
			"top_k":       40,
		},
	}
	body, err := json.Marshal(&payload)
	if err != nil {
		stream.Close(fmt.Errorf("marshal chat request: %w", err))
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseUrl+"/api/chat", bytes.NewReader(body))
	if err != nil {
		stream.Close(err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		// transport failures become a terminal error fragment so the
		// multiplexer handles them like any other output
		stream.Emit(fmt.Sprintf("Error connecting to model server: %v", err))
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

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var chunk ollamaChatChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			continue
		}
		if chunk.Message.Content != "" {
			stream.Emit(chunk.Message.Content)
		}
		if chunk.Done {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		stream.Emit(fmt.Sprintf("Error reading model stream: %v", err))
	}
	stream.Close(nil)
}
