package model

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	openai "github.com/sashabaranov/go-openai"
)

func fakeRuntime(t *testing.T, answer string, loads *int32) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/load", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(loads, 1)
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/generate", func(w http.ResponseWriter, r *http.Request) {
		var req openai.ChatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode generate request: %v", err)
		}
		resp := openai.ChatCompletionResponse{
			Choices: []openai.ChatCompletionChoice{
				{Message: openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: answer}},
			},
		}
		json.NewEncoder(w).Encode(&resp)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestCleanResponse(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Hello there.", "Hello there."},
		{"Hello there. And more trailing text", "Hello there."},
		{"Assistant: Hello. User: echo", "Hello."},
		{"User: User: Assistant: fine!", "fine!"},
		{"no punctuation at all", "no punctuation at all"},
		{"  padded?  tail", "padded?"},
	}
	for _, c := range cases {
		if got := cleanResponse(c.in); got != c.want {
			t.Errorf("cleanResponse(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestHostedCharByCharReemission(t *testing.T) {
	var loads int32
	srv := fakeRuntime(t, "Hi there.", &loads)
	c := NewHostedClient(srv.URL, []string{"twi-gpt"})
	ts := c.ChatStream(context.Background(), "twi-gpt", []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleUser, Content: "Hello"},
	})
	got := collect(t, ts)
	if ts.Err() != nil {
		t.Fatalf("unexpected stream error: %v", ts.Err())
	}
	if strings.Join(got, "") != "Hi there." {
		t.Fatalf("concat = %q, want %q", strings.Join(got, ""), "Hi there.")
	}
	for _, f := range got {
		if len([]rune(f)) != 1 {
			t.Fatalf("fragment %q is not a single rune", f)
		}
	}
}

func TestHostedLoadsOnce(t *testing.T) {
	var loads int32
	srv := fakeRuntime(t, "Fine.", &loads)
	c := NewHostedClient(srv.URL, []string{"twi-gpt"})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ts := c.ChatStream(context.Background(), "twi-gpt", []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleUser, Content: "hi"},
			})
			for range ts.Tokens() {
			}
		}()
	}
	wg.Wait()
	if n := atomic.LoadInt32(&loads); n != 1 {
		t.Fatalf("model loaded %d times, want 1", n)
	}
}

func TestHostedSendsOnlyLatestUserMessage(t *testing.T) {
	var got openai.ChatCompletionRequest
	mux := http.NewServeMux()
	mux.HandleFunc("/load", func(w http.ResponseWriter, r *http.Request) {})
	mux.HandleFunc("/generate", func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		resp := openai.ChatCompletionResponse{
			Choices: []openai.ChatCompletionChoice{
				{Message: openai.ChatCompletionMessage{Content: "ok."}},
			},
		}
		json.NewEncoder(w).Encode(&resp)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c := NewHostedClient(srv.URL, []string{"twi-gpt"})
	history := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleUser, Content: "first"},
		{Role: openai.ChatMessageRoleAssistant, Content: "answer"},
		{Role: openai.ChatMessageRoleUser, Content: "second"},
	}
	ts := c.ChatStream(context.Background(), "twi-gpt", history)
	for range ts.Tokens() {
	}
	if len(got.Messages) != 1 {
		t.Fatalf("runtime got %d messages, want 1", len(got.Messages))
	}
	if got.Messages[0].Content != "second" {
		t.Fatalf("runtime got %q, want latest user message", got.Messages[0].Content)
	}
}

func TestHostedUnknownModel(t *testing.T) {
	c := NewHostedClient("http://127.0.0.1:0", []string{"twi-gpt"})
	ts := c.ChatStream(context.Background(), "nope", nil)
	got := collect(t, ts)
	if len(got) != 0 {
		t.Fatalf("unexpected fragments %q", got)
	}
	if ts.Err() == nil {
		t.Fatal("want error for unknown model")
	}
}
