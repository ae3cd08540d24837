package model

import (
	"context"
	"errors"

	openai "github.com/sashabaranov/go-openai"
)

var ErrModelNotAvailable = errors.New("model not available")

type ModelInfo struct {
	Name       string `json:"name"`
	Size       int64  `json:"size"`
	ModifiedAt string `json:"modified_at"`
}

// Adapter wraps one model backend behind a uniform streaming contract.
type Adapter interface {
	Name() string
	Models(ctx context.Context) ([]ModelInfo, error)
	IsAvailable(ctx context.Context, modelName string) bool
	// ChatStream starts a generation for the given history and returns the
	// token stream immediately. The stream is finite and not restartable.
	// Transport failures surface as a single terminal error-text fragment,
	// not as Err; Err is reserved for failures before any fragment could be
	// produced.
	ChatStream(ctx context.Context, modelName string, history []openai.ChatCompletionMessage) *TokenStream
}

// TokenStream carries incremental text fragments from one generation.
// Consumers range over Tokens and check Err after the channel closes.
// Producers never emit after Close.
type TokenStream struct {
	ch  chan string
	err error
}

func NewTokenStream(buf int) *TokenStream {
	return &TokenStream{ch: make(chan string, buf)}
}

func (s *TokenStream) Tokens() <-chan string {
	return s.ch
}

// Err reports the terminal error, valid only after Tokens is closed.
func (s *TokenStream) Err() error {
	return s.err
}

func (s *TokenStream) Emit(text string) {
	s.ch <- text
}

func (s *TokenStream) Close(err error) {
	s.err = err
	close(s.ch)
}
