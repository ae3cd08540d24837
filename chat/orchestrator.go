// Package chat drives a user turn end to end: record the user message,
// fan out to one or two model backends, forward merged fragments, and
// commit the result.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"chatbot/db"
	"chatbot/model"
	"chatbot/stream"
)

var (
	ErrEmptyMessage = errors.New("message cannot be empty")
	ErrMissingField = errors.New("all fields are required")
)

// TitleLimit bounds the auto-generated conversation title.
const TitleLimit = 50

// Store is the slice of the persistence layer the orchestrator writes
// through. Only the consuming goroutine ever calls it; branches never touch
// the database.
type Store interface {
	Messages(ctx context.Context, conversationId string) ([]db.Message, error)
	InsertMessage(ctx context.Context, m db.Message) error
	CommitAssistantTurn(ctx context.Context, m db.Message, title string) error
	SetMessageAudio(ctx context.Context, messageId, audioUrl string) error
	InsertFineTune(ctx context.Context, r db.FineTuneRecord) error
}

// Synthesizer is the optional audio augmentation hook. An empty return
// means no audio; it must never fail the turn.
type Synthesizer interface {
	GenerateMessageAudio(messageId, text string) string
}

// TurnEvent is one item forwarded to the caller while a turn streams.
type TurnEvent struct {
	Content    string
	Model      string
	ModelIndex int
	Done       bool
	Parallel   bool
	MessageId  string
	Err        string
}

type Orchestrator struct {
	store    Store
	resolver *model.Resolver
	speech   Synthesizer
}

func NewOrchestrator(store Store, resolver *model.Resolver, speech Synthesizer) *Orchestrator {
	return &Orchestrator{store: store, resolver: resolver, speech: speech}
}

// RecordUserTurn persists the user message before any model dispatch, so a
// crash mid-stream never loses the input.
func (o *Orchestrator) RecordUserTurn(ctx context.Context, conversationId, text string) (*db.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}
	m := db.Message{
		Id:             uuid.NewString(),
		ConversationId: conversationId,
		Role:           db.RoleUser,
		Content:        text,
		Timestamp:      time.Now().UTC(),
	}
	if err := o.store.InsertMessage(ctx, m); err != nil {
		return nil, fmt.Errorf("record user turn: %w", err)
	}
	return &m, nil
}

// StreamTurn resolves every requested model up front and starts the merged
// stream. A second model that no adapter serves fails the whole request here,
// before any branch is dispatched. The returned channel always ends with a
// single terminal event (Done true), carrying Err on failure.
func (o *Orchestrator) StreamTurn(ctx context.Context, conv *db.Conversation, secondModel string) (<-chan TurnEvent, error) {
	names := []string{conv.ModelName}
	if secondModel != "" {
		names = append(names, secondModel)
	}
	branches := make([]stream.Branch, len(names))
	for i, name := range names {
		adapter, err := o.resolver.Resolve(ctx, name)
		if err != nil {
			return nil, err
		}
		branches[i] = stream.Branch{Index: i, Model: name, Adapter: adapter}
	}

	msgs, err := o.store.Messages(ctx, conv.Id)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	history := make([]openai.ChatCompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		history = append(history, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	out := make(chan TurnEvent)
	go o.consume(ctx, conv, branches, history, msgs, out)
	return out, nil
}

// consume is the sole reader of the merged queue and the only goroutine
// that writes to the store for this turn.
func (o *Orchestrator) consume(ctx context.Context, conv *db.Conversation, branches []stream.Branch, history []openai.ChatCompletionMessage, prior []db.Message, out chan<- TurnEvent) {
	defer close(out)

	events := stream.Merge(ctx, branches, history)
	acc := make([]strings.Builder, len(branches))
	var failure string
	cancelled := false

	for ev := range events {
		switch ev.Type {
		case stream.Fragment:
			acc[ev.Branch].WriteString(ev.Text)
			if failure != "" || cancelled {
				continue
			}
			select {
			case out <- TurnEvent{Content: ev.Text, Model: ev.Model, ModelIndex: ev.Branch}:
			case <-ctx.Done():
				// client gone; branches run to completion and the
				// accumulated results are discarded
				cancelled = true
			}
		case stream.BranchError:
			zap.S().Errorw("branch failed", "model", ev.Model, "branch", ev.Branch, "err", ev.Text)
			if failure == "" {
				failure = ev.Text
			}
		case stream.BranchDone:
		}
	}

	if cancelled {
		return
	}
	if failure != "" {
		out <- TurnEvent{Done: true, Err: failure}
		return
	}

	parallel := len(branches) > 1
	if parallel {
		// comparative mode: both candidates stay ephemeral until an
		// explicit selection call
		out <- TurnEvent{Done: true, Parallel: true}
		return
	}

	msg := db.Message{
		Id:             uuid.NewString(),
		ConversationId: conv.Id,
		Role:           db.RoleAssistant,
		Content:        acc[0].String(),
		Timestamp:      time.Now().UTC(),
	}
	title := titleFor(conv, prior)
	if err := o.store.CommitAssistantTurn(ctx, msg, title); err != nil {
		zap.S().Errorw("commit assistant turn", "conversation", conv.Id, "err", err)
		out <- TurnEvent{Done: true, Err: err.Error()}
		return
	}
	if o.speech != nil {
		if audioUrl := o.speech.GenerateMessageAudio(msg.Id, msg.Content); audioUrl != "" {
			if err := o.store.SetMessageAudio(ctx, msg.Id, audioUrl); err != nil {
				zap.S().Warnw("attach audio", "message", msg.Id, "err", err)
			}
		}
	}
	out <- TurnEvent{Done: true, MessageId: msg.Id}
}

// titleFor returns the new conversation title, or "" when it must not
// change. The title is set exactly once: when the just-recorded user message
// is the only one and the title is still the placeholder.
func titleFor(conv *db.Conversation, prior []db.Message) string {
	if conv.Title != db.DefaultTitle || len(prior) != 1 {
		return ""
	}
	return truncateTitle(prior[0].Content)
}

func truncateTitle(text string) string {
	r := []rune(text)
	if len(r) > TitleLimit {
		return string(r[:TitleLimit]) + "..."
	}
	return text
}

// SelectResponse records the human-chosen answer from a comparative turn as
// a training example. Nothing ties the call back to a specific prior stream;
// the caller is trusted.
func (o *Orchestrator) SelectResponse(ctx context.Context, userId, query, chosenAnswer, modelUsed string) (*db.FineTuneRecord, error) {
	query = strings.TrimSpace(query)
	chosenAnswer = strings.TrimSpace(chosenAnswer)
	modelUsed = strings.TrimSpace(modelUsed)
	if query == "" || chosenAnswer == "" || modelUsed == "" {
		return nil, ErrMissingField
	}
	r := db.FineTuneRecord{
		Id:           uuid.NewString(),
		UserQuery:    query,
		ChosenAnswer: chosenAnswer,
		ModelUsed:    modelUsed,
		UserId:       userId,
		Timestamp:    time.Now().UTC(),
	}
	if err := o.store.InsertFineTune(ctx, r); err != nil {
		return nil, fmt.Errorf("insert fine-tune record: %w", err)
	}
	return &r, nil
}
