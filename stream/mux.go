// Package stream merges one or two concurrent model generations into a
// single ordered event sequence.
package stream

import (
	"context"
	"sync"

	openai "github.com/sashabaranov/go-openai"

	"chatbot/model"
)

type EventType int

const (
	// Fragment carries one incremental unit of generated text.
	Fragment EventType = iota
	// BranchDone marks clean exhaustion of one branch's stream.
	BranchDone
	// BranchError marks a failed branch; Text holds the error.
	BranchError
)

// Event is one tagged item on the merged queue. Branch identifies the
// originating model invocation.
type Event struct {
	Type   EventType
	Branch int
	Model  string
	Text   string
}

// Branch is one model invocation to run within a user turn.
type Branch struct {
	Index   int
	Model   string
	Adapter model.Adapter
}

// Merge launches one goroutine per branch and fans their fragments into a
// single channel. Order is preserved within a branch; interleaving across
// branches is whatever arrival order the scheduler produces. The channel
// closes once every branch has reported done or error, so the consumer
// never needs to count markers itself, but the markers are still delivered
// for callers that track per-branch state.
func Merge(ctx context.Context, branches []Branch, history []openai.ChatCompletionMessage) <-chan Event {
	out := make(chan Event, 16)
	var wg sync.WaitGroup
	for _, b := range branches {
		wg.Add(1)
		go func(b Branch) {
			defer wg.Done()
			run(ctx, b, history, out)
		}(b)
	}
	go func() {
		wg.Wait()
		close(out)
	}()
	return out
}

func run(ctx context.Context, b Branch, history []openai.ChatCompletionMessage, out chan<- Event) {
	ts := b.Adapter.ChatStream(ctx, b.Model, history)
	for tok := range ts.Tokens() {
		out <- Event{Type: Fragment, Branch: b.Index, Model: b.Model, Text: tok}
	}
	if err := ts.Err(); err != nil {
		out <- Event{Type: BranchError, Branch: b.Index, Model: b.Model, Text: err.Error()}
		return
	}
	out <- Event{Type: BranchDone, Branch: b.Index, Model: b.Model}
}
