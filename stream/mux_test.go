package stream

import (
	"context"
	"errors"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"chatbot/model"
)

// scriptedAdapter replays fixed fragments per model name, optionally
// failing the stream afterwards.
type scriptedAdapter struct {
	fragments map[string][]string
	fail      map[string]error
}

func (a *scriptedAdapter) Name() string { return "scripted" }

func (a *scriptedAdapter) Models(ctx context.Context) ([]model.ModelInfo, error) {
	out := make([]model.ModelInfo, 0, len(a.fragments))
	for name := range a.fragments {
		out = append(out, model.ModelInfo{Name: name})
	}
	return out, nil
}

func (a *scriptedAdapter) IsAvailable(ctx context.Context, modelName string) bool {
	_, ok := a.fragments[modelName]
	return ok
}

func (a *scriptedAdapter) ChatStream(ctx context.Context, modelName string, history []openai.ChatCompletionMessage) *model.TokenStream {
	ts := model.NewTokenStream(4)
	go func() {
		for _, f := range a.fragments[modelName] {
			ts.Emit(f)
		}
		ts.Close(a.fail[modelName])
	}()
	return ts
}

func TestMergeSingleBranch(t *testing.T) {
	adapter := &scriptedAdapter{fragments: map[string][]string{"m0": {"Hi", " there"}}}
	events := Merge(context.Background(), []Branch{{Index: 0, Model: "m0", Adapter: adapter}}, nil)

	var got []Event
	for ev := range events {
		got = append(got, ev)
	}
	if len(got) != 3 {
		t.Fatalf("got %d events, want 3: %v", len(got), got)
	}
	if got[0].Type != Fragment || got[0].Text != "Hi" {
		t.Fatalf("first event wrong: %v", got[0])
	}
	if got[1].Type != Fragment || got[1].Text != " there" {
		t.Fatalf("second event wrong: %v", got[1])
	}
	if got[2].Type != BranchDone {
		t.Fatalf("last event should be BranchDone: %v", got[2])
	}
}

func TestMergeTwoBranchesPreservesPerBranchOrder(t *testing.T) {
	adapter := &scriptedAdapter{fragments: map[string][]string{
		"m0": {"a1", "a2", "a3"},
		"m1": {"b1", "b2"},
	}}
	branches := []Branch{
		{Index: 0, Model: "m0", Adapter: adapter},
		{Index: 1, Model: "m1", Adapter: adapter},
	}
	events := Merge(context.Background(), branches, nil)

	perBranch := map[int][]string{}
	done := map[int]int{}
	for ev := range events {
		switch ev.Type {
		case Fragment:
			perBranch[ev.Branch] = append(perBranch[ev.Branch], ev.Text)
		case BranchDone:
			done[ev.Branch]++
		case BranchError:
			t.Fatalf("unexpected branch error: %v", ev)
		}
	}
	want := map[int][]string{0: {"a1", "a2", "a3"}, 1: {"b1", "b2"}}
	for idx, frags := range want {
		if len(perBranch[idx]) != len(frags) {
			t.Fatalf("branch %d got %v, want %v", idx, perBranch[idx], frags)
		}
		for i := range frags {
			if perBranch[idx][i] != frags[i] {
				t.Fatalf("branch %d order broken: %v", idx, perBranch[idx])
			}
		}
	}
	if done[0] != 1 || done[1] != 1 {
		t.Fatalf("want exactly one done marker per branch, got %v", done)
	}
}

func TestMergeBranchError(t *testing.T) {
	adapter := &scriptedAdapter{
		fragments: map[string][]string{"m0": {"partial"}},
		fail:      map[string]error{"m0": errors.New("backend exploded")},
	}
	events := Merge(context.Background(), []Branch{{Index: 0, Model: "m0", Adapter: adapter}}, nil)

	var got []Event
	for ev := range events {
		got = append(got, ev)
	}
	last := got[len(got)-1]
	if last.Type != BranchError {
		t.Fatalf("last event should be BranchError: %v", got)
	}
	if last.Text != "backend exploded" {
		t.Fatalf("error text = %q", last.Text)
	}
}
