package rpc

import (
	"net/http"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	json "github.com/goccy/go-json"
)

func parseFrames(t *testing.T, body string) []StreamFrame {
	t.Helper()
	var frames []StreamFrame
	for _, chunk := range strings.Split(body, "\n\n") {
		chunk = strings.TrimSpace(chunk)
		if chunk == "" {
			continue
		}
		if !strings.HasPrefix(chunk, "data: ") {
			t.Fatalf("frame without data prefix: %q", chunk)
		}
		var f StreamFrame
		if err := json.Unmarshal([]byte(strings.TrimPrefix(chunk, "data: ")), &f); err != nil {
			t.Fatalf("bad frame %q: %v", chunk, err)
		}
		frames = append(frames, f)
	}
	return frames
}

func TestSendMessageStreams(t *testing.T) {
	env := newTestEnv(t)
	env.register(t)
	id := env.createConversation(t, "modelA")

	w := env.do(t, http.MethodPost, "/api/chat/conversations/"+id+"/messages", gin.H{"message": "Hello"})
	if w.Code != http.StatusOK {
		t.Fatalf("send message: %d %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	frames := parseFrames(t, w.Body.String())
	if len(frames) < 2 {
		t.Fatalf("got %d frames: %v", len(frames), frames)
	}
	var content strings.Builder
	for _, f := range frames[:len(frames)-1] {
		if f.Done {
			t.Fatalf("done frame before end: %v", frames)
		}
		if f.Model != "" || f.ModelIndex != nil {
			t.Fatalf("single mode frame should not carry model tags: %+v", f)
		}
		content.WriteString(f.Content)
	}
	if content.String() != "Hi there" {
		t.Fatalf("streamed content = %q", content.String())
	}
	final := frames[len(frames)-1]
	if !final.Done || final.Error != "" || final.MessageId == "" {
		t.Fatalf("terminal frame = %+v", final)
	}

	msgs := env.store.userMessages(id)
	if len(msgs) != 2 {
		t.Fatalf("persisted %d messages, want user + assistant", len(msgs))
	}
	if msgs[1].Id != final.MessageId || msgs[1].Content != "Hi there" {
		t.Fatalf("assistant message = %+v", msgs[1])
	}
	if env.store.titles[id] != "Hello" {
		t.Fatalf("title = %q, want first user message", env.store.titles[id])
	}
}

func TestSendMessageEmpty(t *testing.T) {
	env := newTestEnv(t)
	env.register(t)
	id := env.createConversation(t, "modelA")

	w := env.do(t, http.MethodPost, "/api/chat/conversations/"+id+"/messages", gin.H{"message": "   "})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("empty message: %d, want 400", w.Code)
	}
	if msgs := env.store.userMessages(id); len(msgs) != 0 {
		t.Fatalf("empty message persisted: %v", msgs)
	}
}

func TestSendMessageUnknownConversation(t *testing.T) {
	env := newTestEnv(t)
	env.register(t)
	w := env.do(t, http.MethodPost, "/api/chat/conversations/nope/messages", gin.H{"message": "Hello"})
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown conversation: %d, want 404", w.Code)
	}
}

func TestSendMessageParallel(t *testing.T) {
	env := newTestEnv(t)
	env.register(t)
	id := env.createConversation(t, "modelA")

	w := env.do(t, http.MethodPost, "/api/chat/conversations/"+id+"/messages", gin.H{
		"message":      "Hello",
		"parallel":     true,
		"second_model": "modelB",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("parallel send: %d %s", w.Code, w.Body.String())
	}

	frames := parseFrames(t, w.Body.String())
	perBranch := map[int]string{}
	for _, f := range frames[:len(frames)-1] {
		if f.ModelIndex == nil || f.Model == "" {
			t.Fatalf("parallel frame missing model tags: %+v", f)
		}
		perBranch[*f.ModelIndex] += f.Content
	}
	if perBranch[0] != "Hi there" || perBranch[1] != "Howdy" {
		t.Fatalf("branch content = %v", perBranch)
	}
	final := frames[len(frames)-1]
	if !final.Done || !final.Parallel || final.MessageId != "" {
		t.Fatalf("terminal frame = %+v", final)
	}

	// candidates stay ephemeral, only the user message is stored
	msgs := env.store.userMessages(id)
	if len(msgs) != 1 || msgs[0].Role != "user" {
		t.Fatalf("persisted messages = %v", msgs)
	}
}

func TestSendMessageParallelRequiresSecondModel(t *testing.T) {
	env := newTestEnv(t)
	env.register(t)
	id := env.createConversation(t, "modelA")

	w := env.do(t, http.MethodPost, "/api/chat/conversations/"+id+"/messages", gin.H{
		"message":  "Hello",
		"parallel": true,
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing second model: %d, want 400", w.Code)
	}
	if msgs := env.store.userMessages(id); len(msgs) != 0 {
		t.Fatalf("rejected turn persisted messages: %v", msgs)
	}
}

func TestSendMessageParallelUnresolvableSecondModel(t *testing.T) {
	env := newTestEnv(t)
	env.register(t)
	id := env.createConversation(t, "modelA")

	w := env.do(t, http.MethodPost, "/api/chat/conversations/"+id+"/messages", gin.H{
		"message":      "Hello",
		"parallel":     true,
		"second_model": "ghost",
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("unresolvable second model: %d %s", w.Code, w.Body.String())
	}
	// the user turn was already recorded before dispatch failed
	msgs := env.store.userMessages(id)
	if len(msgs) != 1 || msgs[0].Role != "user" {
		t.Fatalf("persisted messages = %v", msgs)
	}
}

func TestSelectResponse(t *testing.T) {
	env := newTestEnv(t)
	env.register(t)

	w := env.do(t, http.MethodPost, "/api/chat/select-response", gin.H{
		"query": "Hello", "chosen_answer": "", "model_used": "modelA",
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing field: %d, want 400", w.Code)
	}

	w = env.do(t, http.MethodPost, "/api/chat/select-response", gin.H{
		"query": "Hello", "chosen_answer": "Hi there", "model_used": "modelA",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("select response: %d %s", w.Code, w.Body.String())
	}
	if len(env.store.records) != 1 {
		t.Fatalf("got %d records, want 1", len(env.store.records))
	}
	rec := env.store.records[0]
	if rec.UserQuery != "Hello" || rec.ChosenAnswer != "Hi there" || rec.ModelUsed != "modelA" {
		t.Fatalf("record = %+v", rec)
	}
	if rec.UserId != env.store.users[0].Id {
		t.Fatalf("record user %q does not match session user %q", rec.UserId, env.store.users[0].Id)
	}
}

func TestListModels(t *testing.T) {
	env := newTestEnv(t)
	env.register(t)

	w := env.do(t, http.MethodGet, "/api/models", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list models: %d %s", w.Code, w.Body.String())
	}
	var resp struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	names := map[string]bool{}
	for _, m := range resp.Models {
		names[m.Name] = true
	}
	if !names["modelA"] || !names["modelB"] {
		t.Fatalf("models = %v", resp.Models)
	}
}
