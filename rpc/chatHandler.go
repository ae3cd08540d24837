package rpc

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"chatbot/chat"
	"chatbot/db"
	"chatbot/model"
)

type createConversationRequest struct {
	Title     string `json:"title"`
	ModelName string `json:"model_name"`
}

type sendMessageRequest struct {
	Message     string `json:"message"`
	Parallel    bool   `json:"parallel"`
	SecondModel string `json:"second_model"`
}

type selectResponseRequest struct {
	Query        string `json:"query"`
	ChosenAnswer string `json:"chosen_answer"`
	ModelUsed    string `json:"model_used"`
}

// StreamFrame is one event-stream frame on the wire. Model and ModelIndex
// are only set in comparative mode.
type StreamFrame struct {
	Content    string `json:"content"`
	Done       bool   `json:"done"`
	Model      string `json:"model,omitempty"`
	ModelIndex *int   `json:"model_index,omitempty"`
	MessageId  string `json:"message_id,omitempty"`
	Parallel   bool   `json:"parallel,omitempty"`
	Error      string `json:"error,omitempty"`
}

func (s *Service) HandleListConversations(c *gin.Context) {
	ctx := c.Request.Context()
	userId := c.GetString(UserIdContextName)
	convs, err := s.store.Conversations(ctx, userId)
	if err != nil {
		zap.S().Errorw("list conversations", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list conversations"})
		return
	}
	out := make([]gin.H, 0, len(convs))
	for _, conv := range convs {
		count, err := s.store.CountMessages(ctx, conv.Id)
		if err != nil {
			zap.S().Warnw("count messages", "conversation", conv.Id, "err", err)
		}
		out = append(out, gin.H{
			"id":            conv.Id,
			"title":         conv.Title,
			"model_name":    conv.ModelName,
			"created_at":    conv.CreatedAt,
			"updated_at":    conv.UpdatedAt,
			"message_count": count,
		})
	}
	c.JSON(http.StatusOK, out)
}

func (s *Service) HandleCreateConversation(c *gin.Context) {
	userId := c.GetString(UserIdContextName)
	// body is optional, defaults apply
	var req createConversationRequest
	_ = c.ShouldBindJSON(&req)
	if req.Title == "" {
		req.Title = db.DefaultTitle
	}
	if req.ModelName == "" {
		req.ModelName = db.DefaultModel
	}
	now := time.Now().UTC()
	conv := db.Conversation{
		Id:        uuid.NewString(),
		UserId:    userId,
		Title:     req.Title,
		ModelName: req.ModelName,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateConversation(c.Request.Context(), conv); err != nil {
		zap.S().Errorw("create conversation", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create conversation"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"id":         conv.Id,
		"title":      conv.Title,
		"model_name": conv.ModelName,
		"created_at": conv.CreatedAt,
		"messages":   []db.Message{},
	})
}

func (s *Service) HandleGetConversation(c *gin.Context) {
	ctx := c.Request.Context()
	userId := c.GetString(UserIdContextName)
	conv, err := s.store.Conversation(ctx, c.Param("id"), userId)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Conversation not found"})
		return
	}
	msgs, err := s.store.Messages(ctx, conv.Id)
	if err != nil {
		zap.S().Errorw("load messages", "conversation", conv.Id, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load messages"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":         conv.Id,
		"title":      conv.Title,
		"model_name": conv.ModelName,
		"created_at": conv.CreatedAt,
		"messages":   msgs,
	})
}

func (s *Service) HandleDeleteConversation(c *gin.Context) {
	userId := c.GetString(UserIdContextName)
	err := s.store.DeleteConversation(c.Request.Context(), c.Param("id"), userId)
	if errors.Is(err, db.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Conversation not found"})
		return
	}
	if err != nil {
		zap.S().Errorw("delete conversation", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete conversation"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Conversation deleted"})
}

func (s *Service) HandleChangeModel(c *gin.Context) {
	ctx := c.Request.Context()
	userId := c.GetString(UserIdContextName)
	var req struct {
		ModelName string `json:"model_name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.ModelName == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Model name is required"})
		return
	}
	if _, err := s.resolver.Resolve(ctx, req.ModelName); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Model %s is not available", req.ModelName)})
		return
	}
	err := s.store.UpdateConversationModel(ctx, c.Param("id"), userId, req.ModelName)
	if errors.Is(err, db.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Conversation not found"})
		return
	}
	if err != nil {
		zap.S().Errorw("change model", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to change model"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": fmt.Sprintf("Model changed to %s", req.ModelName)})
}

// HandleSendMessage runs one user turn and streams merged model output back
// as newline-delimited event-stream frames. Pre-dispatch failures (empty
// message, unresolvable model) are plain HTTP errors; once streaming starts
// the client always gets a terminal done frame, error or not.
func (s *Service) HandleSendMessage(c *gin.Context) {
	ctx := c.Request.Context()
	userId := c.GetString(UserIdContextName)
	conv, err := s.store.Conversation(ctx, c.Param("id"), userId)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Conversation not found"})
		return
	}
	var req sendMessageRequest
	if err = c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	if req.Parallel && strings.TrimSpace(req.SecondModel) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "second_model is required in parallel mode"})
		return
	}

	if _, err = s.orch.RecordUserTurn(ctx, conv.Id, req.Message); err != nil {
		if errors.Is(err, chat.ErrEmptyMessage) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Message cannot be empty"})
			return
		}
		zap.S().Errorw("record user turn", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save message"})
		return
	}

	second := ""
	if req.Parallel {
		second = strings.TrimSpace(req.SecondModel)
	}
	events, err := s.orch.StreamTurn(ctx, conv, second)
	if err != nil {
		if errors.Is(err, model.ErrModelNotAvailable) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		zap.S().Errorw("start stream", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to start response stream"})
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	for ev := range events {
		frame := StreamFrame{
			Content:   ev.Content,
			Done:      ev.Done,
			MessageId: ev.MessageId,
			Parallel:  ev.Parallel,
			Error:     ev.Err,
		}
		if req.Parallel && !ev.Done {
			idx := ev.ModelIndex
			frame.Model = ev.Model
			frame.ModelIndex = &idx
		}
		data, err := json.Marshal(&frame)
		if err != nil {
			zap.S().Errorw("marshal stream frame", "err", err)
			continue
		}
		fmt.Fprintf(c.Writer, "data: %s\n\n", data)
		c.Writer.Flush()
	}
}

func (s *Service) HandleSelectResponse(c *gin.Context) {
	userId := c.GetString(UserIdContextName)
	var req selectResponseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	rec, err := s.orch.SelectResponse(c.Request.Context(), userId, req.Query, req.ChosenAnswer, req.ModelUsed)
	if errors.Is(err, chat.ErrMissingField) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "All fields are required"})
		return
	}
	if err != nil {
		zap.S().Errorw("select response", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to record selection"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Response recorded", "id": rec.Id})
}

func (s *Service) HandleSynthesize(c *gin.Context) {
	var req struct {
		Text string `json:"text"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Text) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Text is required"})
		return
	}
	path, err := s.speech.Synthesize(c.Request.Context(), strings.TrimSpace(req.Text))
	if err != nil {
		zap.S().Errorw("tts synthesis", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.FileAttachment(path, "speech.wav")
}

func (s *Service) HandleTranscribe(c *gin.Context) {
	file, err := c.FormFile("audio")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No audio file provided"})
		return
	}
	tmp, err := os.CreateTemp("", "asr-*.mp3")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store audio"})
		return
	}
	tmp.Close()
	defer os.Remove(tmp.Name())
	if err = c.SaveUploadedFile(file, tmp.Name()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store audio"})
		return
	}
	language := c.DefaultPostForm("language", "tw")
	text, err := s.speech.Transcribe(c.Request.Context(), tmp.Name(), language)
	if err != nil {
		zap.S().Errorw("asr transcription", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"text": text})
}

func (s *Service) HandleAudio(c *gin.Context) {
	if s.speech == nil {
		c.Status(http.StatusNotFound)
		return
	}
	filename := filepath.Base(c.Param("filename"))
	c.File(filepath.Join(s.speech.AudioDir(), filename))
}
