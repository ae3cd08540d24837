// Package speech wraps the external synthesis/transcription provider and
// the local audio blob storage.
package speech

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

const providerTimeout = time.Second * 120

type Service struct {
	providerUrl string
	apiKey      string
	language    string
	speaker     string
	cacheDir    string
	audioDir    string
	httpClient  *http.Client
}

type Config struct {
	ProviderUrl string
	ApiKey      string
	Language    string
	Speaker     string
	CacheDir    string
	AudioDir    string
}

func NewService(cfg Config) (*Service, error) {
	if err := os.MkdirAll(cfg.CacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("create tts cache dir: %w", err)
	}
	if err := os.MkdirAll(cfg.AudioDir, 0o755); err != nil {
		return nil, fmt.Errorf("create audio dir: %w", err)
	}
	return &Service{
		providerUrl: cfg.ProviderUrl,
		apiKey:      cfg.ApiKey,
		language:    cfg.Language,
		speaker:     cfg.Speaker,
		cacheDir:    cfg.CacheDir,
		audioDir:    cfg.AudioDir,
		httpClient:  &http.Client{Timeout: providerTimeout},
	}, nil
}

func (s *Service) AudioDir() string {
	return s.audioDir
}

// cacheKey derives the cache filename from the synthesis inputs, so the
// same text never hits the provider twice.
func cacheKey(text, language, speaker string) string {
	sum := md5.Sum([]byte(text + "|" + language + "|" + speaker))
	return hex.EncodeToString(sum[:]) + ".wav"
}

// Synthesize returns the path of a wav file for the given text, serving
// from the cache when possible.
func (s *Service) Synthesize(ctx context.Context, text string) (string, error) {
	cachePath := filepath.Join(s.cacheDir, cacheKey(text, s.language, s.speaker))
	if _, err := os.Stat(cachePath); err == nil {
		zap.S().Debugw("tts cache hit", "path", cachePath)
		return cachePath, nil
	}

	body, _ := json.Marshal(map[string]string{
		"text":       text,
		"language":   s.language,
		"speaker_id": s.speaker,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.providerUrl+"/tts", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", s.apiKey)
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("tts request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("tts provider: status %d - %s", resp.StatusCode, string(msg))
	}
	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read tts audio: %w", err)
	}
	if err = os.WriteFile(cachePath, audio, 0o644); err != nil {
		return "", fmt.Errorf("write tts cache: %w", err)
	}
	return cachePath, nil
}

// GenerateMessageAudio synthesizes speech for a committed assistant message
// and stores it under a message-specific name. Returns the URL path for
// playback, or "" on any failure; the message stays persisted either way.
func (s *Service) GenerateMessageAudio(messageId, text string) string {
	ctx, cancel := context.WithTimeout(context.Background(), providerTimeout)
	defer cancel()
	src, err := s.Synthesize(ctx, text)
	if err != nil {
		zap.S().Warnw("tts synthesis failed", "message", messageId, "err", err)
		return ""
	}
	filename := "message_" + messageId + ".wav"
	dst := filepath.Join(s.audioDir, filename)
	audio, err := os.ReadFile(src)
	if err != nil {
		zap.S().Warnw("read cached audio", "message", messageId, "err", err)
		return ""
	}
	if err = os.WriteFile(dst, audio, 0o644); err != nil {
		zap.S().Warnw("store message audio", "message", messageId, "err", err)
		return ""
	}
	return "/audio/" + filename
}

type asrResponse struct {
	Text string `json:"text"`
}

// Transcribe sends an uploaded audio file to the provider and returns the
// recognized text.
func (s *Service) Transcribe(ctx context.Context, audioPath, language string) (string, error) {
	audio, err := os.ReadFile(audioPath)
	if err != nil {
		return "", fmt.Errorf("read audio: %w", err)
	}
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("audio", filepath.Base(audioPath))
	if err != nil {
		return "", err
	}
	if _, err = part.Write(audio); err != nil {
		return "", err
	}
	w.WriteField("language", language)
	w.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.providerUrl+"/asr", &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", s.apiKey)
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("asr request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("asr provider: status %d - %s", resp.StatusCode, string(msg))
	}
	var out asrResponse
	if err = json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode asr response: %w", err)
	}
	return out.Text, nil
}
