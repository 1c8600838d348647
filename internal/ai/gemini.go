package ai

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"bizmatrix/api/internal/logger"
)

type GeminiConfig struct {
	Model       string
	FallbackKey string
	Temperature float32
	Timeout     time.Duration
}

// Gemini implements Collaborator on the Google GenAI SDK. The key is resolved on every
// call so a key added through the API takes effect without a restart.
type Gemini struct {
	cfg  GeminiConfig
	keys KeySource
	log  *zap.Logger

	mu      sync.Mutex
	clients map[string]*genai.Client
}

func NewGemini(cfg GeminiConfig, keys KeySource, log *zap.Logger) *Gemini {
	if cfg.Model == "" {
		cfg.Model = "gemini-2.5-flash"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	return &Gemini{
		cfg:     cfg,
		keys:    keys,
		log:     logger.OrNop(log),
		clients: map[string]*genai.Client{},
	}
}

func (g *Gemini) apiKey(ctx context.Context) (string, error) {
	if g.keys != nil {
		if key, ok := g.keys.Effective(ctx); ok {
			return key, nil
		}
	}
	if g.cfg.FallbackKey != "" {
		return g.cfg.FallbackKey, nil
	}
	return "", ErrNoAPIKey
}

func (g *Gemini) client(ctx context.Context) (*genai.Client, error) {
	key, err := g.apiKey(ctx)
	if err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if client, ok := g.clients[key]; ok {
		return client, nil
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  key,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	g.clients[key] = client
	return client, nil
}

func (g *Gemini) generate(ctx context.Context, op string, parts []*genai.Part, config *genai.GenerateContentConfig) (string, error) {
	client, err := g.client(ctx)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	if config == nil {
		config = &genai.GenerateContentConfig{}
	}
	if config.Temperature == nil && g.cfg.Temperature > 0 {
		config.Temperature = genai.Ptr(g.cfg.Temperature)
	}

	started := time.Now()
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}
	resp, err := client.Models.GenerateContent(ctx, g.cfg.Model, contents, config)
	if err != nil {
		g.log.Warn("generation failed", zap.String("op", op), zap.String("model", g.cfg.Model), zap.Error(err))
		return "", fmt.Errorf("gemini %s: %w", op, err)
	}
	text := strings.TrimSpace(resp.Text())
	g.log.Debug("generation finished",
		zap.String("op", op),
		zap.String("model", g.cfg.Model),
		zap.Int("chars", len(text)),
		zap.Duration("duration", time.Since(started)),
	)
	if text == "" {
		return "", fmt.Errorf("gemini %s: empty response", op)
	}
	return text, nil
}

func (g *Gemini) GenerateText(ctx context.Context, prompt string) (string, error) {
	return g.generate(ctx, "text", []*genai.Part{genai.NewPartFromText(prompt)}, nil)
}

func (g *Gemini) GenerateJSON(ctx context.Context, prompt string, files []File) (string, error) {
	parts := []*genai.Part{genai.NewPartFromText(prompt)}
	for _, file := range files {
		parts = append(parts, genai.NewPartFromBytes(file.Data, file.MimeType))
	}
	return g.generate(ctx, "json", parts, &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	})
}

func (g *Gemini) Chat(ctx context.Context, prompt string, file *File) (string, error) {
	parts := []*genai.Part{genai.NewPartFromText(prompt)}
	if file != nil {
		parts = append(parts, genai.NewPartFromBytes(file.Data, file.MimeType))
	}
	return g.generate(ctx, "chat", parts, nil)
}
