package analysis

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	DefaultOllamaURL   = "http://localhost:11434"
	DefaultOllamaModel = "llava"

	// ollamaTimeout is generous: vision models are slow on local hardware
	ollamaTimeout = 120 * time.Second

	readerPersona = "You are an expert at reading printed pages. You carefully read all text in images and transcribe it accurately."
)

// Ollama implements Gateway against a local Ollama server. Text extraction
// needs a vision model such as llava, llava-phi3 or qwen2-vl.
type Ollama struct {
	endpoint string
	model    string
	client   *http.Client
	images   ImageSource
}

// NewOllama creates an Ollama gateway that loads page images from images
func NewOllama(baseURL string, modelName string, images ImageSource) (*Ollama, error) {
	if baseURL == "" {
		baseURL = DefaultOllamaURL
	}
	if modelName == "" {
		modelName = DefaultOllamaModel
	}
	return &Ollama{
		endpoint: strings.TrimRight(baseURL, "/") + "/api/chat",
		model:    modelName,
		client:   &http.Client{Timeout: ollamaTimeout},
		images:   images,
	}, nil
}

type chatTurn struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

type chatOptions struct {
	Temperature float64 `json:"temperature"`
}

type chatRequest struct {
	Model    string      `json:"model"`
	Messages []chatTurn  `json:"messages"`
	Stream   bool        `json:"stream"`
	Format   string      `json:"format,omitempty"`
	Options  chatOptions `json:"options"`
}

type chatReply struct {
	Message chatTurn `json:"message"`
	Done    bool     `json:"done"`
}

// ExtractText transcribes the page stored at imageRef
func (o *Ollama) ExtractText(ctx context.Context, imageRef string) (string, error) {
	page, err := loadPNG(o.images, imageRef)
	if err != nil {
		return "", err
	}

	text, err := o.chat(ctx, chatRequest{
		Messages: []chatTurn{
			{Role: "system", Content: readerPersona},
			{Role: "user", Content: extractTextPrompt, Images: []string{base64.StdEncoding.EncodeToString(page)}},
		},
	})
	if err != nil {
		return "", fmt.Errorf("transcribing %s: %w", imageRef, err)
	}
	return stripCodeFence(text), nil
}

// Analyze summarizes transcribed text with output constrained to JSON
func (o *Ollama) Analyze(ctx context.Context, text string) (*Result, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errEmptyText
	}

	reply, err := o.chat(ctx, chatRequest{
		Format:   "json",
		Options:  chatOptions{Temperature: 0.3},
		Messages: []chatTurn{{Role: "user", Content: fmt.Sprintf(analyzePrompt, text)}},
	})
	if err != nil {
		return nil, fmt.Errorf("summarizing: %w", err)
	}
	return parseAnalysisJSON(reply, text)
}

// chat sends one non-streaming request and returns the assistant's content
func (o *Ollama) chat(ctx context.Context, body chatRequest) (string, error) {
	body.Model = o.model
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling ollama API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("ollama API error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	var reply chatReply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}
	return reply.Message.Content, nil
}

// Close is a no-op; the HTTP client holds no resources
func (o *Ollama) Close() error {
	return nil
}
