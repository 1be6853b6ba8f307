package analysis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const (
	// DefaultGeminiModel handles both transcription and summarization
	DefaultGeminiModel = "gemini-2.5-pro"

	// geminiTimeout bounds each call to the Gemini API
	geminiTimeout = 30 * time.Second
)

// Gemini implements Gateway with two handles on the same model: a reader
// tuned for literal transcription and a summarizer prompted to answer in JSON.
type Gemini struct {
	client     *genai.Client
	reader     *genai.GenerativeModel
	summarizer *genai.GenerativeModel
	images     ImageSource
}

// NewGemini creates a Gemini gateway that loads page images from images
func NewGemini(apiKey string, modelName string, images ImageSource) (*Gemini, error) {
	if apiKey == "" {
		return nil, errors.New("gemini api key is required")
	}
	if modelName == "" {
		modelName = DefaultGeminiModel
	}

	client, err := genai.NewClient(context.Background(), option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	reader := client.GenerativeModel(modelName)
	reader.SetTemperature(0)

	summarizer := client.GenerativeModel(modelName)
	summarizer.SetTemperature(0.3)

	return &Gemini{
		client:     client,
		reader:     reader,
		summarizer: summarizer,
		images:     images,
	}, nil
}

// ExtractText transcribes the page stored at imageRef
func (g *Gemini) ExtractText(ctx context.Context, imageRef string) (string, error) {
	page, err := loadPNG(g.images, imageRef)
	if err != nil {
		return "", err
	}

	// genai.ImageData takes the format suffix, not the MIME type
	text, err := generateText(ctx, g.reader, genai.ImageData("png", page), genai.Text(extractTextPrompt))
	if err != nil {
		return "", fmt.Errorf("transcribing %s: %w", imageRef, err)
	}
	return stripCodeFence(text), nil
}

// Analyze summarizes transcribed text
func (g *Gemini) Analyze(ctx context.Context, text string) (*Result, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errEmptyText
	}

	reply, err := generateText(ctx, g.summarizer, genai.Text(fmt.Sprintf(analyzePrompt, text)))
	if err != nil {
		return nil, fmt.Errorf("summarizing: %w", err)
	}
	return parseAnalysisJSON(reply, text)
}

// generateText runs one request and joins the text parts of the first candidate
func generateText(ctx context.Context, model *genai.GenerativeModel, parts ...genai.Part) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, geminiTimeout)
	defer cancel()

	resp, err := model.GenerateContent(ctx, parts...)
	if err != nil {
		return "", err
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", errors.New("gemini returned no candidates")
	}

	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	if b.Len() == 0 {
		return "", errors.New("gemini returned no text")
	}
	return b.String(), nil
}

// Close closes the Gemini client
func (g *Gemini) Close() error {
	return g.client.Close()
}
