package analysis

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/zombor/snapread/internal/doctype"
)

// rawResult mirrors the JSON a model is asked to produce; every field may be
// missing or malformed
type rawResult struct {
	Summary      string   `json:"summary"`
	Keywords     []string `json:"keywords"`
	Quotes       []string `json:"quotes"`
	DocumentType *string  `json:"document_type"`
}

// stripCodeFence removes a surrounding markdown code block
func stripCodeFence(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}

// parseAnalysisJSON parses a model response into a Result. sourceText is the
// analyzed text, classified locally when the model gives no usable type.
func parseAnalysisJSON(response, sourceText string) (*Result, error) {
	text := stripCodeFence(response)

	start := strings.Index(text, "{")
	if start == -1 {
		return nil, fmt.Errorf("no JSON object found in response")
	}
	end := strings.LastIndex(text, "}")
	if end < start {
		return nil, fmt.Errorf("invalid JSON object in response")
	}

	var raw rawResult
	if err := json.Unmarshal([]byte(text[start:end+1]), &raw); err != nil {
		return nil, fmt.Errorf("unmarshaling json: %w", err)
	}

	summary := strings.TrimSpace(raw.Summary)
	if summary == "" {
		return nil, fmt.Errorf("response has no summary")
	}

	result := &Result{
		Summary:  summary,
		Keywords: cleanList(raw.Keywords),
		Quotes:   cleanList(raw.Quotes),
	}

	if raw.DocumentType != nil {
		if t, err := doctype.Parse(*raw.DocumentType); err == nil {
			result.DocumentType = t
		}
	}
	if result.DocumentType == "" {
		result.DocumentType = doctype.Classify(sourceText)
	}

	return result, nil
}

// cleanList trims entries and drops blanks, never returning nil
func cleanList(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
