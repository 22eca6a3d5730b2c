package classifier

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Classification is the structured reading of one event.
// Optional fields are empty when the model omitted them; Urgency is the one
// field that must parse.
type Classification struct {
	Topic      string   `json:"topic"`
	Urgency    string   `json:"urgency"`
	Sentiment  string   `json:"sentiment"`
	Intent     string   `json:"intent"`
	Summary    string   `json:"summary"`
	NextAction string   `json:"next_action"`
	Confidence *float64 `json:"confidence"`
}

var validUrgencies = map[string]bool{
	"low":      true,
	"medium":   true,
	"high":     true,
	"critical": true,
}

// ParseClassification parses a model response leniently: surrounding prose
// and code fences are stripped, missing optional fields default to empty.
// An urgency outside the enum fails the parse.
func ParseClassification(content string) (*Classification, error) {
	payload := extractJSONObject(content)
	if payload == "" {
		return nil, fmt.Errorf("no JSON object in response")
	}

	var c Classification
	if err := json.Unmarshal([]byte(payload), &c); err != nil {
		return nil, fmt.Errorf("decoding classification: %w", err)
	}

	c.Urgency = strings.ToLower(strings.TrimSpace(c.Urgency))
	if !validUrgencies[c.Urgency] {
		return nil, fmt.Errorf("urgency %q outside enum", c.Urgency)
	}
	if c.Confidence != nil && (*c.Confidence < 0 || *c.Confidence > 1) {
		c.Confidence = nil
	}
	return &c, nil
}

// extractJSONObject returns the span from the first '{' to the last '}' of
// the content, or "" when there is no such span.
func extractJSONObject(content string) string {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return ""
	}
	return content[start : end+1]
}
