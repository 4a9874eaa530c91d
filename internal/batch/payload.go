package batch

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const analysisPrompt = `You are a media stance analyst. Given one news article, identify the distinct aspects (topics, entities, or framings) the article takes a position on. Respond with JSON only, in the form {"aspects":[{"name":"...","stance":-1.0,"intensity":0.0}]}. Stance ranges from -1 (strongly against) to 1 (strongly for); intensity ranges from 0 (passing mention) to 1 (central focus).`

type requestBody struct {
	Model          string            `json:"model"`
	Messages       []requestMessage  `json:"messages"`
	Temperature    float64           `json:"temperature"`
	ResponseFormat map[string]string `json:"response_format"`
}

type requestMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// requestLine is one record of the submitted batch payload.
type requestLine struct {
	CustomID string      `json:"custom_id"`
	Method   string      `json:"method"`
	URL      string      `json:"url"`
	Body     requestBody `json:"body"`
}

// resultLine is one record of a downloaded output or error file.
type resultLine struct {
	CustomID string `json:"custom_id"`
	Error    *struct {
		Message string `json:"message"`
	} `json:"error"`
	Response *struct {
		StatusCode int `json:"status_code"`
		Body       struct {
			Choices []struct {
				Message struct {
					Content string `json:"content"`
				} `json:"message"`
			} `json:"choices"`
		} `json:"body"`
	} `json:"response"`
}

func (r resultLine) content() string {
	if r.Response == nil {
		return ""
	}
	for _, choice := range r.Response.Body.Choices {
		if trimmed := strings.TrimSpace(choice.Message.Content); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

// analysisPayload is the structured document the model returns per article.
type analysisPayload struct {
	Aspects []struct {
		Name      string  `json:"name"`
		Stance    float64 `json:"stance"`
		Intensity float64 `json:"intensity"`
	} `json:"aspects"`
}

// decodeAnalysisJSON parses the model's JSON document, tolerating code
// fences and surrounding prose.
func decodeAnalysisJSON(content string, target any) error {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return errors.New("empty payload")
	}
	directErr := json.Unmarshal([]byte(trimmed), target)
	if directErr == nil {
		return nil
	}
	sanitized := sanitizeJSONPayload(trimmed)
	if sanitized == "" || sanitized == trimmed {
		return directErr
	}
	if err := json.Unmarshal([]byte(sanitized), target); err != nil {
		return fmt.Errorf("decode sanitized payload: %w", err)
	}
	return nil
}

func sanitizeJSONPayload(content string) string {
	trimmed := strings.TrimSpace(stripCodeFenceBlock(content))
	if trimmed == "" {
		return ""
	}
	if trimmed[0] == '{' || trimmed[0] == '[' {
		return trimmed
	}
	if start := strings.Index(trimmed, "{"); start >= 0 {
		if end := strings.LastIndex(trimmed, "}"); end > start {
			return strings.TrimSpace(trimmed[start : end+1])
		}
	}
	return trimmed
}

func stripCodeFenceBlock(content string) string {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	body := trimmed[3:]
	body = strings.TrimLeft(body, " \t\r\n")
	if len(body) >= 4 && strings.EqualFold(body[:4], "json") {
		body = strings.TrimLeft(body[4:], " \t\r\n")
	}
	if idx := strings.LastIndex(body, "```"); idx >= 0 {
		body = body[:idx]
	}
	return strings.TrimSpace(body)
}

func clamp(value, low, high float64) float64 {
	if value < low {
		return low
	}
	if value > high {
		return high
	}
	return value
}
