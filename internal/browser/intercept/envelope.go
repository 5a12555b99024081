package intercept

import (
	"fmt"

	"google.golang.org/genai"
)

// DefaultGenerationPattern covers every call to the generation API host.
const DefaultGenerationPattern = "**/generativelanguage.googleapis.com/**"

// GenerationFields is the structured payload the application parses out of
// the model's text part.
type GenerationFields struct {
	Amount   float64 `json:"amount"`
	Summary  string  `json:"summary"`
	Category string  `json:"category"`
}

// DefaultGenerationFields is the receipt the built-in scenarios expect.
var DefaultGenerationFields = GenerationFields{
	Amount:   5000,
	Summary:  "Mega Arasaka Gear",
	Category: "Cyberware",
}

// GenerationEnvelope encodes f as JSON text inside a generateContent
// response: candidates[0].content.parts[0].text holds the inner document.
func GenerationEnvelope(f GenerationFields) ([]byte, error) {
	inner, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encode generation fields: %w", err)
	}

	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content:      genai.NewContentFromText(string(inner), genai.RoleModel),
			FinishReason: genai.FinishReasonStop,
		}},
	}
	body, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("encode generation envelope: %w", err)
	}
	return body, nil
}

// DecodeGenerationEnvelope reverses GenerationEnvelope. It is what the
// application does with the body, and tests use it to check the shape.
func DecodeGenerationEnvelope(body []byte) (GenerationFields, error) {
	var resp genai.GenerateContentResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return GenerationFields{}, fmt.Errorf("decode envelope: %w", err)
	}
	text := resp.Text()
	if text == "" {
		return GenerationFields{}, fmt.Errorf("decode envelope: no text part")
	}
	var f GenerationFields
	if err := json.Unmarshal([]byte(text), &f); err != nil {
		return GenerationFields{}, fmt.Errorf("decode inner document: %w", err)
	}
	return f, nil
}

// GenerationRule stubs pattern with a generation envelope carrying f.
func GenerationRule(pattern string, f GenerationFields) (Rule, error) {
	body, err := GenerationEnvelope(f)
	if err != nil {
		return Rule{}, err
	}
	return NewRule(pattern, Static(200, "application/json", body))
}
