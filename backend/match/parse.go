package match

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

var (
	ErrInvalidResponse = errors.New("invalid llm response")
)

var (
	compatibilitySchema = mustSchema(`{
		"type": "object",
		"required": ["score"],
		"properties": {
			"score": {"type": ["number", "string"]},
			"reasons": {"type": "array", "items": {"type": "string"}},
			"ice_breakers": {"type": "array", "items": {"type": "string"}}
		}
	}`)

	iceBreakerSchema = mustSchema(`{
		"type": "object",
		"required": ["ice_breakers"],
		"properties": {
			"ice_breakers": {"type": "array", "minItems": 1, "items": {"type": "string"}}
		}
	}`)

	bioSchema = mustSchema(`{
		"type": "object",
		"required": ["bio_suggestions"],
		"properties": {
			"bio_suggestions": {"type": "array", "minItems": 1, "items": {"type": "string"}},
			"bio_score": {"type": ["number", "string"]},
			"tips": {"type": "array", "items": {"type": "string"}}
		}
	}`)

	moderationSchema = mustSchema(`{
		"type": "object",
		"required": ["safety_score"],
		"properties": {
			"safety_score": {"type": ["number", "string"]},
			"is_safe": {"type": ["boolean", "string"]},
			"categories": {"type": "array"}
		}
	}`)
)

func mustSchema(src string) *gojsonschema.Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
	if err != nil {
		panic(fmt.Sprintf("compile schema: %v", err))
	}
	return s
}

// ParseCompatibility turns raw model output into a Result. Fenced code blocks
// are accepted, the score is clamped to [0, 100] and lists are cut to three items.
func ParseCompatibility(raw string) (Result, error) {
	data, err := decode(raw, compatibilitySchema)
	if err != nil {
		return Result{}, err
	}

	score := coerceFloat(data["score"])
	if math.IsNaN(score) {
		return Result{}, fmt.Errorf("%w: score is not numeric", ErrInvalidResponse)
	}

	return Result{
		Score:       clampScore(score),
		Reasons:     truncate(coerceStrings(data["reasons"]), maxListItems),
		IceBreakers: truncate(coerceStrings(data["ice_breakers"]), maxListItems),
		Source:      SourceLLM,
	}, nil
}

func parseIceBreakers(raw string) ([]string, error) {
	data, err := decode(raw, iceBreakerSchema)
	if err != nil {
		return nil, err
	}
	out := truncate(coerceStrings(data["ice_breakers"]), maxListItems)
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no ice breakers", ErrInvalidResponse)
	}
	return out, nil
}

func parseBioSuggestions(raw string) (BioSuggestions, error) {
	data, err := decode(raw, bioSchema)
	if err != nil {
		return BioSuggestions{}, err
	}
	bios := truncate(coerceStrings(data["bio_suggestions"]), maxListItems)
	if len(bios) == 0 {
		return BioSuggestions{}, fmt.Errorf("%w: no bio suggestions", ErrInvalidResponse)
	}
	score := coerceFloat(data["bio_score"])
	if math.IsNaN(score) {
		score = fallbackBioScore
	}
	return BioSuggestions{
		Suggestions: bios,
		Score:       clampScore(score),
		Tips:        truncate(coerceStrings(data["tips"]), maxListItems),
	}, nil
}

func parseModeration(raw string) (float64, bool, error) {
	data, err := decode(raw, moderationSchema)
	if err != nil {
		return 0, false, err
	}
	score := coerceFloat(data["safety_score"])
	if math.IsNaN(score) {
		return 0, false, fmt.Errorf("%w: safety_score is not numeric", ErrInvalidResponse)
	}
	score = clampScore(score)
	safe := score >= unsafeBelow
	if v, ok := data["is_safe"]; ok {
		safe = safe && coerceBool(v)
	}
	return score, safe, nil
}

func decode(raw string, schema *gojsonschema.Schema) (map[string]any, error) {
	cleaned := extractJSON(raw)
	if cleaned == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidResponse)
	}

	var data map[string]any
	if err := json.Unmarshal([]byte(cleaned), &data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}

	res, err := schema.Validate(gojsonschema.NewGoLoader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if !res.Valid() {
		errs := make([]string, len(res.Errors()))
		for i, desc := range res.Errors() {
			errs[i] = desc.String()
		}
		return nil, fmt.Errorf("%w: %s", ErrInvalidResponse, strings.Join(errs, "; "))
	}
	return data, nil
}

// extractJSON strips markdown fences and any prose around the outermost object.
func extractJSON(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		raw = strings.TrimPrefix(raw, "```json")
		raw = strings.TrimPrefix(raw, "```")
		if idx := strings.LastIndex(raw, "```"); idx != -1 {
			raw = raw[:idx]
		}
	}
	raw = strings.TrimSpace(strings.Trim(raw, "`"))
	start, end := strings.Index(raw, "{"), strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		raw = raw[start : end+1]
	}
	return raw
}

func coerceFloat(v any) float64 {
	switch val := v.(type) {
	case float64:
		return val
	case int:
		return float64(val)
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return math.NaN()
		}
		return f
	default:
		return math.NaN()
	}
}

func coerceBool(v any) bool {
	switch val := v.(type) {
	case bool:
		return val
	case string:
		lower := strings.ToLower(strings.TrimSpace(val))
		return lower == "true" || lower == "yes"
	default:
		return false
	}
}

func coerceStrings(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}
