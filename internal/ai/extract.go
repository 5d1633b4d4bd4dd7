package ai

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"

	"github.com/Alexbaranow/arkana-women-bot/internal/models"
)

// ErrInvalidJSON is returned when no sign or description can be recovered
// from the model's raw text.
var ErrInvalidJSON = errors.New("invalid JSON from provider")

var (
	codeFenceRe     = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")
	trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)
	signFieldRe     = regexp.MustCompile(`"sign"\s*:\s*"((?:[^"\\]|\\.)*)"`)
	descFieldRe     = regexp.MustCompile(`"description"\s*:\s*"((?:[^"\\]|\\.)*)"`)
)

// extractJSONObject pulls the outermost {...} span out of model output,
// stripping Markdown code fences first. Returns "" when there is no object.
func extractJSONObject(raw string) string {
	text := raw
	if m := codeFenceRe.FindStringSubmatch(text); m != nil {
		text = m[1]
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end == -1 || end < start {
		return ""
	}
	return text[start : end+1]
}

// parseAscendant recovers the sign/description object from raw model text.
// Strict JSON parse first (with a tolerant trailing-comma fix), then a
// regex fallback on the individual fields.
func parseAscendant(raw string) (*models.Ascendant, error) {
	obj := extractJSONObject(raw)
	if obj != "" {
		var ascendant models.Ascendant
		if err := json.Unmarshal([]byte(obj), &ascendant); err != nil {
			fixed := trailingCommaRe.ReplaceAllString(obj, "$1")
			err = json.Unmarshal([]byte(fixed), &ascendant)
			if err != nil {
				ascendant = models.Ascendant{}
			}
		}
		if ascendant.Sign != "" || ascendant.Description != "" {
			return &ascendant, nil
		}
	}

	// Last resort: pick the fields out of whatever came back.
	var ascendant models.Ascendant
	if m := signFieldRe.FindStringSubmatch(raw); m != nil {
		ascendant.Sign = unescapeJSONString(m[1])
	}
	if m := descFieldRe.FindStringSubmatch(raw); m != nil {
		ascendant.Description = unescapeJSONString(m[1])
	}
	if ascendant.Sign == "" && ascendant.Description == "" {
		return nil, ErrInvalidJSON
	}
	return &ascendant, nil
}

func unescapeJSONString(s string) string {
	var out string
	if err := json.Unmarshal([]byte(`"`+s+`"`), &out); err != nil {
		return s
	}
	return out
}
