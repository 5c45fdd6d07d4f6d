// Package normalize turns whatever the external detector answered into a
// verdict the caller can always rely on. The upstream payload has no stable
// contract: the score may arrive as a structured field, as a number inside a
// free-text diagnostic, or not at all. Extraction runs as an ordered chain of
// attempts and the first one that succeeds wins.
package normalize

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// DefaultVersion identifies the detector integration when the payload
// carries no version or model field of its own.
const DefaultVersion = "winston-ai"

// NeutralScore is the explicit "unknown" sentinel used whenever no numeric
// signal can be extracted. It is a value, not an absence.
const NeutralScore = 0.5

// Labels derived when the payload has no categorical signal of its own.
const (
	LabelAI      = "AI"
	LabelHuman   = "Human"
	LabelMixed   = "Mixed"
	LabelUnknown = "Unknown"
)

// Score thresholds for label derivation.
const (
	aiThreshold    = 0.65
	humanThreshold = 0.35
)

// errorTextMarker flags a text segment as an upstream failure message.
const errorTextMarker = "there was an error"

// embeddedJSONMarker precedes a JSON object embedded in a diagnostic text
// segment.
const embeddedJSONMarker = "full api response"

// scoreAliases are probed in order for the AI-probability signal.
var scoreAliases = []string{"ai_score", "ai_probability", "score", "probability"}

// Result is the normalized verdict. AIScore is always finite and in [0,1],
// Label and Version are never empty, so callers need no error branch.
type Result struct {
	AIScore float64 `json:"aiScore"`
	Label   string  `json:"label"`
	Version string  `json:"version"`
	Raw     any     `json:"raw"`

	// Failed reports that the upstream answered with an error instead of a
	// verdict. Internal only; the wire shape is identical either way.
	Failed bool `json:"-"`
}

// Neutral builds the envelope used when no upstream payload exists at all:
// neutral score, the given label, no raw document.
func Neutral(label string) Result {
	if strings.TrimSpace(label) == "" {
		label = LabelUnknown
	}
	return Result{AIScore: NeutralScore, Label: label, Version: DefaultVersion}
}

// Normalize extracts a score and label from an upstream payload. Attempts
// run in precedence order: an explicit error object, an error message inside
// a text segment, a JSON object embedded in a text segment, then direct
// structured fields. Whatever happens, the result is well formed.
func Normalize(payload map[string]any) Result {
	if len(payload) == 0 {
		return Result{AIScore: NeutralScore, Label: LabelUnknown, Version: DefaultVersion}
	}

	if message, ok := errorMessage(payload); ok {
		return failed(payload, message)
	}

	segments := textSegments(payload)
	for _, text := range segments {
		if strings.Contains(strings.ToLower(text), errorTextMarker) {
			return failed(payload, strings.TrimSpace(text))
		}
	}

	fields := payload
	for _, text := range segments {
		if embedded, ok := embeddedJSON(text); ok {
			fields = embedded
			break
		}
	}

	score, scoreOK := extractScore(fields)

	result := Result{
		AIScore: NeutralScore,
		Label:   extractLabel(fields, score, scoreOK),
		Version: extractVersion(fields),
		Raw:     payload,
	}
	if scoreOK {
		result.AIScore = score
	}
	return result
}

func failed(payload map[string]any, message string) Result {
	return Result{
		AIScore: NeutralScore,
		Label:   "Winston error: " + message,
		Version: extractVersion(payload),
		Raw:     payload,
		Failed:  true,
	}
}

// errorMessage reports whether the payload carries an explicit error object
// and digs out its message. The error value itself has no fixed shape.
func errorMessage(payload map[string]any) (string, bool) {
	raw, ok := payload["error"]
	if !ok || raw == nil {
		return "", false
	}
	switch v := raw.(type) {
	case map[string]any:
		if message, ok := v["message"].(string); ok && message != "" {
			return message, true
		}
		return fmt.Sprintf("%v", v), true
	case string:
		if v == "" {
			return "", false
		}
		return v, true
	default:
		return fmt.Sprintf("%v", v), true
	}
}

// textSegments collects the text entries from the payload's content array.
// The RPC transport nests it under result.content, other shapes put it at
// the top level.
func textSegments(payload map[string]any) []string {
	var items []any
	if result, ok := payload["result"].(map[string]any); ok {
		items, _ = result["content"].([]any)
	}
	if items == nil {
		items, _ = payload["content"].([]any)
	}

	var texts []string
	for _, item := range items {
		segment, ok := item.(map[string]any)
		if !ok || segment["type"] != "text" {
			continue
		}
		if text, ok := segment["text"].(string); ok && text != "" {
			texts = append(texts, text)
		}
	}
	return texts
}

// embeddedJSON pulls a JSON object out of a diagnostic text segment. The
// segment must contain the marker; the object starts at the first brace
// after it and ends at the brace that balances it.
func embeddedJSON(text string) (map[string]any, bool) {
	idx := indexFold(text, embeddedJSONMarker)
	if idx < 0 {
		return nil, false
	}

	rest := text[idx+len(embeddedJSONMarker):]
	start := strings.IndexByte(rest, '{')
	if start < 0 {
		return nil, false
	}

	depth := 0
	for i := start; i < len(rest); i++ {
		switch rest[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				var fields map[string]any
				if err := json.Unmarshal([]byte(rest[start:i+1]), &fields); err != nil {
					return nil, false
				}
				return fields, true
			}
		}
	}
	return nil, false
}

// indexFold returns the byte offset of the first case-insensitive match of
// marker in text, or -1. The offset must be taken on the original string:
// Unicode case mappings can change UTF-8 byte length, so an index found in
// a lowered copy does not transfer.
func indexFold(text, marker string) int {
	for i := 0; i+len(marker) <= len(text); i++ {
		if strings.EqualFold(text[i:i+len(marker)], marker) {
			return i
		}
	}
	return -1
}

// extractScore probes the known score aliases in order, falling back to the
// complement of human_probability when that is all the payload offers.
func extractScore(fields map[string]any) (float64, bool) {
	for _, key := range scoreAliases {
		if raw, ok := fields[key]; ok {
			if score, ok := coerceScore(raw); ok {
				return score, true
			}
		}
	}
	if raw, ok := fields["human_probability"]; ok {
		if human, ok := coerceScore(raw); ok {
			return 1 - human, true
		}
	}
	return 0, false
}

// coerceScore turns a numeric or numeric-string value into a probability.
// Percentages in (1,100] are scaled down, [0,1] passes through, everything
// else is unusable.
func coerceScore(raw any) (float64, bool) {
	var v float64
	switch n := raw.(type) {
	case float64:
		v = n
	case float32:
		v = float64(n)
	case int:
		v = float64(n)
	case int64:
		v = float64(n)
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		v = f
	case string:
		s := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(n), "%"))
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		v = f
	default:
		return 0, false
	}

	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	switch {
	case v >= 0 && v <= 1:
		return v, true
	case v > 1 && v <= 100:
		return v / 100, true
	}
	return 0, false
}

// extractLabel derives the categorical verdict: an explicit label field
// wins, then the is_ai / is_human booleans, then thresholding the score.
// Without any score at all the label is Unknown.
func extractLabel(fields map[string]any, score float64, scoreOK bool) string {
	if label, ok := fields["label"].(string); ok && strings.TrimSpace(label) != "" {
		return label
	}
	if isAI, ok := fields["is_ai"].(bool); ok {
		if isAI {
			return LabelAI
		}
		return LabelHuman
	}
	if isHuman, ok := fields["is_human"].(bool); ok {
		if isHuman {
			return LabelHuman
		}
		return LabelAI
	}
	if !scoreOK {
		return LabelUnknown
	}
	switch {
	case score >= aiThreshold:
		return LabelAI
	case score <= humanThreshold:
		return LabelHuman
	}
	return LabelMixed
}

func extractVersion(fields map[string]any) string {
	if v, ok := fields["version"].(string); ok && v != "" {
		return v
	}
	if v, ok := fields["model"].(string); ok && v != "" {
		return v
	}
	return DefaultVersion
}
