package normalize

import (
	"math"
	"strings"
	"testing"
)

func TestNormalizeErrorObject(t *testing.T) {
	payload := map[string]any{
		"error": map[string]any{"message": "bad key"},
	}

	result := Normalize(payload)

	if !result.Failed {
		t.Fatal("expected a failed result")
	}
	if result.AIScore != NeutralScore {
		t.Errorf("expected neutral score, got %v", result.AIScore)
	}
	if !strings.Contains(result.Label, "bad key") {
		t.Errorf("label should carry the upstream message, got %q", result.Label)
	}
	if !strings.HasPrefix(result.Label, "Winston error: ") {
		t.Errorf("label should be marked as an upstream error, got %q", result.Label)
	}
	if result.Version != DefaultVersion {
		t.Errorf("expected default version, got %q", result.Version)
	}
	if result.Raw == nil {
		t.Error("raw payload should be preserved on failures")
	}
}

func TestNormalizeErrorString(t *testing.T) {
	result := Normalize(map[string]any{"error": "quota exceeded"})

	if !result.Failed {
		t.Fatal("expected a failed result")
	}
	if !strings.Contains(result.Label, "quota exceeded") {
		t.Errorf("unexpected label %q", result.Label)
	}
	if result.AIScore != NeutralScore {
		t.Errorf("expected neutral score, got %v", result.AIScore)
	}
}

func TestNormalizeEmptyErrorStringIsNotAnError(t *testing.T) {
	result := Normalize(map[string]any{"error": "", "ai_score": 0.9})

	if result.Failed {
		t.Fatal("empty error string should not fail the result")
	}
	if result.AIScore != 0.9 {
		t.Errorf("expected score 0.9, got %v", result.AIScore)
	}
}

func TestNormalizeErrorTextSegment(t *testing.T) {
	payload := map[string]any{
		"result": map[string]any{
			"content": []any{
				map[string]any{"type": "text", "text": "There was an error processing the image"},
			},
		},
	}

	result := Normalize(payload)

	if !result.Failed {
		t.Fatal("expected a failed result")
	}
	if result.AIScore != NeutralScore {
		t.Errorf("expected neutral score, got %v", result.AIScore)
	}
	if !strings.Contains(result.Label, "There was an error") {
		t.Errorf("unexpected label %q", result.Label)
	}
}

func TestNormalizeErrorTextBeatsEmbeddedJSON(t *testing.T) {
	payload := map[string]any{
		"content": []any{
			map[string]any{"type": "text", "text": `Full API Response : {"ai_score": 0.9}`},
			map[string]any{"type": "text", "text": "there was an error after all"},
		},
	}

	result := Normalize(payload)

	if !result.Failed {
		t.Fatal("an error segment anywhere should win over embedded JSON")
	}
	if result.AIScore != NeutralScore {
		t.Errorf("expected neutral score, got %v", result.AIScore)
	}
}

func TestNormalizeEmbeddedJSON(t *testing.T) {
	payload := map[string]any{
		"result": map[string]any{
			"content": []any{
				map[string]any{"type": "text", "text": `Full API Response : {"ai_probability": 42}`},
			},
		},
	}

	result := Normalize(payload)

	if result.Failed {
		t.Fatal("unexpected failure")
	}
	if result.AIScore != 0.42 {
		t.Errorf("expected 0.42, got %v", result.AIScore)
	}
}

func TestNormalizeEmbeddedJSONWithNestedBraces(t *testing.T) {
	text := `Analysis done. Full API Response: {"details": {"provider": "winston"}, "ai_score": 0.9, "model": "w-2"} trailing text`
	payload := map[string]any{
		"content": []any{
			map[string]any{"type": "text", "text": text},
		},
	}

	result := Normalize(payload)

	if result.AIScore != 0.9 {
		t.Errorf("expected 0.9, got %v", result.AIScore)
	}
	if result.Version != "w-2" {
		t.Errorf("expected version from embedded model field, got %q", result.Version)
	}
	if result.Label != LabelAI {
		t.Errorf("expected AI label, got %q", result.Label)
	}
}

func TestNormalizeEmbeddedJSONAfterCaseChangingRunes(t *testing.T) {
	// U+023A grows from two UTF-8 bytes to three when lowercased, so an
	// offset found in a lowered copy of the segment would overrun the
	// original text.
	prefix := strings.Repeat("Ⱥ", 20)
	payload := map[string]any{
		"result": map[string]any{
			"content": []any{
				map[string]any{"type": "text", "text": prefix + ` FULL API RESPONSE {"ai_score": 0.9}`},
			},
		},
	}

	result := Normalize(payload)

	if result.Failed {
		t.Fatalf("unexpected failure: %+v", result)
	}
	if result.AIScore != 0.9 {
		t.Errorf("expected 0.9, got %v", result.AIScore)
	}
	if result.Label != LabelAI {
		t.Errorf("expected AI label, got %q", result.Label)
	}
}

func TestNormalizeScoreAliases(t *testing.T) {
	cases := []struct {
		name    string
		payload map[string]any
		want    float64
	}{
		{"ai_score unit interval", map[string]any{"ai_score": 0.3}, 0.3},
		{"ai_probability percentage", map[string]any{"ai_probability": float64(87)}, 0.87},
		{"score string percent", map[string]any{"score": "64%"}, 0.64},
		{"probability string", map[string]any{"probability": " 0.5 "}, 0.5},
		{"human probability complement", map[string]any{"human_probability": 0.2}, 0.8},
		{"alias order ai_score first", map[string]any{"ai_score": 0.1, "score": 0.9}, 0.1},
		{"unusable alias falls through", map[string]any{"ai_score": "n/a", "score": 0.7}, 0.7},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			result := Normalize(tc.payload)
			if math.Abs(result.AIScore-tc.want) > 1e-9 {
				t.Errorf("expected %v, got %v", tc.want, result.AIScore)
			}
		})
	}
}

func TestNormalizeDiscardsUnusableScores(t *testing.T) {
	cases := []struct {
		name    string
		payload map[string]any
	}{
		{"negative", map[string]any{"ai_score": -0.2}},
		{"above hundred", map[string]any{"ai_score": float64(250)}},
		{"not numeric", map[string]any{"ai_score": "very likely"}},
		{"nan string", map[string]any{"ai_score": "NaN"}},
		{"wrong type", map[string]any{"ai_score": []any{1}}},
		{"no score at all", map[string]any{"something": "else"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			result := Normalize(tc.payload)
			if result.AIScore != NeutralScore {
				t.Errorf("expected neutral score, got %v", result.AIScore)
			}
			if result.Label != LabelUnknown {
				t.Errorf("expected Unknown label, got %q", result.Label)
			}
		})
	}
}

func TestNormalizeBooleanLabels(t *testing.T) {
	result := Normalize(map[string]any{"is_ai": true})
	if result.Label != LabelAI {
		t.Errorf("is_ai=true should label AI, got %q", result.Label)
	}
	if result.AIScore != NeutralScore {
		t.Errorf("boolean label without score keeps neutral score, got %v", result.AIScore)
	}

	result = Normalize(map[string]any{"is_ai": false})
	if result.Label != LabelHuman {
		t.Errorf("is_ai=false should label Human, got %q", result.Label)
	}

	result = Normalize(map[string]any{"is_human": true})
	if result.Label != LabelHuman {
		t.Errorf("is_human=true should label Human, got %q", result.Label)
	}

	result = Normalize(map[string]any{"is_human": false})
	if result.Label != LabelAI {
		t.Errorf("is_human=false should label AI, got %q", result.Label)
	}
}

func TestNormalizeLabelPrecedence(t *testing.T) {
	result := Normalize(map[string]any{
		"label":    "synthetic",
		"is_ai":    false,
		"ai_score": 0.99,
	})

	if result.Label != "synthetic" {
		t.Errorf("explicit label should win, got %q", result.Label)
	}
	if result.AIScore != 0.99 {
		t.Errorf("score extraction is independent of the label, got %v", result.AIScore)
	}
}

func TestNormalizeThresholdLabels(t *testing.T) {
	cases := []struct {
		score float64
		want  string
	}{
		{0.9, LabelAI},
		{0.65, LabelAI},
		{0.64, LabelMixed},
		{0.5, LabelMixed},
		{0.36, LabelMixed},
		{0.35, LabelHuman},
		{0.1, LabelHuman},
	}

	for _, tc := range cases {
		result := Normalize(map[string]any{"ai_score": tc.score})
		if result.Label != tc.want {
			t.Errorf("score %v: expected %q, got %q", tc.score, tc.want, result.Label)
		}
	}
}

func TestNormalizeVersion(t *testing.T) {
	result := Normalize(map[string]any{"ai_score": 0.5, "version": "v3"})
	if result.Version != "v3" {
		t.Errorf("expected v3, got %q", result.Version)
	}

	result = Normalize(map[string]any{"ai_score": 0.5, "model": "winston-large"})
	if result.Version != "winston-large" {
		t.Errorf("expected model fallback, got %q", result.Version)
	}

	result = Normalize(map[string]any{"ai_score": 0.5})
	if result.Version != DefaultVersion {
		t.Errorf("expected default version, got %q", result.Version)
	}
}

func TestNormalizeNilPayload(t *testing.T) {
	result := Normalize(nil)

	if result.AIScore != NeutralScore {
		t.Errorf("expected neutral score, got %v", result.AIScore)
	}
	if result.Label != LabelUnknown {
		t.Errorf("expected Unknown, got %q", result.Label)
	}
	if result.Version != DefaultVersion {
		t.Errorf("expected default version, got %q", result.Version)
	}
	if result.Raw != nil {
		t.Error("nil payload should not produce a raw document")
	}
}

func TestNormalizeAlwaysWellFormed(t *testing.T) {
	payloads := []map[string]any{
		nil,
		{},
		{"error": nil},
		{"error": 42},
		{"error": map[string]any{}},
		{"content": "not an array"},
		{"content": []any{"not a map", map[string]any{"type": "image"}}},
		{"result": "flat"},
		{"result": map[string]any{"content": []any{map[string]any{"type": "text", "text": "Full API Response: {broken"}}}},
		{"ai_score": math.NaN()},
		{"ai_score": math.Inf(1)},
		{"human_probability": "garbage"},
		{"label": 17, "score": true},
	}

	for i, payload := range payloads {
		result := Normalize(payload)
		if math.IsNaN(result.AIScore) || math.IsInf(result.AIScore, 0) {
			t.Errorf("payload %d: non-finite score", i)
		}
		if result.AIScore < 0 || result.AIScore > 1 {
			t.Errorf("payload %d: score %v out of range", i, result.AIScore)
		}
		if result.Label == "" {
			t.Errorf("payload %d: empty label", i)
		}
		if result.Version == "" {
			t.Errorf("payload %d: empty version", i)
		}
	}
}

func TestNeutral(t *testing.T) {
	result := Neutral("Image is too small")

	if result.AIScore != NeutralScore {
		t.Errorf("expected neutral score, got %v", result.AIScore)
	}
	if result.Label != "Image is too small" {
		t.Errorf("unexpected label %q", result.Label)
	}
	if result.Version != DefaultVersion {
		t.Errorf("expected default version, got %q", result.Version)
	}

	if fallback := Neutral("  "); fallback.Label != LabelUnknown {
		t.Errorf("blank label should fall back to Unknown, got %q", fallback.Label)
	}
}
