// ABOUTME: Tolerant JSON repair and decoding for model output
// ABOUTME: Repair and decode are separate steps so their failure modes stay distinguishable

package agent

import (
	"encoding/json"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// sanitize strips reasoning remnants and markdown fences the model may
// wrap around its output.
func sanitize(raw string) string {
	// Keep only what follows the model's reasoning block, if any
	if idx := strings.LastIndex(raw, "</think>"); idx >= 0 {
		raw = raw[idx+len("</think>"):]
	}
	raw = strings.TrimSpace(raw)

	if strings.HasPrefix(raw, "```") {
		raw = strings.TrimPrefix(raw, "```json")
		raw = strings.TrimPrefix(raw, "```")
		raw = strings.TrimSuffix(strings.TrimSpace(raw), "```")
		raw = strings.TrimSpace(raw)
	}
	return raw
}

// repairJSON runs the tolerant repair pass over raw model output.
// It fixes minor malformations (missing quotes, trailing commas) but
// performs no structural decoding.
func repairJSON(raw string) (string, error) {
	repaired, err := jsonrepair.JSONRepair(raw)
	if err != nil {
		return "", &ParseError{Stage: ParseStageRepair, Err: err}
	}
	return repaired, nil
}

// decodeObject decodes repaired JSON into a generic object. A non-object
// payload (array, scalar) is a decode failure, not a repair failure.
func decodeObject(repaired string) (map[string]any, error) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(repaired), &obj); err != nil {
		return nil, &ParseError{Stage: ParseStageDecode, Err: err}
	}
	return obj, nil
}
