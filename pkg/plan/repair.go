package plan

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var (
	fenceRe         = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")
	adjacentObjRe   = regexp.MustCompile(`\}\s*\{`)
	trailingCommaRe = regexp.MustCompile(`,\s*([\]\}])`)
)

// extractJSON recovers a JSON object from a model response that may wrap it
// in prose, markdown fences, or slightly broken syntax. Applied in order:
// strict parse, fence stripping, outermost-brace slicing, then the repair
// rules (single quotes, missing commas between objects, trailing commas).
func extractJSON(raw string) (map[string]any, error) {
	candidate := strings.TrimSpace(raw)

	if obj, err := parseObject(candidate); err == nil {
		return obj, nil
	}

	if m := fenceRe.FindStringSubmatch(candidate); m != nil {
		candidate = strings.TrimSpace(m[1])
		if obj, err := parseObject(candidate); err == nil {
			return obj, nil
		}
	}

	start := strings.Index(candidate, "{")
	end := strings.LastIndex(candidate, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object found in response")
	}
	candidate = candidate[start : end+1]
	if obj, err := parseObject(candidate); err == nil {
		return obj, nil
	}

	repaired := repairJSON(candidate)
	obj, err := parseObject(repaired)
	if err != nil {
		return nil, fmt.Errorf("unparseable after repair: %w", err)
	}
	return obj, nil
}

func parseObject(s string) (map[string]any, error) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(s), &obj); err != nil {
		return nil, err
	}
	return obj, nil
}

func repairJSON(s string) string {
	// Models sometimes emit Python-style dicts.
	if !strings.Contains(s, `"`) && strings.Contains(s, "'") {
		s = strings.ReplaceAll(s, "'", `"`)
	}
	s = adjacentObjRe.ReplaceAllString(s, "},{")
	s = trailingCommaRe.ReplaceAllString(s, "$1")
	return s
}
