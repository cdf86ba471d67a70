package extract

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// jsonLDStrategy reads schema.org interactionStatistic entries whose type
// mentions "Follow".
type jsonLDStrategy struct{}

func (jsonLDStrategy) Name() string { return "jsonld" }

func (jsonLDStrategy) Match(p *page) (match, bool) {
	for _, block := range p.jsonLD {
		var doc any
		if err := json.Unmarshal([]byte(strings.TrimSpace(block)), &doc); err != nil {
			continue
		}
		if m, ok := findFollowStatistic(doc); ok {
			return m, true
		}
	}
	return match{}, false
}

func findFollowStatistic(node any) (match, bool) {
	switch v := node.(type) {
	case []any:
		for _, item := range v {
			if m, ok := findFollowStatistic(item); ok {
				return m, true
			}
		}
	case map[string]any:
		if stats, ok := v["interactionStatistic"]; ok {
			for _, stat := range asList(stats) {
				obj, ok := stat.(map[string]any)
				if !ok || !mentionsFollow(obj["interactionType"]) && !mentionsFollow(obj["@type"]) {
					continue
				}
				if count, raw, ok := interactionCount(obj["userInteractionCount"]); ok {
					return match{count: count, rawText: "JSON-LD: " + raw}, true
				}
			}
		}
		for _, key := range []string{"@graph", "mainEntity", "author"} {
			if child, ok := v[key]; ok {
				if m, ok := findFollowStatistic(child); ok {
					return m, true
				}
			}
		}
	}
	return match{}, false
}

func asList(v any) []any {
	if list, ok := v.([]any); ok {
		return list
	}
	return []any{v}
}

func mentionsFollow(v any) bool {
	switch t := v.(type) {
	case string:
		return strings.Contains(t, "Follow")
	case map[string]any:
		return mentionsFollow(t["@type"]) || mentionsFollow(t["@id"])
	case []any:
		for _, item := range t {
			if mentionsFollow(item) {
				return true
			}
		}
	}
	return false
}

func interactionCount(v any) (int64, string, bool) {
	switch t := v.(type) {
	case float64:
		if t < 0 {
			return 0, "", false
		}
		return int64(t), strconv.FormatInt(int64(t), 10), true
	case string:
		count, ok := ParseNumber(t)
		if !ok {
			return 0, "", false
		}
		return count, t, true
	case json.Number:
		return interactionCount(t.String())
	default:
		return 0, fmt.Sprint(t), false
	}
}
