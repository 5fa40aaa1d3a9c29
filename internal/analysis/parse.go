package analysis

import (
	"encoding/json"
	"strings"
)

// parseReport turns a model response into a Report. The happy path is
// the JSON object the prompt asks for, tolerating surrounding prose;
// when that fails, a line-based heuristic recovers what it can.
func parseReport(raw string) *Report {
	if body, ok := extractJSON(raw); ok {
		var aux struct {
			Summary         string   `json:"summary"`
			Patterns        []string `json:"patterns"`
			Insights        []string `json:"insights"`
			Recommendations []string `json:"recommendations"`
		}
		if err := json.Unmarshal([]byte(body), &aux); err == nil {
			rep := &Report{
				Summary:         aux.Summary,
				Patterns:        aux.Patterns,
				Insights:        aux.Insights,
				Recommendations: aux.Recommendations,
			}
			if rep.Summary == "" {
				rep.Summary = "No analysis available."
			}
			return rep
		}
	}
	return heuristicParse(raw)
}

// extractJSON returns the substring between the first "{" and the last
// "}", which strips markdown fences and lead-in text around the object.
func extractJSON(raw string) (string, bool) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return raw[start : end+1], true
}

// heuristicParse walks a prose response line by line, switching section
// on "summary:"/"patterns:"/... headings and collecting bulleted items.
func heuristicParse(raw string) *Report {
	rep := &Report{}
	var section *[]string

	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		lower := strings.ToLower(line)
		switch {
		case strings.Contains(lower, "summary") && strings.Contains(line, ":"):
			section = nil
			_, after, _ := strings.Cut(line, ":")
			rep.Summary = strings.TrimSpace(after)
		case strings.Contains(lower, "pattern") && strings.Contains(line, ":"):
			section = &rep.Patterns
		case strings.Contains(lower, "insight") && strings.Contains(line, ":"):
			section = &rep.Insights
		case strings.Contains(lower, "recommendation") && strings.Contains(line, ":"):
			section = &rep.Recommendations
		case section != nil:
			if item, ok := bulletItem(line); ok {
				*section = append(*section, item)
			} else if n := len(*section); n > 0 {
				// Continuation of a wrapped item.
				(*section)[n-1] += " " + line
			}
		}
	}

	if rep.Summary == "" && len(rep.Patterns) == 0 && len(rep.Insights) == 0 && len(rep.Recommendations) == 0 {
		rep.Summary = "Failed to parse analysis response."
	} else if rep.Summary == "" {
		rep.Summary = "No analysis available."
	}
	return rep
}

// bulletItem strips "- ", "* ", "1. " or "1) " markers.
func bulletItem(line string) (string, bool) {
	if strings.HasPrefix(line, "- ") || strings.HasPrefix(line, "* ") {
		return strings.TrimSpace(line[2:]), true
	}
	if len(line) >= 3 && line[0] >= '0' && line[0] <= '9' &&
		(line[1:3] == ". " || line[1:3] == ") ") {
		return strings.TrimSpace(line[3:]), true
	}
	return "", false
}
