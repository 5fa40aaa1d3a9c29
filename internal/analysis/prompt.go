package analysis

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"hourkeep/internal/storage"
)

const analystRole = "You are an AI assistant specialized in analyzing time usage and productivity patterns."

type promptActivity struct {
	Time     string `json:"time"`
	Activity string `json:"activity"`
}

type promptDay struct {
	Date       string           `json:"date"`
	Notes      string           `json:"notes,omitempty"`
	Activities []promptActivity `json:"activities"`
}

// buildPrompt renders the activities day by day and asks the model for
// a strict JSON report.
func buildPrompt(label string, acts []storage.Activity, notes map[string]string) string {
	data, err := json.MarshalIndent(groupDays(acts, notes), "", "  ")
	if err != nil {
		// Only reachable for unmarshalable values, which these are not.
		data = []byte("[]")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Analyze the following daily activities for %s:\n\n", label)
	fmt.Fprintf(&b, "```\n%s\n```\n\n", data)
	b.WriteString("For each day, you have a list of activities with timestamps and possibly daily notes written by the user.\n\n")
	b.WriteString(`Respond with a JSON object of this exact shape:
{
  "summary": "A paragraph summarizing overall patterns and insights",
  "patterns": ["Pattern 1", "Pattern 2"],
  "insights": ["Insight 1", "Insight 2"],
  "recommendations": ["Recommendation 1", "Recommendation 2"]
}

When analyzing, consider:
1. Time management patterns
2. Productivity trends
3. Work-life balance
4. Any user-provided notes and reflections for context
5. Consistency and routine

Make your analysis specific, actionable, and based directly on the data provided.
`)
	return b.String()
}

func groupDays(acts []storage.Activity, notes map[string]string) []promptDay {
	byDay := make(map[string][]storage.Activity)
	for _, a := range acts {
		key := storage.DateKey(a.Hour)
		byDay[key] = append(byDay[key], a)
	}

	dates := make([]string, 0, len(byDay))
	for d := range byDay {
		dates = append(dates, d)
	}
	sort.Strings(dates)

	out := make([]promptDay, 0, len(dates))
	for _, date := range dates {
		day := byDay[date]
		sort.Slice(day, func(i, j int) bool { return day[i].Hour.Before(day[j].Hour) })

		pd := promptDay{Date: date, Notes: notes[date]}
		for _, a := range day {
			pd.Activities = append(pd.Activities, promptActivity{
				Time:     a.Hour.Format("15:04"),
				Activity: a.Text,
			})
		}
		out = append(out, pd)
	}
	return out
}
