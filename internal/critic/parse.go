package critic

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

var (
	qLine   = regexp.MustCompile(`^(?i)Q:\s*(.+)$`)
	whyLine = regexp.MustCompile(`^(?i)Why:\s*(.+)$`)
	qPrefix = regexp.MustCompile(`^(?i)Q:\s*`)
)

// whyScanWindow is how many lines after a Q: are scanned for its Why:.
const whyScanWindow = 5

// ParseItems turns raw model output into critique items, trying formats
// from strictest to loosest: a JSON items payload, Q:/Why: line pairs,
// then bare sentences. Unparseable output yields zero items, never an
// error; partial critique coverage is acceptable.
func ParseItems(raw string, max int) []Item {
	if max <= 0 {
		max = 3
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	if items := parseItemsJSON(raw, max); len(items) > 0 {
		return items
	}
	if items := ParseQWhy(raw, max); len(items) > 0 {
		return items
	}
	return parseFreeText(raw, max)
}

// ParseQWhy scans output line-by-line for `Q: <text>` markers; each is
// paired with the nearest `Why: <text>` within the next few lines,
// stopping early if another Q: appears first.
func ParseQWhy(raw string, max int) []Item {
	lines := splitLines(raw)
	var items []Item
	for i := 0; i < len(lines) && len(items) < max; i++ {
		qm := qLine.FindStringSubmatch(lines[i])
		if qm == nil {
			continue
		}
		why := ""
		for j := i + 1; j < len(lines) && j <= i+whyScanWindow; j++ {
			if wm := whyLine.FindStringSubmatch(lines[j]); wm != nil {
				why = strings.TrimSpace(wm[1])
				break
			}
			if qPrefix.MatchString(lines[j]) {
				break
			}
		}
		question := strings.TrimSpace(qm[1])
		if question == "" {
			continue
		}
		items = append(items, newItem(ensureQuestionMark(question), why))
	}
	return items
}

// jsonItems mirrors the model's optional JSON critique payload. Either
// a top-level {items: [...]} wrapper or a bare array is accepted.
type jsonItems struct {
	Items []jsonItem `json:"items"`
}

type jsonItem struct {
	Type       string      `json:"type"`
	Severity   string      `json:"severity"`
	Confidence json.Number `json:"confidence"`
	Question   string      `json:"question"`
	Why        string      `json:"why"`
}

func parseItemsJSON(raw string, max int) []Item {
	var wrapper jsonItems
	if err := json.Unmarshal([]byte(raw), &wrapper); err != nil || len(wrapper.Items) == 0 {
		var arr []jsonItem
		if err := json.Unmarshal([]byte(raw), &arr); err != nil {
			return nil
		}
		wrapper.Items = arr
	}

	var items []Item
	for _, ji := range wrapper.Items {
		if len(items) >= max {
			break
		}
		question := strings.TrimSpace(ji.Question)
		if question == "" {
			continue
		}
		it := newItem(ensureQuestionMark(question), strings.TrimSpace(ji.Why))
		if ji.Type != "" {
			it.Type = ji.Type
		}
		if ji.Severity != "" {
			it.Severity = ji.Severity
		}
		if c, err := ji.Confidence.Float64(); err == nil {
			it.Confidence = clamp01(c)
		}
		items = append(items, it)
	}
	return items
}

// parseFreeText degrades to sentence splitting when no structure is
// recognizable, so a chatty model still yields usable questions.
func parseFreeText(raw string, max int) []Item {
	pieces := strings.FieldsFunc(raw, func(r rune) bool {
		switch r {
		case '\n', '\r', '。', '？', '?', '!':
			return true
		}
		return false
	})
	var items []Item
	for _, p := range pieces {
		if len(items) >= max {
			break
		}
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		items = append(items, newItem(ensureQuestionMark(p), ""))
	}
	return items
}

func newItem(question, why string) Item {
	return Item{
		ID:         uuid.NewString(),
		Type:       "conceptual",
		Severity:   "med",
		Confidence: 0.6,
		Question:   question,
		Why:        why,
		Status:     ItemStatusOpen,
	}
}

func ensureQuestionMark(q string) string {
	if strings.HasSuffix(q, "?") || strings.HasSuffix(q, "？") {
		return q
	}
	return q + "?"
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func splitLines(s string) []string {
	raw := strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
	out := make([]string, 0, len(raw))
	for _, l := range raw {
		l = strings.TrimSpace(l)
		if l != "" {
			out = append(out, l)
		}
	}
	return out
}
