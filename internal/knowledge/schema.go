// Package knowledge incrementally extracts a knowledge graph from
// manuscript chapters and maintains the merged full graph.
package knowledge

import (
	"regexp"
	"strings"
)

// Entity types.
const (
	TypeConcept     = "concept"
	TypeMethod      = "method"
	TypePerson      = "person"
	TypeApplication = "application"
)

// Relation types form a closed set; anything the model invents outside
// it is coerced or dropped.
const (
	RelContains   = "contains"
	RelCauses     = "causes"
	RelCompares   = "compares"
	RelAppliesTo  = "applies_to"
	RelInventedBy = "invented_by"
)

// RelationTypes is the closed relation vocabulary, in display order.
var RelationTypes = []string{RelContains, RelCauses, RelCompares, RelAppliesTo, RelInventedBy}

// RelationLabelZH maps relation keys to their Chinese display labels.
var RelationLabelZH = map[string]string{
	RelContains:   "包含",
	RelCauses:     "导致",
	RelCompares:   "对比",
	RelAppliesTo:  "应用于",
	RelInventedBy: "由…发明",
}

// Node is one graph entity. ID is the canonicalized label, which makes
// identity purely name-based across batches and chapters.
type Node struct {
	ID      string   `json:"id"`
	Label   string   `json:"label"`
	Type    string   `json:"type"`
	Aliases []string `json:"aliases,omitempty"`
}

// Edge is one typed relation. Identity key is (source, target, type);
// a duplicate key keeps the first-written strength.
type Edge struct {
	Source      string `json:"source"`
	Target      string `json:"target"`
	Type        string `json:"type"`
	Strength    int    `json:"strength"`
	Description string `json:"description,omitempty"`
}

// Graph is the full merged graph. Nodes only grow; edges grow and
// dedupe on matching key.
type Graph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// Canonical trims and lowercases a name into a node identity key.
func Canonical(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// IsRelationType reports membership in the closed relation set.
func IsRelationType(s string) bool {
	for _, t := range RelationTypes {
		if t == s {
			return true
		}
	}
	return false
}

var (
	reContains   = regexp.MustCompile(`包含|include`)
	reCauses     = regexp.MustCompile(`导致|cause`)
	reCompares   = regexp.MustCompile(`对比|比较|compare`)
	reAppliesTo  = regexp.MustCompile(`应用于|适用于|apply`)
	reInventedBy = regexp.MustCompile(`发明|invent`)
)

// CoerceRelationType maps loose model phrasings, Chinese labels
// included, onto the standard relation keys. Unrecognized values pass
// through unchanged and get filtered out downstream.
func CoerceRelationType(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.NewReplacer(" ", "_", "-", "_").Replace(s)
	if s == "" {
		return ""
	}
	if IsRelationType(s) {
		return s
	}
	switch {
	case reContains.MatchString(s):
		return RelContains
	case reCauses.MatchString(s):
		return RelCauses
	case reCompares.MatchString(s):
		return RelCompares
	case reAppliesTo.MatchString(s):
		return RelAppliesTo
	case reInventedBy.MatchString(s):
		return RelInventedBy
	}
	return s
}

// ClampStrength forces an edge strength into [1,10]; non-positive
// (unparsed) values default to 7.
func ClampStrength(v int) int {
	if v <= 0 {
		v = 7
	}
	if v < 1 {
		return 1
	}
	if v > 10 {
		return 10
	}
	return v
}
