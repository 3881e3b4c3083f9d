package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"inkwell/internal/logging"
	"inkwell/internal/perception"
)

// promptTextLimit caps how many chapter bytes are sent per extraction
// round.
const promptTextLimit = 4000

// gleanThresholdDefault triggers the second round when round 1 yields
// fewer entities.
const gleanThresholdDefault = 6

// maxEntitiesPerRound caps accepted entities from one model response.
const maxEntitiesPerRound = 10

// RawEntity is one model-reported entity before canonicalization. The
// model's batch-local id is kept so edges can be resolved against it.
type RawEntity struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
}

// RawRelation is one model-reported relation before canonicalization.
type RawRelation struct {
	Source      string `json:"source"`
	Target      string `json:"target"`
	Type        string `json:"type"`
	Strength    int    `json:"strength"`
	Description string `json:"description"`
}

// Extraction is one normalized model extraction batch.
type Extraction struct {
	Entities  []RawEntity
	Relations []RawRelation
}

// Extractor runs the two-round gleaning protocol against the model.
type Extractor struct {
	router         *perception.Router
	caller         *perception.Caller
	gleanThreshold int
	maxEntities    int
}

// NewExtractor creates an extractor. Non-positive thresholds use the
// defaults.
func NewExtractor(router *perception.Router, caller *perception.Caller, gleanThreshold, maxEntities int) *Extractor {
	if gleanThreshold <= 0 {
		gleanThreshold = gleanThresholdDefault
	}
	if maxEntities <= 0 {
		maxEntities = maxEntitiesPerRound
	}
	return &Extractor{router: router, caller: caller, gleanThreshold: gleanThreshold, maxEntities: maxEntities}
}

// buildPrompt returns the strict-JSON extraction instruction pair.
func buildPrompt(text string) (system, user string) {
	system = strings.Join([]string{
		"你是信息抽取器。只输出严格JSON，不要解释。",
		"实体≤10；类型∈{concept,method,person,application}；关系类型∈{contains,causes,compares,applies_to,invented_by}；strength=1-10整数。",
		"语言要求：所有名称与关系类型说明必须用中文输出；若原文是英文专名，请给出中文常用译名，不确定时保留原名并在 description 中标注英文别名。",
		"同义词仅保留一个规范名，别名写入description（例如：\"别名: AI, 人工智能\"）。",
	}, "\n")

	example := `{"entities":[{"id":"e1","name":"...","type":"concept","description":"别名: ..."}],"relationships":[{"source":"e1","target":"e2","type":"contains","strength":8,"description":"..."}]}`
	user = strings.Join([]string{
		"从下文抽取实体与关系：",
		clipRunes(text, promptTextLimit),
		"输出：",
		example,
	}, "\n")
	return system, user
}

// Extract runs round 1 and, when it comes back thin, a narrower round 2
// whose results are merged in. A failed round contributes an empty
// batch, never an error.
func (x *Extractor) Extract(ctx context.Context, text string) Extraction {
	system, user := buildPrompt(text)
	round1 := x.extractOnce(ctx, system, user)
	if len(round1.Entities) >= x.gleanThreshold {
		return round1
	}

	logging.KnowledgeDebug("round 1 yielded %d entities, gleaning", len(round1.Entities))
	gleanUser := strings.Join([]string{
		"之前可能遗漏了重要实体，请再补充2-3个核心实体与关键关系：",
		clipRunes(text, promptTextLimit),
	}, "\n")
	round2 := x.extractOnce(ctx, system, gleanUser)
	return mergeRounds(round1, round2)
}

// extractOnce issues one extraction call and normalizes its payload.
func (x *Extractor) extractOnce(ctx context.Context, system, user string) Extraction {
	plan := x.router.Route(perception.TaskGraphExtraction, perception.RouteOptions{InputLength: len(user)})
	raw, err := x.caller.Call(ctx, perception.CallRequest{
		Model:          plan.Model,
		Messages:       []perception.ChatMessage{{Role: "system", Content: system}, {Role: "user", Content: user}},
		Temperature:    plan.Temperature,
		MaxTokens:      plan.MaxTokens,
		ResponseFormat: plan.ResponseFormat,
	})
	if err != nil {
		logging.Get(logging.CategoryKnowledge).Warn("extraction call failed: %v", err)
		return Extraction{}
	}
	return parseExtraction(raw, x.maxEntities)
}

// extractionPayload mirrors the model's JSON shape, tolerating the
// alternate key spellings models drift into.
type extractionPayload struct {
	Entities      []rawEntityJSON   `json:"entities"`
	Nodes         []rawEntityJSON   `json:"nodes"`
	Relationships []rawRelationJSON `json:"relationships"`
	Relations     []rawRelationJSON `json:"relations"`
}

type rawEntityJSON struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Label       string `json:"label"`
	Type        string `json:"type"`
	Description string `json:"description"`
}

type rawRelationJSON struct {
	Source      string      `json:"source"`
	Head        string      `json:"head"`
	From        string      `json:"from"`
	Target      string      `json:"target"`
	Tail        string      `json:"tail"`
	To          string      `json:"to"`
	Type        string      `json:"type"`
	Relation    string      `json:"relation"`
	Strength    json.Number `json:"strength"`
	Confidence  json.Number `json:"confidence"`
	Description string      `json:"description"`
}

var jsonObjectSpan = regexp.MustCompile(`\{[\s\S]*\}`)

// pickJSONObject parses s as JSON, falling back to the first {...}
// span when the model wrapped the payload in prose.
func pickJSONObject(s string) []byte {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if json.Valid([]byte(s)) {
		return []byte(s)
	}
	if m := jsonObjectSpan.FindString(s); m != "" && json.Valid([]byte(m)) {
		return []byte(m)
	}
	return nil
}

// parseExtraction salvages a structured batch out of raw model output.
// Malformed output yields an empty batch.
func parseExtraction(raw string, maxEntities int) Extraction {
	if maxEntities <= 0 {
		maxEntities = maxEntitiesPerRound
	}
	data := pickJSONObject(raw)
	if data == nil {
		return Extraction{}
	}
	var payload extractionPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return Extraction{}
	}

	ents := payload.Entities
	if len(ents) == 0 {
		ents = payload.Nodes
	}
	var out Extraction
	for i, e := range ents {
		if len(out.Entities) >= maxEntities {
			break
		}
		name := firstNonEmpty(e.Name, e.Label)
		if name == "" {
			continue
		}
		id := e.ID
		if id == "" {
			id = fmt.Sprintf("e_%d", i+1)
		}
		typ := e.Type
		if typ == "" {
			typ = TypeConcept
		}
		out.Entities = append(out.Entities, RawEntity{ID: id, Name: name, Type: typ, Description: e.Description})
	}

	rels := payload.Relationships
	if len(rels) == 0 {
		rels = payload.Relations
	}
	for _, r := range rels {
		source := firstNonEmpty(r.Source, r.Head, r.From)
		target := firstNonEmpty(r.Target, r.Tail, r.To)
		typ := CoerceRelationType(firstNonEmpty(r.Type, r.Relation))
		if source == "" || target == "" || !IsRelationType(typ) {
			continue
		}
		out.Relations = append(out.Relations, RawRelation{
			Source:      source,
			Target:      target,
			Type:        typ,
			Strength:    ClampStrength(numberToInt(r.Strength, numberToInt(r.Confidence, 0))),
			Description: strings.TrimSpace(r.Description),
		})
	}
	return out
}

// mergeRounds unions two batches: entities by trimmed case-insensitive
// name with description concatenation, relations by (source, target,
// type) keeping the first occurrence.
func mergeRounds(a, b Extraction) Extraction {
	var out Extraction

	byName := make(map[string]int)
	for _, e := range append(append([]RawEntity(nil), a.Entities...), b.Entities...) {
		k := Canonical(e.Name)
		if k == "" {
			continue
		}
		if idx, ok := byName[k]; ok {
			if e.Description != "" {
				joined := out.Entities[idx].Description
				if joined != "" {
					joined += " | "
				}
				out.Entities[idx].Description = clipRunes(joined+e.Description, 300)
			}
			continue
		}
		e.Description = clipRunes(e.Description, 300)
		byName[k] = len(out.Entities)
		out.Entities = append(out.Entities, e)
	}

	seen := make(map[string]bool)
	for _, r := range append(append([]RawRelation(nil), a.Relations...), b.Relations...) {
		k := Canonical(r.Source) + "->" + Canonical(r.Target) + ":" + r.Type
		if seen[k] {
			continue
		}
		seen[k] = true
		out.Relations = append(out.Relations, r)
	}
	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func numberToInt(n json.Number, fallback int) int {
	if n == "" {
		return fallback
	}
	if i, err := n.Int64(); err == nil {
		return int(i)
	}
	if f, err := n.Float64(); err == nil {
		return int(f)
	}
	return fallback
}

// clipRunes cuts text at a byte budget without splitting a rune.
func clipRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && s[n]&0xC0 == 0x80 {
		n--
	}
	return s[:n]
}
