package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"strings"
	"sync"
	"time"

	"inkwell/internal/diag"
	"inkwell/internal/document"
	"inkwell/internal/logging"
	"inkwell/internal/store"
)

// graphBlobName is the persisted graph key.
const graphBlobName = "kg:v0"

// graphVersion tags the persisted payload for migration.
const graphVersion = 1

const maxAliasesPerNode = 10

// chapterMeta is the engine's private change-detection record. It is
// deliberately independent from the critique scheduler's chapter state.
type chapterMeta struct {
	Hash      string
	UpdatedAt time.Time
}

// persistedGraph is the stored payload. Pointer fields distinguish a
// missing array from an empty one at load-time validation.
type persistedGraph struct {
	Version int `json:"version"`
	Graph   *struct {
		Nodes *[]Node `json:"nodes"`
		Edges *[]Edge `json:"edges"`
	} `json:"graph"`
}

// Engine maintains the full merged knowledge graph. Upsert is
// idempotent per chapter: only hash-changed chapters trigger
// extraction, and re-merging identical results never duplicates nodes
// or edges.
type Engine struct {
	extractor *Extractor
	blobs     store.BlobStore
	bus       *diag.Bus

	mu    sync.Mutex
	graph Graph
	meta  map[string]chapterMeta

	subsMu  sync.Mutex
	subs    map[int]func(Graph)
	nextSub int
}

// NewEngine creates an engine and restores the persisted graph.
func NewEngine(extractor *Extractor, blobs store.BlobStore, bus *diag.Bus) *Engine {
	if bus == nil {
		bus = diag.Nop()
	}
	e := &Engine{
		extractor: extractor,
		blobs:     blobs,
		bus:       bus,
		meta:      make(map[string]chapterMeta),
		subs:      make(map[int]func(Graph)),
	}
	e.restore()
	return e
}

// restore loads the persisted graph. A blob whose nodes or edges are
// missing or not arrays is discarded; extraction restarts from empty.
func (e *Engine) restore() {
	if e.blobs == nil {
		return
	}
	data, err := e.blobs.LoadBlob(graphBlobName)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			logging.Get(logging.CategoryKnowledge).Warn("failed to load graph: %v", err)
		}
		return
	}
	var stored persistedGraph
	if err := json.Unmarshal(data, &stored); err != nil || stored.Graph == nil ||
		stored.Graph.Nodes == nil || stored.Graph.Edges == nil {
		logging.Get(logging.CategoryKnowledge).Warn("discarding malformed stored graph")
		return
	}
	e.graph = Graph{Nodes: *stored.Graph.Nodes, Edges: *stored.Graph.Edges}
	logging.Knowledge("restored graph: %d nodes, %d edges", len(e.graph.Nodes), len(e.graph.Edges))
}

// persistLocked saves the full graph snapshot. Caller holds e.mu.
func (e *Engine) persistLocked() {
	if e.blobs == nil {
		return
	}
	payload := struct {
		Version int   `json:"version"`
		Graph   Graph `json:"graph"`
	}{Version: graphVersion, Graph: e.graph}
	data, err := json.Marshal(payload)
	if err != nil {
		logging.Get(logging.CategoryKnowledge).Error("failed to marshal graph: %v", err)
		return
	}
	if err := e.blobs.SaveBlob(graphBlobName, data); err != nil {
		logging.Get(logging.CategoryKnowledge).Error("failed to save graph: %v", err)
	}
}

// Upsert consumes a document snapshot: chapters whose content hash
// changed since the last pass are extracted and merged, one at a time.
// Each successful merge persists and notifies before the next chapter's
// extraction begins.
func (e *Engine) Upsert(ctx context.Context, doc *document.Tree) {
	for _, ch := range document.Sectionize(doc) {
		e.mu.Lock()
		prev, seen := e.meta[ch.ID]
		changed := !seen || prev.Hash != ch.ContentHash
		e.meta[ch.ID] = chapterMeta{Hash: ch.ContentHash, UpdatedAt: time.Now()}
		e.mu.Unlock()
		if !changed {
			continue
		}

		e.bus.Emit(diag.EventExtractStart, map[string]interface{}{
			"chapter": ch.ID, "hash": ch.ContentHash, "words": ch.WordCount,
		})
		timer := logging.StartTimer(logging.CategoryKnowledge, "extract "+ch.ID)
		batch := e.extractor.Extract(ctx, ch.Text)
		timer.Stop()
		if len(batch.Entities) == 0 && len(batch.Relations) == 0 {
			continue
		}

		e.mu.Lock()
		e.mergeLocked(batch)
		e.persistLocked()
		snap := e.snapshotLocked()
		e.mu.Unlock()

		e.bus.Emit(diag.EventMergeDone, map[string]interface{}{
			"nodes": len(snap.Nodes), "edges": len(snap.Edges),
		})
		logging.Knowledge("merged %s: graph now %d nodes, %d edges", ch.ID, len(snap.Nodes), len(snap.Edges))
		e.notify(snap)
	}
}

// mergeLocked folds one extraction batch into the full graph. Caller
// holds e.mu.
func (e *Engine) mergeLocked(batch Extraction) {
	// Batch-local id resolution: the model references edges by its own
	// entity ids, which mean nothing outside this batch.
	idToCanonical := make(map[string]string)
	for _, ent := range batch.Entities {
		key := Canonical(ent.Name)
		if key == "" {
			continue
		}
		if ent.ID != "" {
			idToCanonical[ent.ID] = key
		}
		idToCanonical[ent.Name] = key
	}

	byKey := make(map[string]int, len(e.graph.Nodes))
	for i, n := range e.graph.Nodes {
		byKey[Canonical(n.Label)] = i
	}
	for _, ent := range batch.Entities {
		key := Canonical(ent.Name)
		if key == "" {
			continue
		}
		desc := strings.TrimSpace(ent.Description)
		if idx, ok := byKey[key]; ok {
			if add := extractAliases(desc); len(add) > 0 {
				e.graph.Nodes[idx].Aliases = unionAliases(e.graph.Nodes[idx].Aliases, add)
			}
			continue
		}
		byKey[key] = len(e.graph.Nodes)
		e.graph.Nodes = append(e.graph.Nodes, Node{
			ID:      key,
			Label:   ent.Name,
			Type:    ent.Type,
			Aliases: extractAliases(desc),
		})
	}

	seen := make(map[string]bool, len(e.graph.Edges))
	for _, ed := range e.graph.Edges {
		seen[edgeKey(ed)] = true
	}
	for _, rel := range batch.Relations {
		src, ok := idToCanonical[rel.Source]
		if !ok {
			src = Canonical(rel.Source)
		}
		tgt, ok := idToCanonical[rel.Target]
		if !ok {
			tgt = Canonical(rel.Target)
		}
		if src == "" || tgt == "" {
			continue
		}
		// Dangling endpoints never reach the persisted graph.
		if _, ok := byKey[src]; !ok {
			continue
		}
		if _, ok := byKey[tgt]; !ok {
			continue
		}
		edge := Edge{
			Source:      src,
			Target:      tgt,
			Type:        rel.Type,
			Strength:    ClampStrength(rel.Strength),
			Description: rel.Description,
		}
		k := edgeKey(edge)
		if seen[k] {
			continue
		}
		seen[k] = true
		e.graph.Edges = append(e.graph.Edges, edge)
	}
}

func edgeKey(e Edge) string {
	return e.Source + "->" + e.Target + ":" + e.Type
}

var aliasMarker = regexp.MustCompile(`别名[:：]\s*([^\n]+)`)

// extractAliases pulls alias tokens out of a "别名: a, b" description
// marker, capped at 8.
func extractAliases(desc string) []string {
	m := aliasMarker.FindStringSubmatch(desc)
	if m == nil {
		return nil
	}
	parts := strings.FieldsFunc(m[1], func(r rune) bool {
		switch r {
		case '，', ',', '、', '/', '|':
			return true
		}
		return false
	})
	var out []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
		if len(out) == 8 {
			break
		}
	}
	return out
}

func unionAliases(existing, add []string) []string {
	seen := make(map[string]bool, len(existing))
	out := append([]string(nil), existing...)
	for _, a := range existing {
		seen[a] = true
	}
	for _, a := range add {
		if seen[a] || len(out) >= maxAliasesPerNode {
			continue
		}
		seen[a] = true
		out = append(out, a)
	}
	return out
}

// snapshotLocked deep-copies the graph. Caller holds e.mu.
func (e *Engine) snapshotLocked() Graph {
	snap := Graph{
		Nodes: make([]Node, len(e.graph.Nodes)),
		Edges: make([]Edge, len(e.graph.Edges)),
	}
	copy(snap.Nodes, e.graph.Nodes)
	copy(snap.Edges, e.graph.Edges)
	for i := range snap.Nodes {
		snap.Nodes[i].Aliases = append([]string(nil), snap.Nodes[i].Aliases...)
	}
	return snap
}

// Graph returns a copy of the full merged graph.
func (e *Engine) Graph() Graph {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

// TopView returns the filtered presentation view without touching the
// stored graph.
func (e *Engine) TopView(k, minStrength int) Graph {
	return SelectTop(e.Graph(), k, minStrength)
}

// Reset drops the graph, the change-detection map, and the persisted
// blob. The only deletion path the graph has.
func (e *Engine) Reset() error {
	e.mu.Lock()
	e.graph = Graph{}
	e.meta = make(map[string]chapterMeta)
	snap := e.snapshotLocked()
	e.mu.Unlock()

	e.notify(snap)
	if e.blobs == nil {
		return nil
	}
	return e.blobs.DeleteBlob(graphBlobName)
}

// Subscribe registers a graph listener; the current graph is replayed
// immediately. The returned func cancels the subscription.
func (e *Engine) Subscribe(fn func(Graph)) func() {
	e.mu.Lock()
	snap := e.snapshotLocked()
	e.mu.Unlock()

	e.subsMu.Lock()
	id := e.nextSub
	e.nextSub++
	e.subs[id] = fn
	e.subsMu.Unlock()

	fn(snap)

	return func() {
		e.subsMu.Lock()
		delete(e.subs, id)
		e.subsMu.Unlock()
	}
}

func (e *Engine) notify(snap Graph) {
	e.subsMu.Lock()
	fns := make([]func(Graph), 0, len(e.subs))
	for _, fn := range e.subs {
		fns = append(fns, fn)
	}
	e.subsMu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}
