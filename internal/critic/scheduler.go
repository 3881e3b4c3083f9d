// Package critic owns chapter lifecycle state and schedules Socratic
// critique calls against idle chapters.
package critic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"inkwell/internal/diag"
	"inkwell/internal/document"
	"inkwell/internal/logging"
	"inkwell/internal/perception"
	"inkwell/internal/store"
)

// Item statuses.
const (
	ItemStatusOpen     = "open"
	ItemStatusOutdated = "outdated"
)

// Item is one model-produced critique question. Items are replaced, not
// mutated, when the owning chapter's content changes; superseded items
// are kept with status outdated.
type Item struct {
	ID         string  `json:"id"`
	Type       string  `json:"type"`
	Severity   string  `json:"severity"`
	Confidence float64 `json:"confidence"`
	Question   string  `json:"question"`
	Why        string  `json:"why"`
	Status     string  `json:"status"`
}

// Options configure the scheduler.
type Options struct {
	IdleThreshold time.Duration // min quiet time before a chapter is eligible
	DebounceDelay time.Duration // sweep delay after a document update
	MinWords      int
	MaxItems      int
	CallTimeout   time.Duration
	PromptLimit   int // max chapter characters sent to the model
}

// DefaultOptions returns the scheduler defaults.
func DefaultOptions() Options {
	return Options{
		IdleThreshold: 20 * time.Second,
		DebounceDelay: 1500 * time.Millisecond,
		MinWords:      200,
		MaxItems:      3,
		CallTimeout:   22 * time.Second,
		PromptLimit:   3500,
	}
}

// timerSlack is added to per-chapter deadlines so the sweep fires just
// past the idle threshold, not just before it.
const timerSlack = 250 * time.Millisecond

// blobName is the persisted critique-state key.
const blobName = "critic:v0"

// Snapshot is the read-only view pushed to subscribers.
type Snapshot struct {
	Chapters []document.Chapter
	Items    map[string][]Item
}

// persistedState is the stored critique blob.
type persistedState struct {
	Sections  []document.Chapter `json:"sections"`
	Critiques []critiquePair     `json:"critiques"`
}

type critiquePair struct {
	ChapterID string `json:"chapterId"`
	Items     []Item `json:"items"`
}

// Scheduler owns chapter lifecycle state, debounces edit bursts, and
// fires idle-triggered critique requests. All mutation is serialized
// behind its mutex; model calls run outside the lock, one at a time.
type Scheduler struct {
	opts   Options
	router *perception.Router
	caller *perception.Caller
	blobs  store.BlobStore
	bus    *diag.Bus

	mu       sync.Mutex
	chapters []document.Chapter
	items    map[string][]Item

	debouncer *Debouncer
	timersMu  sync.Mutex
	timers    map[string]*time.Timer

	sweepMu sync.Mutex // one sweep (and one model call) in flight

	subsMu  sync.Mutex
	subs    map[int]func(Snapshot)
	nextSub int

	now func() time.Time

	closed chan struct{}
}

// NewScheduler creates a scheduler and restores persisted state.
func NewScheduler(opts Options, router *perception.Router, caller *perception.Caller, blobs store.BlobStore, bus *diag.Bus) *Scheduler {
	if bus == nil {
		bus = diag.Nop()
	}
	s := &Scheduler{
		opts:      opts,
		router:    router,
		caller:    caller,
		blobs:     blobs,
		bus:       bus,
		items:     make(map[string][]Item),
		debouncer: NewDebouncer(opts.DebounceDelay),
		timers:    make(map[string]*time.Timer),
		subs:      make(map[int]func(Snapshot)),
		now:       time.Now,
		closed:    make(chan struct{}),
	}
	s.restore()
	return s
}

// restore loads the persisted critique blob; corruption is discarded.
func (s *Scheduler) restore() {
	if s.blobs == nil {
		return
	}
	data, err := s.blobs.LoadBlob(blobName)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			logging.Get(logging.CategoryCritic).Warn("failed to load critique state: %v", err)
		}
		return
	}
	var st persistedState
	if err := json.Unmarshal(data, &st); err != nil {
		logging.Get(logging.CategoryCritic).Warn("discarding corrupt critique state: %v", err)
		return
	}
	s.chapters = st.Sections
	for _, p := range st.Critiques {
		s.items[p.ChapterID] = p.Items
	}
	logging.Critic("restored %d chapters, %d critique sets", len(s.chapters), len(st.Critiques))
}

// persist saves the current state. Caller holds s.mu.
func (s *Scheduler) persistLocked() {
	if s.blobs == nil {
		return
	}
	st := persistedState{Sections: s.chapters}
	for id, items := range s.items {
		st.Critiques = append(st.Critiques, critiquePair{ChapterID: id, Items: items})
	}
	data, err := json.Marshal(st)
	if err != nil {
		logging.Get(logging.CategoryCritic).Error("failed to marshal critique state: %v", err)
		return
	}
	if err := s.blobs.SaveBlob(blobName, data); err != nil {
		logging.Get(logging.CategoryCritic).Error("failed to save critique state: %v", err)
	}
}

// Upsert consumes a new document snapshot: re-sectionize, align with
// the previous chapter list positionally, refresh change timestamps,
// and (re)arm the sweep timers. Unchanged chapters keep their
// UpdatedAt and Status so edits elsewhere never delay them.
func (s *Scheduler) Upsert(doc *document.Tree) {
	detected := document.Sectionize(doc)
	now := s.now()

	s.mu.Lock()
	prev := s.chapters
	next := make([]document.Chapter, len(detected))
	copy(next, detected)

	for i := range next {
		next[i].UpdatedAt = now
		next[i].Status = document.StatusDormant
		if i >= len(prev) {
			continue
		}
		if prev[i].ContentHash == next[i].ContentHash {
			next[i].UpdatedAt = prev[i].UpdatedAt
			next[i].Status = prev[i].Status
			continue
		}
		// Content changed: old critiques age out, lifecycle restarts.
		if old := s.items[next[i].ID]; len(old) > 0 {
			aged := make([]Item, len(old))
			for j, it := range old {
				it.Status = ItemStatusOutdated
				aged[j] = it
			}
			s.items[next[i].ID] = aged
		}
	}
	s.chapters = next
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.bus.Emit(diag.EventSectionizeDone, map[string]interface{}{"chapters": len(next)})

	s.debouncer.Debounce(s.Sweep)
	s.armChapterTimers(next, now)
	s.notify(snap)
}

// armChapterTimers schedules a sweep for the moment each chapter's idle
// threshold will next be satisfied.
func (s *Scheduler) armChapterTimers(chapters []document.Chapter, now time.Time) {
	s.timersMu.Lock()
	defer s.timersMu.Unlock()

	for _, ch := range chapters {
		left := s.opts.IdleThreshold - now.Sub(ch.UpdatedAt)
		if left < 0 {
			left = 0
		}
		left += timerSlack
		if t, ok := s.timers[ch.ID]; ok {
			t.Stop()
		}
		s.timers[ch.ID] = time.AfterFunc(left, s.Sweep)
	}
}

// eligible reports whether a chapter should be queued this sweep.
func (s *Scheduler) eligible(ch document.Chapter, now time.Time) bool {
	if ch.Status != document.StatusDormant && ch.Status != document.StatusOutdated {
		return false
	}
	if ch.WordCount < s.opts.MinWords {
		return false
	}
	return now.Sub(ch.UpdatedAt) >= s.opts.IdleThreshold
}

// Sweep runs one scheduler pass: queue every eligible chapter and
// critique them sequentially. Safe to invoke redundantly; a pass over
// chapters not yet eligible does nothing.
func (s *Scheduler) Sweep() {
	select {
	case <-s.closed:
		return
	default:
	}

	s.sweepMu.Lock()
	defer s.sweepMu.Unlock()

	now := s.now()

	s.mu.Lock()
	var queue []document.Chapter
	for i := range s.chapters {
		if s.eligible(s.chapters[i], now) {
			s.chapters[i].Status = document.StatusPending
			queue = append(queue, s.chapters[i])
		}
	}
	var snap Snapshot
	if len(queue) > 0 {
		snap = s.snapshotLocked()
	}
	s.mu.Unlock()

	if len(queue) == 0 {
		return
	}
	s.bus.Emit(diag.EventCriticSweep, map[string]interface{}{"queued": len(queue)})
	s.notify(snap)

	for _, ch := range queue {
		s.critiqueOne(ch)
	}
}

// critiqueOne calls the model for a single pending chapter and merges
// the result. Failure reverts the chapter toward dormant with its
// UpdatedAt unchanged, so the next idle window retries it.
func (s *Scheduler) critiqueOne(ch document.Chapter) {
	timer := logging.StartTimer(logging.CategoryCritic, fmt.Sprintf("critique %s", ch.ID))
	defer timer.Stop()

	text := ch.Text
	if s.opts.PromptLimit > 0 && len(text) > s.opts.PromptLimit {
		text = truncateRunes(text, s.opts.PromptLimit)
	}

	plan := s.router.Route(perception.TaskCritiqueQA, perception.RouteOptions{InputLength: len(text)})
	system := strings.Join([]string{
		"你是苏格拉底式审稿人。只提出问题与“为什么问”，不提供答案或改写。",
		"请严格使用以下轻格式输出，最多 1–3 组：",
		"Q: [问题]",
		"Why: [为什么问，1–2 句话]",
	}, "\n")
	user := fmt.Sprintf("请基于下文生成 1–3 组 Q/Why（保持原文语言）：\n\"\"\"%s\"\"\"", text)

	ctx := context.Background()
	raw, err := s.caller.Call(ctx, perception.CallRequest{
		Model:       plan.Model,
		Messages:    []perception.ChatMessage{{Role: "system", Content: system}, {Role: "user", Content: user}},
		Temperature: plan.Temperature,
		MaxTokens:   plan.MaxTokens,
		Timeout:     s.opts.CallTimeout,
	})

	s.mu.Lock()
	idx := s.indexOfLocked(ch.ID)
	if idx < 0 || s.chapters[idx].ContentHash != ch.ContentHash {
		// Chapter vanished or changed while we were on the wire; the
		// new content restarts its own lifecycle.
		s.mu.Unlock()
		return
	}

	if err != nil {
		s.chapters[idx].Status = document.StatusDormant
		snap := s.snapshotLocked()
		s.mu.Unlock()
		logging.Get(logging.CategoryCritic).Warn("critique %s failed, will retry next idle window: %v", ch.ID, err)
		s.notify(snap)
		return
	}

	items := ParseItems(raw, s.opts.MaxItems)
	s.items[ch.ID] = items
	s.chapters[idx].Status = document.StatusReady
	s.persistLocked()
	snap := s.snapshotLocked()
	s.mu.Unlock()

	logging.Critic("critique %s ready: %d items", ch.ID, len(items))
	s.bus.Emit(diag.EventCriticDone, map[string]interface{}{"chapter": ch.ID, "items": len(items)})
	s.notify(snap)
}

func (s *Scheduler) indexOfLocked(id string) int {
	for i := range s.chapters {
		if s.chapters[i].ID == id {
			return i
		}
	}
	return -1
}

// Chapters returns a copy of the current chapter list.
func (s *Scheduler) Chapters() []document.Chapter {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]document.Chapter, len(s.chapters))
	copy(out, s.chapters)
	return out
}

// Items returns a copy of a chapter's critique items.
func (s *Scheduler) Items(chapterID string) []Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := s.items[chapterID]
	out := make([]Item, len(items))
	copy(out, items)
	return out
}

// snapshotLocked builds the subscriber view. Caller holds s.mu.
func (s *Scheduler) snapshotLocked() Snapshot {
	snap := Snapshot{
		Chapters: make([]document.Chapter, len(s.chapters)),
		Items:    make(map[string][]Item, len(s.items)),
	}
	copy(snap.Chapters, s.chapters)
	for id, items := range s.items {
		cp := make([]Item, len(items))
		copy(cp, items)
		snap.Items[id] = cp
	}
	return snap
}

// Subscribe registers a listener. The current state is replayed
// immediately; the returned func cancels the subscription.
func (s *Scheduler) Subscribe(fn func(Snapshot)) func() {
	s.mu.Lock()
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.subsMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subsMu.Unlock()

	fn(snap)

	return func() {
		s.subsMu.Lock()
		delete(s.subs, id)
		s.subsMu.Unlock()
	}
}

func (s *Scheduler) notify(snap Snapshot) {
	s.subsMu.Lock()
	fns := make([]func(Snapshot), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subsMu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}

// Close stops all timers. In-flight model calls finish; their results
// are still merged.
func (s *Scheduler) Close() {
	select {
	case <-s.closed:
		return
	default:
		close(s.closed)
	}
	s.debouncer.Cancel()
	s.timersMu.Lock()
	for _, t := range s.timers {
		t.Stop()
	}
	s.timers = make(map[string]*time.Timer)
	s.timersMu.Unlock()
}

// ResetState removes the persisted critique blob.
func ResetState(blobs store.BlobStore) error {
	return blobs.DeleteBlob(blobName)
}

// truncateRunes cuts text at a byte budget without splitting a rune.
func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !isRuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
