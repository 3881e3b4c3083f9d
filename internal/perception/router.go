package perception

import (
	"sync"

	"inkwell/internal/logging"
)

// TaskKind names a routed model task.
type TaskKind string

const (
	TaskChat            TaskKind = "chat"
	TaskTranslate       TaskKind = "translate"
	TaskSummarize       TaskKind = "summarize"
	TaskOutline         TaskKind = "outline"
	TaskCritiqueQA      TaskKind = "critique-question"
	TaskGraphExtraction TaskKind = "graph-extraction"
)

// Plan is one call's resolved model, parameters, and fallbacks.
type Plan struct {
	Model          string
	Temperature    float64
	MaxTokens      int
	ResponseFormat *ResponseFormat
	Stream         bool
	Fallbacks      []string
}

// RouteOptions carry per-call hints into routing. NeedStreaming is a
// tri-state: nil leaves the task default untouched.
type RouteOptions struct {
	NeedJSON      bool
	NeedStreaming *bool
	InputLength   int
}

// longInputThreshold is the input length beyond which temperature is
// capped to bias long inputs toward determinism.
const (
	longInputThreshold = 3000
	longInputTempCap   = 0.2
)

// taskDefaults is the static task → model/parameter table.
var taskDefaults = map[TaskKind]Plan{
	TaskChat:            {Model: "deepseek-chat", Temperature: 0.25, MaxTokens: 900, Stream: true},
	TaskTranslate:       {Model: "deepseek-chat", Temperature: 0.2, MaxTokens: 900},
	TaskSummarize:       {Model: "deepseek-chat", Temperature: 0.2, MaxTokens: 900},
	TaskOutline:         {Model: "deepseek-chat", Temperature: 0.25, MaxTokens: 900},
	TaskCritiqueQA:      {Model: "deepseek-reasoner", Temperature: 0.2, MaxTokens: 450, Fallbacks: []string{"deepseek-chat"}},
	TaskGraphExtraction: {Model: "deepseek-chat", Temperature: 0.1, MaxTokens: 700, ResponseFormat: &ResponseFormat{Type: "json_object"}},
}

// Router maps a task kind to a call plan. Local overrides may replace
// the model name for a task, never the other parameters.
type Router struct {
	mu        sync.RWMutex
	overrides map[TaskKind]string
}

// NewRouter creates a router with no overrides.
func NewRouter() *Router {
	return &Router{overrides: make(map[TaskKind]string)}
}

// SetOverride replaces the model for a task kind. An empty model clears
// the override.
func (r *Router) SetOverride(kind TaskKind, model string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if model == "" {
		delete(r.overrides, kind)
		return
	}
	r.overrides[kind] = model
}

// Overrides returns a copy of the current override table.
func (r *Router) Overrides() map[TaskKind]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[TaskKind]string, len(r.overrides))
	for k, v := range r.overrides {
		out[k] = v
	}
	return out
}

// Route resolves the call plan for a task. Unknown kinds fall back to
// the chat defaults.
func (r *Router) Route(kind TaskKind, opts RouteOptions) Plan {
	base, ok := taskDefaults[kind]
	if !ok {
		base = taskDefaults[TaskChat]
	}
	plan := base
	plan.Fallbacks = append([]string(nil), base.Fallbacks...)

	r.mu.RLock()
	if model, ok := r.overrides[kind]; ok {
		plan.Model = model
	}
	r.mu.RUnlock()

	if opts.NeedJSON {
		plan.ResponseFormat = &ResponseFormat{Type: "json_object"}
	}
	if opts.NeedStreaming != nil {
		plan.Stream = *opts.NeedStreaming
	}

	// Longer inputs get a conservative temperature.
	if opts.InputLength > longInputThreshold && plan.Temperature > longInputTempCap {
		plan.Temperature = longInputTempCap
	}

	logging.APIDebug("route %s -> model=%s temp=%.2f json=%v input_len=%d",
		kind, plan.Model, plan.Temperature, plan.ResponseFormat != nil, opts.InputLength)
	return plan
}
