package perception

import "testing"

func TestRoute_Defaults(t *testing.T) {
	r := NewRouter()

	tests := []struct {
		kind      TaskKind
		wantModel string
		wantJSON  bool
	}{
		{TaskChat, "deepseek-chat", false},
		{TaskCritiqueQA, "deepseek-reasoner", false},
		{TaskGraphExtraction, "deepseek-chat", true},
		{TaskKind("unknown"), "deepseek-chat", false},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			plan := r.Route(tt.kind, RouteOptions{})
			if plan.Model != tt.wantModel {
				t.Errorf("model = %s, want %s", plan.Model, tt.wantModel)
			}
			if (plan.ResponseFormat != nil) != tt.wantJSON {
				t.Errorf("json mode = %v, want %v", plan.ResponseFormat != nil, tt.wantJSON)
			}
		})
	}
}

func TestRoute_CritiqueHasChatFallback(t *testing.T) {
	plan := NewRouter().Route(TaskCritiqueQA, RouteOptions{})
	if len(plan.Fallbacks) != 1 || plan.Fallbacks[0] != "deepseek-chat" {
		t.Errorf("unexpected fallbacks: %v", plan.Fallbacks)
	}
}

func TestRoute_Override(t *testing.T) {
	r := NewRouter()
	r.SetOverride(TaskCritiqueQA, "deepseek-chat")

	plan := r.Route(TaskCritiqueQA, RouteOptions{})
	if plan.Model != "deepseek-chat" {
		t.Errorf("override not applied, got %s", plan.Model)
	}
	// Parameters stay the task's own.
	if plan.Temperature != 0.2 || plan.MaxTokens != 450 {
		t.Errorf("override must not change parameters: %+v", plan)
	}

	r.SetOverride(TaskCritiqueQA, "")
	if got := r.Route(TaskCritiqueQA, RouteOptions{}).Model; got != "deepseek-reasoner" {
		t.Errorf("cleared override not restored, got %s", got)
	}
}

func TestRoute_LongInputCapsTemperature(t *testing.T) {
	r := NewRouter()

	short := r.Route(TaskChat, RouteOptions{InputLength: 100})
	if short.Temperature != 0.25 {
		t.Errorf("short input temp = %v, want 0.25", short.Temperature)
	}

	long := r.Route(TaskChat, RouteOptions{InputLength: 5000})
	if long.Temperature != 0.2 {
		t.Errorf("long input temp = %v, want 0.2", long.Temperature)
	}

	// Already below the cap: untouched.
	ext := r.Route(TaskGraphExtraction, RouteOptions{InputLength: 5000})
	if ext.Temperature != 0.1 {
		t.Errorf("extraction temp = %v, want 0.1", ext.Temperature)
	}
}

func TestRoute_NeedStreamingTriState(t *testing.T) {
	r := NewRouter()

	if !r.Route(TaskChat, RouteOptions{}).Stream {
		t.Error("chat default should stream")
	}
	off := false
	if r.Route(TaskChat, RouteOptions{NeedStreaming: &off}).Stream {
		t.Error("explicit false should disable streaming")
	}
	on := true
	if !r.Route(TaskTranslate, RouteOptions{NeedStreaming: &on}).Stream {
		t.Error("explicit true should enable streaming")
	}
}

func TestRoute_NeedJSON(t *testing.T) {
	plan := NewRouter().Route(TaskChat, RouteOptions{NeedJSON: true})
	if plan.ResponseFormat == nil || plan.ResponseFormat.Type != "json_object" {
		t.Errorf("NeedJSON not honored: %+v", plan.ResponseFormat)
	}
}
