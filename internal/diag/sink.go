package diag

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
)

// FileSink appends events as JSON lines so `inkwell events` can show
// them after the fact. Write errors disable the sink silently; losing
// diagnostics must never affect the pipelines.
type FileSink struct {
	mu   sync.Mutex
	f    *os.File
	w    *bufio.Writer
	dead bool
}

// NewFileSink opens (or creates) the event log at path.
func NewFileSink(path string) (*FileSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	return &FileSink{f: f, w: bufio.NewWriter(f)}, nil
}

// Write appends one event. Safe to pass to Bus.Subscribe.
func (s *FileSink) Write(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dead {
		return
	}
	data, err := json.Marshal(e)
	if err != nil {
		return
	}
	if _, err := s.w.Write(append(data, '\n')); err != nil {
		s.dead = true
		return
	}
	s.w.Flush()
}

// Close flushes and closes the log file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dead = true
	s.w.Flush()
	return s.f.Close()
}

// ReadEvents loads events from a JSON-lines log, skipping unparseable
// lines. A missing file yields an empty slice.
func ReadEvents(path string, limit int) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var out []Event
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		var e Event
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			continue
		}
		out = append(out, e)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}
