package critic

import (
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestDebouncer_CoalescesBursts(t *testing.T) {
	defer goleak.VerifyNone(t)

	d := NewDebouncer(30 * time.Millisecond)
	var fired atomic.Int32
	for i := 0; i < 5; i++ {
		d.Debounce(func() { fired.Add(1) })
		time.Sleep(5 * time.Millisecond)
	}

	time.Sleep(80 * time.Millisecond)
	if got := fired.Load(); got != 1 {
		t.Errorf("expected one firing after a burst, got %d", got)
	}
}

func TestDebouncer_Cancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	d := NewDebouncer(20 * time.Millisecond)
	var fired atomic.Int32
	d.Debounce(func() { fired.Add(1) })
	d.Cancel()

	time.Sleep(50 * time.Millisecond)
	if fired.Load() != 0 {
		t.Errorf("cancelled debounce must not fire")
	}
}

func TestScheduler_CloseStopsTimers(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := NewScheduler(DefaultOptions(), nil, nil, nil, nil)
	s.Upsert(docWith("短文"))
	s.Close()
	// A sweep after close is a no-op, not a panic.
	s.Sweep()
}
