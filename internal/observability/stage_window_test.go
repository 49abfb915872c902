package observability

import "testing"

func TestStageWindowSnapshot(t *testing.T) {
	w := NewStageWindow(8)
	w.Observe("prompt_to_first_delta", 300)
	w.Observe("prompt_to_first_delta", 500)
	w.Observe("prompt_to_first_delta", 700)
	w.ObserveIndicator("stream_fallback")
	w.ObserveIndicator("stream_fallback")

	snap := w.Snapshot()
	if snap.WindowSize != 8 {
		t.Fatalf("WindowSize = %d, want 8", snap.WindowSize)
	}
	if len(snap.Stages) != 1 {
		t.Fatalf("len(Stages) = %d, want 1", len(snap.Stages))
	}
	s := snap.Stages[0]
	if s.Stage != "prompt_to_first_delta" {
		t.Fatalf("Stage = %q, want %q", s.Stage, "prompt_to_first_delta")
	}
	if s.Samples != 3 {
		t.Fatalf("Samples = %d, want 3", s.Samples)
	}
	if s.LastMS != 700 {
		t.Fatalf("LastMS = %.2f, want 700", s.LastMS)
	}
	if s.P50MS != 500 {
		t.Fatalf("P50MS = %.2f, want 500", s.P50MS)
	}
	if s.P95MS <= 500 || s.P95MS > 700 {
		t.Fatalf("P95MS = %.2f, want (500,700]", s.P95MS)
	}
	if s.TargetP95MS != 900 {
		t.Fatalf("TargetP95MS = %.2f, want 900", s.TargetP95MS)
	}
	if len(snap.Indicators) != 1 {
		t.Fatalf("len(Indicators) = %d, want 1", len(snap.Indicators))
	}
	if snap.Indicators[0].Name != "stream_fallback" {
		t.Fatalf("Indicators[0].Name = %q", snap.Indicators[0].Name)
	}
	if snap.Indicators[0].Count != 2 {
		t.Fatalf("Indicators[0].Count = %d, want 2", snap.Indicators[0].Count)
	}
}

func TestStageWindowWraps(t *testing.T) {
	w := NewStageWindow(4)
	for i := 1; i <= 6; i++ {
		w.Observe("generation_total", float64(i*100))
	}
	snap := w.Snapshot()
	if len(snap.Stages) != 1 || snap.Stages[0].Samples != 4 {
		t.Fatalf("snapshot after wrap = %+v, want 4 retained samples", snap.Stages)
	}
	if snap.Stages[0].LastMS != 600 {
		t.Fatalf("LastMS = %.2f, want 600", snap.Stages[0].LastMS)
	}
}

func TestStageWindowReset(t *testing.T) {
	w := NewStageWindow(4)
	w.Observe("generation_total", 100)
	w.ObserveIndicator("generation_failed")
	w.Reset()
	snap := w.Snapshot()
	if len(snap.Stages) != 0 || len(snap.Indicators) != 0 {
		t.Fatalf("snapshot after reset = %+v", snap)
	}
}
