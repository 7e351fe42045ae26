package transport

import (
	"testing"
	"time"

	"modelmux/provider"
)

// collectingTracker returns a tracker whose emitted events land in the
// returned slice pointer. Tracker tests drive observe from one goroutine,
// so no locking is needed around the slice.
func collectingTracker(kind provider.BackendKind) (*progressTracker, *[]provider.Event) {
	var events []provider.Event
	tr := newProgressTracker(kind, func(ev provider.Event) bool {
		events = append(events, ev)
		return true
	})
	return tr, &events
}

func TestProgressTrackerEpisode(t *testing.T) {
	tr, events := collectingTracker(provider.KindLMStudio)

	for _, f := range []float64{0.1, 0.4, 0.7, 1.0} {
		tr.observe(f)
	}

	got := *events
	if len(got) != 4 {
		t.Fatalf("got %d events, want 4: %+v", len(got), got)
	}

	id := got[0].Progress.CorrelationID
	if id == "" {
		t.Fatal("first event has no correlation id")
	}
	wantPercent := []float64{10, 40, 70}
	for i, p := range wantPercent {
		ev := got[i]
		if ev.Kind != provider.EventProgress {
			t.Fatalf("event %d kind = %q, want progress", i, ev.Kind)
		}
		if ev.Progress.Status != provider.ProgressDownloading {
			t.Errorf("event %d status = %q, want downloading", i, ev.Progress.Status)
		}
		if ev.Progress.Percent != p {
			t.Errorf("event %d percent = %v, want %v", i, ev.Progress.Percent, p)
		}
		if ev.Progress.CorrelationID != id {
			t.Errorf("event %d correlation id = %q, want %q", i, ev.Progress.CorrelationID, id)
		}
		if ev.Progress.Message == "" {
			t.Errorf("event %d has no message", i)
		}
	}

	last := got[3]
	if last.Progress.Status != provider.ProgressComplete {
		t.Errorf("terminal status = %q, want complete", last.Progress.Status)
	}
	if last.Progress.Percent != 100 {
		t.Errorf("terminal percent = %v, want 100", last.Progress.Percent)
	}
	if last.Progress.CorrelationID != id {
		t.Errorf("terminal correlation id = %q, want %q", last.Progress.CorrelationID, id)
	}
}

func TestProgressTrackerDropsRegressions(t *testing.T) {
	tr, events := collectingTracker(provider.KindOllama)

	for _, f := range []float64{0.5, 0.3, 0.5, 0.8} {
		tr.observe(f)
	}

	got := *events
	if len(got) != 2 {
		t.Fatalf("got %d events, want 2: %+v", len(got), got)
	}
	if got[0].Progress.Percent != 50 || got[1].Progress.Percent != 80 {
		t.Errorf("percents = %v, %v, want 50, 80", got[0].Progress.Percent, got[1].Progress.Percent)
	}
}

func TestProgressTrackerImmediateCompletion(t *testing.T) {
	tr, events := collectingTracker(provider.KindOllama)

	// A model that is already local reports only the final fraction. No
	// episode ever opened, so nothing is emitted.
	tr.observe(1.0)

	if got := *events; len(got) != 0 {
		t.Fatalf("got %d events, want 0: %+v", len(got), got)
	}
}

func TestProgressTrackerForceClose(t *testing.T) {
	tr, events := collectingTracker(provider.KindLMStudio)

	tr.observe(0.2)
	tr.forceClose()
	tr.forceClose()

	got := *events
	if len(got) != 2 {
		t.Fatalf("got %d events, want 2: %+v", len(got), got)
	}
	if got[1].Progress.Status != provider.ProgressComplete {
		t.Errorf("status = %q, want complete", got[1].Progress.Status)
	}
	if got[1].Progress.Percent != 100 {
		t.Errorf("percent = %v, want 100", got[1].Progress.Percent)
	}
	if got[0].Progress.CorrelationID != got[1].Progress.CorrelationID {
		t.Error("complete event does not share the episode's correlation id")
	}
}

func TestProgressTrackerForceCloseWithoutEpisode(t *testing.T) {
	tr, events := collectingTracker(provider.KindLMStudio)

	tr.forceClose()

	if got := *events; len(got) != 0 {
		t.Fatalf("got %d events, want 0: %+v", len(got), got)
	}
}

func TestProgressFanoutDeliversInOrder(t *testing.T) {
	f := &progressFanout{}
	got := make(chan provider.ProgressEvent, 8)
	f.subscribe(func(ev provider.ProgressEvent) { got <- ev })

	want := []float64{10, 60, 100}
	for _, p := range want {
		f.publish(provider.ProgressEvent{CorrelationID: "episode", Percent: p})
	}

	for i, p := range want {
		select {
		case ev := <-got:
			if ev.Percent != p {
				t.Errorf("event %d percent = %v, want %v", i, ev.Percent, p)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for event %d", i)
		}
	}
}

func TestProgressFanoutMultipleSubscribers(t *testing.T) {
	f := &progressFanout{}
	first := make(chan provider.ProgressEvent, 1)
	second := make(chan provider.ProgressEvent, 1)
	f.subscribe(func(ev provider.ProgressEvent) { first <- ev })
	f.subscribe(func(ev provider.ProgressEvent) { second <- ev })

	f.publish(provider.ProgressEvent{Percent: 42})

	for name, ch := range map[string]chan provider.ProgressEvent{"first": first, "second": second} {
		select {
		case ev := <-ch:
			if ev.Percent != 42 {
				t.Errorf("%s subscriber percent = %v, want 42", name, ev.Percent)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("%s subscriber never received the event", name)
		}
	}
}
