package stream

import (
	"fmt"
	"strings"
	"sync"
	"testing"
)

func drain(t *testing.T, queue <-chan Payload) (string, []Payload) {
	t.Helper()
	var sb strings.Builder
	var all []Payload
	for p := range queue {
		all = append(all, p)
		if p.Type == PayloadDone {
			return sb.String(), all
		}
		if p.Type == PayloadDelta {
			sb.WriteString(p.Content)
		}
	}
	t.Fatalf("queue ended without a done sentinel")
	return "", nil
}

func TestSubscribeSnapshotPlusDeltas(t *testing.T) {
	b := NewBroker(16)
	b.Start("c1", "t1")

	b.Append("c1", "hello")
	b.Append("c1", " ")

	s, queue, snapshot, ok := b.Subscribe("c1")
	if !ok {
		t.Fatalf("Subscribe() returned none for a live session")
	}
	defer b.Unsubscribe(s, queue)
	if snapshot != "hello " {
		t.Fatalf("snapshot = %q, want %q", snapshot, "hello ")
	}

	b.Append("c1", "world")
	b.Finish("c1")

	rest, _ := drain(t, queue)
	if snapshot+rest != "hello world" {
		t.Fatalf("snapshot+deltas = %q, want %q", snapshot+rest, "hello world")
	}
}

func TestTwoWatchersSeeSameTotalText(t *testing.T) {
	b := NewBroker(64)
	b.Start("c1", "t1")

	b.Append("c1", "alpha ")
	sA, qA, snapA, ok := b.Subscribe("c1")
	if !ok {
		t.Fatalf("first Subscribe() failed")
	}
	defer b.Unsubscribe(sA, qA)

	b.Append("c1", "beta ")
	sB, qB, snapB, ok := b.Subscribe("c1")
	if !ok {
		t.Fatalf("second Subscribe() failed")
	}
	defer b.Unsubscribe(sB, qB)

	b.Append("c1", "gamma")
	b.Finish("c1")

	restA, _ := drain(t, qA)
	restB, _ := drain(t, qB)
	if snapA+restA != snapB+restB {
		t.Fatalf("watcher totals differ: %q vs %q", snapA+restA, snapB+restB)
	}
	if snapA+restA != "alpha beta gamma" {
		t.Fatalf("total = %q, want %q", snapA+restA, "alpha beta gamma")
	}
}

func TestSnapshotConsistencyUnderConcurrentAppends(t *testing.T) {
	b := NewBroker(1024)
	b.Start("c1", "t1")

	const deltas = 200
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < deltas; i++ {
			b.Append("c1", fmt.Sprintf("%03d,", i))
		}
		b.Finish("c1")
	}()

	// Subscribe mid-stream; snapshot+deltas must equal the full text with no
	// gap and no duplicate regardless of interleaving.
	var s *Session
	var queue <-chan Payload
	var snapshot string
	for {
		var ok bool
		s, queue, snapshot, ok = b.Subscribe("c1")
		if ok {
			break
		}
		// Session may not be registered yet or already done; retry until the
		// producer is underway, tolerating an instant finish.
		if b.ActiveCount() == 0 && len(snapshot) == 0 {
			wg.Wait()
			return
		}
	}
	defer b.Unsubscribe(s, queue)

	rest, _ := drain(t, queue)
	wg.Wait()

	got := snapshot + rest
	var want strings.Builder
	for i := 0; i < deltas; i++ {
		fmt.Fprintf(&want, "%03d,", i)
	}
	if got != want.String() {
		t.Fatalf("snapshot+deltas diverged from appended text:\n got %q\nwant %q", got, want.String())
	}
}

func TestFinishIsIdempotent(t *testing.T) {
	b := NewBroker(16)
	b.Start("c1", "t1")
	_, queue, _, ok := b.Subscribe("c1")
	if !ok {
		t.Fatalf("Subscribe() failed")
	}

	b.Finish("c1")
	b.Finish("c1")

	_, all := drain(t, queue)
	if len(all) != 1 || all[0].Type != PayloadDone {
		t.Fatalf("payloads = %+v, want a single done sentinel", all)
	}
	if b.ActiveCount() != 0 {
		t.Fatalf("ActiveCount() = %d after finish, want 0", b.ActiveCount())
	}
}

func TestAppendAfterFinishIsNoop(t *testing.T) {
	b := NewBroker(16)
	b.Start("c1", "t1")
	b.Finish("c1")
	b.Append("c1", "late")
	b.Error("c1", "late error")

	if _, _, _, ok := b.Subscribe("c1"); ok {
		t.Fatalf("Subscribe() succeeded after finish")
	}
}

func TestStartReplacesStaleSession(t *testing.T) {
	b := NewBroker(16)
	b.Start("c1", "t1")
	_, staleQueue, _, ok := b.Subscribe("c1")
	if !ok {
		t.Fatalf("Subscribe() failed")
	}

	b.Start("c1", "t2")

	// The stale watcher receives its end sentinel when the session is
	// forcibly finalized.
	_, all := drain(t, staleQueue)
	if all[len(all)-1].TurnID != "t1" {
		t.Fatalf("sentinel turn = %q, want t1", all[len(all)-1].TurnID)
	}

	s, queue, snapshot, ok := b.Subscribe("c1")
	if !ok {
		t.Fatalf("Subscribe() failed for replacement session")
	}
	defer b.Unsubscribe(s, queue)
	if s.TurnID != "t2" || snapshot != "" {
		t.Fatalf("replacement session turn=%q snapshot=%q, want t2 and empty", s.TurnID, snapshot)
	}
}

func TestErrorPayloadDelivered(t *testing.T) {
	b := NewBroker(16)
	b.Start("c1", "t1")
	_, queue, _, ok := b.Subscribe("c1")
	if !ok {
		t.Fatalf("Subscribe() failed")
	}

	b.Error("c1", "upstream failed")
	b.Finish("c1")

	_, all := drain(t, queue)
	if len(all) != 2 {
		t.Fatalf("payload count = %d, want 2", len(all))
	}
	if all[0].Type != PayloadError || all[0].Message != "upstream failed" {
		t.Fatalf("first payload = %+v, want error payload", all[0])
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := NewBroker(16)
	b.Start("c1", "t1")
	s, queue, _, ok := b.Subscribe("c1")
	if !ok {
		t.Fatalf("Subscribe() failed")
	}
	b.Unsubscribe(s, queue)

	b.Append("c1", "ignored")
	select {
	case p := <-queue:
		t.Fatalf("received %+v after unsubscribe", p)
	default:
	}
	b.Finish("c1")

	// Unsubscribe after finish must not panic.
	b.Unsubscribe(s, queue)
}

func TestDropHookFiresWhenQueueFull(t *testing.T) {
	b := NewBroker(16)
	dropped := 0
	b.SetDropHook(func(string) { dropped++ })
	b.Start("c1", "t1")
	if _, _, _, ok := b.Subscribe("c1"); !ok {
		t.Fatalf("Subscribe() failed")
	}

	for i := 0; i < 20; i++ {
		b.Append("c1", "x")
	}
	if dropped != 4 {
		t.Fatalf("dropped = %d, want 4", dropped)
	}
}
