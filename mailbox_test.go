package dcop

import (
	"context"
	"testing"
	"time"
)

func TestInboxFIFO(t *testing.T) {
	q := NewInbox()
	for i := 1; i <= 3; i++ {
		q.Push(Message{Kind: KindChild, Sender: AgentID(i)})
	}
	for i := 1; i <= 3; i++ {
		m, ok := q.TryPop()
		if !ok || m.Sender != AgentID(i) {
			t.Fatalf("pop %d: got %v %v", i, m.Sender, ok)
		}
	}
	if _, ok := q.TryPop(); ok {
		t.Error("pop from empty inbox succeeded")
	}
}

func TestInboxPopWaitTimesOut(t *testing.T) {
	q := NewInbox()
	start := time.Now()
	if _, ok := q.PopWait(context.Background(), 30*time.Millisecond); ok {
		t.Fatal("want timeout")
	}
	if time.Since(start) < 30*time.Millisecond {
		t.Error("returned before the deadline")
	}
}

func TestInboxPopWaitWakesOnPush(t *testing.T) {
	q := NewInbox()
	go func() {
		time.Sleep(10 * time.Millisecond)
		q.Push(Message{Kind: KindUtil})
	}()
	m, ok := q.PopWait(context.Background(), time.Second)
	if !ok || m.Kind != KindUtil {
		t.Fatalf("got %v %v", m.Kind, ok)
	}
}

func TestMailboxRouting(t *testing.T) {
	mb := NewMailbox()
	for _, payload := range []string{
		"ON", "ROOT_2", "CHILD 1", "PSEUDO 3",
		`UTIL {"vars":[1],"data":[]}`, `VALUES {"1":0}`, "URGT_1",
	} {
		if err := mb.Dispatch(payload); err != nil {
			t.Fatalf("Dispatch(%q): %v", payload, err)
		}
	}
	if got := mb.Child.Len(); got != 2 {
		t.Errorf("child inbox: %d, want 2 (CHILD and PSEUDO)", got)
	}
	if got := mb.Util.Len(); got != 1 {
		t.Errorf("util inbox: %d, want 1", got)
	}
	if got := mb.Value.Len(); got != 1 {
		t.Errorf("value inbox: %d, want 1", got)
	}
	if got := mb.Waiting.Len(); got != 2 {
		t.Errorf("waiting inbox: %d, want 2 (ON and ROOT)", got)
	}
	if got := mb.Urgent.Len(); got != 1 {
		t.Errorf("urgent inbox: %d, want 1", got)
	}
}

func TestMailboxDropsMalformed(t *testing.T) {
	mb := NewMailbox()
	if err := mb.Dispatch("garbage"); err == nil {
		t.Fatal("want error for malformed payload")
	}
	count, _ := mb.RoundStats()
	if count != 0 {
		t.Errorf("malformed payload counted as received: %d", count)
	}
}

func TestMailboxRoundStats(t *testing.T) {
	mb := NewMailbox()
	mb.Dispatch("ON")     // 2 bytes
	mb.Dispatch("ROOT_2") // 6 bytes
	count, avg := mb.RoundStats()
	if count != 2 {
		t.Fatalf("count = %d, want 2", count)
	}
	if avg != 4 {
		t.Errorf("avg = %.1f, want 4.0", avg)
	}

	mb.ResetRound()
	count, _ = mb.RoundStats()
	if count != 0 {
		t.Errorf("count after reset = %d, want 0", count)
	}
	if mb.TotalCount() != 2 {
		t.Errorf("total = %d, want 2 across rounds", mb.TotalCount())
	}
	// Queued messages survive the reset.
	if mb.Waiting.Len() != 2 {
		t.Errorf("waiting after reset = %d, want 2", mb.Waiting.Len())
	}
}
