package msgsync

import "testing"

func TestTrackerConfirm(t *testing.T) {
	tr := NewOptimisticSendTracker()
	ph := tr.Begin(1, 5, "Dana", "hello")

	if !ph.ID.IsPlaceholder() {
		t.Fatalf("Begin returned a non-placeholder id %v", ph.ID)
	}
	if ph.Body != "hello" || ph.ConversationID != 1 || ph.SenderID != 5 {
		t.Fatalf("placeholder fields wrong: %+v", ph)
	}
	if tr.Pending() != 1 {
		t.Fatalf("Pending = %d, want 1", tr.Pending())
	}

	if !tr.Confirm(ph.ID) {
		t.Fatalf("Confirm rejected a pending attempt")
	}
	if tr.Pending() != 0 {
		t.Fatalf("attempt survived Confirm")
	}
	if tr.Confirm(ph.ID) {
		t.Fatalf("Confirm settled the same attempt twice")
	}
}

func TestTrackerFailReturnsBody(t *testing.T) {
	tr := NewOptimisticSendTracker()
	ph := tr.Begin(1, 5, "Dana", "draft text")

	body, ok := tr.Fail(ph.ID)
	if !ok || body != "draft text" {
		t.Fatalf("Fail = (%q, %v), want original body", body, ok)
	}
	if tr.Pending() != 0 {
		t.Fatalf("attempt survived Fail")
	}
	if _, ok := tr.Fail(ph.ID); ok {
		t.Fatalf("Fail settled the same attempt twice")
	}
}

func TestTrackerSettleByDroppedPlaceholders(t *testing.T) {
	tr := NewOptimisticSendTracker()
	a := tr.Begin(1, 5, "Dana", "first")
	b := tr.Begin(2, 5, "Dana", "other conversation")

	// The realtime stream dropped conversation 1's placeholders.
	tr.Settle(1, []Message{a})
	if tr.Pending() != 1 {
		t.Fatalf("Pending = %d, want 1 after settling conversation 1", tr.Pending())
	}
	if tr.Confirm(a.ID) {
		t.Fatalf("settled attempt confirmed again")
	}
	if !tr.Confirm(b.ID) {
		t.Fatalf("unrelated attempt lost by Settle")
	}
}
