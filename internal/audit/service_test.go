package audit

import (
	"context"
	"testing"
)

func TestService_AppendValidates(t *testing.T) {
	svc := NewService(NewMemoryRepo())

	if err := svc.Append(context.Background(), Event{CallID: "CA1"}); err == nil {
		t.Fatalf("expected error for missing type")
	}
	if err := svc.LogTransition(context.Background(), "", "RE1", "transcribing", ""); err == nil {
		t.Fatalf("expected error for missing call id")
	}
	if err := svc.LogTransition(context.Background(), "CA1", "RE1", "", ""); err == nil {
		t.Fatalf("expected error for missing stage")
	}
}

func TestService_HistoryInAppendOrder(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)
	ctx := context.Background()

	for _, st := range []string{"recording_pending", "transcribing", "failed"} {
		reason := ""
		if st == "failed" {
			reason = "timeout"
		}
		if err := svc.LogTransition(ctx, "CA1", "RE1", st, reason); err != nil {
			t.Fatalf("unexpected err: %v", err)
		}
	}
	_ = svc.LogTransition(ctx, "CA2", "RE2", "transcribing", "")
	if err := svc.LogAdminAction(ctx, "u1", "admin", "1.2.3.4", "CA1", "archived", "{}"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	evs, err := svc.History(ctx, "CA1")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(evs) != 4 {
		t.Fatalf("expected 4 events, got %d", len(evs))
	}
	if evs[2].Stage != "failed" || evs[2].FailureReason != "timeout" {
		t.Fatalf("unexpected failure event: %+v", evs[2])
	}
	if evs[3].Type != EventTypeAdminAction || evs[3].IPAddress != "1.2.3.4" {
		t.Fatalf("expected admin action captured: %+v", evs[3])
	}
	if evs[0].ID == "" || evs[0].CreatedAt.IsZero() {
		t.Fatalf("expected id and timestamp assigned")
	}
}

func TestMemoryRepoDropsOldest(t *testing.T) {
	repo := NewMemoryRepo()
	repo.limit = 3
	ctx := context.Background()
	for _, id := range []string{"CA1", "CA1", "CA2", "CA3"} {
		_ = repo.Append(ctx, Event{Type: EventTypeStageTransition, CallID: id, Stage: "done"})
	}
	if n := len(repo.Events()); n != 3 {
		t.Fatalf("expected 3 held events, got %d", n)
	}
	evs, _ := repo.ForCall(ctx, "CA1")
	if len(evs) != 1 {
		t.Fatalf("expected oldest CA1 event evicted, got %d", len(evs))
	}
}
