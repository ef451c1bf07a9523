package memorystore

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/nexusgw/gateway/pkg/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	s, err := Open(Config{Path: path, TTL: time.Hour, SweepInterval: time.Hour})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestLoadUnknownThreadIsEmpty(t *testing.T) {
	s := newTestStore(t)
	msgs, err := s.Load(context.Background(), "unknown")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("expected empty transcript, got %v", msgs)
	}
}

func TestAppendThenLoadRoundtrips(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	err := s.Append(ctx, "t1", "u1", []models.ChatMessage{
		{Role: models.ChatRoleUser, Content: "hello"},
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	err = s.Append(ctx, "t1", "u1", []models.ChatMessage{
		{Role: models.ChatRoleAssistant, Content: "hi there"},
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	msgs, err := s.Load(ctx, "t1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Content != "hello" || msgs[1].Content != "hi there" {
		t.Errorf("unexpected transcript: %+v", msgs)
	}
}

func TestAuditIndexMonotonic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		err := s.Append(ctx, "t2", "u1", []models.ChatMessage{
			{Role: models.ChatRoleUser, Content: fmt.Sprintf("msg-%d", i)},
		})
		if err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
	}
	records, err := s.AuditTrail(ctx, "t2")
	if err != nil {
		t.Fatalf("AuditTrail: %v", err)
	}
	if len(records) != 5 {
		t.Fatalf("expected 5 audit records, got %d", len(records))
	}
	for i := 1; i < len(records); i++ {
		if records[i].MessageIndex <= records[i-1].MessageIndex {
			t.Errorf("audit index not monotonic at %d: %d <= %d", i, records[i].MessageIndex, records[i-1].MessageIndex)
		}
	}
}

func TestTTLSweepEvictsActiveButKeepsAudit(t *testing.T) {
	path := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	s, err := Open(Config{Path: path, TTL: time.Millisecond, SweepInterval: time.Hour})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	if err := s.Append(ctx, "t3", "u1", []models.ChatMessage{{Role: models.ChatRoleUser, Content: "x"}}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	s.sweepExpired()

	msgs, err := s.Load(ctx, "t3")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("expected active view evicted, got %v", msgs)
	}
	records, err := s.AuditTrail(ctx, "t3")
	if err != nil {
		t.Fatalf("AuditTrail: %v", err)
	}
	if len(records) != 1 {
		t.Errorf("expected audit trail to survive eviction, got %d records", len(records))
	}
}

func TestCloseThreadMarksAuditClosed(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.Append(ctx, "t4", "u1", []models.ChatMessage{{Role: models.ChatRoleUser, Content: "x"}}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := s.CloseThread(ctx, "t4"); err != nil {
		t.Fatalf("CloseThread: %v", err)
	}
	msgs, err := s.Load(ctx, "t4")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("expected active thread removed after close")
	}
	records, err := s.AuditTrail(ctx, "t4")
	if err != nil {
		t.Fatalf("AuditTrail: %v", err)
	}
	if len(records) != 1 || records[0].ClosedAt == nil {
		t.Errorf("expected audit record stamped closed, got %+v", records)
	}
}
