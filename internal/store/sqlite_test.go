package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "data", "relay.db"))
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRecordAndListTriggers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	recs := []*TriggerRecord{
		{SessionID: "s1", Question: "¿por qué me cobran?", Email: "a@b.co", Status: TriggerSuccess, JobID: 10, JobKey: "k10", ReleaseName: "RPA.Workflow", CreatedAt: base},
		{SessionID: "s1", Question: "factura", Status: TriggerError, ErrorType: "request_failed", Message: "boom", CreatedAt: base.Add(time.Minute)},
		{SessionID: "s2", Question: "tarifa", Status: TriggerSuccess, JobID: 11, CreatedAt: base.Add(2 * time.Minute)},
	}
	for _, r := range recs {
		if err := s.RecordTrigger(ctx, r); err != nil {
			t.Fatalf("RecordTrigger: %v", err)
		}
		if r.ID == 0 {
			t.Fatal("expected ID to be set")
		}
	}

	all, err := s.ListTriggers(ctx, "", 0)
	if err != nil {
		t.Fatalf("ListTriggers: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 records, got %d", len(all))
	}
	if all[0].SessionID != "s2" {
		t.Errorf("expected newest first, got %q", all[0].SessionID)
	}

	s1, err := s.ListTriggers(ctx, "s1", 10)
	if err != nil {
		t.Fatalf("ListTriggers: %v", err)
	}
	if len(s1) != 2 {
		t.Fatalf("expected 2 records for s1, got %d", len(s1))
	}
	if s1[0].ErrorType != "request_failed" || s1[0].JobID != 0 {
		t.Errorf("unexpected error record: %+v", s1[0])
	}
	if s1[1].Email != "a@b.co" || s1[1].JobKey != "k10" || !s1[1].CreatedAt.Equal(base) {
		t.Errorf("unexpected success record: %+v", s1[1])
	}

	limited, err := s.ListTriggers(ctx, "", 1)
	if err != nil {
		t.Fatalf("ListTriggers: %v", err)
	}
	if len(limited) != 1 {
		t.Fatalf("expected 1 record, got %d", len(limited))
	}
}

func TestGetTriggerByJob(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.RecordTrigger(ctx, &TriggerRecord{SessionID: "s1", Question: "q", Status: TriggerSuccess, JobID: 99}); err != nil {
		t.Fatalf("RecordTrigger: %v", err)
	}

	rec, err := s.GetTriggerByJob(ctx, 99)
	if err != nil {
		t.Fatalf("GetTriggerByJob: %v", err)
	}
	if rec == nil || rec.SessionID != "s1" {
		t.Fatalf("unexpected record: %+v", rec)
	}

	missing, err := s.GetTriggerByJob(ctx, 100)
	if err != nil {
		t.Fatalf("GetTriggerByJob: %v", err)
	}
	if missing != nil {
		t.Fatalf("expected nil, got %+v", missing)
	}
}

func TestPing(t *testing.T) {
	s := newTestStore(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}
