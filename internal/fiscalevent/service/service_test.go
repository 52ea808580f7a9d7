package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/emissor/internal/fiscalevent/domain"
	"github.com/smallbiznis/emissor/internal/fiscalevent/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestRecorder(t *testing.T) (domain.Recorder, *gorm.DB, *snowflake.Node) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&domain.FiscalEvent{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake.NewNode: %v", err)
	}
	recorder := NewService(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Repo:  repository.Provide(),
	})
	return recorder, db, node
}

func TestRecordKeepsRawPayload(t *testing.T) {
	recorder, db, node := newTestRecorder(t)
	orgID := node.Generate()
	documentID := node.Generate()

	raw := []byte(`{"status": "autorizado", "numero": "42"}`)
	recorder.Record(context.Background(), orgID, documentID, domain.KindEmission, "autorizado", "Autorizado o uso", raw)

	var events []domain.FiscalEvent
	if err := db.Find(&events).Error; err != nil {
		t.Fatalf("find events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected one event, got %d", len(events))
	}
	if events[0].Kind != domain.KindEmission || events[0].Status != "autorizado" {
		t.Errorf("unexpected event %q/%q", events[0].Kind, events[0].Status)
	}
	if string(events[0].Payload) != string(raw) {
		t.Errorf("expected raw payload stored verbatim, got %s", events[0].Payload)
	}
}

func TestRecordSynthesizesPayload(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
	}{
		{name: "empty payload", payload: nil},
		{name: "invalid json", payload: []byte(`not json at all`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recorder, db, node := newTestRecorder(t)
			orgID := node.Generate()
			documentID := node.Generate()

			recorder.Record(context.Background(), orgID, documentID, domain.KindError, "", "gateway unreachable", tt.payload)

			var event domain.FiscalEvent
			if err := db.First(&event).Error; err != nil {
				t.Fatalf("find event: %v", err)
			}

			var decoded map[string]string
			if err := json.Unmarshal(event.Payload, &decoded); err != nil {
				t.Fatalf("payload must be valid json: %v", err)
			}
			if decoded["error"] != "gateway unreachable" {
				t.Errorf("expected synthetic error payload, got %v", decoded)
			}
		})
	}
}

func TestRecordIsBestEffort(t *testing.T) {
	recorder, db, node := newTestRecorder(t)

	// Dropping the table makes every insert fail; Record must swallow it.
	if err := db.Migrator().DropTable(&domain.FiscalEvent{}); err != nil {
		t.Fatalf("drop table: %v", err)
	}

	recorder.Record(context.Background(), node.Generate(), node.Generate(), domain.KindError, "", "boom", nil)
}

func TestListByDocumentNewestFirst(t *testing.T) {
	recorder, db, node := newTestRecorder(t)
	orgID := node.Generate()
	documentID := node.Generate()

	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		event := domain.FiscalEvent{
			ID:         node.Generate(),
			OrgID:      orgID,
			DocumentID: documentID,
			Kind:       domain.KindEmission,
			Status:     "processando",
			Payload:    []byte(`{}`),
			CreatedAt:  base.Add(time.Duration(i) * time.Minute),
		}
		if err := db.Create(&event).Error; err != nil {
			t.Fatalf("seed event: %v", err)
		}
	}
	// A row for another document must not leak in.
	other := domain.FiscalEvent{
		ID:         node.Generate(),
		OrgID:      orgID,
		DocumentID: node.Generate(),
		Kind:       domain.KindEmission,
		Payload:    []byte(`{}`),
		CreatedAt:  base,
	}
	if err := db.Create(&other).Error; err != nil {
		t.Fatalf("seed other event: %v", err)
	}

	events, err := recorder.ListByDocument(context.Background(), orgID, documentID)
	if err != nil {
		t.Fatalf("ListByDocument: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	for i := 1; i < len(events); i++ {
		if events[i].CreatedAt.After(events[i-1].CreatedAt) {
			t.Fatalf("expected newest first ordering at index %d", i)
		}
	}
}

func TestListByDocumentScopedByOrg(t *testing.T) {
	recorder, db, node := newTestRecorder(t)
	orgID := node.Generate()
	documentID := node.Generate()

	event := domain.FiscalEvent{
		ID:         node.Generate(),
		OrgID:      orgID,
		DocumentID: documentID,
		Kind:       domain.KindEmission,
		Payload:    []byte(`{}`),
		CreatedAt:  time.Now().UTC(),
	}
	if err := db.Create(&event).Error; err != nil {
		t.Fatalf("seed event: %v", err)
	}

	events, err := recorder.ListByDocument(context.Background(), node.Generate(), documentID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("ListByDocument: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected no events across tenants, got %d", len(events))
	}
}
