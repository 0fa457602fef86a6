package audit

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/cardpass-core/internal/infrastructure/database"
	_ "github.com/nerrad567/cardpass-core/migrations" // registers the schema
)

func setupTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()

	ctx := context.Background()
	db, err := database.Open(ctx, database.Config{Path: database.MemoryPath})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		t.Fatalf("failed to migrate test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	return NewSQLiteRepository(db.DB)
}

func TestSQLiteRepository_CreateAndList(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	entry := &AuditLog{
		Action:     ActionCommand,
		EntityType: EntityReader,
		EntityID:   "7",
		Source:     SourceAPI,
		Details:    map[string]any{"command": "openoncereader"},
	}
	if err := repo.Create(ctx, entry); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if !strings.HasPrefix(entry.ID, "aud-") {
		t.Errorf("ID = %q, want aud- prefix", entry.ID)
	}
	if entry.CreatedAt.IsZero() {
		t.Error("CreatedAt not set")
	}

	res, err := repo.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if res.Total != 1 || len(res.Logs) != 1 {
		t.Fatalf("List() total = %d, logs = %d", res.Total, len(res.Logs))
	}
	got := res.Logs[0]
	if got.ID != entry.ID || got.EntityID != "7" || got.Source != SourceAPI {
		t.Errorf("got = %+v", got)
	}
	if got.Details["command"] != "openoncereader" {
		t.Errorf("details = %v", got.Details)
	}
	if !got.CreatedAt.Equal(entry.CreatedAt.Truncate(time.Microsecond)) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, entry.CreatedAt)
	}
}

func TestSQLiteRepository_SiteEntryWithoutEntityID(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	if err := repo.Create(ctx, &AuditLog{Action: ActionCommand, EntityType: EntitySite, Source: SourceMQTT}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	res, err := repo.List(ctx, Filter{EntityType: EntitySite})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(res.Logs) != 1 || res.Logs[0].EntityID != "" || res.Logs[0].Details != nil {
		t.Errorf("logs = %+v", res.Logs)
	}
}

func TestSQLiteRepository_ListFiltersAndOrder(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	entries := []AuditLog{
		{Action: ActionCreate, EntityType: EntityReader, EntityID: "1", Source: SourceAPI},
		{Action: ActionCommand, EntityType: EntityReader, EntityID: "1", Source: SourceMQTT},
		{Action: ActionCommand, EntityType: EntityReader, EntityID: "2", Source: SourceAPI},
		{Action: ActionCommand, EntityType: EntitySite, Source: SourceAPI},
		{Action: ActionDelete, EntityType: EntityReader, EntityID: "2", Source: SourceAPI},
	}
	for i := range entries {
		entries[i].CreatedAt = base.Add(time.Duration(i) * time.Millisecond)
		if err := repo.Create(ctx, &entries[i]); err != nil {
			t.Fatalf("Create(%d) error = %v", i, err)
		}
	}

	tests := []struct {
		name      string
		filter    Filter
		wantTotal int
		wantFirst string // action of the newest match
	}{
		{name: "all", filter: Filter{}, wantTotal: 5, wantFirst: ActionDelete},
		{name: "by action", filter: Filter{Action: ActionCommand}, wantTotal: 3, wantFirst: ActionCommand},
		{name: "by reader", filter: Filter{EntityType: EntityReader, EntityID: "1"}, wantTotal: 2, wantFirst: ActionCommand},
		{name: "by source", filter: Filter{Source: SourceMQTT}, wantTotal: 1, wantFirst: ActionCommand},
		{name: "no match", filter: Filter{EntityID: "99"}, wantTotal: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := repo.List(ctx, tt.filter)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if res.Total != tt.wantTotal || len(res.Logs) != tt.wantTotal {
				t.Fatalf("total = %d, logs = %d, want %d", res.Total, len(res.Logs), tt.wantTotal)
			}
			if tt.wantTotal > 0 && res.Logs[0].Action != tt.wantFirst {
				t.Errorf("first action = %q, want %q", res.Logs[0].Action, tt.wantFirst)
			}
		})
	}
}

func TestSQLiteRepository_ListPagination(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := repo.Create(ctx, &AuditLog{Action: ActionCommand, EntityType: EntitySite, Source: SourceAPI}); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	res, err := repo.List(ctx, Filter{Limit: 2, Offset: 4})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if res.Total != 5 || len(res.Logs) != 1 || res.Limit != 2 || res.Offset != 4 {
		t.Errorf("result = total %d logs %d limit %d offset %d", res.Total, len(res.Logs), res.Limit, res.Offset)
	}

	res, err = repo.List(ctx, Filter{Limit: 1000, Offset: -3})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if res.Limit != maxLimit || res.Offset != 0 {
		t.Errorf("clamped limit = %d offset = %d", res.Limit, res.Offset)
	}
}
