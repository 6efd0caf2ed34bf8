package database

import (
	"path/filepath"
	"testing"

	"github.com/arealabs/area/internal/area"
	"github.com/arealabs/area/internal/services"
	"github.com/arealabs/area/internal/users"
)

func TestOpenSQLiteMigratesSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "area.db")
	db, err := OpenSQLite(path, nil)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}

	for _, table := range []string{"users", "services", "oauth_tokens", "actions", "reactions", "areas", "db_migrations"} {
		if !db.Migrator().HasTable(table) {
			t.Fatalf("expected table %q after migration", table)
		}
	}
}

func TestOpenSQLiteRequiresPath(t *testing.T) {
	if _, err := OpenSQLite("", nil); err == nil {
		t.Fatalf("expected error for empty path")
	}
}

func TestMigrationsApplyOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "area.db")
	db, err := OpenSQLite(path, nil)
	if err != nil {
		t.Fatalf("first open failed: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db handle failed: %v", err)
	}
	if err := sqlDB.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	reopened, err := OpenSQLite(path, nil)
	if err != nil {
		t.Fatalf("second open failed: %v", err)
	}

	var count int64
	if err := reopened.Model(&migrationRecord{}).Where("name = ?", migrationBackfillAreaNames).Count(&count).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected the migration recorded exactly once, got %d", count)
	}
}

func TestBackfillAreaNamesDerivesFromHalves(t *testing.T) {
	path := filepath.Join(t.TempDir(), "area.db")
	db, err := OpenSQLite(path, nil)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}

	var user users.User
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("user insert failed: %v", err)
	}
	connection := services.Service{UserID: user.ID, Name: "alpha", State: services.StateActive}
	if err := db.Create(&connection).Error; err != nil {
		t.Fatalf("service insert failed: %v", err)
	}
	action := area.Action{UserID: user.ID, ServiceID: connection.ID, ServiceName: "alpha", Name: "tick"}
	reaction := area.Reaction{UserID: user.ID, ServiceID: connection.ID, ServiceName: "alpha", Name: "echo"}
	if err := db.Create(&action).Error; err != nil {
		t.Fatalf("action insert failed: %v", err)
	}
	if err := db.Create(&reaction).Error; err != nil {
		t.Fatalf("reaction insert failed: %v", err)
	}
	unnamed := area.Area{UserID: user.ID, ActionID: action.ID, ReactionID: reaction.ID}
	if err := db.Create(&unnamed).Error; err != nil {
		t.Fatalf("area insert failed: %v", err)
	}

	if err := backfillAreaNames(db); err != nil {
		t.Fatalf("backfill failed: %v", err)
	}

	var row area.Area
	if err := db.First(&row, unnamed.ID).Error; err != nil {
		t.Fatalf("area lookup failed: %v", err)
	}
	if row.Name != "tick-echo" {
		t.Fatalf("expected derived name tick-echo, got %q", row.Name)
	}
}
