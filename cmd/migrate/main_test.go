package main

import (
	"context"
	"path/filepath"
	"testing"
)

func TestLoadMigrations(t *testing.T) {
	migrations, err := loadMigrations(migrationsFS)
	if err != nil {
		t.Fatalf("unexpected error loading embedded migrations: %v", err)
	}
	if len(migrations) != 1 {
		t.Fatalf("expected 1 migration, got %d", len(migrations))
	}
	if migrations[0].Version != 1 || migrations[0].Name != "init" {
		t.Fatalf("unexpected first migration: %+v", migrations[0])
	}
	if migrations[0].UpSQL == "" || migrations[0].DownSQL == "" {
		t.Fatal("expected non-empty up/down sql for first migration")
	}
}

func TestApplyUpAndDown(t *testing.T) {
	ctx := context.Background()
	db, err := openDB(filepath.Join(t.TempDir(), "migrate.db"))
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	defer db.Close()

	if err := ensureMigrationTable(ctx, db); err != nil {
		t.Fatalf("ensure migration table: %v", err)
	}
	migrations, err := loadMigrations(migrationsFS)
	if err != nil {
		t.Fatal(err)
	}

	applied, err := applyUp(ctx, db, migrations)
	if err != nil {
		t.Fatalf("apply up: %v", err)
	}
	if applied != 1 {
		t.Fatalf("expected 1 applied migration, got %d", applied)
	}

	applied, err = applyUp(ctx, db, migrations)
	if err != nil {
		t.Fatal(err)
	}
	if applied != 0 {
		t.Fatalf("second up must be a no-op, applied %d", applied)
	}

	version, name, err := currentVersion(ctx, db)
	if err != nil {
		t.Fatal(err)
	}
	if version != 1 || name != "init" {
		t.Fatalf("unexpected current version: %d (%s)", version, name)
	}

	if _, err := db.ExecContext(ctx, `INSERT INTO predictions (symbol, source, prediction_date, target_date, predicted_price) VALUES ('BTC', 'primary-api', '2024-06-01', '2024-06-15', 65000)`); err != nil {
		t.Fatalf("predictions table should be usable after up: %v", err)
	}

	rolledBack, err := applyDown(ctx, db, migrations, 1)
	if err != nil {
		t.Fatalf("apply down: %v", err)
	}
	if rolledBack != 1 {
		t.Fatalf("expected 1 rollback, got %d", rolledBack)
	}

	version, _, err = currentVersion(ctx, db)
	if err != nil {
		t.Fatal(err)
	}
	if version != 0 {
		t.Fatalf("expected no applied migrations after down, got version %d", version)
	}

	if _, err := db.ExecContext(ctx, `SELECT count(*) FROM predictions`); err == nil {
		t.Fatal("predictions table should be dropped after down")
	}
}
