package registry

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"substation-sim/internal/config"
	"substation-sim/internal/sensor"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openMemory(t *testing.T) *sql.DB {
	t.Helper()
	db, err := Open(context.Background(), config.Config{SQLiteDSN: "file::memory:"}, discardLogger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = Close(db) })
	return db
}

func countRows(t *testing.T, db *sql.DB, table string) int {
	t.Helper()
	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}

func testDefs() []sensor.Definition {
	return []sensor.Definition{
		{Key: "supply_temp", ID: 0, LocationID: 1, Base: 75, Min: 60, Max: 95},
		{Key: "return_temp", ID: 1, LocationID: 2, Base: 48, Min: 45, Max: 70},
		{Key: "system_pressure", ID: 5, LocationID: 7, Base: 5.5, Min: 4, Max: 7},
	}
}

func TestOpen_AppliesMigrationsOnce(t *testing.T) {
	db := openMemory(t)

	if got := countRows(t, db, migrationsTable); got != 2 {
		t.Fatalf("schema_migrations rows = %d, want 2", got)
	}
	if err := Migrate(context.Background(), db, discardLogger()); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
	if got := countRows(t, db, migrationsTable); got != 2 {
		t.Errorf("schema_migrations rows after rerun = %d, want 2", got)
	}
	if got := countRows(t, db, "sensor_ids"); got != 0 {
		t.Errorf("sensor_ids rows = %d, want 0", got)
	}
}

func TestOpen_FileBacked(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "substation.db")
	db, err := Open(context.Background(), config.Config{SQLitePath: path}, discardLogger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer Close(db)

	var mode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("journal_mode: %v", err)
	}
	if strings.ToLower(mode) != "wal" {
		t.Errorf("journal_mode = %q, want wal", mode)
	}
}

func TestBuildDSN(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name string
		cfg  config.Config
		want string
	}{
		{
			name: "explicit dsn wins",
			cfg:  config.Config{SQLiteDSN: "file::memory:", SQLitePath: filepath.Join(dir, "x.db")},
			want: "file::memory:",
		},
		{
			name: "plain path",
			cfg:  config.Config{SQLitePath: filepath.Join(dir, "a.db")},
			want: "file:" + filepath.Join(dir, "a.db") + "?_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL",
		},
		{
			name: "file prefix with params",
			cfg:  config.Config{SQLitePath: "file:" + filepath.Join(dir, "b.db") + "?mode=rwc"},
			want: "file:" + filepath.Join(dir, "b.db") + "?mode=rwc&_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := buildDSN(tt.cfg)
			if err != nil {
				t.Fatalf("buildDSN: %v", err)
			}
			if got != tt.want {
				t.Errorf("buildDSN = %q, want %q", got, tt.want)
			}
		})
	}

	if _, err := buildDSN(config.Config{}); err == nil {
		t.Error("buildDSN with empty path: error = nil")
	}
}

func TestStore_SaveUpsertsAndLoads(t *testing.T) {
	store := NewStore(openMemory(t))
	ctx := context.Background()

	if err := store.Save(ctx, []Entry{
		{LocationID: 1, SensorID: 11, Name: "supply"},
		{LocationID: 2, SensorID: 12, Name: "return"},
	}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	fixed := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	store.now = func() time.Time { return fixed }
	if err := store.Save(ctx, []Entry{{LocationID: 2, SensorID: 22, Name: "return v2"}}); err != nil {
		t.Fatalf("Save upsert: %v", err)
	}

	got, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[1].SensorID != 11 {
		t.Errorf("location 1 = %+v", got[1])
	}
	if got[2].SensorID != 22 || got[2].Name != "return v2" {
		t.Errorf("location 2 = %+v, want upserted", got[2])
	}
	if !got[2].UpdatedAt.Equal(fixed) {
		t.Errorf("UpdatedAt = %v, want %v", got[2].UpdatedAt, fixed)
	}
}

func sensorList(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") != "application/json" {
			http.Error(w, "want json", http.StatusNotAcceptable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, body)
	}
}

func TestFetch(t *testing.T) {
	srv := httptest.NewServer(sensorList(`[
		{"id": 101, "sensorObjectLocationId": 1, "name": "Орох температур"},
		{"id": 107, "sensorObjectLocationId": 7, "name": "Системийн даралт"}
	]`))
	defer srv.Close()

	got, err := Fetch(context.Background(), nil, srv.URL)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(got) != 2 || got[0].SensorID != 101 || got[0].LocationID != 1 || got[1].Name != "Системийн даралт" {
		t.Errorf("Fetch = %+v", got)
	}
}

func TestFetch_Errors(t *testing.T) {
	notFound := httptest.NewServer(http.NotFoundHandler())
	defer notFound.Close()
	if _, err := Fetch(context.Background(), nil, notFound.URL); !errors.Is(err, ErrLookupStatus) {
		t.Errorf("404: err = %v, want ErrLookupStatus", err)
	}

	garbage := httptest.NewServer(sensorList(`{"not":"a list"}`))
	defer garbage.Close()
	if _, err := Fetch(context.Background(), nil, garbage.URL); err == nil {
		t.Error("bad body: err = nil")
	}
}

func TestResolve_CollectorThenCache(t *testing.T) {
	store := NewStore(openMemory(t))
	ctx := context.Background()

	srv := httptest.NewServer(sensorList(`[
		{"id": 101, "sensorObjectLocationId": 1, "name": "supply"},
		{"id": 107, "sensorObjectLocationId": 7, "name": "pressure"},
		{"id": 999, "sensorObjectLocationId": 42, "name": "unrelated"}
	]`))

	defs := testDefs()
	r := &Resolver{URL: srv.URL, Store: store, Logger: discardLogger()}
	got, src, err := r.Resolve(ctx, defs)
	if err != nil || src != SourceCollector {
		t.Fatalf("Resolve = %v, %v, want collector", src, err)
	}
	if got[0].ID != 101 || got[1].ID != 1 || got[2].ID != 107 {
		t.Errorf("ids = %d,%d,%d, want 101,1,107", got[0].ID, got[1].ID, got[2].ID)
	}
	if defs[0].ID != 0 {
		t.Error("Resolve modified its input")
	}

	cached, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cached) != 2 {
		t.Errorf("cached entries = %d, want 2 matched", len(cached))
	}

	srv.Close()

	got, src, err = r.Resolve(ctx, testDefs())
	if src != SourceCache {
		t.Fatalf("source = %v, want cache", src)
	}
	if err == nil {
		t.Error("err = nil, want the collector failure")
	}
	if got[0].ID != 101 || got[2].ID != 107 {
		t.Errorf("cached ids = %d,%d", got[0].ID, got[2].ID)
	}

	if n := countRows(t, store.db, "lookup_log"); n != 2 {
		t.Errorf("lookup_log rows = %d, want 2", n)
	}
}

func TestResolve_StaticFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	for _, tc := range []struct {
		name  string
		store *Store
	}{
		{name: "empty cache", store: NewStore(openMemory(t))},
		{name: "no cache"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			r := &Resolver{URL: srv.URL, Store: tc.store, Logger: discardLogger()}
			got, src, err := r.Resolve(context.Background(), testDefs())
			if src != SourceStatic {
				t.Fatalf("source = %v, want static", src)
			}
			if !errors.Is(err, ErrLookupStatus) {
				t.Errorf("err = %v, want ErrLookupStatus", err)
			}
			for i, d := range testDefs() {
				if got[i].ID != d.ID {
					t.Errorf("%s id = %d, want static %d", d.Key, got[i].ID, d.ID)
				}
			}
		})
	}
}
