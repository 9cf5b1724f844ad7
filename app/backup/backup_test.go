package backup

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"nuclight.org/community-tg-bot/pkg/logger"
)

type memStore struct {
	dump   map[string]TableDump
	loaded map[string]TableDump
}

func (m *memStore) DumpTables(context.Context) (map[string]TableDump, error) {
	return m.dump, nil
}

func (m *memStore) LoadTables(_ context.Context, dump map[string]TableDump) (ImportStats, error) {
	m.loaded = dump
	stats := ImportStats{Tables: make(map[string]int)}
	for table, td := range dump {
		stats.Tables[table] = len(td.Rows)
		stats.Total += len(td.Rows)
	}
	return stats, nil
}

var codeRe = regexp.MustCompile(`^[0-9a-f]{32}$`)

func TestExportRestoreRoundTrip(t *testing.T) {
	store := &memStore{
		dump: map[string]TableDump{
			"principals": {
				Columns: []string{"user_id", "role"},
				Rows: []map[string]any{
					{"user_id": float64(1), "role": "owner"},
					{"user_id": float64(2), "role": ""},
				},
			},
		},
	}
	svc := &Service{Log: logger.NewNop(), Store: store, Dir: t.TempDir()}

	code, path, err := svc.Export(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !codeRe.MatchString(code) {
		t.Fatalf("code %q is not 32 lowercase hex digits", code)
	}
	if filepath.Base(path) != code+".json" {
		t.Fatalf("path %q does not embed the code", path)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatal(err)
	}

	stats, err := svc.Restore(context.Background(), code)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Total != 2 || stats.Tables["principals"] != 2 {
		t.Fatalf("stats = %+v", stats)
	}
	if len(store.loaded["principals"].Rows) != 2 {
		t.Fatalf("loaded = %+v", store.loaded)
	}
}

func TestRestoreUnknownCode(t *testing.T) {
	svc := &Service{Log: logger.NewNop(), Store: &memStore{}, Dir: t.TempDir()}

	if _, err := svc.Restore(context.Background(), "deadbeefdeadbeefdeadbeefdeadbeef"); err == nil {
		t.Fatal("expected an error for a missing backup file")
	}
}

func TestRestoreNormalizesCode(t *testing.T) {
	store := &memStore{dump: map[string]TableDump{}}
	svc := &Service{Log: logger.NewNop(), Store: store, Dir: t.TempDir()}

	code, _, err := svc.Export(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if _, err := svc.Restore(context.Background(), "  "+code+"  "); err != nil {
		t.Fatalf("restore with padded code: %v", err)
	}
}
