package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"nuclight.org/community-tg-bot/pkg/logger"
)

// TableDump is the JSON snapshot of one table.
type TableDump struct {
	Columns []string         `json:"columns"`
	Rows    []map[string]any `json:"rows"`
}

// ImportStats reports what a restore actually loaded, per table.
type ImportStats struct {
	Tables map[string]int
	Total  int
}

// Store is the slice of the persistent store the backup service needs.
type Store interface {
	DumpTables(ctx context.Context) (map[string]TableDump, error)
	LoadTables(ctx context.Context, dump map[string]TableDump) (ImportStats, error)
}

// Service writes JSON snapshots of the moderation tables and restores them
// by code. The code doubles as the restore token the dispatch pipeline
// recognizes: 32 hex digits, a dash-less UUID.
type Service struct {
	Log   logger.Logger
	Store Store
	Dir   string
}

// Export writes a snapshot and returns its restore code.
func (s *Service) Export(ctx context.Context) (code string, path string, err error) {
	dump, err := s.Store.DumpTables(ctx)
	if err != nil {
		return "", "", fmt.Errorf("dumping tables: %w", err)
	}

	data, err := json.MarshalIndent(dump, "", "  ")
	if err != nil {
		return "", "", fmt.Errorf("encoding backup: %w", err)
	}

	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return "", "", fmt.Errorf("creating backup dir: %w", err)
	}

	code = strings.ReplaceAll(uuid.NewString(), "-", "")
	path = filepath.Join(s.Dir, code+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", "", fmt.Errorf("writing backup file: %w", err)
	}

	s.Log.Info("backup exported", "code", code, "tables", len(dump), "bytes", len(data))
	return code, path, nil
}

// Restore loads the snapshot identified by code, replacing current table
// contents.
func (s *Service) Restore(ctx context.Context, code string) (ImportStats, error) {
	code = strings.ToLower(strings.TrimSpace(code))

	data, err := os.ReadFile(filepath.Join(s.Dir, code+".json"))
	if err != nil {
		return ImportStats{}, fmt.Errorf("reading backup %s: %w", code, err)
	}

	var dump map[string]TableDump
	if err := json.Unmarshal(data, &dump); err != nil {
		return ImportStats{}, fmt.Errorf("decoding backup %s: %w", code, err)
	}

	stats, err := s.Store.LoadTables(ctx, dump)
	if err != nil {
		return stats, fmt.Errorf("loading tables: %w", err)
	}

	s.Log.Info("backup restored", "code", code, "tables", len(stats.Tables), "rows", stats.Total)
	return stats, nil
}
