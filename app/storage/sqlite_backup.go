package storage

import (
	"context"
	"fmt"
	"strings"

	"nuclight.org/community-tg-bot/app/backup"
)

// backupTables is the fixed list of tables included in a snapshot. Session
// state is deliberately absent: sessions are transient and cleared on
// restart anyway.
var backupTables = []string{
	"principals",
	"bans",
	"mutes",
	"command_aliases",
	"template_commands",
	"template_media",
	"reminders",
	"birthdays",
	"birthday_settings",
}

func (c *SQLite) DumpTables(ctx context.Context) (map[string]backup.TableDump, error) {
	dump := make(map[string]backup.TableDump, len(backupTables))

	for _, table := range backupTables {
		rows, err := c.db.QueryContext(ctx, "SELECT * FROM "+table)
		if err != nil {
			return nil, fmt.Errorf("dumping %s: %w", table, err)
		}

		cols, err := rows.Columns()
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("columns of %s: %w", table, err)
		}

		td := backup.TableDump{Columns: cols}
		for rows.Next() {
			values := make([]any, len(cols))
			ptrs := make([]any, len(cols))
			for i := range values {
				ptrs[i] = &values[i]
			}
			if err := rows.Scan(ptrs...); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scanning %s: %w", table, err)
			}

			row := make(map[string]any, len(cols))
			for i, col := range cols {
				if b, ok := values[i].([]byte); ok {
					row[col] = string(b)
				} else {
					row[col] = values[i]
				}
			}
			td.Rows = append(td.Rows, row)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("iterating %s: %w", table, err)
		}

		dump[table] = td
	}

	return dump, nil
}

// LoadTables replaces the contents of every known table present in the
// dump. Unknown table names are skipped so a snapshot from a newer schema
// does not fail wholesale.
func (c *SQLite) LoadTables(ctx context.Context, dump map[string]backup.TableDump) (backup.ImportStats, error) {
	stats := backup.ImportStats{Tables: make(map[string]int)}

	known := make(map[string]bool, len(backupTables))
	for _, t := range backupTables {
		known[t] = true
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return stats, err
	}
	defer tx.Rollback()

	for table, td := range dump {
		if !known[table] {
			continue
		}

		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return stats, fmt.Errorf("clearing %s: %w", table, err)
		}

		count := 0
		for _, row := range td.Rows {
			cols := make([]string, 0, len(td.Columns))
			vals := make([]any, 0, len(td.Columns))
			for _, col := range td.Columns {
				v, ok := row[col]
				if !ok {
					continue
				}
				cols = append(cols, col)
				vals = append(vals, v)
			}
			if len(cols) == 0 {
				continue
			}

			query := fmt.Sprintf(
				"INSERT OR REPLACE INTO %s (%s) VALUES (%s)",
				table,
				strings.Join(cols, ", "),
				strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", "),
			)
			if _, err := tx.ExecContext(ctx, query, vals...); err != nil {
				return stats, fmt.Errorf("inserting into %s: %w", table, err)
			}
			count++
		}

		stats.Tables[table] = count
		stats.Total += count
	}

	if err := tx.Commit(); err != nil {
		return stats, err
	}

	return stats, nil
}
