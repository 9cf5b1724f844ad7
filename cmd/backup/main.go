package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/jessevdk/go-flags"

	"nuclight.org/community-tg-bot/app/backup"
	"nuclight.org/community-tg-bot/app/storage"
	"nuclight.org/community-tg-bot/pkg/logger"
)

// Offline export/import of the bot database. Export prints a restore code
// the owner can later paste into the chat; import applies a dump file
// directly without going through the bot.

var opts struct {
	DBPath    string `long:"db-path" env:"DB_PATH" required:"true" description:"path to the sqlite database file"`
	BackupDir string `long:"backup-dir" env:"BACKUP_DIR" default:"./backups" description:"directory holding export files"`
	Import    string `long:"import" description:"restore code to import; empty means export"`
}

func main() {
	_, err := flags.Parse(&opts)
	if err != nil {
		os.Exit(1)
	}

	log := logger.NewLogger()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	db, err := storage.NewSQLite(ctx, opts.DBPath)
	if err != nil {
		log.Error("creating sqlite3 database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("closing sqlite3 database", "error", err)
		}
	}()

	svc := &backup.Service{
		Log:   log,
		Store: db,
		Dir:   opts.BackupDir,
	}

	if opts.Import == "" {
		code, path, err := svc.Export(ctx)
		if err != nil {
			log.Error("exporting backup", "error", err)
			os.Exit(1)
		}
		log.Info("backup written", "code", code, "path", path)
		return
	}

	stats, err := svc.Restore(ctx, opts.Import)
	if err != nil {
		log.Error("importing backup", "error", err)
		os.Exit(1)
	}

	log.Info("backup imported", "total", stats.Total)
	for table, n := range stats.Tables {
		log.Info("table restored", "table", table, "rows", n)
	}
}
