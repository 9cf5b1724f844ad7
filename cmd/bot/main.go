package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/getsentry/sentry-go"
	"github.com/jessevdk/go-flags"
	"github.com/robfig/cron/v3"

	"nuclight.org/community-tg-bot/app/backup"
	"nuclight.org/community-tg-bot/app/broadcast"
	"nuclight.org/community-tg-bot/app/commands"
	"nuclight.org/community-tg-bot/app/config"
	"nuclight.org/community-tg-bot/app/dispatch"
	"nuclight.org/community-tg-bot/app/identity"
	"nuclight.org/community-tg-bot/app/jobs"
	"nuclight.org/community-tg-bot/app/storage"
	"nuclight.org/community-tg-bot/app/telegram"
	"nuclight.org/community-tg-bot/app/templates"
	e "nuclight.org/community-tg-bot/pkg/entities"
	"nuclight.org/community-tg-bot/pkg/logger"
)

var opts struct {
	TelegramAPIToken   string `long:"telegram-api-token" env:"TELEGRAM_API_TOKEN" required:"true" description:"telegram api token"`
	TelegramWorkersNum int    `long:"telegram-workers-num" env:"TELEGRAM_WORKERS_NUM" default:"5" description:"number of workers for telegram bot"`
	DBPath             string `long:"db-path" env:"DB_PATH" default:"./db/community.sqlite" description:"path to the sqlite database file"`
	ConfigPath         string `long:"config" env:"CONFIG_PATH" default:"./config.yaml" description:"path to the yaml config file"`
	SentryDSN          string `long:"sentry-dsn" env:"SENTRY_DSN" description:"sentry dsn, empty disables reporting"`
}

var Revision = "dev"

func main() {
	_, err := flags.Parse(&opts)
	if err != nil {
		os.Exit(1)
	}

	log := logger.NewLogger()
	log.Info("starting bot", "revision", Revision)

	if opts.SentryDSN != "" {
		err = sentry.Init(sentry.ClientOptions{Dsn: opts.SentryDSN, Release: Revision})
		if err != nil {
			log.Error("initializing sentry", "error", err)
			os.Exit(1)
		}
	}

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		log.Error("loading config", "error", err)
		os.Exit(1)
	}

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

	if cfg.OwnerID != 0 {
		if err := db.SetRole(ctx, cfg.OwnerID, e.RoleOwner); err != nil {
			log.Error("assigning owner role", "error", err)
			os.Exit(1)
		}
	}

	// Sessions do not survive restarts.
	if n, err := db.ClearAllSessions(ctx); err != nil {
		log.Error("clearing stale sessions", "error", err)
	} else if n > 0 {
		log.Info("stale broadcast sessions cleared", "count", n)
	}

	bot := &telegram.Client{
		Log:        log,
		APIToken:   opts.TelegramAPIToken,
		WorkersNum: opts.TelegramWorkersNum,
	}

	resolver := &identity.Resolver{
		Log:      log,
		Local:    db,
		External: bot,
	}

	engine := &broadcast.Engine{
		Log:           log,
		Sessions:      db,
		Stats:         db,
		Sender:        bot,
		DefaultChatID: cfg.BroadcastChatID,
		IdleTimeout:   cfg.SessionIdleTimeout(),
	}

	backups := &backup.Service{
		Log:   log,
		Store: db,
		Dir:   cfg.BackupDir,
	}

	tmpls := &templates.Store{Log: log, Repo: db}

	registry := commands.NewRegistry(log)
	handlers := &commands.Handlers{
		Log:       log,
		Store:     db,
		Resolver:  resolver,
		Sessions:  engine,
		Sender:    bot,
		Backups:   backups,
		Templates: tmpls,
		AliasRepo: db,
	}
	handlers.Register(registry)

	bot.Handler = &dispatch.Pipeline{
		Log:        log,
		Principals: db,
		Templates:  tmpls,
		Sessions:   engine,
		Aliases:    db,
		Identity:   resolver,
		Sender:     bot,
		Commands:   registry,
	}

	poller := &jobs.Poller{
		Log:           log,
		Store:         db,
		Sender:        bot,
		DefaultChatID: cfg.BroadcastChatID,
		Greeting:      cfg.BirthdayGreeting,
	}

	sched := cron.New()
	mustSchedule(log, sched, "@every 1m", func() { engine.SweepIdle(ctx) })
	mustSchedule(log, sched, "@every 1m", func() { poller.DeliverDueReminders(ctx) })
	mustSchedule(log, sched, "0 9 * * *", func() { poller.GreetBirthdays(ctx) })
	sched.Start()
	defer sched.Stop()

	err = bot.Start(ctx)
	if err != nil {
		log.Error("starting bot", "error", err)
		os.Exit(1)
	}

	<-ctx.Done()
	log.Info("stopping bot")

	bot.Wait()

	os.Exit(0)
}

func mustSchedule(log logger.Logger, c *cron.Cron, spec string, fn func()) {
	if _, err := c.AddFunc(spec, fn); err != nil {
		log.Error("scheduling job", "spec", spec, "error", err)
		os.Exit(1)
	}
}
