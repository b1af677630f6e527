// botctl is the operator's administrative CLI: sync bots from a JSON
// config, seed response templates, and run individual pipeline stages
// one-shot against a single bot.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/auratek/contxt-bridge/internal/config"
	"github.com/auratek/contxt-bridge/internal/domain"
	"github.com/auratek/contxt-bridge/internal/gateway"
	"github.com/auratek/contxt-bridge/internal/interpreter"
	"github.com/auratek/contxt-bridge/internal/portal"
	"github.com/auratek/contxt-bridge/internal/registry"
	"github.com/auratek/contxt-bridge/internal/repository/postgres"
	"github.com/auratek/contxt-bridge/internal/splash"
	"github.com/auratek/contxt-bridge/internal/templates"
	"github.com/auratek/contxt-bridge/internal/worker"

	_ "github.com/lib/pq"
)

func usage() {
	fmt.Fprintf(os.Stderr, `Usage:
  botctl sync-bots -file bots.json     sync bot accounts from a JSON config
  botctl seed-templates                seed the response template table
  botctl run -stage <stage> -bot <id>  run one pipeline stage once
                                       (stages: invites, pull, push, sms, all)
  botctl send-welcome -bot <id> -name "First Last" [-message "..."]
                                       compose a welcome message to a new user

Environment: CONFIG_PATH points at the YAML config (default config.yaml).
`)
	os.Exit(2)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.LoadFromEnv(configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		log.Fatalf("ping: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	switch os.Args[1] {
	case "sync-bots":
		fs := flag.NewFlagSet("sync-bots", flag.ExitOnError)
		file := fs.String("file", "bots.json", "path to the bot config file")
		fs.Parse(os.Args[2:])

		deactivated, err := registry.New(postgres.NewBotRepo(db)).SyncFromFile(ctx, *file)
		if err != nil {
			log.Fatalf("sync bots: %v", err)
		}
		log.Printf("Bots synced from %s (%d deactivated)", *file, len(deactivated))

	case "seed-templates":
		repo := postgres.NewTemplateRepo(db)
		for key, text := range templates.Defaults {
			if err := repo.Upsert(ctx, key, text); err != nil {
				log.Fatalf("seed template %s: %v", key, err)
			}
			log.Printf("Seeded template %s", key)
		}

	case "run":
		fs := flag.NewFlagSet("run", flag.ExitOnError)
		stage := fs.String("stage", "", "stage to run: invites, pull, push, sms, all")
		botID := fs.Int64("bot", 0, "bot id")
		fs.Parse(os.Args[2:])
		if *stage == "" || *botID == 0 {
			usage()
		}
		runStage(ctx, cfg, db, *stage, *botID)

	case "send-welcome":
		fs := flag.NewFlagSet("send-welcome", flag.ExitOnError)
		botID := fs.Int64("bot", 0, "bot id")
		name := fs.String("name", "", `recipient name as "First Last"`)
		message := fs.String("message", "", "message body (defaults to the welcome template)")
		fs.Parse(os.Args[2:])
		if *botID == 0 || *name == "" {
			usage()
		}
		sendWelcome(ctx, cfg, db, *botID, *name, *message)

	default:
		usage()
	}
}

func sendWelcome(ctx context.Context, cfg *config.Config, db *sql.DB, botID int64, picName, message string) {
	bots := postgres.NewBotRepo(db)
	bot, err := bots.Get(ctx, botID)
	if err != nil {
		log.Fatalf("load bot %d: %v", botID, err)
	}

	if message == "" {
		engine := templates.NewEngine(postgres.NewTemplateRepo(db))
		var accounts []string
		if active, err := bots.Active(ctx); err == nil {
			for _, b := range active {
				accounts = append(accounts, b.PortalUsername)
			}
		}
		message, err = engine.Render(ctx, domain.TplWelcomeStatus, templates.Params{
			FirstName:   picName,
			BotAccounts: accounts,
		})
		if err != nil {
			log.Fatalf("render welcome template: %v", err)
		}
	}

	sessions := portal.NewCache(cfg.Portal)
	render := splash.NewClient(cfg.Splash, cfg.Portal, cfg.TestMode)
	smsRepo := postgres.NewSMSRepo(db)
	emails := postgres.NewEmailRepo(db)
	replies := worker.NewReplyPusher(smsRepo, emails, sessions, render, cfg.Scheduler.MaxReplyRetries)

	if err := replies.PushNewMessage(ctx, bot, picName, message); err != nil {
		log.Fatalf("send welcome to %q: %v", picName, err)
	}
	log.Printf("Welcome message sent to %q via bot %d", picName, botID)
}

func runStage(ctx context.Context, cfg *config.Config, db *sql.DB, stage string, botID int64) {
	bots := postgres.NewBotRepo(db)
	users := postgres.NewUserRepo(db)
	contacts := postgres.NewContactRepo(db)
	emails := postgres.NewEmailRepo(db)
	smsRepo := postgres.NewSMSRepo(db)
	processed := postgres.NewProcessedRepo(db)

	sessions := portal.NewCache(cfg.Portal)
	render := splash.NewClient(cfg.Splash, cfg.Portal, cfg.TestMode)
	gw := gateway.NewClient(cfg.Gateway)
	engine := templates.NewEngine(postgres.NewTemplateRepo(db))

	replies := worker.NewReplyPusher(smsRepo, emails, sessions, render, cfg.Scheduler.MaxReplyRetries)
	interp := interpreter.New(emails, contacts, users, bots, smsRepo, processed, engine, replies)
	invites := worker.NewInviteAcceptor(cfg.Mailbox, worker.OpenMailbox, sessions, render,
		processed, cfg.Scheduler.MaxInviteRetries)
	puller := worker.NewInboxPuller(sessions, users, emails, bots, interp, cfg.TestMode)
	dispatcher := worker.NewSMSDispatcher(cfg.Gateway, emails, users, contacts, smsRepo,
		gw, engine, replies, processed, worker.LogNotifier{})

	bot, err := bots.Get(ctx, botID)
	if err != nil {
		log.Fatalf("load bot %d: %v", botID, err)
	}

	stages := map[string]func(context.Context, *domain.Bot) error{
		"invites": invites.Run,
		"pull":    puller.Run,
		"push":    replies.Run,
		"sms":     dispatcher.Run,
	}

	if stage == "all" {
		worker.NewPipeline(invites, puller, dispatcher, replies).RunBot(ctx, bot)
		return
	}

	run, ok := stages[stage]
	if !ok {
		log.Fatalf("unknown stage %q", stage)
	}
	if err := run(ctx, bot); err != nil {
		log.Fatalf("stage %s for bot %d: %v", stage, botID, err)
	}
	log.Printf("Stage %s completed for bot %d", stage, botID)
}
