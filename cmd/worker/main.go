package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/auratek/contxt-bridge/internal/config"
	"github.com/auratek/contxt-bridge/internal/gateway"
	"github.com/auratek/contxt-bridge/internal/interpreter"
	"github.com/auratek/contxt-bridge/internal/portal"
	"github.com/auratek/contxt-bridge/internal/repository/postgres"
	"github.com/auratek/contxt-bridge/internal/splash"
	"github.com/auratek/contxt-bridge/internal/templates"
	"github.com/auratek/contxt-bridge/internal/worker"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
)

func main() {
	log.Println("Starting ConTXT bridge worker...")

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.LoadFromEnv(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := db.PingContext(pingCtx); err != nil {
		cancel()
		log.Fatalf("Failed to ping database: %v", err)
	}
	cancel()
	log.Println("Connected to database")

	redisClient := redis.NewClient(&redis.Options{
		Addr: cfg.Redis.Addr,
		DB:   cfg.Redis.DB,
	})
	defer redisClient.Close()

	// Repositories
	bots := postgres.NewBotRepo(db)
	users := postgres.NewUserRepo(db)
	contacts := postgres.NewContactRepo(db)
	emails := postgres.NewEmailRepo(db)
	smsRepo := postgres.NewSMSRepo(db)
	tplRepo := postgres.NewTemplateRepo(db)
	processed := postgres.NewProcessedRepo(db)

	// Shared services
	sessions := portal.NewCache(cfg.Portal)
	render := splash.NewClient(cfg.Splash, cfg.Portal, cfg.TestMode)
	gw := gateway.NewClient(cfg.Gateway)
	engine := templates.NewEngine(tplRepo)

	// Pipeline stages
	replies := worker.NewReplyPusher(smsRepo, emails, sessions, render, cfg.Scheduler.MaxReplyRetries)
	interp := interpreter.New(emails, contacts, users, bots, smsRepo, processed, engine, replies)
	invites := worker.NewInviteAcceptor(cfg.Mailbox, worker.OpenMailbox, sessions, render,
		processed, cfg.Scheduler.MaxInviteRetries)
	puller := worker.NewInboxPuller(sessions, users, emails, bots, interp, cfg.TestMode)
	dispatcher := worker.NewSMSDispatcher(cfg.Gateway, emails, users, contacts, smsRepo,
		gw, engine, replies, processed, worker.LogNotifier{})

	pipeline := worker.NewPipeline(invites, puller, dispatcher, replies)

	operatorBox := cfg.Mailbox.OperatorHost != "" && cfg.Mailbox.OperatorUsername != ""
	scheduler := worker.NewScheduler(cfg.Scheduler, bots, redisClient, pipeline, invites, operatorBox)
	if err := scheduler.Start(); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}
	log.Printf("Scheduler running every %v", cfg.Scheduler.Interval())

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down...")
	scheduler.Stop()
	log.Println("Worker stopped")
}
