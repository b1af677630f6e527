package worker

import (
	"context"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/auratek/contxt-bridge/internal/config"
	"github.com/auratek/contxt-bridge/internal/domain"
	"github.com/auratek/contxt-bridge/internal/pkg/distlock"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
)

// Start-of-task jitter bounds, staggering bots that share a tick.
const (
	jitterMin = 5 * time.Second
	jitterMax = 10 * time.Second
)

// maxConcurrentBots bounds how many bot pipelines run in parallel.
const maxConcurrentBots = 4

// Scheduler drives every active bot's pipeline at a fixed interval.
// Distinct bots run in parallel; a per-bot distributed lock guarantees at
// most one pipeline instance per bot across all worker processes.
type Scheduler struct {
	cfg         config.SchedulerConfig
	bots        BotStore
	redisClient *redis.Client
	pipeline    *Pipeline
	invites     *InviteAcceptor
	operatorBox bool

	cron    *cron.Cron
	sem     chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	known   map[int64]bool // bot id → scheduled, for task-sync logging
	running bool
}

// NewScheduler creates the scheduler. operatorBox enables the unconditional
// shared-mailbox invite task.
func NewScheduler(cfg config.SchedulerConfig, bots BotStore, redisClient *redis.Client,
	pipeline *Pipeline, invites *InviteAcceptor, operatorBox bool) *Scheduler {
	return &Scheduler{
		cfg:         cfg,
		bots:        bots,
		redisClient: redisClient,
		pipeline:    pipeline,
		invites:     invites,
		operatorBox: operatorBox,
		sem:         make(chan struct{}, maxConcurrentBots),
		known:       map[int64]bool{},
	}
}

// Start begins ticking. The first tick fires after one interval.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	s.running = true

	s.cron = cron.New()
	s.cron.Schedule(cron.Every(s.cfg.Interval()), cron.FuncJob(s.tick))
	s.cron.Start()

	log.Printf("[Scheduler] started with interval %v", s.cfg.Interval())
	return nil
}

// Stop halts ticking and waits for in-flight bot tasks to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	c := s.cron
	s.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}
	s.wg.Wait()
	log.Printf("[Scheduler] stopped")
}

// tick dispatches one round of work: the task-set sync, every active
// bot's pipeline, and the shared operator-mailbox invite task.
func (s *Scheduler) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Interval())
	defer cancel()

	bots, err := s.bots.Active(ctx)
	if err != nil {
		log.Printf("[Scheduler] list active bots: %v", err)
		return
	}

	s.SyncBotTasks(bots)

	for i := range bots {
		bot := bots[i]
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.sem <- struct{}{}
			defer func() { <-s.sem }()
			s.runBotTask(ctx, &bot)
		}()
	}

	if s.operatorBox && len(bots) > 0 {
		// The shared operator mailbox is processed unconditionally, using
		// the first active bot's portal session.
		bot := bots[0]
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.invites.RunOperatorMailbox(ctx, &bot); err != nil {
				log.Printf("[Scheduler] operator mailbox invites: %v", err)
			}
		}()
	}
}

// SyncBotTasks reconciles the scheduled task set with the registry,
// logging bots entering and leaving the schedule.
func (s *Scheduler) SyncBotTasks(active []domain.Bot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := make(map[int64]bool, len(active))
	for _, b := range active {
		current[b.ID] = true
		if !s.known[b.ID] {
			log.Printf("[Scheduler] bot %d (%s) entered the schedule", b.ID, b.Name)
		}
	}
	for id := range s.known {
		if !current[id] {
			log.Printf("[Scheduler] bot %d left the schedule", id)
		}
	}
	s.known = current
}

// runBotTask runs one bot's pipeline under its distributed lock, with a
// random start jitter. A held lock means another worker owns this bot's
// tick; the task exits immediately.
func (s *Scheduler) runBotTask(ctx context.Context, bot *domain.Bot) {
	lock := distlock.New(s.redisClient, distlock.BotLockKey(bot.ID), s.cfg.LockTimeout())

	acquired, err := lock.TryAcquire(ctx)
	if err != nil {
		log.Printf("[Scheduler] bot %d: lock error: %v", bot.ID, err)
		return
	}
	if !acquired {
		log.Printf("[Scheduler] bot %d is already being processed", bot.ID)
		return
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := lock.Release(releaseCtx); err != nil {
			log.Printf("[Scheduler] bot %d: lock release: %v", bot.ID, err)
		}
	}()

	jitter := jitterMin + time.Duration(rand.Float64()*float64(jitterMax-jitterMin))
	if !sleepCtx(ctx, jitter) {
		return
	}

	s.pipeline.RunBot(ctx, bot)
}
