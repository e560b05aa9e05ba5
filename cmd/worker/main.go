package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"rollcall/internal/admission"
	"rollcall/internal/config"
	"rollcall/internal/logging"
	"rollcall/internal/metrics"
	"rollcall/internal/observability"
	"rollcall/internal/queue"
	"rollcall/internal/store"
	"rollcall/internal/ticket"
)

// Worker drains the admission event stream for audit logging and runs the
// expired-ticket sweep. The sweep is hygiene only: admissibility is always
// re-derived at read time, so nothing breaks if the worker is down.
func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	logg, err := logging.Init(cfg.LogLevel, cfg.Env)
	if err != nil {
		panic(err)
	}
	defer logg.Closer()
	log := logg.Sugar

	closeSentry, err := observability.InitSentry(cfg.SentryDSN, cfg.Env, "rollcall-worker")
	if err != nil {
		log.Warnw("sentry init failed", "err", err)
	}
	defer closeSentry()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutdown signal received")
		cancel()
	}()

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatalw("db connect failed", "err", err)
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "rollcall:admissions")
	}

	tickets := ticket.NewService(ticket.NewRepository(db.Client), cfg.ExpiryBuffer, cfg.DefaultCapacity)

	go runSweep(ctx, tickets, cfg.SweepInterval, log)

	events, err := q.Consume(ctx)
	if err != nil {
		log.Fatalw("queue consume init failed", "err", err)
	}

	log.Info("worker started, waiting for admission events")
	for evt := range events {
		metrics.EventsConsumed.Inc()
		log.Infow("admission recorded",
			"record", evt.RecordID,
			"subject", evt.SubjectID,
			"ticket", evt.TicketID,
			"status", evt.Status,
			"method", evt.Method,
			"verified", evt.Verified,
			"marked_at", evt.MarkedAt,
		)
		if evt.Method == string(admission.MethodBiometric) && !evt.Verified {
			log.Warnw("unverified biometric admission", "record", evt.RecordID, "subject", evt.SubjectID)
		}
	}

	log.Info("worker stopped")
}

// runSweep deactivates expired tickets on a fixed interval.
func runSweep(ctx context.Context, tickets *ticket.Service, interval time.Duration, log *zap.SugaredLogger) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := tickets.SweepExpired(ctx)
			if err != nil {
				log.Warnw("sweep failed", "err", err)
				continue
			}
			if n > 0 {
				metrics.TicketsSwept.Add(float64(n))
				log.Infow("expired tickets deactivated", "count", n)
			}
		}
	}
}
