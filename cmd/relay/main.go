package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	redisclient "github.com/carelane/pagw-core/internal/clients/redis"
	coredb "github.com/carelane/pagw-core/internal/data/db"
	repos "github.com/carelane/pagw-core/internal/data/repos/pipeline"
	"github.com/carelane/pagw-core/internal/outbox"
	"github.com/carelane/pagw-core/internal/pkg/logger"
)

func main() {
	log, err := logger.New(os.Getenv("LOG_MODE"))
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	pg, err := coredb.NewPostgresService(log)
	if err != nil {
		log.Fatal("Failed to connect to postgres", "error", err)
	}
	if err := pg.AutoMigrateAll(); err != nil {
		log.Fatal("Failed to migrate schema", "error", err)
	}

	pub, err := redisclient.NewQueuePublisher(log)
	if err != nil {
		log.Fatal("Failed to connect to redis", "error", err)
	}
	defer pub.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo := repos.NewOutboxRepo(pg.DB(), log)
	relay := outbox.NewRelay(pg.DB(), log, repo, pub, outbox.ConfigFromEnv(log))
	relay.Start(ctx)

	<-ctx.Done()
	log.Info("Shutting down outbox relay")
}
