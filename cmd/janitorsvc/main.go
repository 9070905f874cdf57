package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	config "github.com/avvvet/tcg-companion/configs"
	"github.com/avvvet/tcg-companion/internal/db"
	"github.com/avvvet/tcg-companion/internal/janitor"
	"github.com/avvvet/tcg-companion/internal/storage"
	"github.com/avvvet/tcg-companion/internal/store"
)

const SERVICE_NAME = "janitor"

var instanceId string

func init() {
	instanceId = config.CreateUniqueInstance(SERVICE_NAME)
	config.LoadEnv(SERVICE_NAME)
	config.Logging(SERVICE_NAME + "_service_" + instanceId)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// pg connection
	dbpool, err := db.Connect(config.Env("DATABASE_URL", ""))
	if err != nil {
		log.Fatalf("Failed to connect to DB: %v", err)
	}
	defer db.ClosePool(dbpool)
	if err := db.Migrate(ctx, dbpool); err != nil {
		log.Fatalf("Failed to migrate DB: %v", err)
	}
	log.Printf("pg connection established successfully")

	bucket, err := storage.New(ctx, storage.Config{
		Endpoint:  config.Env("STORAGE_ENDPOINT", ""),
		Region:    config.Env("STORAGE_REGION", ""),
		Bucket:    config.Env("STORAGE_BUCKET", ""),
		AccessKey: config.Env("STORAGE_ACCESS_KEY", ""),
		SecretKey: config.Env("STORAGE_SECRET_KEY", ""),
	})
	if err != nil {
		log.Fatalf("Failed to set up storage: %v", err)
	}

	orphans := store.NewOrphanStore(dbpool)
	batch := config.EnvInt("JANITOR_BATCH", janitor.DefaultBatch)
	if pending, err := orphans.Pending(ctx, batch); err != nil {
		log.Warnf("unable to read orphan backlog: %v", err)
	} else if len(pending) > 0 {
		log.Infof("orphan backlog: %d uploads pending, oldest %s from %s",
			len(pending), pending[0].ImagePath, pending[0].CreatedAt.Format(time.RFC3339))
	}

	j := janitor.New(
		orphans,
		bucket,
		config.EnvDuration("JANITOR_INTERVAL", janitor.DefaultInterval),
		batch,
	)

	log.Infof("%s service sweeping bucket %s", SERVICE_NAME, bucket.Name())
	if err := j.Run(ctx); err != nil {
		log.Errorf("%s service stopped: %v", SERVICE_NAME, err)
		return
	}
	log.Infof("%s service gracefully stopped", SERVICE_NAME)
}
