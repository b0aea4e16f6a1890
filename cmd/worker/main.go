// Worker runs the orphan cleanup sweeper on CLEANUP_SCHEDULE and, when KAFKA_BROKERS and
// LOKI_URL are set, forwards provisioning telemetry events from Kafka to Loki.
// GRPC_ADDR is required by config but unused (e.g. set to :0).
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"lab-access/backend/internal/app"
	"lab-access/backend/internal/config"
	"lab-access/backend/internal/logging"
	"lab-access/backend/internal/telemetry/loki"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("config: %v", err)
	}
	log, closeLog, err := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, Env: cfg.Env, File: cfg.LogFile})
	if err != nil {
		logrus.Fatalf("logging: %v", err)
	}
	defer closeLog()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatalf("worker: startup: %v", err)
	}
	defer a.Close(context.Background())

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddJob(cfg.CleanupSchedule, a.Sweeper()); err != nil {
		log.Fatalf("worker: invalid CLEANUP_SCHEDULE %q: %v", cfg.CleanupSchedule, err)
	}
	c.Start()
	log.WithField("schedule", cfg.CleanupSchedule).Info("worker: cleanup sweeper scheduled")

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		log.Info("worker: shutting down...")
		cancel()
	}()

	brokers := cfg.TelemetryKafkaBrokersList()
	if len(brokers) > 0 && cfg.LokiURL != "" {
		forward(ctx, cfg, brokers, log)
	} else {
		log.Info("worker: telemetry forwarding disabled (set KAFKA_BROKERS and LOKI_URL)")
		<-ctx.Done()
	}

	<-c.Stop().Done()
	log.Info("worker: stopped")
}

// forward consumes telemetry events from Kafka and pushes them to Loki until ctx is done.
func forward(ctx context.Context, cfg *config.Config, brokers []string, log logrus.FieldLogger) {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          cfg.TelemetryKafkaTopic,
		GroupID:        cfg.KafkaGroupID,
		MinBytes:       1,
		MaxBytes:       10e6, // 10MB
		MaxWait:        1 * time.Second,
		CommitInterval: time.Second,
	})
	defer reader.Close()

	client := loki.NewClient(cfg.LokiURL, &http.Client{Timeout: 10 * time.Second})
	log.WithFields(logrus.Fields{
		"topic": cfg.TelemetryKafkaTopic,
		"group": cfg.KafkaGroupID,
		"loki":  cfg.LokiURL,
	}).Info("worker: forwarding telemetry")

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.WithError(err).Warn("worker: kafka read error")
			continue
		}
		pushCtx, pushCancel := context.WithTimeout(ctx, 10*time.Second)
		if err := client.PushEventJSON(pushCtx, msg.Value); err != nil {
			log.WithError(err).Warn("worker: loki push failed")
		}
		pushCancel()
	}
}
