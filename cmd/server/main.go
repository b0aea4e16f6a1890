package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"lab-access/backend/internal/app"
	"lab-access/backend/internal/config"
	healthhandler "lab-access/backend/internal/health/handler"
	"lab-access/backend/internal/logging"
	"lab-access/backend/internal/server"
	"lab-access/backend/internal/telemetry"
)

const healthProbeInterval = 10 * time.Second

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
		log.Fatalf("startup: %v", err)
	}

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.Fatalf("listen: %v", err)
	}
	defer lis.Close()

	health := healthhandler.NewServer(log, server.ServiceNames(), a.Checks...)
	go health.Run(ctx, healthProbeInterval)

	s := server.NewGRPCServer(server.Options{Log: log, Audit: a.Audit, Emitter: a.Emitter})
	server.RegisterServices(s, server.Deps{Provisioner: a.Workflow, Health: health})

	go func() {
		log.WithFields(logrus.Fields{
			"addr":               cfg.GRPCAddr,
			"document_store":     cfg.DocumentStore,
			"principal_provider": cfg.PrincipalProvider,
			"strict_uniqueness":  cfg.StrictIdentifierUniqueness,
		}).Info("gRPC server listening")
		if err := s.Serve(lis); err != nil {
			log.Fatalf("serve: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info("shutting down gRPC server...")
	health.Shutdown()
	s.GracefulStop()
	cancel()
	time.Sleep(telemetry.ShutdownDrainDuration)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := a.Close(shutdownCtx); err != nil {
		log.WithError(err).Warn("shutdown: failed to release resources")
	}
	log.Info("gRPC server stopped")
}
