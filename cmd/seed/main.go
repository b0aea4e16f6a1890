// seed provisions the admin presets (and, with -samples, a student and a faculty account)
// through the provisioning workflow. Idempotent: identifiers already registered are skipped.
package main

import (
	"context"
	"flag"
	"time"

	"github.com/sirupsen/logrus"

	"lab-access/backend/internal/app"
	"lab-access/backend/internal/config"
	"lab-access/backend/internal/logging"
	"lab-access/backend/internal/provisioning/domain"
)

const samplePassword = "password123"

var sampleForms = []domain.RawInput{
	{Name: "Sample Student", Identifier: "S0001", Email: "student@example.com", Secret: samplePassword, Confirm: samplePassword, Role: string(domain.RoleStudent)},
	{Name: "Sample Faculty", Identifier: "F0001", Email: "faculty@example.com", Secret: samplePassword, Confirm: samplePassword, Role: string(domain.RoleFaculty)},
}

func main() {
	samples := flag.Bool("samples", false, "Also provision a sample student and faculty account")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("config: %v", err)
	}
	log, closeLog, err := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, Env: cfg.Env})
	if err != nil {
		logrus.Fatalf("logging: %v", err)
	}
	defer closeLog()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatalf("startup: %v", err)
	}
	defer a.Close(context.Background())

	forms := app.PresetForms(a.Presets)
	if *samples {
		forms = append(forms, sampleForms...)
	}
	report, err := app.SeedAccounts(ctx, a.Workflow, forms, log)
	if err != nil {
		_ = a.Close(context.Background())
		log.Fatalf("seed: %v", err)
	}
	log.WithFields(logrus.Fields{"created": report.Created, "skipped": report.Skipped}).Info("seed: done")
}
