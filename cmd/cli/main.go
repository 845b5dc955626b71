package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/nimasrn/payment-reconciler/internal/config"
	"github.com/nimasrn/payment-reconciler/internal/identity"
	"github.com/nimasrn/payment-reconciler/internal/repository"
	"github.com/nimasrn/payment-reconciler/pkg/logger"
	"github.com/nimasrn/payment-reconciler/pkg/pg"
)

const usage = `usage: cli <command> [--env=path] [--dir=./migrations]

commands:
  migrate                 apply pending migrations
  status                  print migration status
  seed-plans              insert the default subscription plans
  token --user=<id>       issue a bearer token for a user (--ttl=24h)`

func main() {
	if len(os.Args) < 2 {
		fmt.Println(usage)
		os.Exit(2)
	}

	cfg, err := config.Load(config.ArgEnvPath(os.Args))
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	switch os.Args[1] {
	case "migrate":
		err = pg.Migrate(cfg.PostgresWrite(), argValue("--dir=", "./migrations"))
	case "status":
		err = pg.MigrationStatus(cfg.PostgresWrite(), argValue("--dir=", "./migrations"))
	case "seed-plans":
		err = seedPlans(cfg)
	case "token":
		err = issueToken(cfg)
	default:
		fmt.Println(usage)
		os.Exit(2)
	}
	if err != nil {
		logger.Error("command failed", "command", os.Args[1], "error", err)
		os.Exit(1)
	}
}

func seedPlans(cfg *config.Config) error {
	db, err := pg.CreateReadWrite(cfg.PostgresWrite(), cfg.PostgresWrite(), cfg.PostgresDebug)
	if err != nil {
		return err
	}
	defer db.Close()
	if err = repository.SeedPlans(context.Background(), repository.NewPlanRepository(db)); err != nil {
		return err
	}
	logger.Info("plans seeded", "count", len(repository.DefaultPlans))
	return nil
}

func issueToken(cfg *config.Config) error {
	userID := argValue("--user=", "")
	if userID == "" {
		return fmt.Errorf("--user is required")
	}
	ttl, err := time.ParseDuration(argValue("--ttl=", "24h"))
	if err != nil {
		return fmt.Errorf("invalid --ttl: %w", err)
	}

	db, err := pg.CreateReadWrite(cfg.PostgresRead(), cfg.PostgresWrite(), cfg.PostgresDebug)
	if err != nil {
		return err
	}
	defer db.Close()

	user, err := repository.NewUserRepository(db).GetByID(context.Background(), userID)
	if err != nil {
		return err
	}
	token, err := identity.NewAuthenticator(cfg.AuthJWTSecret, cfg.AuthJWTIssuer, nil).Issue(user, ttl)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

func argValue(prefix, fallback string) string {
	for _, v := range os.Args {
		if strings.HasPrefix(v, prefix) {
			return strings.TrimPrefix(v, prefix)
		}
	}
	return fallback
}
