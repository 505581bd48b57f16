package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"idgate.org/internal/auth"
	"idgate.org/internal/config"
	"idgate.org/internal/hasher"
	"idgate.org/internal/migrate"
	"idgate.org/internal/obs"
	"idgate.org/internal/outcome"
	"idgate.org/internal/store/pg"
	"idgate.org/internal/store/pg/migrations"
	"idgate.org/internal/store/redisindex"
)

const usage = "usage: idgatectl [-config file] migrate [up|down|status] | seed | reindex | unblock <username>"

func main() {
	var (
		configPath = flag.String("config", os.Getenv("IDGATE_CONFIG"), "Path to YAML configuration")
		timeout    = flag.Duration("timeout", 30*time.Second, "Command timeout")
	)
	flag.Parse()

	log := obs.Logger()
	if len(flag.Args()) == 0 {
		log.Fatal(usage)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.WithError(err).Fatal("load configuration")
	}
	log = obs.ConfigureLogger(obs.LogConfig{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if cfg.Postgres.DSN == "" {
		log.Fatal("missing DSN: provide postgres.dsn or IDGATE_POSTGRES_DSN")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	store, err := pg.Open(cfg.Postgres.DSN, pg.PoolConfig{
		MaxOpenConns:    cfg.Postgres.MaxOpenConns,
		MaxIdleConns:    cfg.Postgres.MaxIdleConns,
		ConnMaxLifetime: cfg.Postgres.ConnMaxLifetime,
	})
	if err != nil {
		log.WithError(err).Fatal("open db")
	}
	defer store.Close()

	cmd := flag.Arg(0)
	if cmd == "migrate" {
		if err := runMigrate(ctx, log, store, flag.Arg(1)); err != nil {
			log.WithError(err).Fatalf("migrate %s", flag.Arg(1))
		}
		return
	}

	svc, err := newService(ctx, cfg, store, log)
	if err != nil {
		log.WithError(err).Fatal("configure service")
	}

	switch cmd {
	case "seed":
		err = outcomeErr(svc.Seed(ctx, auth.SeedOptions{
			Username: cfg.Bootstrap.AdminUsername,
			Password: cfg.Bootstrap.AdminPassword,
		}))
	case "reindex":
		r := svc.RebuildTokenIndex(ctx)
		if err = outcomeErr(r); err == nil {
			fmt.Printf("indexed %d active refresh tokens\n", r.Value())
		}
	case "unblock":
		err = unblock(ctx, svc, store, flag.Arg(1))
	default:
		log.Fatalf("unknown command %q\n%s", cmd, usage)
	}
	if err != nil {
		log.WithError(err).Fatalf("%s failed", cmd)
	}
}

func newService(ctx context.Context, cfg *config.Config, store *pg.Store, log *logrus.Logger) (*auth.Service, error) {
	params, err := hasher.Preset(cfg.Auth.Hasher)
	if err != nil {
		return nil, err
	}
	var hopts []hasher.Option
	if cfg.Auth.Pepper != "" {
		hopts = append(hopts, hasher.WithPepper(cfg.Auth.Pepper))
	}
	h, err := hasher.New(params, hopts...)
	if err != nil {
		return nil, err
	}
	metrics, err := obs.NewAuthMetrics(prometheus.DefaultRegisterer)
	if err != nil {
		return nil, err
	}

	opts := []auth.ServiceOption{
		auth.WithTokenSecret(cfg.Auth.Secret),
		auth.WithIssuer(cfg.Auth.Issuer),
		auth.WithAccessTTL(cfg.Auth.AccessTTL),
		auth.WithRefreshTTL(cfg.Auth.RefreshTTL),
		auth.WithHasher(h),
		auth.WithLockoutPolicy(auth.LockoutPolicy{Threshold: cfg.Auth.LockoutThreshold, Duration: cfg.Auth.LockoutDuration}),
		auth.WithLoginRateLimit(cfg.Auth.LoginRate, cfg.Auth.LoginBurst),
		auth.WithLogger(log),
		auth.WithMetrics(metrics),
	}
	if cfg.Redis.Addr != "" {
		index, _, err := redisindex.Connect(ctx, redisindex.Options{
			Addr:     cfg.Redis.Addr,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		})
		if err != nil {
			return nil, err
		}
		opts = append(opts, auth.WithTokenIndex(index))
	}
	return auth.NewService(store, opts...)
}

func runMigrate(ctx context.Context, log *logrus.Logger, store *pg.Store, action string) error {
	mgr := migrate.NewManager(store.DB(), migrations.FS, migrate.WithLogger(log))
	switch action {
	case "", "up":
		applied, err := mgr.Up(ctx)
		for _, name := range applied {
			fmt.Println(name)
		}
		return err
	case "down":
		name, err := mgr.Down(ctx)
		if err == nil {
			fmt.Println(name)
		}
		return err
	case "status":
		history, err := mgr.Status(ctx)
		for _, item := range history {
			fmt.Println(item)
		}
		return err
	default:
		return fmt.Errorf("unknown migrate action %q", action)
	}
}

func unblock(ctx context.Context, svc *auth.Service, store *pg.Store, username string) error {
	if strings.TrimSpace(username) == "" {
		return errors.New(usage)
	}
	acc, err := store.Accounts(ctx).FindByUsername(ctx, username)
	if err != nil {
		return fmt.Errorf("find %s: %w", username, err)
	}
	return outcomeErr(svc.Unblock(ctx, acc.ID))
}

func outcomeErr(r outcome.Outcome) error {
	if !r.IsSuccess() {
		return r.Err()
	}
	return nil
}
