package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/HealthMateDemo/HealthMateV1/pkg/config"
	"github.com/HealthMateDemo/HealthMateV1/pkg/failover"
	"github.com/HealthMateDemo/HealthMateV1/pkg/gateway"
	"github.com/HealthMateDemo/HealthMateV1/pkg/logger"
	"github.com/HealthMateDemo/HealthMateV1/pkg/providers"
	"github.com/HealthMateDemo/HealthMateV1/pkg/reply"
	"github.com/HealthMateDemo/HealthMateV1/pkg/session"
	"github.com/HealthMateDemo/HealthMateV1/pkg/usage"
)

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.json"
	}
	return filepath.Join(home, ".healthmate", "config.json")
}

func main() {
	configPath := flag.String("config", defaultConfigPath(), "path to the JSON config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "healthmate-server: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	lvl, err := logger.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return err
	}
	logger.SetLevel(lvl)
	if cfg.Logging.FileEnabled {
		if err := logger.EnableFileLoggingWithRotation(cfg.LogFilePath(),
			cfg.Logging.Rotation, cfg.Logging.MaxSizeMB, cfg.Logging.MaxAgeDays); err != nil {
			return err
		}
		defer logger.DisableFileLogging()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	producer, err := buildProducer(cfg)
	if err != nil {
		return err
	}

	registry, closeRegistry, err := buildRegistry(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeRegistry()

	store := usage.NewStore(cfg.StatsFilePath())
	if cfg.Stats.Enabled {
		reporter, err := usage.NewReporter(store, cfg.Stats.Schedule)
		if err != nil {
			return err
		}
		go reporter.Run(ctx)
	}

	srv := gateway.NewServer(cfg.Server, gateway.Deps{
		Producer: producer,
		Registry: registry,
		Usage:    store,
	})
	if err := srv.Start(ctx); err != nil {
		return err
	}
	logger.InfoCF("main", "HealthMate chat server ready", map[string]interface{}{
		"addr":     srv.Addr(),
		"producer": producer.Name(),
		"sessions": cfg.Sessions.Backend,
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.InfoCF("main", "Shutting down...", map[string]interface{}{"signal": sig.String()})

	cancel()
	shutdownCtx, stop := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout())
	defer stop()
	if err := srv.Stop(shutdownCtx); err != nil {
		logger.WarnCF("main", "Shutdown incomplete", map[string]interface{}{"error": err.Error()})
	}
	logger.InfoC("main", "Server closed")
	return nil
}

// buildProducer puts any LLM producer in front of the canned one so a
// provider outage degrades to canned replies. Image uploads and command
// triggers are answered before the chain is consulted.
func buildProducer(cfg *config.Config) (reply.Producer, error) {
	p, err := providers.NewProducer(cfg)
	if err != nil {
		return nil, err
	}
	if _, ok := p.(*reply.Canned); ok {
		return p, nil
	}
	chain := failover.NewManager(p, cfg.Reply.Hold(), reply.NewCanned())
	logger.InfoCF("main", "Reply producer chain", map[string]interface{}{
		"primary":  chain.PrimaryName(),
		"fallback": "canned",
	})
	return reply.WithFixedReplies(chain), nil
}

func buildRegistry(ctx context.Context, cfg *config.Config) (session.Registry, func(), error) {
	if cfg.Sessions.Backend != "redis" {
		return session.NewMemoryRegistry(), func() {}, nil
	}
	rdb, err := session.DialRedis(ctx, cfg.Sessions.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	logger.InfoCF("main", "Session presence mirrored to Redis", map[string]interface{}{
		"prefix": cfg.Sessions.KeyPrefix,
	})
	reg := session.NewRedisRegistry(rdb, cfg.Sessions.KeyPrefix, cfg.Sessions.TTL())
	return reg, func() { _ = rdb.Close() }, nil
}
