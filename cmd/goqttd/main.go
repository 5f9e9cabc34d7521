// Command goqttd runs the MQTT broker: load config, open the auth store,
// wire the router and acceptor, and shut down gracefully on SIGINT/SIGTERM.
package main

import (
	"context"
	"database/sql"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/pyr33x/goqttd/internal/auth"
	"github.com/pyr33x/goqttd/internal/broker"
	"github.com/pyr33x/goqttd/internal/config"
	"github.com/pyr33x/goqttd/internal/hook"
	"github.com/pyr33x/goqttd/internal/logger"
	"github.com/pyr33x/goqttd/internal/transport"
)

func main() {
	configPath := flag.String("config", "config.yml", "path to YAML config")
	addUser := flag.String("adduser", "", "create or update a user with -addpass, then exit")
	addPass := flag.String("addpass", "", "password for -adduser")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(err)
	}

	base := envConfigFor(cfg.Log.Environment)
	base.Level = levelFor(cfg.Log.Level)
	base.Format = cfg.Log.Format
	base.Service = "goqttd"
	base.Version = cfg.Version
	logger.InitGlobalLogger(base)
	log := logger.GetGlobalLogger()

	db, err := sql.Open("sqlite3", cfg.Store.DSN)
	if err != nil {
		log.Fatal("failed to open auth store", logger.ErrorAttr(err))
	}
	defer db.Close()

	authStore := auth.New(db)

	if *addUser != "" {
		if err := authStore.CreateUser(*addUser, *addPass); err != nil {
			log.Fatal("failed to create user", logger.String("username", *addUser), logger.ErrorAttr(err))
		}
		log.Info("user created", logger.String("username", *addUser))
		return
	}

	var h hook.Hook = auth.NewHook(authStore, cfg.Auth.Required, logger.NewMQTTLogger("auth"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	expireInterval := time.Duration(cfg.Session.ExpireIntervalSecs) * time.Second
	router := broker.NewRouter(h, expireInterval, logger.NewMQTTLogger("router"))
	go router.Run(ctx)

	acceptor := transport.New(cfg.Broker.ClientAddr, router.Inbound(), h, cfg.Broker.MaxConnections, logger.NewMQTTLogger("transport"))
	if err := acceptor.Start(ctx); err != nil {
		log.Fatal("failed to start listener", logger.ErrorAttr(err))
	}
	log.Info("broker listening", logger.String("addr", cfg.Broker.ClientAddr))

	stopCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-stopCtx.Done()

	log.Info("shutting down")
	if err := acceptor.Stop(); err != nil {
		log.Error("error stopping listener", logger.ErrorAttr(err))
	}
	cancel()
	time.Sleep(500 * time.Millisecond)
}

// envConfigFor picks the base logger.Config for the configured environment,
// leaving level/format/service/version for the caller to override from the
// broker's own config.
func envConfigFor(env string) logger.Config {
	switch env {
	case "production", "prod":
		return logger.ProductionConfig()
	default:
		return logger.DevelopmentConfig()
	}
}

func levelFor(s string) logger.LogLevel {
	switch s {
	case "debug":
		return logger.LevelDebug
	case "warn":
		return logger.LevelWarn
	case "error":
		return logger.LevelError
	default:
		return logger.LevelInfo
	}
}
